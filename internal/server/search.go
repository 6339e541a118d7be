package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cliffyan/go-metasearch/internal/aggregator"
	"github.com/cliffyan/go-metasearch/internal/engine"
)

const cookieName = "appCookie"

// prefetchGrace 预取除请求超时外额外允许的时间，覆盖聚合前的随机等待
const prefetchGrace = 15 * time.Second

// appCookie 设置页写入的用户偏好
type appCookie struct {
	Theme           string   `json:"theme"`
	ColorScheme     string   `json:"colorscheme"`
	Engines         []string `json:"engines"`
	SafeSearchLevel *int     `json:"safe_search_level"`
}

// readAppCookie 解析 appCookie，值可以是原始 JSON 或经过 URL 编码的 JSON
//
// net/http 会丢弃含双引号的 cookie 值，所以这里直接读取 Cookie 头。
func readAppCookie(r *http.Request) (*appCookie, bool) {
	for _, line := range r.Header.Values("Cookie") {
		for _, part := range strings.Split(line, ";") {
			name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
			if !ok || name != cookieName {
				continue
			}
			if strings.Contains(value, "%") {
				if unescaped, err := url.QueryUnescape(value); err == nil {
					value = unescaped
				}
			}
			var c appCookie
			if err := json.Unmarshal([]byte(value), &c); err != nil {
				return nil, false
			}
			return &c, true
		}
	}
	return nil, false
}

// wantsJSON Accept 包含 application/json 或 format=json 时返回 JSON
func wantsJSON(r *http.Request) bool {
	if r.URL.Query().Get("format") == "json" {
		return true
	}
	for _, accept := range r.Header.Values("Accept") {
		if strings.Contains(accept, "application/json") {
			return true
		}
	}
	return false
}

// parsePage 缺省或非法时为 1
func parsePage(raw string) uint {
	page, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || page < 1 {
		return 1
	}
	return uint(page)
}

// searchRequest 根据 URL 参数、cookie 与配置构造聚合请求
func (s *Server) searchRequest(r *http.Request, query string) (aggregator.Request, engine.Style) {
	params := r.URL.Query()
	style := engine.Style{
		Theme:       s.config.Style.Theme,
		ColorScheme: s.config.Style.ColorScheme,
		Animation:   s.config.Style.Animation,
	}
	req := aggregator.Request{
		Query: query,
		Page:  parsePage(params.Get("page")),
	}

	cookie, ok := readAppCookie(r)
	if ok {
		if cookie.Theme != "" {
			style.Theme = cookie.Theme
		}
		if cookie.ColorScheme != "" {
			style.ColorScheme = cookie.ColorScheme
		}
		req.Engines = []string{}
		for _, name := range cookie.Engines {
			if s.registry.Has(name) && !slices.Contains(req.Engines, name) {
				req.Engines = append(req.Engines, name)
			}
		}
		slices.Sort(req.Engines)
	} else {
		req.Engines = s.config.EnabledEngines()
	}

	if raw := params.Get("safesearch"); raw != "" {
		level, err := strconv.Atoi(raw)
		if err != nil {
			req.SafeSearch = s.config.ResolveSafeSearch(nil)
		} else {
			req.SafeSearch = s.config.ResolveSafeSearch(&level)
		}
	} else if ok && cookie.SafeSearchLevel != nil && *cookie.SafeSearchLevel >= 0 && *cookie.SafeSearchLevel <= 4 {
		req.SafeSearch = uint8(*cookie.SafeSearchLevel)
	} else {
		req.SafeSearch = s.config.ResolveSafeSearch(nil)
	}
	return req, style
}

// handleSearch 处理 /search
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
		return
	}

	req, style := s.searchRequest(r, query)
	res, err := s.searcher.Search(r.Context(), req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			s.log.Debug("Search canceled by client")
			return
		}
		s.log.Error("Search failed", zap.Error(err))
		http.Error(w, "Search failed", http.StatusInternalServerError)
		return
	}

	// 缓存中的信封是共享的，只修改副本的主题
	out := *res
	out.Style = style

	if s.config.Caching.Backend != "none" && !out.Disallowed && !out.NoEnginesSelected {
		s.searcher.Prefetch(req, s.config.RequestTimeout()+prefetchGrace)
	}

	if wantsJSON(r) {
		s.writeJSON(w, http.StatusOK, &out)
		return
	}
	s.render(w, "search", searchPage{
		Query:   query,
		Page:    req.Page,
		Results: &out,
	})
}

// handleIndex 首页
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	style := engine.Style{Theme: s.config.Style.Theme, ColorScheme: s.config.Style.ColorScheme}
	if cookie, ok := readAppCookie(r); ok {
		if cookie.Theme != "" {
			style.Theme = cookie.Theme
		}
		if cookie.ColorScheme != "" {
			style.ColorScheme = cookie.ColorScheme
		}
	}
	s.render(w, "index", indexPage{Style: style, Engines: s.registry.Names()})
}
