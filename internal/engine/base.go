package engine

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/cliffyan/go-metasearch/internal/useragent"
)

// referers 上游请求可用的 Referer
var referers = []string{
	"https://google.com/",
	"https://www.bing.com/",
	"https://duckduckgo.com/",
}

func randomReferer() string {
	return referers[rand.IntN(len(referers))]
}

// browserHeader 构造带随机 User-Agent 与 Referer 的通用请求头
func browserHeader(cookie string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", useragent.Random())
	h.Set("Referer", randomReferer())
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Content-Type", "application/x-www-form-urlencoded")
	if cookie != "" {
		h.Set("Cookie", cookie)
	}
	return h
}

// cookieString 将有序键值对拼接为 Cookie 头
func cookieString(pairs [][2]string) string {
	var b strings.Builder
	for i, kv := range pairs {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(kv[0])
		b.WriteByte('=')
		b.WriteString(kv[1])
	}
	return b.String()
}

// safeSearchWord 将 0..4 映射为 off/moderate/strict
func safeSearchWord(level uint8) string {
	switch level {
	case 0:
		return "off"
	case 1:
		return "moderate"
	default:
		return "strict"
	}
}

// htmlEngine HTML 类引擎的公共骨架
type htmlEngine struct {
	name   string
	parser *ResultParser
	// precheck 在解析前检查响应体（如验证码页），返回错误即终止
	precheck func(body string) error
	// sentinel 在首个“无结果”哨兵节点上做额外判断；nil 表示命中即为空结果
	sentinel func(node *goquery.Selection) error
}

// errEmpty 哨兵判断命中时返回
var errEmpty = errors.New("no results")

func (e *htmlEngine) Name() string {
	return e.name
}

func (e *htmlEngine) QueryTypes() QueryType {
	return QueryWeb
}

// fetch 请求上游页面并解析
func (e *htmlEngine) fetch(ctx context.Context, client Fetcher, url string, header http.Header, extract Extractor) ([]SearchResult, error) {
	body, err := client.FetchHTML(ctx, url, header)
	if err != nil {
		return nil, NewError(e.name, RequestError, err)
	}
	return e.parse(body, extract)
}

// parse 解析 HTML 文档，空结果返回 EmptyResultSet
func (e *htmlEngine) parse(body string, extract Extractor) ([]SearchResult, error) {
	if e.precheck != nil {
		if err := e.precheck(body); err != nil {
			return nil, NewError(e.name, RequestError, err)
		}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, NewError(e.name, UnexpectedError, err)
	}

	if node := e.parser.ParseForNoResults(doc).First(); node.Length() > 0 {
		check := e.sentinel
		if check == nil {
			check = func(*goquery.Selection) error { return errEmpty }
		}
		switch err := check(node); {
		case errors.Is(err, errEmpty):
			return nil, NewError(e.name, EmptyResultSet, nil)
		case err != nil:
			return nil, NewError(e.name, RequestError, err)
		}
	}

	results := e.parser.ParseForResults(doc, extract)
	if len(results) == 0 {
		return nil, NewError(e.name, EmptyResultSet, nil)
	}
	return results, nil
}

// sentinelContains 哨兵文本包含任一子串时视为空结果
func sentinelContains(substrings ...string) func(*goquery.Selection) error {
	return func(node *goquery.Selection) error {
		content := node.Text()
		for _, s := range substrings {
			if strings.Contains(content, s) {
				return errEmpty
			}
		}
		return nil
	}
}
