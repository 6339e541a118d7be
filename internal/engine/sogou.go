package engine

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// errSogouAntiSpider 搜狗触发反爬
var errSogouAntiSpider = errors.New("sogou rate limited: anti-spider triggered")

// SogouEngine 搜狗移动版搜索引擎实现
type SogouEngine struct {
	htmlEngine
}

// NewSogouEngine 创建搜狗搜索引擎实例
func NewSogouEngine() *SogouEngine {
	e := &SogouEngine{htmlEngine{
		name: "sogou",
		parser: mustParser("sogou",
			".no-result, #noresult_part_container",
			".vrResult",
			".vr-tit a, h3 a, a.resultLink",
			".vr-tit a, h3 a, a.resultLink",
			".title-summary, .clamp2, .result-summary-exp",
		),
	}}
	e.precheck = func(body string) error {
		if strings.Contains(body, "antispider") || strings.Contains(body, "验证码") {
			return errSogouAntiSpider
		}
		return nil
	}
	return e
}

func (e *SogouEngine) searchURL(q Query) string {
	params := url.Values{}
	params.Set("keyword", q.Text)
	if q.Page > 0 {
		params.Set("page", strconv.FormatUint(uint64(q.Page+1), 10))
	}
	return "https://wap.sogou.com/web/searchList.jsp?" + params.Encode()
}

// Results 执行搜狗搜索，使用移动端页面
func (e *SogouEngine) Results(ctx context.Context, client Fetcher, q Query) ([]SearchResult, error) {
	header := browserHeader("")
	header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	return e.fetch(ctx, client, e.searchURL(q), header, e.extract)
}

func (e *SogouEngine) extract(title, link, desc *goquery.Selection) (SearchResult, bool) {
	name := text(title)
	href, _ := link.Attr("href")
	if name == "" || href == "" {
		return SearchResult{}, false
	}

	// 处理相对路径
	if !strings.HasPrefix(href, "http") {
		switch {
		case strings.HasPrefix(href, "/"):
			href = "https://wap.sogou.com" + href
		case strings.HasPrefix(href, "./"):
			href = "https://wap.sogou.com/web/" + strings.TrimPrefix(href, "./")
		}
	}
	if e.isInternalLink(href, name) {
		return SearchResult{}, false
	}
	href = e.extractRealURL(href)

	return NewSearchResult(name, href, text(desc), e.name), true
}

// extractRealURL 从跳转链接的 url 参数中取出真实地址
func (e *SogouEngine) extractRealURL(href string) string {
	if u, err := url.Parse(href); err == nil {
		if realURL := u.Query().Get("url"); realURL != "" {
			return realURL
		}
	}
	return href
}

// isInternalLink 过滤搜狗内部链接与广告
func (e *SogouEngine) isInternalLink(href, title string) bool {
	for _, pattern := range []string{
		"sogou.com/web/searchList",
		"sogou.com/tx?",
		"sogou.com/v?",
		"antispider",
	} {
		if strings.Contains(href, pattern) {
			return true
		}
	}
	for _, keyword := range []string{"广告", "推广"} {
		if strings.Contains(title, keyword) {
			return true
		}
	}
	return false
}
