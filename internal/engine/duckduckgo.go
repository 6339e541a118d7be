package engine

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DuckDuckGoEngine DuckDuckGo HTML 版搜索引擎实现
type DuckDuckGoEngine struct {
	htmlEngine
}

// NewDuckDuckGoEngine 创建 DuckDuckGo 搜索引擎实例
func NewDuckDuckGoEngine() *DuckDuckGoEngine {
	return &DuckDuckGoEngine{htmlEngine{
		name: "duckduckgo",
		parser: mustParser("duckduckgo",
			".no-results",
			".results>.result",
			".result__title>.result__a",
			".result__url",
			".result__snippet",
		),
	}}
}

// searchURL 第一页走 html 子域，之后按 30 条一页偏移
func (e *DuckDuckGoEngine) searchURL(query string, page uint) string {
	q := url.QueryEscape(query)
	if page == 0 {
		return fmt.Sprintf("https://html.duckduckgo.com/html/?q=%s&s=&dc=&v=1&o=json&api=/d.js", q)
	}
	return fmt.Sprintf("https://duckduckgo.com/html/?q=%s&s=%d&dc=%d&v=1&o=json&api=/d.js",
		q, page*30, page*30+1)
}

// Results 执行 DuckDuckGo 搜索，DuckDuckGo HTML 版无安全搜索开关
func (e *DuckDuckGoEngine) Results(ctx context.Context, client Fetcher, q Query) ([]SearchResult, error) {
	header := browserHeader("kl=wt-wt")
	return e.fetch(ctx, client, e.searchURL(q.Text, q.Page), header, e.extract)
}

// extract 结果链接展示为不带协议的域名路径
func (e *DuckDuckGoEngine) extract(title, link, desc *goquery.Selection) (SearchResult, bool) {
	if title.Length() == 0 || link.Length() == 0 {
		return SearchResult{}, false
	}
	href := text(link)
	if href == "" {
		return SearchResult{}, false
	}
	if !strings.HasPrefix(href, "http://") && !strings.HasPrefix(href, "https://") {
		href = "https://" + href
	}
	return NewSearchResult(text(title), href, text(desc), e.name), true
}
