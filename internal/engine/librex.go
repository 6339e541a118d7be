package engine

import (
	"context"
	"fmt"
	"net/url"

	"github.com/PuerkitoBio/goquery"
)

// LibreXEngine LibreX 实例搜索引擎实现
type LibreXEngine struct {
	htmlEngine
	instance string
}

// NewLibreXEngine 创建 LibreX 搜索引擎实例，instance 为空时使用默认实例
func NewLibreXEngine(instance string) *LibreXEngine {
	if instance == "" {
		instance = "https://search.ahwx.org"
	}
	return &LibreXEngine{
		htmlEngine: htmlEngine{
			name: "librex",
			parser: mustParser("librex",
				".text-result-container>p",
				".text-result-container",
				".text-result-wrapper>a>h2",
				".text-result-wrapper>a",
				".text-result-wrapper>span",
			),
		},
		instance: instance,
	}
}

// Results 执行 LibreX 搜索，p 参数为结果偏移
func (e *LibreXEngine) Results(ctx context.Context, client Fetcher, q Query) ([]SearchResult, error) {
	searchURL := fmt.Sprintf("%s/search.php?q=%s&p=%d&t=10", e.instance, url.QueryEscape(q.Text), q.Page*10)

	safe := "off"
	if q.SafeSearch > 0 {
		safe = "on"
	}
	cookie := cookieString([][2]string{
		{"theme", "amoled"},
		{"disable_special", "on"},
		{"disable_frontends", "on"},
		{"language", "en"},
		{"number_of_results", "10"},
		{"safe_search", safe},
		{"save", "1"},
	})
	return e.fetch(ctx, client, searchURL, browserHeader(cookie), e.extract)
}

func (e *LibreXEngine) extract(title, link, desc *goquery.Selection) (SearchResult, bool) {
	href, ok := link.Attr("href")
	if !ok {
		return SearchResult{}, false
	}
	return NewSearchResult(text(title), href, text(desc), e.name), true
}
