package engine

import (
	"context"
	"fmt"
	"net/url"

	"github.com/PuerkitoBio/goquery"
)

// BraveEngine Brave Search 引擎实现
type BraveEngine struct {
	htmlEngine
}

// NewBraveEngine 创建 Brave 搜索引擎实例
func NewBraveEngine() *BraveEngine {
	e := &BraveEngine{htmlEngine{
		name: "brave",
		parser: mustParser("brave",
			"#results h4",
			"#results [data-pos]",
			"a > .url",
			"a",
			".snippet-description",
		),
	}}
	e.sentinel = sentinelContains("Not many great matches came back for your search")
	return e
}

// Results 执行 Brave 搜索，安全搜索通过 cookie 传递
func (e *BraveEngine) Results(ctx context.Context, client Fetcher, q Query) ([]SearchResult, error) {
	searchURL := fmt.Sprintf("https://search.brave.com/search?q=%s&offset=%d", url.QueryEscape(q.Text), q.Page)
	cookie := cookieString([][2]string{{"safe_search", safeSearchWord(q.SafeSearch)}})
	return e.fetch(ctx, client, searchURL, browserHeader(cookie), e.extract)
}

func (e *BraveEngine) extract(title, link, desc *goquery.Selection) (SearchResult, bool) {
	href, ok := link.Attr("href")
	if !ok {
		return SearchResult{}, false
	}
	return NewSearchResult(text(title), href, text(desc), e.name), true
}
