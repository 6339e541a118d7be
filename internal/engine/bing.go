package engine

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	bingStrong = regexp.MustCompile(`(<strong>|</strong>)`)
	// 描述开头的日期/来源 span，例如 `<span>Jan 1, 2024</span>&nbsp;·`
	bingSpan = regexp.MustCompile(`<span.*?>.*?(?:</span>(?:&nbsp;|\x{00a0})·|</span>)`)
)

// BingEngine Bing 搜索引擎实现
type BingEngine struct {
	htmlEngine
}

// NewBingEngine 创建 Bing 搜索引擎实例
func NewBingEngine() *BingEngine {
	e := &BingEngine{htmlEngine{
		name: "bing",
		parser: mustParser("bing",
			".b_results",
			".b_algo",
			"h2 a",
			".tpcn a.tilk",
			".b_caption p",
		),
	}}
	// 结果列表中没有任何 b_algo 条目即为空结果页
	e.sentinel = func(node *goquery.Selection) error {
		if node.Find(".b_algo").Length() == 0 {
			return errEmpty
		}
		return nil
	}
	return e
}

func (e *BingEngine) searchURL(query string, page uint) string {
	const resultsPerPage = 10
	q := url.QueryEscape(query)
	if page == 0 {
		return fmt.Sprintf("https://www.bing.com/search?q=%s", q)
	}
	return fmt.Sprintf("https://www.bing.com/search?q=%s&first=%d", q, resultsPerPage*page+1)
}

// Results 执行 Bing 搜索
func (e *BingEngine) Results(ctx context.Context, client Fetcher, q Query) ([]SearchResult, error) {
	cookie := cookieString([][2]string{
		{"_EDGE_V", "1"},
		{"SRCHD=AF", "NOFORM"},
		{"_Rwho=u", "d"},
		{"bngps=s", "0"},
		{"_UR=QS=0&TQS", "0"},
	})
	return e.fetch(ctx, client, e.searchURL(q.Text, q.Page), browserHeader(cookie), e.extract)
}

func (e *BingEngine) extract(title, link, desc *goquery.Selection) (SearchResult, bool) {
	href, ok := link.Attr("href")
	if !ok || title.Length() == 0 {
		return SearchResult{}, false
	}

	titleHTML, _ := title.Html()
	descHTML, _ := desc.Html()

	return NewSearchResult(
		stripTags(bingStrong.ReplaceAllString(strings.TrimSpace(titleHTML), "")),
		href,
		stripTags(bingSpan.ReplaceAllString(strings.TrimSpace(descHTML), "")),
		e.name,
	), true
}
