package engine

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// mojeekRecommended Mojeek 结果页底部推荐的其它引擎
var mojeekRecommended = []string{
	"Bing", "Brave", "DuckDuckGo", "Ecosia", "Google", "Lilo", "Metager",
	"Qwant", "Startpage", "Swisscows", "Yandex", "Yep", "You",
}

// MojeekEngine Mojeek 搜索引擎实现
type MojeekEngine struct {
	htmlEngine
}

// NewMojeekEngine 创建 Mojeek 搜索引擎实例
func NewMojeekEngine() *MojeekEngine {
	e := &MojeekEngine{htmlEngine{
		name: "mojeek",
		parser: mustParser("mojeek",
			".result-col",
			".results-standard li",
			"h2 a.title",
			"h2 a.title",
			"p.s",
		),
	}}
	e.sentinel = sentinelContains("No pages found matching:")
	return e
}

// params 查询参数同时作为 cookie 发送
func (e *MojeekEngine) params(q Query) [][2]string {
	safe := "0"
	if q.SafeSearch != 0 {
		safe = "1"
	}
	return [][2]string{
		{"t", "10"},
		{"theme", "dark"},
		{"arc", "none"},
		{"date", "1"},
		{"cdate", "1"},
		{"tlen", "100"},
		{"ref", "1"},
		{"hp", "minimal"},
		{"lb", "en"},
		{"qss", strings.Join(mojeekRecommended, ",")},
		{"safe", safe},
	}
}

func (e *MojeekEngine) searchURL(q Query) string {
	values := url.Values{}
	values.Set("q", q.Text)
	if q.Page > 0 {
		values.Set("s", strconv.FormatUint(uint64(10*q.Page+1), 10))
	}
	for _, kv := range e.params(q) {
		values.Set(kv[0], kv[1])
	}
	return "https://www.mojeek.com/search?" + values.Encode()
}

// Results 执行 Mojeek 搜索
func (e *MojeekEngine) Results(ctx context.Context, client Fetcher, q Query) ([]SearchResult, error) {
	header := browserHeader(cookieString(e.params(q)))
	return e.fetch(ctx, client, e.searchURL(q), header, e.extract)
}

func (e *MojeekEngine) extract(title, link, desc *goquery.Selection) (SearchResult, bool) {
	href, ok := link.Attr("href")
	if !ok {
		return SearchResult{}, false
	}
	return NewSearchResult(text(title), href, text(desc), e.name), true
}
