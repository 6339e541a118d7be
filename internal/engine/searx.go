package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// errSearxRateLimited Searx 实例返回限流提示
var errSearxRateLimited = errors.New("searx instance rate limited")

// SearxEngine Searx 实例搜索引擎实现
type SearxEngine struct {
	htmlEngine
	instance string
}

// NewSearxEngine 创建 Searx 搜索引擎实例，instance 为空时使用默认实例
func NewSearxEngine(instance string) *SearxEngine {
	if instance == "" {
		instance = "https://searx.be"
	}
	e := &SearxEngine{
		htmlEngine: htmlEngine{
			name: "searx",
			parser: mustParser("searx",
				"#urls>.dialog-error>p",
				".result",
				"h3>a",
				"h3>a",
				".content",
			),
		},
		instance: strings.TrimRight(instance, "/"),
	}
	e.sentinel = func(node *goquery.Selection) error {
		content := strings.ToLower(node.Text())
		switch {
		case strings.Contains(content, "too many requests"):
			return errSearxRateLimited
		case strings.Contains(content, "no results"), strings.Contains(content, "sorry"):
			return errEmpty
		default:
			return fmt.Errorf("searx: %s", strings.TrimSpace(node.Text()))
		}
	}
	return e
}

// Results 执行 Searx 搜索，pageno 从 1 开始
func (e *SearxEngine) Results(ctx context.Context, client Fetcher, q Query) ([]SearchResult, error) {
	searchURL := fmt.Sprintf("%s/search?q=%s&pageno=%d", e.instance, url.QueryEscape(q.Text), q.Page+1)

	// Searx 只有 0/1/2 三档
	safe := min(q.SafeSearch, 2)
	cookie := cookieString([][2]string{
		{"categories", "general"},
		{"language", "auto"},
		{"locale", "en"},
		{"safesearch", strconv.Itoa(int(safe))},
	})
	return e.fetch(ctx, client, searchURL, browserHeader(cookie), e.extract)
}

func (e *SearxEngine) extract(title, link, desc *goquery.Selection) (SearchResult, bool) {
	href, ok := link.Attr("href")
	if !ok {
		return SearchResult{}, false
	}
	return NewSearchResult(text(title), href, text(desc), e.name), true
}
