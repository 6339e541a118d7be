package engine

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// errBaiduCaptcha 百度返回安全验证页
var errBaiduCaptcha = errors.New("baidu rate limited: captcha required")

// BaiduEngine 百度搜索引擎实现
type BaiduEngine struct {
	htmlEngine
}

// NewBaiduEngine 创建百度搜索引擎实例
func NewBaiduEngine() *BaiduEngine {
	e := &BaiduEngine{htmlEngine{
		name: "baidu",
		parser: mustParser("baidu",
			"#content_left .nors, .content_none",
			"#content_left > .result, #content_left > .c-container",
			"h3",
			"h3 a",
			".c-abstract, .c-font-normal.c-color-text, .cos-row",
		),
	}}
	e.precheck = func(body string) error {
		for _, marker := range []string{"wappass.baidu.com", "百度安全验证", "安全验证"} {
			if strings.Contains(body, marker) {
				return errBaiduCaptcha
			}
		}
		return nil
	}
	return e
}

func (e *BaiduEngine) searchURL(q Query) string {
	params := url.Values{}
	params.Set("wd", q.Text)
	params.Set("pn", strconv.FormatUint(uint64(q.Page*10), 10))
	params.Set("ie", "utf-8")
	params.Set("oq", q.Text)
	return "https://www.baidu.com/s?" + params.Encode()
}

// Results 执行百度搜索，百度无安全搜索开关
func (e *BaiduEngine) Results(ctx context.Context, client Fetcher, q Query) ([]SearchResult, error) {
	header := browserHeader("BAIDUID=auto; BIDUPSID=auto")
	header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	return e.fetch(ctx, client, e.searchURL(q), header, e.extract)
}

func (e *BaiduEngine) extract(title, link, desc *goquery.Selection) (SearchResult, bool) {
	name := text(title)
	href, _ := link.Attr("href")
	if name == "" || !strings.HasPrefix(href, "http") || e.isInternalLink(href, name) {
		return SearchResult{}, false
	}

	// 优先使用 aria-label
	description, ok := desc.Attr("aria-label")
	if !ok || strings.TrimSpace(description) == "" {
		description = text(desc)
	}
	return NewSearchResult(name, href, description, e.name), true
}

// isInternalLink 过滤广告与相关搜索
func (e *BaiduEngine) isInternalLink(href, title string) bool {
	for _, domain := range []string{"baidu.com/s?", "baidu.com/baidu.php"} {
		if strings.Contains(href, domain) {
			return true
		}
	}
	for _, keyword := range []string{"广告", "推广", "想在此推广"} {
		if strings.Contains(title, keyword) {
			return true
		}
	}
	return false
}
