package engine

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// StartpageEngine Startpage 搜索引擎实现
type StartpageEngine struct {
	htmlEngine
}

// NewStartpageEngine 创建 Startpage 搜索引擎实例
func NewStartpageEngine() *StartpageEngine {
	return &StartpageEngine{htmlEngine{
		name: "startpage",
		parser: mustParser("startpage",
			".no-results",
			".w-gl__result__main",
			".w-gl__result-second-line-container>.w-gl__result-title>h3",
			".w-gl__result-url",
			".w-gl__description",
		),
	}}
}

// preferences Startpage 以 EEE/N1N 分隔编码的偏好 cookie
func (e *StartpageEngine) preferences(safeSearch uint8) string {
	disableFamilyFilter := "0"
	if safeSearch == 0 {
		disableFamilyFilter = "1"
	}
	prefs := [][2]string{
		{"connect_to_server", "0"},
		{"date_time", "world"},
		{"disable_family_filter", disableFamilyFilter},
		{"disable_open_in_new_window", "0"},
		{"enable_post_method", "1"},
		{"enable_proxy_safety_suggest", "1"},
		{"enable_stay_control", "0"},
		{"instant_answers", "1"},
		{"lang_homepage", "s%2Fnight%2Fen"},
		{"language", "english"},
		{"language_ui", "english"},
		{"num_of_results", "10"},
		{"search_results_region", "all"},
		{"suggestions", "1"},
		{"wt_unit", "celsius"},
	}
	parts := make([]string, 0, len(prefs))
	for _, kv := range prefs {
		parts = append(parts, kv[0]+"EEE"+kv[1])
	}
	return "preferences=" + strings.Join(parts, "N1N")
}

// Results 执行 Startpage 搜索
func (e *StartpageEngine) Results(ctx context.Context, client Fetcher, q Query) ([]SearchResult, error) {
	searchURL := fmt.Sprintf("https://startpage.com/do/dsearch?q=%s&num=10&start=%d", url.QueryEscape(q.Text), q.Page*10)
	return e.fetch(ctx, client, searchURL, browserHeader(e.preferences(q.SafeSearch)), e.extract)
}

func (e *StartpageEngine) extract(title, link, desc *goquery.Selection) (SearchResult, bool) {
	if title.Length() == 0 {
		return SearchResult{}, false
	}
	return NewSearchResult(text(title), text(link), text(desc), e.name), true
}
