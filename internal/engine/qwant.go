package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	jsoniter "github.com/json-iterator/go"

	"github.com/cliffyan/go-metasearch/internal/useragent"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// qwantResponse Qwant v3 接口响应，status 为 success 或 error
type qwantResponse struct {
	Status string `json:"status"`
	Data   struct {
		ErrorCode int      `json:"error_code"`
		Message   []string `json:"message"`
		Result    struct {
			Items struct {
				Mainline []qwantItem `json:"mainline"`
			} `json:"items"`
		} `json:"result"`
	} `json:"data"`
}

type qwantItem struct {
	Type  string             `json:"type"`
	Items []qwantSearchEntry `json:"items"`
}

type qwantSearchEntry struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Desc  string `json:"desc"`
}

// QwantEngine Qwant JSON 接口引擎实现
type QwantEngine struct{}

// NewQwantEngine 创建 Qwant 搜索引擎实例
func NewQwantEngine() *QwantEngine {
	return &QwantEngine{}
}

// Name 返回引擎名称
func (e *QwantEngine) Name() string {
	return "qwant"
}

// QueryTypes 返回支持的查询类别
func (e *QwantEngine) QueryTypes() QueryType {
	return QueryWeb
}

func (e *QwantEngine) searchURL(q Query) string {
	const resultsPerPage = 10
	return fmt.Sprintf(
		"https://api.qwant.com/v3/search/web?q=%s&count=%d&locale=en_US&offset=%d&safesearch=%d&device=desktop&tgp=2&displayed=true",
		url.QueryEscape(q.Text), resultsPerPage, resultsPerPage*q.Page, min(q.SafeSearch, 2))
}

// Results 执行 Qwant 搜索
func (e *QwantEngine) Results(ctx context.Context, client Fetcher, q Query) ([]SearchResult, error) {
	header := http.Header{}
	header.Set("User-Agent", useragent.Random())
	header.Set("Referer", randomReferer())
	header.Set("Origin", "https://www.qwant.com")
	header.Set("Accept", "application/json")

	body, err := client.FetchJSON(ctx, e.searchURL(q), header)
	if err != nil {
		return nil, NewError(e.Name(), RequestError, err)
	}
	return e.parse(body)
}

// parse 只保留 mainline 中 type=web 的条目
func (e *QwantEngine) parse(body []byte) ([]SearchResult, error) {
	var resp qwantResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, NewError(e.Name(), UnexpectedError, fmt.Errorf("decode qwant response: %w", err))
	}

	switch resp.Status {
	case "success":
	case "error":
		return nil, NewError(e.Name(), RequestError,
			fmt.Errorf("qwant error code %d: %v", resp.Data.ErrorCode, resp.Data.Message))
	default:
		return nil, NewError(e.Name(), UnexpectedError, errors.New("qwant response without status"))
	}

	var results []SearchResult
	for _, item := range resp.Data.Result.Items.Mainline {
		if item.Type != "web" {
			continue
		}
		for _, entry := range item.Items {
			if entry.URL == "" {
				continue
			}
			results = append(results, NewSearchResult(entry.Title, entry.URL, entry.Desc, e.Name()))
		}
	}

	if len(results) == 0 {
		return nil, NewError(e.Name(), EmptyResultSet, nil)
	}
	return results, nil
}
