package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
)

// SearchResult 搜索结果
type SearchResult struct {
	Title          string   `json:"title"`
	URL            string   `json:"url"`
	Description    string   `json:"description"`
	Engines        []string `json:"engines"`
	RelevanceScore float64  `json:"relevance_score"`
}

// NewSearchResult 创建单引擎来源的搜索结果
func NewSearchResult(title, url, description, engine string) SearchResult {
	return SearchResult{
		Title:       title,
		URL:         url,
		Description: description,
		Engines:     []string{engine},
	}
}

// AddEngine 合并来源引擎，已存在则忽略
func (r *SearchResult) AddEngine(name string) {
	if !slices.Contains(r.Engines, name) {
		r.Engines = append(r.Engines, name)
	}
}

// ErrorKind 引擎错误类型
type ErrorKind string

const (
	RequestError    ErrorKind = "RequestError"
	EmptyResultSet  ErrorKind = "EmptyResultSet"
	UnexpectedError ErrorKind = "UnexpectedError"
	NoSuchEngine    ErrorKind = "NoSuchEngine"
)

// Severity 错误在页面上的展示颜色
func (k ErrorKind) Severity() string {
	switch k {
	case RequestError:
		return "green"
	case EmptyResultSet:
		return "blue"
	case NoSuchEngine:
		return "orange"
	default:
		return "red"
	}
}

// EngineError 单个引擎的失败，对聚合结果而言非致命
type EngineError struct {
	Engine string
	Kind   ErrorKind
	Err    error
}

func (e *EngineError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Engine, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Engine, e.Kind, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewError 创建引擎错误
func NewError(engine string, kind ErrorKind, err error) *EngineError {
	return &EngineError{Engine: engine, Kind: kind, Err: err}
}

// KindOf 提取错误类型，非 EngineError 视为 UnexpectedError
func KindOf(err error) ErrorKind {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return UnexpectedError
}

// EngineErrorInfo 面向渲染层的引擎错误描述
type EngineErrorInfo struct {
	Engine   string    `json:"engine"`
	Error    ErrorKind `json:"error"`
	Severity string    `json:"severity"`
}

// NewEngineErrorInfo 根据错误类型生成展示信息
func NewEngineErrorInfo(engine string, kind ErrorKind) EngineErrorInfo {
	return EngineErrorInfo{Engine: engine, Error: kind, Severity: kind.Severity()}
}

// Style 页面主题
type Style struct {
	Theme       string `json:"theme"`
	ColorScheme string `json:"colorscheme"`
	Animation   string `json:"animation,omitempty"`
}

// SearchResults 聚合后的响应信封
type SearchResults struct {
	Results           []SearchResult    `json:"results"`
	PageQuery         string            `json:"page_query"`
	Style             Style             `json:"style"`
	EngineErrorsInfo  []EngineErrorInfo `json:"engine_errors_info"`
	Disallowed        bool              `json:"disallowed"`
	Filtered          bool              `json:"filtered"`
	NoEnginesSelected bool              `json:"no_engines_selected"`
	SafeSearchLevel   uint8             `json:"safe_search_level"`
}

// Query 单次引擎请求参数
type Query struct {
	// Text 已去除首尾空白的非空查询
	Text string
	// Page 从 0 开始的页码
	Page uint
	// SafeSearch 取值 0..4
	SafeSearch uint8
}

// Fetcher 引擎使用的出站 HTTP 能力，由 httpclient.Client 实现
type Fetcher interface {
	FetchHTML(ctx context.Context, url string, header http.Header) (string, error)
	FetchJSON(ctx context.Context, url string, header http.Header) ([]byte, error)
}

// QueryType 引擎支持的查询类别（位集合）
type QueryType uint8

const (
	QueryWeb QueryType = 1 << iota
	QueryImages
	QueryNews
)

// Has 是否包含某类查询
func (t QueryType) Has(other QueryType) bool {
	return t&other == other
}

// SearchEngine 搜索引擎接口
type SearchEngine interface {
	// Name 返回引擎名称
	Name() string
	// QueryTypes 返回支持的查询类别
	QueryTypes() QueryType
	// Results 执行一次上游查询
	Results(ctx context.Context, client Fetcher, q Query) ([]SearchResult, error)
}
