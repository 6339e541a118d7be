package aggregator

import (
	"cmp"
	"context"
	"errors"
	"math/rand/v2"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/cliffyan/go-metasearch/internal/cache"
	"github.com/cliffyan/go-metasearch/internal/engine"
	"github.com/cliffyan/go-metasearch/internal/metrics"
	"github.com/cliffyan/go-metasearch/internal/policy"
	"github.com/cliffyan/go-metasearch/internal/ranking"
)

// ErrEmptyQuery 查询去除空白后为空
var ErrEmptyQuery = errors.New("empty query")

const (
	minDelay = time.Second
	maxDelay = 10 * time.Second
)

// Options 聚合器依赖与配置
type Options struct {
	Registry *engine.Registry
	// Filter 为空时不做黑白名单过滤
	Filter *policy.Filter
	// Cache 为空时 Search 等同于 Aggregate
	Cache *cache.Cache
	// Origin 缓存键前缀，形如 http://127.0.0.1:8080
	Origin string
	Style  engine.Style
	// RandomDelay 或非 Debug 时，每次聚合前随机等待 1~10 秒
	RandomDelay bool
	Debug       bool
	Log         *zap.Logger
	// Sleep 可替换的等待函数，默认基于 timer 并响应 ctx
	Sleep func(ctx context.Context, d time.Duration) error
}

// Request 一次搜索请求
type Request struct {
	Query string
	// Page 从 1 开始
	Page       uint
	SafeSearch uint8
	// Engines 用户选择的引擎名称
	Engines []string
}

// Aggregator 将查询分发到多个引擎并合并、过滤、排序结果
type Aggregator struct {
	opts Options
	log  *zap.Logger
}

// New 创建聚合器
func New(opts Options) *Aggregator {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	return &Aggregator{
		opts: opts,
		log:  opts.Log.With(zap.String("module", "aggregator")),
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (a *Aggregator) delay() time.Duration {
	return minDelay + rand.N(maxDelay-minDelay)
}

// Search 带缓存的聚合，同一缓存键的并发请求只聚合一次
func (a *Aggregator) Search(ctx context.Context, req Request) (*engine.SearchResults, error) {
	req.Query = cache.NormalizeQuery(req.Query)
	if req.Query == "" {
		return nil, ErrEmptyQuery
	}
	if a.opts.Cache == nil {
		return a.Aggregate(ctx, req)
	}

	key := cache.NewKey(a.opts.Origin, req.Query, max(req.Page, 1), req.SafeSearch, req.Engines)
	return a.opts.Cache.GetOrCompute(ctx, key, func(ctx context.Context) (*engine.SearchResults, error) {
		return a.Aggregate(ctx, req)
	})
}

// Prefetch 在后台预取相邻页，只在启用缓存时生效
func (a *Aggregator) Prefetch(req Request, timeout time.Duration) {
	if a.opts.Cache == nil {
		return
	}
	page := max(req.Page, 1)
	neighbours := []uint{page + 1}
	if page > 1 {
		neighbours = append(neighbours, page-1)
	}
	for _, p := range neighbours {
		next := req
		next.Page = p
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if _, err := a.Search(ctx, next); err != nil {
				a.log.Debug("Prefetch failed", zap.Uint("page", next.Page), zap.Error(err))
			}
		}()
	}
}

// Aggregate 执行一次不经过缓存的聚合
//
// 引擎错误不会导致失败，只记录在 EngineErrorsInfo 中；仅 ctx 取消或空查询返回错误。
func (a *Aggregator) Aggregate(ctx context.Context, req Request) (*engine.SearchResults, error) {
	query := cache.NormalizeQuery(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	page := max(req.Page, 1)

	res := &engine.SearchResults{
		Results:          []engine.SearchResult{},
		PageQuery:        query,
		Style:            a.opts.Style,
		EngineErrorsInfo: []engine.EngineErrorInfo{},
		SafeSearchLevel:  req.SafeSearch,
	}

	if a.opts.Filter != nil && a.opts.Filter.QueryDisallowed(query, req.SafeSearch) {
		res.Disallowed = true
		metrics.Searches.WithLabelValues("disallowed").Inc()
		a.log.Info("Query disallowed by blocklist", zap.Uint8("safesearch", req.SafeSearch))
		return res, nil
	}

	if len(req.Engines) == 0 {
		res.NoEnginesSelected = true
		metrics.Searches.WithLabelValues("no_engines").Inc()
		return res, nil
	}

	// 与缓存键一致：引擎列表排序去重，合并结果不依赖调用方给出的顺序
	names := slices.Clone(req.Engines)
	slices.Sort(names)
	names = slices.Compact(names)

	var known []string
	for _, name := range names {
		if a.opts.Registry.Has(name) {
			known = append(known, name)
			continue
		}
		res.EngineErrorsInfo = append(res.EngineErrorsInfo, engine.NewEngineErrorInfo(name, engine.NoSuchEngine))
	}
	engines, err := a.opts.Registry.Resolve(known)
	if err != nil {
		return nil, err
	}
	if len(engines) == 0 {
		metrics.Searches.WithLabelValues("failed").Inc()
		return res, nil
	}

	if a.opts.RandomDelay || !a.opts.Debug {
		if err := a.opts.Sleep(ctx, a.delay()); err != nil {
			return nil, err
		}
	}

	responses := a.opts.Registry.FetchAll(ctx, engines, engine.Query{
		Text:       query,
		Page:       page - 1,
		SafeSearch: req.SafeSearch,
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	merged := merge(responses, res)
	returned := len(merged) > 0

	if a.opts.Filter != nil {
		merged = a.opts.Filter.Apply(merged, req.SafeSearch)
	}

	for i := range merged {
		merged[i].RelevanceScore = ranking.Score(query, merged[i].Title, merged[i].URL, merged[i].Description)
	}
	slices.SortStableFunc(merged, func(x, y engine.SearchResult) int {
		if c := cmp.Compare(y.RelevanceScore, x.RelevanceScore); c != 0 {
			return c
		}
		return cmp.Compare(x.URL, y.URL)
	})

	res.Results = merged
	res.Filtered = returned && len(merged) == 0

	status := "ok"
	switch {
	case res.Filtered:
		status = "filtered"
	case len(merged) == 0:
		status = "empty"
	}
	metrics.Searches.WithLabelValues(status).Inc()
	a.log.Debug("Aggregated search",
		zap.Int("results", len(merged)),
		zap.Int("engine_errors", len(res.EngineErrorsInfo)))
	return res, nil
}

// merge 按 url 去重，首次出现的标题与描述保留，引擎名称取并集
func merge(responses []engine.Response, res *engine.SearchResults) []engine.SearchResult {
	var merged []engine.SearchResult
	index := make(map[string]int)

	for _, r := range responses {
		if r.Err != nil {
			res.EngineErrorsInfo = append(res.EngineErrorsInfo, engine.NewEngineErrorInfo(r.Engine, engine.KindOf(r.Err)))
			continue
		}
		for _, item := range r.Results {
			if i, ok := index[item.URL]; ok {
				for _, name := range item.Engines {
					merged[i].AddEngine(name)
				}
				continue
			}
			item.Engines = slices.Clone(item.Engines)
			index[item.URL] = len(merged)
			merged = append(merged, item)
		}
	}

	for i := range merged {
		slices.Sort(merged[i].Engines)
	}
	if merged == nil {
		merged = []engine.SearchResult{}
	}
	return merged
}
