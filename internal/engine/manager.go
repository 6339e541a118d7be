package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/cliffyan/go-metasearch/internal/metrics"
)

// RegistryOptions 引擎注册表配置
type RegistryOptions struct {
	// RequestTimeout 单个引擎请求的超时，0 表示只受调用方 ctx 控制
	RequestTimeout time.Duration
	// BreakerFailures 连续 RequestError 达到该次数后熔断，0 关闭熔断
	BreakerFailures uint32
	// BreakerCooldown 熔断后进入半开状态前的等待时间
	BreakerCooldown time.Duration
}

// Response 单个引擎的执行结果，Results 与 Err 二选一
type Response struct {
	Engine  string
	Results []SearchResult
	Err     error
}

// Registry 搜索引擎注册表
type Registry struct {
	client   Fetcher
	opts     RegistryOptions
	log      *zap.Logger
	mu       sync.RWMutex
	engines  map[string]SearchEngine
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewRegistry 创建注册表并注册给定引擎
func NewRegistry(client Fetcher, opts RegistryOptions, log *zap.Logger, engines ...SearchEngine) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Registry{
		client:   client,
		opts:     opts,
		log:      log.With(zap.String("module", "engine")),
		engines:  make(map[string]SearchEngine),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
	for _, e := range engines {
		r.Register(e)
	}
	r.log.Info("Initialized search engines", zap.Strings("engines", r.Names()))
	return r
}

// Register 注册搜索引擎，同名引擎会被覆盖
func (r *Registry) Register(e SearchEngine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[e.Name()] = e
	if r.opts.BreakerFailures > 0 {
		r.breakers[e.Name()] = r.newBreaker(e.Name())
	}
	r.log.Debug("Registered search engine", zap.String("engine", e.Name()))
}

func (r *Registry) newBreaker(name string) *gobreaker.CircuitBreaker {
	threshold := r.opts.BreakerFailures
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: r.opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// 只有上游请求失败才计入熔断，空结果不算
		IsSuccessful: func(err error) bool {
			return err == nil || KindOf(err) != RequestError
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.log.Warn("Engine breaker state changed",
				zap.String("engine", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

// Get 获取搜索引擎
func (r *Registry) Get(name string) (SearchEngine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[name]
	return e, ok
}

// Names 返回排序后的引擎名称
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Has 是否存在该引擎
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Resolve 按名称解析引擎，任一名称未知即整体失败
func (r *Registry) Resolve(names []string) ([]SearchEngine, error) {
	engines := make([]SearchEngine, 0, len(names))
	for _, name := range names {
		e, ok := r.Get(name)
		if !ok {
			return nil, NewError(name, NoSuchEngine, fmt.Errorf("engine %q is not registered", name))
		}
		engines = append(engines, e)
	}
	return engines, nil
}

// FetchAll 并发请求所有引擎并等待全部返回，返回顺序与入参一致
//
// 单个引擎的失败或 panic 只记录在对应的 Response 中，不影响其他引擎。
func (r *Registry) FetchAll(ctx context.Context, engines []SearchEngine, q Query) []Response {
	responses := make([]Response, len(engines))

	var wg sync.WaitGroup
	for i, e := range engines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			responses[i] = r.fetchOne(ctx, e, q)
		}()
	}
	wg.Wait()

	return responses
}

func (r *Registry) fetchOne(ctx context.Context, e SearchEngine, q Query) (resp Response) {
	name := e.Name()
	resp.Engine = name
	start := time.Now()

	defer func() {
		if p := recover(); p != nil {
			resp.Results = nil
			resp.Err = NewError(name, UnexpectedError, fmt.Errorf("panic: %v", p))
		}

		outcome := metrics.OutcomeOK
		if resp.Err != nil {
			outcome = string(KindOf(resp.Err))
			r.log.Warn("Search failed",
				zap.String("engine", name),
				zap.String("kind", outcome),
				zap.Error(resp.Err))
		} else {
			r.log.Debug("Search returned results",
				zap.String("engine", name),
				zap.Int("count", len(resp.Results)))
		}
		metrics.EngineRequests.WithLabelValues(name, outcome).Inc()
		metrics.EngineLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()

	if r.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.RequestTimeout)
		defer cancel()
	}

	r.mu.RLock()
	breaker := r.breakers[name]
	r.mu.RUnlock()

	var (
		results []SearchResult
		err     error
	)
	if breaker == nil {
		results, err = e.Results(ctx, r.client, q)
	} else {
		var out interface{}
		out, err = breaker.Execute(func() (interface{}, error) {
			return e.Results(ctx, r.client, q)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = NewError(name, RequestError, err)
		}
		results, _ = out.([]SearchResult)
	}

	if err != nil {
		var ee *EngineError
		if !errors.As(err, &ee) {
			err = NewError(name, UnexpectedError, err)
		}
		return Response{Engine: name, Err: err}
	}
	return Response{Engine: name, Results: results}
}

// Instances 可自建实例的引擎地址
type Instances struct {
	LibreX string
	Searx  string
}

// Default 返回全部内置引擎
func Default(instances Instances) []SearchEngine {
	return []SearchEngine{
		NewBingEngine(),
		NewBraveEngine(),
		NewDuckDuckGoEngine(),
		NewLibreXEngine(instances.LibreX),
		NewMojeekEngine(),
		NewQwantEngine(),
		NewSearxEngine(instances.Searx),
		NewStartpageEngine(),
		NewBaiduEngine(),
		NewSogouEngine(),
	}
}
