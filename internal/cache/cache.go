package cache

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/cliffyan/go-metasearch/internal/engine"
	"github.com/cliffyan/go-metasearch/internal/metrics"
)

// Producer 缓存未命中时生成信封
type Producer func(ctx context.Context) (*engine.SearchResults, error)

// Cache 搜索结果缓存
type Cache struct {
	store Store
	codec *Codec
	log   *zap.Logger
	group singleflight.Group
}

// New 创建缓存
func New(store Store, codec *Codec, log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{
		store: store,
		codec: codec,
		log:   log.With(zap.String("module", "cache")),
	}
}

// Get 读取缓存，未命中、过期或内容损坏时返回 ErrMiss
func (c *Cache) Get(ctx context.Context, key Key) (*engine.SearchResults, error) {
	hash := key.Hash()
	data, err := c.store.Get(ctx, hash)
	if errors.Is(err, ErrMiss) {
		metrics.CacheLookups.WithLabelValues(metrics.CacheMiss).Inc()
		return nil, ErrMiss
	}
	if err != nil {
		metrics.CacheLookups.WithLabelValues(metrics.CacheErr).Inc()
		return nil, fmt.Errorf("cache get: %w", err)
	}

	res, err := c.codec.Decode(data)
	if err != nil {
		metrics.CacheLookups.WithLabelValues(metrics.CacheErr).Inc()
		c.log.Warn("Dropping corrupted cache entry", zap.String("key", hash), zap.Error(err))
		if delErr := c.store.Delete(ctx, hash); delErr != nil {
			c.log.Warn("Failed to delete corrupted cache entry", zap.String("key", hash), zap.Error(delErr))
		}
		return nil, ErrMiss
	}

	metrics.CacheLookups.WithLabelValues(metrics.CacheHit).Inc()
	return res, nil
}

// Put 写入缓存
func (c *Cache) Put(ctx context.Context, key Key, res *engine.SearchResults) error {
	data, err := c.codec.Encode(res)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	if err := c.store.Set(ctx, key.Hash(), data); err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// GetOrCompute 读取缓存，未命中时调用 produce 并写回
//
// 同一个键同一时刻最多只有一个 produce 在运行，其他调用者等待并共享结果。
// 调用者的 ctx 取消只会让该调用者提前返回，produce 会继续运行直到结果写入缓存。
// 返回的信封在调用者之间共享，不应修改。
func (c *Cache) GetOrCompute(ctx context.Context, key Key, produce Producer) (*engine.SearchResults, error) {
	hash := key.Hash()
	ch := c.group.DoChan(hash, func() (interface{}, error) {
		flightCtx := context.WithoutCancel(ctx)

		res, err := c.Get(flightCtx, key)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, ErrMiss) {
			c.log.Warn("Cache unavailable, computing without it", zap.Error(err))
		}

		res, err = produce(flightCtx)
		if err != nil {
			return nil, err
		}
		if Cacheable(res) {
			if err := c.Put(flightCtx, key, res); err != nil {
				c.log.Warn("Failed to store search results", zap.String("key", hash), zap.Error(err))
			}
		}
		return res, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*engine.SearchResults), nil
	}
}

// Close 关闭后端
func (c *Cache) Close() error {
	return c.store.Close()
}

// Cacheable 没有结果且存在请求类错误的信封不缓存，以便下次重试上游
func Cacheable(res *engine.SearchResults) bool {
	if res == nil {
		return false
	}
	if len(res.Results) > 0 || res.Disallowed || res.Filtered || res.NoEnginesSelected {
		return true
	}
	for _, info := range res.EngineErrorsInfo {
		if info.Error == engine.RequestError || info.Error == engine.UnexpectedError {
			return false
		}
	}
	return true
}
