package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/cliffyan/go-metasearch/internal/aggregator"
	"github.com/cliffyan/go-metasearch/internal/cache"
	"github.com/cliffyan/go-metasearch/internal/config"
	"github.com/cliffyan/go-metasearch/internal/engine"
	"github.com/cliffyan/go-metasearch/internal/httpclient"
	"github.com/cliffyan/go-metasearch/internal/logger"
	"github.com/cliffyan/go-metasearch/internal/paths"
	"github.com/cliffyan/go-metasearch/internal/policy"
	"github.com/cliffyan/go-metasearch/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "go-metasearch: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	resolver := paths.NewResolver("")

	// 加载配置
	cfg, err := config.Load(resolver)
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Config{
		Service: cfg.MCP.ServerName,
		Debug:   cfg.Server.Debug,
		Logging: cfg.Server.Logging,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	cfg.Log(log)
	runtime.GOMAXPROCS(cfg.Server.Threads)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := httpclient.New(httpclient.Options{
		Timeout:      time.Duration(cfg.RequestClient.Timeout) * time.Second,
		MaxRedirects: cfg.RequestClient.MaxRedirects,
		ProxyURL:     cfg.RequestClient.ProxyURL,
		UseHTTP2:     cfg.RequestClient.UseHTTP2,
		HTTPSOnly:    cfg.RequestClient.HTTPSOnly,
		MaxRetries:   cfg.RequestClient.MaxRetries,
	}, log)
	if err != nil {
		return err
	}

	// 初始化搜索引擎注册表
	registry := engine.NewRegistry(client, engine.RegistryOptions{
		RequestTimeout:  cfg.RequestTimeout(),
		BreakerFailures: uint32(cfg.Search.BreakerFailures),
		BreakerCooldown: time.Duration(cfg.Search.BreakerCooldown) * time.Second,
	}, log, engine.Default(engine.Instances{
		LibreX: cfg.Search.LibreXInstance,
		Searx:  cfg.Search.SearxInstance,
	})...)

	filter, err := loadPolicy(ctx, cfg, resolver, log)
	if err != nil {
		return err
	}

	resultCache, err := newCache(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer resultCache.Close()

	agg := aggregator.New(aggregator.Options{
		Registry:    registry,
		Filter:      filter,
		Cache:       resultCache,
		Origin:      cfg.Origin(),
		Style:       engine.Style{Theme: cfg.Style.Theme, ColorScheme: cfg.Style.ColorScheme, Animation: cfg.Style.Animation},
		RandomDelay: cfg.Server.Aggregator.RandomDelay,
		Debug:       cfg.Server.Debug,
		Log:         log,
	})

	publicDir, err := resolver.Resolve(paths.Theme)
	if err != nil {
		log.Warn("Theme directory not found, serving built-in pages only")
		publicDir = ""
	}

	// 创建并启动服务器
	srv := server.New(server.Options{
		Config:    cfg,
		Searcher:  agg,
		Registry:  registry,
		PublicDir: publicDir,
		Log:       log,
	})
	if err := srv.Start(ctx); err != nil {
		log.Error("Server failed", zap.Error(err))
		return err
	}
	log.Info("Server stopped")
	return nil
}

// loadPolicy 加载黑白名单并在文件变化时重新加载
func loadPolicy(ctx context.Context, cfg *config.Config, resolver *paths.Resolver, log *zap.Logger) (*policy.Filter, error) {
	lookup := func(configured string, kind paths.FileKind) string {
		if configured != "" {
			return configured
		}
		p, err := resolver.Resolve(kind)
		if err != nil {
			log.Debug("Policy list not found", zap.Stringer("kind", kind))
			return ""
		}
		return p
	}

	filter, err := policy.LoadFilter(lookup(cfg.Search.Blocklist, paths.Blocklist), lookup(cfg.Search.Allowlist, paths.Allowlist), log)
	if err != nil {
		return nil, err
	}
	if len(filter.Paths()) == 0 {
		return filter, nil
	}

	watcher, err := policy.NewWatcher(filter, log)
	if err != nil {
		return nil, err
	}
	if err := watcher.Start(ctx); err != nil {
		log.Warn("Policy lists will not be reloaded", zap.Error(err))
	}
	return filter, nil
}

// newCache 按 caching.backend 创建缓存，none 时仍保留并发请求合并
func newCache(ctx context.Context, cfg *config.Config, log *zap.Logger) (*cache.Cache, error) {
	key, err := cfg.EncryptionKey()
	if err != nil {
		return nil, err
	}
	if cfg.Caching.Encryption && key == nil {
		if key, err = cache.GenerateKey(); err != nil {
			return nil, err
		}
		log.Info("Generated ephemeral cache encryption key")
	}

	codec, err := cache.NewCodec(cache.Compression(cfg.Caching.Compression), key)
	if err != nil {
		return nil, err
	}

	ttl := cfg.CacheTTL()
	var store cache.Store
	switch cfg.Caching.Backend {
	case "memory":
		store = cache.NewMemoryStore(cfg.Caching.MemoryCapacity, ttl)
	case "redis", "hybrid":
		redisStore, err := cache.NewRedisStore(ctx, cfg.Caching.RedisURL, cfg.Caching.RedisPoolSize, ttl, log)
		if err != nil {
			return nil, fmt.Errorf("cache backend unreachable: %w", err)
		}
		store = redisStore
		if cfg.Caching.Backend == "hybrid" {
			store = cache.NewHybridStore(cache.NewMemoryStore(cfg.Caching.MemoryCapacity, ttl), redisStore)
		}
	case "none":
		store = cache.DisabledStore{}
	default:
		return nil, errors.New("unknown cache backend " + cfg.Caching.Backend)
	}
	return cache.New(store, codec, log), nil
}
