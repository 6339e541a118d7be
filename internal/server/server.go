package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/cliffyan/go-metasearch/internal/aggregator"
	"github.com/cliffyan/go-metasearch/internal/config"
	"github.com/cliffyan/go-metasearch/internal/engine"
	"github.com/cliffyan/go-metasearch/internal/mcp"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	keepaliveInterval = 30 * time.Second
)

const defaultRobots = "User-agent: *\nAllow: /$\nDisallow: /search\n"

// Searcher /search 与 MCP 使用的聚合能力，由 aggregator.Aggregator 实现
type Searcher interface {
	mcp.Searcher
	Prefetch(req aggregator.Request, timeout time.Duration)
}

// Options 服务器依赖
type Options struct {
	Config   *config.Config
	Searcher Searcher
	Registry *engine.Registry
	// PublicDir 主题目录，存在时提供 /static/ 与 robots.txt
	PublicDir string
	Log       *zap.Logger
}

// Server 搜索与 MCP HTTP 服务器
type Server struct {
	config     *config.Config
	searcher   Searcher
	registry   *engine.Registry
	mcpHandler *mcp.Handler
	publicDir  string
	limiter    *rateLimiter
	log        *zap.Logger

	sessions   map[string]*Session
	sessionsMu sync.RWMutex
	// closing 在关闭时被关闭，用于结束 SSE 长连接
	closing   chan struct{}
	closeOnce sync.Once
}

// New 创建新的服务器实例
func New(opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	rl := opts.Config.Server.RateLimiter
	return &Server{
		config:     opts.Config,
		searcher:   opts.Searcher,
		registry:   opts.Registry,
		mcpHandler: mcp.NewHandler(opts.Config, opts.Searcher, log),
		publicDir:  opts.PublicDir,
		limiter:    newRateLimiter(rl.NumberOfRequests, time.Duration(rl.TimeLimit)*time.Second),
		log:        log.With(zap.String("module", "server")),
		sessions:   make(map[string]*Session),
		closing:    make(chan struct{}),
	}
}

// Handler 返回带中间件的完整路由
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /search", s.handleSearch)
	mux.HandleFunc("GET /robots.txt", s.handleRobots)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	if s.publicDir != "" {
		mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(s.publicDir))))
	}

	if s.config.MCP.Enabled {
		// MCP 端点
		mux.HandleFunc("/mcp", s.handleMCP)
		// SSE 端点（兼容旧客户端）
		mux.HandleFunc("GET /sse", s.handleSSE)
		mux.HandleFunc("POST /messages", s.handleMessages)
	}

	var handler http.Handler = s.rateLimit(mux)
	if s.config.Server.CORS.Enabled {
		c := cors.New(cors.Options{
			AllowedOrigins:   []string{s.config.Server.CORS.Origin},
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Content-Type", "Accept", sessionHeader},
			ExposedHeaders:   []string{sessionHeader, requestIDHeader},
			AllowCredentials: true,
		})
		handler = c.Handler(handler)
	}
	return s.requestID(s.accessLog(handler))
}

// Start 监听配置地址，ctx 结束后优雅关闭
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve 在给定 listener 上提供服务，直到 ctx 结束
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          zap.NewStdLog(s.log),
	}
	srv.RegisterOnShutdown(s.close)

	addr := ln.Addr().String()
	s.log.Info("Starting HTTP server", zap.String("address", addr))
	s.log.Info("Search endpoint", zap.String("url", "http://"+addr+"/search"))
	if s.config.MCP.Enabled {
		s.log.Info("MCP endpoint", zap.String("url", "http://"+addr+"/mcp"))
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) close() {
	s.closeOnce.Do(func() { close(s.closing) })
}

// handleHealth 健康检查端点
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": s.config.MCP.ServerName,
		"version": s.config.MCP.ServerVersion,
		"engines": s.registry.Names(),
	})
}

// handleRobots 优先使用主题目录中的 robots.txt
func (s *Server) handleRobots(w http.ResponseWriter, r *http.Request) {
	if s.publicDir != "" {
		path := filepath.Join(s.publicDir, "robots.txt")
		if _, err := os.Stat(path); err == nil {
			http.ServeFile(w, r, path)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(defaultRobots))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("Failed to encode response", zap.Error(err))
	}
}
