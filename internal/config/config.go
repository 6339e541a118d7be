package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"runtime"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/cliffyan/go-metasearch/internal/paths"
)

// ErrConfig 配置无法加载或存在不可修正的错误
var ErrConfig = errors.New("invalid configuration")

// Config 应用配置
type Config struct {
	// 服务器配置
	Server ServerConfig `yaml:"server"`

	// 页面主题
	Style StyleConfig `yaml:"style"`

	// 缓存配置
	Caching CachingConfig `yaml:"caching"`

	// 搜索配置
	Search SearchConfig `yaml:"search"`

	// 出站请求配置
	RequestClient RequestClientConfig `yaml:"request_client"`

	// MCP 配置
	MCP MCPConfig `yaml:"mcp"`

	// Path 实际加载的配置文件，空表示使用默认配置
	Path string `yaml:"-"`
	// Warnings 校验过程中被修正的项
	Warnings []string `yaml:"-"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port      int    `yaml:"port"`
	BindingIP string `yaml:"binding_ip"`
	Threads   int    `yaml:"threads"`
	Logging   bool   `yaml:"logging"`
	Debug     bool   `yaml:"debug"`
	// RequestTimeout 单个上游请求的超时（秒）
	RequestTimeout int               `yaml:"request_timeout"`
	RateLimiter    RateLimiterConfig `yaml:"rate_limiter"`
	Aggregator     AggregatorConfig  `yaml:"aggregator"`
	CORS           CORSConfig        `yaml:"cors"`
}

// RateLimiterConfig 每个客户端 IP 在 time_limit 秒内最多 number_of_requests 次请求
type RateLimiterConfig struct {
	NumberOfRequests int `yaml:"number_of_requests"`
	TimeLimit        int `yaml:"time_limit"`
}

// AggregatorConfig 聚合器配置
type AggregatorConfig struct {
	RandomDelay bool `yaml:"random_delay"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Origin  string `yaml:"origin"`
}

// StyleConfig 页面主题配置
type StyleConfig struct {
	Theme       string `yaml:"theme"`
	ColorScheme string `yaml:"colorscheme"`
	Animation   string `yaml:"animation"`
}

// CachingConfig 缓存配置
type CachingConfig struct {
	// Backend 取值 memory、redis、hybrid、none
	Backend string `yaml:"backend"`
	// CacheExpiryTime 缓存有效期（秒），不少于 60
	CacheExpiryTime int    `yaml:"cache_expiry_time"`
	RedisURL        string `yaml:"redis_url"`
	RedisPoolSize   int    `yaml:"redis_pool_size"`
	MemoryCapacity  int    `yaml:"memory_capacity"`
	// Compression 取值 none、zstd、gzip
	Compression string `yaml:"compression"`
	Encryption  bool   `yaml:"encryption"`
	// EncryptionKey 64 位十六进制，留空则每次启动随机生成
	EncryptionKey string `yaml:"encryption_key"`
}

// SearchConfig 搜索配置
type SearchConfig struct {
	UpstreamSearchEngines map[string]bool `yaml:"upstream_search_engines"`
	// SafeSearch 默认安全搜索级别 0..4
	SafeSearch int `yaml:"safe_search"`
	// Blocklist/Allowlist 留空时按约定路径查找
	Blocklist string `yaml:"blocklist"`
	Allowlist string `yaml:"allowlist"`
	// LibreXInstance/SearxInstance 自建实例地址
	LibreXInstance string `yaml:"librex_instance"`
	SearxInstance  string `yaml:"searx_instance"`
	// BreakerFailures 连续请求失败多少次后暂停该引擎，0 关闭
	BreakerFailures int `yaml:"breaker_failures"`
	// BreakerCooldown 暂停时长（秒）
	BreakerCooldown int `yaml:"breaker_cooldown"`
}

// RequestClientConfig 出站 HTTP 客户端配置
type RequestClientConfig struct {
	ProxyURL  string `yaml:"proxy_url"`
	UseHTTP2  bool   `yaml:"use_http2"`
	HTTPSOnly bool   `yaml:"https_only"`
	// Timeout 连接与读取超时（秒）
	Timeout      int `yaml:"timeout"`
	MaxRedirects int `yaml:"max_redirects"`
	MaxRetries   int `yaml:"max_retries"`
}

// MCPConfig MCP 协议配置
type MCPConfig struct {
	Enabled bool `yaml:"enabled"`

	// 服务器信息
	ServerName    string `yaml:"server_name"`
	ServerVersion string `yaml:"server_version"`

	// 工具名称配置
	Tools MCPToolsConfig `yaml:"tools"`
}

// MCPToolsConfig MCP 工具名称配置
type MCPToolsConfig struct {
	SearchName        string `yaml:"search_name"`
	SearchDescription string `yaml:"search_description"`
}

// ValidEngines 内置搜索引擎
var ValidEngines = []string{
	"baidu", "bing", "brave", "duckduckgo", "librex",
	"mojeek", "qwant", "searx", "sogou", "startpage",
}

// ValidBackends 缓存后端
var ValidBackends = []string{"memory", "redis", "hybrid", "none"}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			BindingIP:      "127.0.0.1",
			Threads:        0,
			Logging:        true,
			Debug:          false,
			RequestTimeout: 30,
			RateLimiter: RateLimiterConfig{
				NumberOfRequests: 20,
				TimeLimit:        3,
			},
			CORS: CORSConfig{
				Enabled: false,
				Origin:  "*",
			},
		},
		Style: StyleConfig{
			Theme:       "simple",
			ColorScheme: "catppuccin-mocha",
		},
		Caching: CachingConfig{
			Backend:         "memory",
			CacheExpiryTime: 600,
			RedisURL:        "redis://127.0.0.1:6379",
			RedisPoolSize:   4,
			MemoryCapacity:  1000,
			Compression:     "zstd",
		},
		Search: SearchConfig{
			UpstreamSearchEngines: map[string]bool{
				"duckduckgo": true,
				"searx":      false,
				"brave":      false,
				"startpage":  false,
				"librex":     false,
				"mojeek":     false,
				"bing":       false,
				"qwant":      false,
				"baidu":      false,
				"sogou":      false,
			},
			SafeSearch:      2,
			BreakerFailures: 5,
			BreakerCooldown: 60,
		},
		RequestClient: RequestClientConfig{
			UseHTTP2:     true,
			HTTPSOnly:    false,
			Timeout:      30,
			MaxRedirects: 5,
			MaxRetries:   0,
		},
		MCP: MCPConfig{
			Enabled:       true,
			ServerName:    "go-metasearch",
			ServerVersion: "1.0.0",
			Tools: MCPToolsConfig{
				SearchName:        "search",
				SearchDescription: "Search the web through several privacy-respecting upstream engines at once. Returns deduplicated results ranked by relevance, with the engines that returned each result.",
			},
		},
	}
}

// Load 加载配置：优先使用 CONFIG_FILE，其次按约定路径查找，都没有则使用默认配置
//
// CONFIG_FILE 指定的文件不存在时返回错误。
func Load(resolver *paths.Resolver) (*Config, error) {
	if envPath := os.Getenv("CONFIG_FILE"); envPath != "" {
		return LoadFromFile(envPath)
	}

	path, err := resolver.Resolve(paths.Config)
	if errors.Is(err, paths.ErrNotFound) {
		cfg := Default()
		cfg.warn("no config file found in %v, using default configuration", resolver.Candidates(paths.Config))
		if err := cfg.validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	return LoadFromFile(path)
}

// LoadFromFile 从指定路径加载配置
func LoadFromFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read config file failed: %w", ErrConfig, err)
	}

	// 用户给出的引擎开关整体替换默认值
	cfg.Search.UpstreamSearchEngines = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse config file failed: %w", ErrConfig, err)
	}
	if cfg.Search.UpstreamSearchEngines == nil {
		cfg.Search.UpstreamSearchEngines = Default().Search.UpstreamSearchEngines
	}
	cfg.Path = path

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) warn(format string, args ...any) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}

// validate 修正可修正的配置项，不可修正时返回 ErrConfig
func (c *Config) validate() error {
	def := Default()

	// 验证端口
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		c.warn("invalid port %d, using default %d", c.Server.Port, def.Server.Port)
		c.Server.Port = def.Server.Port
	}
	if c.Server.BindingIP == "" {
		c.Server.BindingIP = def.Server.BindingIP
	}
	if c.Server.Threads <= 0 {
		c.Server.Threads = max(runtime.NumCPU()/2, 1)
	}
	if c.Server.RequestTimeout <= 0 {
		c.Server.RequestTimeout = def.Server.RequestTimeout
	}
	if c.Server.RateLimiter.NumberOfRequests <= 0 || c.Server.RateLimiter.TimeLimit <= 0 {
		c.warn("invalid rate limiter %d/%ds, using default", c.Server.RateLimiter.NumberOfRequests, c.Server.RateLimiter.TimeLimit)
		c.Server.RateLimiter = def.Server.RateLimiter
	}
	if c.Server.CORS.Origin == "" {
		c.Server.CORS.Origin = def.Server.CORS.Origin
	}

	if c.Style.Theme == "" {
		c.Style.Theme = def.Style.Theme
	}
	if c.Style.ColorScheme == "" {
		c.Style.ColorScheme = def.Style.ColorScheme
	}

	if err := c.validateCaching(def); err != nil {
		return err
	}

	if c.Search.SafeSearch < 0 || c.Search.SafeSearch > 4 {
		c.warn("safe_search %d out of range 0..4, using 1", c.Search.SafeSearch)
		c.Search.SafeSearch = 1
	}
	for name := range c.Search.UpstreamSearchEngines {
		if !slices.Contains(ValidEngines, name) {
			c.warn("unknown search engine ignored: %s", name)
			delete(c.Search.UpstreamSearchEngines, name)
		}
	}
	if c.Search.BreakerFailures < 0 {
		c.Search.BreakerFailures = 0
	}
	if c.Search.BreakerCooldown <= 0 {
		c.Search.BreakerCooldown = def.Search.BreakerCooldown
	}

	if c.RequestClient.Timeout <= 0 {
		c.RequestClient.Timeout = def.RequestClient.Timeout
	}
	if c.RequestClient.MaxRedirects < 0 {
		c.RequestClient.MaxRedirects = def.RequestClient.MaxRedirects
	}
	if c.RequestClient.MaxRetries < 0 {
		c.RequestClient.MaxRetries = 0
	}

	// 验证 MCP 配置
	if c.MCP.ServerName == "" {
		c.MCP.ServerName = def.MCP.ServerName
	}
	if c.MCP.ServerVersion == "" {
		c.MCP.ServerVersion = def.MCP.ServerVersion
	}
	if c.MCP.Tools.SearchName == "" {
		c.MCP.Tools.SearchName = def.MCP.Tools.SearchName
	}
	if c.MCP.Tools.SearchDescription == "" {
		c.MCP.Tools.SearchDescription = def.MCP.Tools.SearchDescription
	}
	return nil
}

func (c *Config) validateCaching(def *Config) error {
	cc := &c.Caching
	cc.Backend = strings.ToLower(strings.TrimSpace(cc.Backend))
	if cc.Backend == "" {
		cc.Backend = def.Caching.Backend
	}
	if !slices.Contains(ValidBackends, cc.Backend) {
		return fmt.Errorf("%w: unknown cache backend %q", ErrConfig, cc.Backend)
	}
	if cc.CacheExpiryTime < 60 {
		c.warn("cache_expiry_time %ds is below the minimum, using 60s", cc.CacheExpiryTime)
		cc.CacheExpiryTime = 60
	}
	if (cc.Backend == "redis" || cc.Backend == "hybrid") && cc.RedisURL == "" {
		return fmt.Errorf("%w: cache backend %s requires redis_url", ErrConfig, cc.Backend)
	}
	if cc.RedisPoolSize < 1 {
		cc.RedisPoolSize = 1
	}
	if cc.MemoryCapacity < 1 {
		cc.MemoryCapacity = def.Caching.MemoryCapacity
	}
	switch cc.Compression {
	case "":
		cc.Compression = "none"
	case "none", "zstd", "gzip":
	default:
		return fmt.Errorf("%w: unknown cache compression %q", ErrConfig, cc.Compression)
	}
	if cc.Encryption && cc.EncryptionKey != "" {
		if _, err := c.EncryptionKey(); err != nil {
			return err
		}
	}
	return nil
}

// EncryptionKey 解析缓存加密密钥，未配置时返回 nil
func (c *Config) EncryptionKey() ([]byte, error) {
	if !c.Caching.Encryption || c.Caching.EncryptionKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.Caching.EncryptionKey)
	if err != nil || len(key) != 32 {
		return nil, fmt.Errorf("%w: encryption_key must be 64 hex characters", ErrConfig)
	}
	return key, nil
}

// EnabledEngines 返回启用的引擎名称（已排序）
func (c *Config) EnabledEngines() []string {
	var names []string
	for name, enabled := range c.Search.UpstreamSearchEngines {
		if enabled {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// ResolveSafeSearch 请求携带 0..2 的级别时使用请求值，否则回退到默认级别
func (c *Config) ResolveSafeSearch(requested *int) uint8 {
	if requested != nil && *requested >= 0 && *requested <= 2 {
		return uint8(*requested)
	}
	return uint8(c.Search.SafeSearch)
}

// Address 监听地址
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.BindingIP, c.Server.Port)
}

// Origin 缓存键使用的 scheme://host:port
func (c *Config) Origin() string {
	return "http://" + c.Address()
}

// RequestTimeout 单个上游请求的超时
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeout) * time.Second
}

// CacheTTL 缓存有效期
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Caching.CacheExpiryTime) * time.Second
}

// Log 打印配置信息与校验警告
func (c *Config) Log(log *zap.Logger) {
	if c.Path != "" {
		log.Info("Loaded configuration", zap.String("path", c.Path))
	}
	for _, w := range c.Warnings {
		log.Warn("Configuration adjusted", zap.String("detail", w))
	}
	log.Info("Search engines", zap.Strings("enabled", c.EnabledEngines()), zap.Int("safe_search", c.Search.SafeSearch))
	if c.RequestClient.ProxyURL != "" {
		log.Info("Using proxy", zap.String("proxy", c.RequestClient.ProxyURL))
	}
	log.Info("Cache",
		zap.String("backend", c.Caching.Backend),
		zap.Duration("ttl", c.CacheTTL()),
		zap.String("compression", c.Caching.Compression),
		zap.Bool("encryption", c.Caching.Encryption))
	if c.Server.CORS.Enabled {
		log.Info("CORS enabled", zap.String("origin", c.Server.CORS.Origin))
	}
	if c.MCP.Enabled {
		log.Info("MCP enabled",
			zap.String("server", c.MCP.ServerName),
			zap.String("version", c.MCP.ServerVersion),
			zap.String("tool", c.MCP.Tools.SearchName))
	}
	log.Info("Server will listen", zap.String("address", c.Address()), zap.Int("threads", c.Server.Threads))
}
