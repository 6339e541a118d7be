package httpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/cenkalti/backoff/v4"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// maxBodySize 单个上游响应体的上限
const maxBodySize = 10 << 20

// Options 出站客户端配置，对应 request_client 配置段
type Options struct {
	Timeout      time.Duration
	MaxRedirects int
	ProxyURL     string
	UseHTTP2     bool
	HTTPSOnly    bool
	MaxRetries   int
}

// StatusError 上游返回非 2xx 状态码
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d from %s", e.Code, e.URL)
}

// ErrInsecureURL 启用 https_only 时访问了非 https 地址
var ErrInsecureURL = errors.New("non-https url rejected")

// Client 进程共享的出站 HTTP 客户端，可并发使用
type Client struct {
	http       *http.Client
	httpsOnly  bool
	maxRetries int
	log        *zap.Logger
}

// New 创建共享 HTTP 客户端
func New(opts Options, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		// 自行协商 gzip/br/zstd 并解压
		DisableCompression: true,
	}
	if opts.ProxyURL != "" {
		proxy, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}

	if opts.UseHTTP2 {
		if err := http2.ConfigureTransport(transport); err != nil {
			return nil, fmt.Errorf("configure http2: %w", err)
		}
	} else {
		transport.ForceAttemptHTTP2 = false
		transport.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
	}

	maxRedirects := opts.MaxRedirects
	httpsOnly := opts.HTTPSOnly
	client := &http.Client{
		Timeout:   opts.Timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			if httpsOnly && req.URL.Scheme != "https" {
				return fmt.Errorf("redirect to %s: %w", req.URL, ErrInsecureURL)
			}
			return nil
		},
	}

	return &Client{
		http:       client,
		httpsOnly:  opts.HTTPSOnly,
		maxRetries: opts.MaxRetries,
		log:        log.With(zap.String("module", "httpclient")),
	}, nil
}

// FetchHTML 获取上游 HTML 页面
func (c *Client) FetchHTML(ctx context.Context, rawURL string, header http.Header) (string, error) {
	body, err := c.fetch(ctx, rawURL, header)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// FetchJSON 获取上游 JSON 接口的原始字节
func (c *Client) FetchJSON(ctx context.Context, rawURL string, header http.Header) ([]byte, error) {
	return c.fetch(ctx, rawURL, header)
}

func (c *Client) fetch(ctx context.Context, rawURL string, header http.Header) ([]byte, error) {
	if c.httpsOnly && !strings.HasPrefix(rawURL, "https://") {
		return nil, fmt.Errorf("%s: %w", rawURL, ErrInsecureURL)
	}

	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request failed: %w", err))
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		if req.Header.Get("Accept-Encoding") == "" {
			req.Header.Set("Accept-Encoding", "gzip, br, zstd")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return backoff.Permanent(&StatusError{Code: resp.StatusCode, URL: rawURL})
		}

		body, err = readBody(resp)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read body failed: %w", err))
		}
		return nil
	}

	var policy backoff.BackOff = &backoff.StopBackOff{}
	if c.maxRetries > 0 {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = 200 * time.Millisecond
		policy = backoff.WithMaxRetries(eb, uint64(c.maxRetries))
	}

	notify := func(err error, wait time.Duration) {
		c.log.Debug("retrying upstream request",
			zap.String("url", rawURL),
			zap.Duration("wait", wait),
			zap.Error(err))
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify); err != nil {
		return nil, err
	}
	return body, nil
}

func readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "", "identity":
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		reader = gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "zstd":
		zr, err := zstd.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		reader = zr
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", resp.Header.Get("Content-Encoding"))
	}
	return io.ReadAll(io.LimitReader(reader, maxBodySize))
}
