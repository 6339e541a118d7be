package aggregator

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cliffyan/go-metasearch/internal/cache"
	"github.com/cliffyan/go-metasearch/internal/engine"
	"github.com/cliffyan/go-metasearch/internal/httpclient"
	"github.com/cliffyan/go-metasearch/internal/policy"
)

type link struct {
	url, title, desc string
}

// upstream 模拟一个上游实例，记录请求次数
type upstream struct {
	*httptest.Server
	hits atomic.Int32
}

func newUpstream(t *testing.T, handler http.HandlerFunc) *upstream {
	t.Helper()
	u := &upstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(u.Close)
	return u
}

func librexPage(links ...link) http.HandlerFunc {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, l := range links {
		fmt.Fprintf(&b, `<div class="text-result-container"><div class="text-result-wrapper"><a href="%s"><h2>%s</h2></a><span>%s</span></div></div>`,
			l.url, l.title, l.desc)
	}
	b.WriteString("</body></html>")
	body := b.String()
	return func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(body))
	}
}

func searxPage(links ...link) http.HandlerFunc {
	var b strings.Builder
	b.WriteString(`<html><body><div id="urls">`)
	for _, l := range links {
		fmt.Fprintf(&b, `<article class="result"><h3><a href="%s">%s</a></h3><p class="content">%s</p></article>`,
			l.url, l.title, l.desc)
	}
	b.WriteString("</div></body></html>")
	body := b.String()
	return func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(body))
	}
}

func status(code int) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(code)
	}
}

func html(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(body))
	}
}

type fixture struct {
	agg    *Aggregator
	cache  *cache.Cache
	sleeps atomic.Int32
}

type fixtureOptions struct {
	librex, searx *upstream
	block, allow  string
	cached        bool
	debug         bool
}

func newFixture(t *testing.T, o fixtureOptions) *fixture {
	t.Helper()

	client, err := httpclient.New(httpclient.Options{Timeout: 5 * time.Second, MaxRedirects: 3}, zap.NewNop())
	require.NoError(t, err)

	var engines []engine.SearchEngine
	if o.librex != nil {
		engines = append(engines, engine.NewLibreXEngine(o.librex.URL))
	}
	if o.searx != nil {
		engines = append(engines, engine.NewSearxEngine(o.searx.URL))
	}
	registry := engine.NewRegistry(client, engine.RegistryOptions{RequestTimeout: 5 * time.Second}, zap.NewNop(), engines...)

	dir := t.TempDir()
	var blockPath, allowPath string
	if o.block != "" {
		blockPath = filepath.Join(dir, "blocklist.txt")
		require.NoError(t, os.WriteFile(blockPath, []byte(o.block), 0o644))
	}
	if o.allow != "" {
		allowPath = filepath.Join(dir, "allowlist.txt")
		require.NoError(t, os.WriteFile(allowPath, []byte(o.allow), 0o644))
	}
	filter, err := policy.LoadFilter(blockPath, allowPath, zap.NewNop())
	require.NoError(t, err)

	f := &fixture{}
	opts := Options{
		Registry: registry,
		Filter:   filter,
		Origin:   "http://127.0.0.1:8080",
		Style:    engine.Style{Theme: "simple", ColorScheme: "catppuccin-mocha"},
		Debug:    o.debug,
		Log:      zap.NewNop(),
		Sleep: func(_ context.Context, d time.Duration) error {
			f.sleeps.Add(1)
			if d < time.Second || d >= 10*time.Second {
				return fmt.Errorf("delay %s out of range", d)
			}
			return nil
		},
	}
	if o.cached {
		codec, err := cache.NewCodec(cache.CompressionZstd, nil)
		require.NoError(t, err)
		f.cache = cache.New(cache.NewMemoryStore(64, time.Minute), codec, zap.NewNop())
		opts.Cache = f.cache
	}
	f.agg = New(opts)
	return f
}

func urls(res *engine.SearchResults) []string {
	out := make([]string, 0, len(res.Results))
	for _, r := range res.Results {
		out = append(out, r.URL)
	}
	return out
}

func TestHappyPathTwoEnginesOneOverlap(t *testing.T) {
	librex := newUpstream(t, librexPage(
		link{"https://u1.example/", "One", "first"},
		link{"https://u2.example/", "Two", "second"},
	))
	searx := newUpstream(t, searxPage(
		link{"https://u2.example/", "Two again", "second again"},
		link{"https://u3.example/", "Three", "third"},
	))
	f := newFixture(t, fixtureOptions{librex: librex, searx: searx, cached: true})

	req := Request{Query: "anything", Page: 1, SafeSearch: 1, Engines: []string{"librex", "searx"}}
	res, err := f.agg.Search(context.Background(), req)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"https://u1.example/", "https://u2.example/", "https://u3.example/"}, urls(res))
	assert.Empty(t, res.EngineErrorsInfo)
	for _, r := range res.Results {
		if r.URL == "https://u2.example/" {
			assert.Equal(t, []string{"librex", "searx"}, r.Engines)
			assert.Equal(t, "Two", r.Title)
		}
	}
	assert.Equal(t, "anything", res.PageQuery)
	assert.Equal(t, "simple", res.Style.Theme)

	cached, err := f.cache.Get(context.Background(), cache.NewKey("http://127.0.0.1:8080", "anything", 1, 1, []string{"searx", "librex"}))
	require.NoError(t, err)
	assert.Equal(t, res, cached)

	// 第二次请求命中缓存，不再访问上游
	_, err = f.agg.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(1), librex.hits.Load())
	assert.Equal(t, int32(1), searx.hits.Load())
}

func TestOneEngineErrors(t *testing.T) {
	librex := newUpstream(t, librexPage(link{"https://u1.example/", "One", "first"}))
	searx := newUpstream(t, status(http.StatusServiceUnavailable))
	f := newFixture(t, fixtureOptions{librex: librex, searx: searx})

	res, err := f.agg.Aggregate(context.Background(), Request{Query: "q", Page: 1, Engines: []string{"librex", "searx"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"https://u1.example/"}, urls(res))
	assert.Equal(t, []engine.EngineErrorInfo{
		{Engine: "searx", Error: engine.RequestError, Severity: "green"},
	}, res.EngineErrorsInfo)
}

func TestAllEnginesEmpty(t *testing.T) {
	librex := newUpstream(t, html(`<div class="text-result-container"><p>No results found.</p></div>`))
	searx := newUpstream(t, html(`<div id="urls"><div class="dialog-error"><p>Sorry! no results found</p></div></div>`))
	f := newFixture(t, fixtureOptions{librex: librex, searx: searx})

	res, err := f.agg.Aggregate(context.Background(), Request{Query: "q", Page: 1, Engines: []string{"librex", "searx"}})
	require.NoError(t, err)

	assert.Empty(t, res.Results)
	assert.False(t, res.Filtered)
	assert.Equal(t, []engine.EngineErrorInfo{
		engine.NewEngineErrorInfo("librex", engine.EmptyResultSet),
		engine.NewEngineErrorInfo("searx", engine.EmptyResultSet),
	}, res.EngineErrorsInfo)
}

func TestDisallowedQueryShortCircuits(t *testing.T) {
	librex := newUpstream(t, librexPage(link{"https://u1.example/", "One", "first"}))
	f := newFixture(t, fixtureOptions{librex: librex, block: "^forbidden$\n"})

	res, err := f.agg.Aggregate(context.Background(), Request{Query: "forbidden", Page: 1, SafeSearch: 4, Engines: []string{"librex"}})
	require.NoError(t, err)

	assert.True(t, res.Disallowed)
	assert.Empty(t, res.Results)
	assert.Equal(t, uint8(4), res.SafeSearchLevel)
	assert.Equal(t, int32(0), librex.hits.Load())
	assert.Equal(t, int32(0), f.sleeps.Load())
}

func TestAllowlistRescue(t *testing.T) {
	librex := newUpstream(t, librexPage(
		link{"https://example.com", "Example", "an example"},
		link{"https://www.rust-lang.org", "Rust", "a language"},
	))
	f := newFixture(t, fixtureOptions{librex: librex, block: "example\nrust\n", allow: "rust-lang\n"})

	res, err := f.agg.Aggregate(context.Background(), Request{Query: "q", Page: 1, SafeSearch: 3, Engines: []string{"librex"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://www.rust-lang.org"}, urls(res))
	assert.False(t, res.Filtered)
}

func TestFilteredWhenEverythingRemoved(t *testing.T) {
	librex := newUpstream(t, librexPage(link{"https://example.com", "Example", "an example"}))
	f := newFixture(t, fixtureOptions{librex: librex, block: "example\n"})

	res, err := f.agg.Aggregate(context.Background(), Request{Query: "q", Page: 1, SafeSearch: 3, Engines: []string{"librex"}})
	require.NoError(t, err)
	assert.Empty(t, res.Results)
	assert.True(t, res.Filtered)
}

func TestRelevanceOrdering(t *testing.T) {
	librex := newUpstream(t, librexPage(
		link{"https://a.example/", "Result A", "rust programming language"},
		link{"https://b.example/", "Result B", "gardening tips"},
		link{"https://c.example/", "Result C", "learn rust"},
	))
	f := newFixture(t, fixtureOptions{librex: librex})

	res, err := f.agg.Aggregate(context.Background(), Request{Query: "rust language", Page: 1, Engines: []string{"librex"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"https://a.example/", "https://c.example/", "https://b.example/"}, urls(res))
	for _, r := range res.Results {
		assert.GreaterOrEqual(t, r.RelevanceScore, 0.0)
	}
}

func TestDeterministicTieBreak(t *testing.T) {
	librex := newUpstream(t, librexPage(
		link{"https://c.example/", "C", "nothing"},
		link{"https://a.example/", "A", "nothing"},
		link{"https://b.example/", "B", "nothing"},
	))
	f := newFixture(t, fixtureOptions{librex: librex})

	res, err := f.agg.Aggregate(context.Background(), Request{Query: "unrelated", Page: 1, Engines: []string{"librex"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example/", "https://b.example/", "https://c.example/"}, urls(res))
}

func TestNoEnginesSelected(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	res, err := f.agg.Aggregate(context.Background(), Request{Query: "q", Page: 1})
	require.NoError(t, err)
	assert.True(t, res.NoEnginesSelected)
	assert.Empty(t, res.Results)
}

func TestUnknownEngineIsReported(t *testing.T) {
	librex := newUpstream(t, librexPage(link{"https://u1.example/", "One", "first"}))
	f := newFixture(t, fixtureOptions{librex: librex})

	res, err := f.agg.Aggregate(context.Background(), Request{Query: "q", Page: 1, Engines: []string{"google", "librex"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://u1.example/"}, urls(res))
	assert.Equal(t, []engine.EngineErrorInfo{engine.NewEngineErrorInfo("google", engine.NoSuchEngine)}, res.EngineErrorsInfo)
}

func TestEngineOrderDoesNotChangeResults(t *testing.T) {
	librex := newUpstream(t, librexPage(
		link{"https://u1.example/", "One", "first"},
		link{"https://u2.example/", "Two", "second"},
	))
	searx := newUpstream(t, searxPage(
		link{"https://u2.example/", "Two again", "second again"},
		link{"https://u3.example/", "Three", "third"},
	))
	f := newFixture(t, fixtureOptions{librex: librex, searx: searx, debug: true})

	forward, err := f.agg.Aggregate(context.Background(), Request{Query: "q", Page: 1, Engines: []string{"librex", "searx"}})
	require.NoError(t, err)
	backward, err := f.agg.Aggregate(context.Background(), Request{Query: "q", Page: 1, Engines: []string{"searx", "librex"}})
	require.NoError(t, err)

	assert.Equal(t, forward, backward)
	for _, r := range backward.Results {
		if r.URL == "https://u2.example/" {
			assert.Equal(t, "Two", r.Title)
		}
	}
}

func TestDuplicateEngineNames(t *testing.T) {
	librex := newUpstream(t, librexPage(link{"https://u1.example/", "One", "first"}))
	f := newFixture(t, fixtureOptions{librex: librex, debug: true})

	res, err := f.agg.Aggregate(context.Background(), Request{Query: "q", Page: 1, Engines: []string{"google", "librex", "google", "librex"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://u1.example/"}, urls(res))
	assert.Equal(t, []engine.EngineErrorInfo{engine.NewEngineErrorInfo("google", engine.NoSuchEngine)}, res.EngineErrorsInfo)
	assert.Equal(t, int32(1), librex.hits.Load())
	assert.Equal(t, []string{"librex"}, res.Results[0].Engines)
}

func TestRandomDelay(t *testing.T) {
	librex := newUpstream(t, librexPage(link{"https://u1.example/", "One", "first"}))

	t.Run("skipped in debug", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{librex: librex, debug: true})
		_, err := f.agg.Aggregate(context.Background(), Request{Query: "q", Page: 1, Engines: []string{"librex"}})
		require.NoError(t, err)
		assert.Equal(t, int32(0), f.sleeps.Load())
	})

	t.Run("applied outside debug", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{librex: librex})
		_, err := f.agg.Aggregate(context.Background(), Request{Query: "q", Page: 1, Engines: []string{"librex"}})
		require.NoError(t, err)
		assert.Equal(t, int32(1), f.sleeps.Load())
	})
}

func TestPaginationPassedToEngines(t *testing.T) {
	var gotPage atomic.Value
	searx := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		gotPage.Store(r.URL.Query().Get("pageno"))
		searxPage(link{"https://u1.example/", "One", "first"})(w, r)
	})
	f := newFixture(t, fixtureOptions{searx: searx})

	_, err := f.agg.Aggregate(context.Background(), Request{Query: "q", Page: 3, Engines: []string{"searx"}})
	require.NoError(t, err)
	assert.Equal(t, "3", gotPage.Load())
}

func TestEmptyQuery(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	_, err := f.agg.Search(context.Background(), Request{Query: "   "})
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestPrefetchWarmsNeighbours(t *testing.T) {
	librex := newUpstream(t, librexPage(link{"https://u1.example/", "One", "first"}))
	f := newFixture(t, fixtureOptions{librex: librex, cached: true})

	req := Request{Query: "q", Page: 2, Engines: []string{"librex"}}
	f.agg.Prefetch(req, 5*time.Second)

	for _, page := range []uint{1, 3} {
		key := cache.NewKey("http://127.0.0.1:8080", "q", page, 0, []string{"librex"})
		assert.Eventually(t, func() bool {
			_, err := f.cache.Get(context.Background(), key)
			return err == nil
		}, 3*time.Second, 20*time.Millisecond, "page %d", page)
	}
}
