package cache

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cliffyan/go-metasearch/internal/engine"
)

func sampleEnvelope() *engine.SearchResults {
	r := engine.NewSearchResult("Rust", "https://www.rust-lang.org", "A language empowering everyone", "bing")
	r.AddEngine("brave")
	r.RelevanceScore = 0.5
	return &engine.SearchResults{
		Results:          []engine.SearchResult{r},
		PageQuery:        "rust",
		Style:            engine.Style{Theme: "simple", ColorScheme: "catppuccin-mocha"},
		EngineErrorsInfo: []engine.EngineErrorInfo{engine.NewEngineErrorInfo("mojeek", engine.EmptyResultSet)},
		SafeSearchLevel:  1,
	}
}

func testKey(query string) Key {
	return NewKey("http://127.0.0.1:8080", query, 1, 1, []string{"brave", "bing"})
}

func TestKey(t *testing.T) {
	base := NewKey("http://127.0.0.1:8080/", "  rust   lang ", 2, 1, []string{"brave", "bing", "bing"})
	assert.Equal(t, "http://127.0.0.1:8080/search?q=rust lang&page=2&safesearch=1&engines=bing,brave", base.String())
	assert.Len(t, base.Hash(), 64)

	same := NewKey("http://127.0.0.1:8080", "rust lang", 2, 1, []string{"bing", "brave"})
	assert.Equal(t, base.Hash(), same.Hash())

	for name, other := range map[string]Key{
		"query":      NewKey("http://127.0.0.1:8080", "rust", 2, 1, []string{"bing", "brave"}),
		"case":       NewKey("http://127.0.0.1:8080", "Rust lang", 2, 1, []string{"bing", "brave"}),
		"page":       NewKey("http://127.0.0.1:8080", "rust lang", 3, 1, []string{"bing", "brave"}),
		"safesearch": NewKey("http://127.0.0.1:8080", "rust lang", 2, 2, []string{"bing", "brave"}),
		"engines":    NewKey("http://127.0.0.1:8080", "rust lang", 2, 1, []string{"bing"}),
	} {
		assert.NotEqual(t, base.Hash(), other.Hash(), name)
	}
}

func TestCodecRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	for _, compression := range []Compression{CompressionNone, CompressionZstd, CompressionGzip} {
		for _, sealed := range []bool{false, true} {
			var k []byte
			if sealed {
				k = key
			}
			codec, err := NewCodec(compression, k)
			require.NoError(t, err)

			data, err := codec.Encode(sampleEnvelope())
			require.NoError(t, err)
			got, err := codec.Decode(data)
			require.NoError(t, err)
			assert.Equal(t, sampleEnvelope(), got, "compression=%s sealed=%v", compression, sealed)
		}
	}
}

func TestCodecRejects(t *testing.T) {
	_, err := NewCodec("lz4", nil)
	assert.Error(t, err)

	_, err = NewCodec(CompressionNone, []byte("short"))
	assert.Error(t, err)
}

func TestTamperedEntryIsMiss(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	codec, err := NewCodec(CompressionZstd, key)
	require.NoError(t, err)

	store := NewMemoryStore(16, time.Minute)
	c := New(store, codec, zap.NewNop())
	k := testKey("rust")
	require.NoError(t, c.Put(context.Background(), k, sampleEnvelope()))

	data, err := store.Get(context.Background(), k.Hash())
	require.NoError(t, err)

	for i := range data {
		tampered := append([]byte(nil), data...)
		tampered[i] ^= 0x01
		require.NoError(t, store.Set(context.Background(), k.Hash(), tampered))

		_, err := c.Get(context.Background(), k)
		require.ErrorIs(t, err, ErrMiss, "byte %d", i)
		// 损坏的条目被删除
		_, err = store.Get(context.Background(), k.Hash())
		require.ErrorIs(t, err, ErrMiss)
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("evicts least recently used", func(t *testing.T) {
		s := NewMemoryStore(2, time.Minute)
		require.NoError(t, s.Set(ctx, "a", []byte("1")))
		require.NoError(t, s.Set(ctx, "b", []byte("2")))
		_, _ = s.Get(ctx, "a")
		require.NoError(t, s.Set(ctx, "c", []byte("3")))

		_, err := s.Get(ctx, "b")
		assert.ErrorIs(t, err, ErrMiss)
		v, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, []byte("1"), v)
		assert.Equal(t, 2, s.Len())
	})

	t.Run("expires entries", func(t *testing.T) {
		s := NewMemoryStore(2, 30*time.Millisecond)
		require.NoError(t, s.Set(ctx, "a", []byte("1")))
		assert.Eventually(t, func() bool {
			_, err := s.Get(ctx, "a")
			return errors.Is(err, ErrMiss)
		}, time.Second, 10*time.Millisecond)
	})
}

func TestCacheRoundTrip(t *testing.T) {
	codec, err := NewCodec(CompressionGzip, nil)
	require.NoError(t, err)
	c := New(NewMemoryStore(16, time.Minute), codec, nil)

	_, err = c.Get(context.Background(), testKey("rust"))
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, c.Put(context.Background(), testKey("rust"), sampleEnvelope()))
	got, err := c.Get(context.Background(), testKey("  rust "))
	require.NoError(t, err)
	assert.Equal(t, sampleEnvelope(), got)
}

func TestGetOrComputeSingleFlight(t *testing.T) {
	codec, err := NewCodec(CompressionNone, nil)
	require.NoError(t, err)
	c := New(NewMemoryStore(16, time.Minute), codec, zap.NewNop())

	var calls atomic.Int32
	release := make(chan struct{})
	produce := func(context.Context) (*engine.SearchResults, error) {
		calls.Add(1)
		<-release
		return sampleEnvelope(), nil
	}

	const n = 32
	var wg sync.WaitGroup
	results := make([]*engine.SearchResults, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.GetOrCompute(context.Background(), testKey("rust"), produce)
			assert.NoError(t, err)
			results[i] = res
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, res := range results {
		assert.Equal(t, sampleEnvelope(), res)
	}

	// 之后的调用直接命中缓存
	_, err = c.GetOrCompute(context.Background(), testKey("rust"), produce)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetOrComputeWaiterCancellation(t *testing.T) {
	codec, err := NewCodec(CompressionNone, nil)
	require.NoError(t, err)
	c := New(NewMemoryStore(16, time.Minute), codec, zap.NewNop())

	done := make(chan struct{})
	produce := func(ctx context.Context) (*engine.SearchResults, error) {
		defer close(done)
		time.Sleep(50 * time.Millisecond)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return sampleEnvelope(), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err = c.GetOrCompute(ctx, testKey("rust"), produce)
	assert.ErrorIs(t, err, context.Canceled)

	<-done
	assert.Eventually(t, func() bool {
		_, err := c.Get(context.Background(), testKey("rust"))
		return err == nil
	}, time.Second, 10*time.Millisecond)
}

func TestGetOrComputeProducerError(t *testing.T) {
	codec, err := NewCodec(CompressionNone, nil)
	require.NoError(t, err)
	c := New(NewMemoryStore(16, time.Minute), codec, zap.NewNop())

	boom := errors.New("boom")
	_, err = c.GetOrCompute(context.Background(), testKey("rust"), func(context.Context) (*engine.SearchResults, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestCacheable(t *testing.T) {
	assert.True(t, Cacheable(sampleEnvelope()))
	assert.True(t, Cacheable(&engine.SearchResults{Disallowed: true}))
	assert.True(t, Cacheable(&engine.SearchResults{
		EngineErrorsInfo: []engine.EngineErrorInfo{engine.NewEngineErrorInfo("a", engine.EmptyResultSet)},
	}))
	assert.False(t, Cacheable(&engine.SearchResults{
		EngineErrorsInfo: []engine.EngineErrorInfo{engine.NewEngineErrorInfo("a", engine.RequestError)},
	}))
	assert.False(t, Cacheable(nil))
}

// fakeConn 以预置错误模拟 redis 连接
type fakeConn struct {
	mu      sync.Mutex
	err     error
	data    map[string]string
	expires map[string]time.Time
	calls   int
}

func newFakeConn(err error) *fakeConn {
	return &fakeConn{err: err, data: map[string]string{}, expires: map[string]time.Time{}}
}

// put 直接写入带有效期的键，模拟其它进程写入
func (f *fakeConn) put(key, value string, ttl time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	f.expires[key] = time.Now().Add(ttl)
}

// expired 调用方需持有锁
func (f *fakeConn) expired(key string) bool {
	at, ok := f.expires[key]
	if ok && !time.Now().Before(at) {
		delete(f.data, key)
		delete(f.expires, key)
		return true
	}
	return false
}

func (f *fakeConn) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.data[key]
	if !ok || f.expired(key) {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeConn) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.data[key] = string(value.([]byte))
	delete(f.expires, key)
	if expiration > 0 {
		f.expires[key] = time.Now().Add(expiration)
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeConn) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	for _, k := range keys {
		delete(f.data, k)
		delete(f.expires, k)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func (f *fakeConn) PTTL(_ context.Context, key string) *redis.DurationCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return redis.NewDurationResult(0, f.err)
	}
	if _, ok := f.data[key]; !ok || f.expired(key) {
		return redis.NewDurationResult(-2, nil)
	}
	at, ok := f.expires[key]
	if !ok {
		return redis.NewDurationResult(-1, nil)
	}
	return redis.NewDurationResult(time.Until(at), nil)
}

func (f *fakeConn) Close() error { return nil }

func TestRedisStoreRotation(t *testing.T) {
	ctx := context.Background()

	t.Run("rotates past dropped connections", func(t *testing.T) {
		dropped := newFakeConn(io.EOF)
		healthy := newFakeConn(nil)
		s := newRedisStore([]redisConn{dropped, healthy}, time.Minute, nil)

		require.NoError(t, s.Set(ctx, "k", []byte("v")))
		v, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), v)
		assert.Equal(t, 2, dropped.calls)

		require.NoError(t, s.Delete(ctx, "k"))
		_, err = s.Get(ctx, "k")
		assert.ErrorIs(t, err, ErrMiss)
	})

	t.Run("each call starts from the first connection", func(t *testing.T) {
		first := newFakeConn(nil)
		second := newFakeConn(nil)
		s := newRedisStore([]redisConn{first, second}, time.Minute, nil)

		for range 3 {
			_, _ = s.Get(ctx, "k")
		}
		assert.Equal(t, 3, first.calls)
		assert.Equal(t, 0, second.calls)
	})

	t.Run("all dropped is pool exhaustion", func(t *testing.T) {
		s := newRedisStore([]redisConn{newFakeConn(io.EOF), newFakeConn(redis.ErrClosed)}, time.Minute, nil)
		_, err := s.Get(ctx, "k")
		assert.ErrorIs(t, err, ErrPoolExhaustion)
		assert.ErrorIs(t, s.Set(ctx, "k", []byte("v")), ErrPoolExhaustion)
	})

	t.Run("other errors are backend errors without rotation", func(t *testing.T) {
		broken := newFakeConn(errors.New("WRONGTYPE Operation against a key holding the wrong kind of value"))
		healthy := newFakeConn(nil)
		s := newRedisStore([]redisConn{broken, healthy}, time.Minute, nil)

		_, err := s.Get(ctx, "k")
		var be *BackendError
		require.ErrorAs(t, err, &be)
		assert.Equal(t, "get", be.Op)
		assert.Equal(t, 0, healthy.calls)
	})
}

func TestHybridStore(t *testing.T) {
	ctx := context.Background()
	local := NewMemoryStore(4, time.Minute)
	remoteConn := newFakeConn(nil)
	remote := newRedisStore([]redisConn{remoteConn}, time.Minute, nil)
	s := NewHybridStore(local, remote)

	require.NoError(t, s.Set(ctx, "k", []byte("v")))
	_, err := local.Get(ctx, "k")
	require.NoError(t, err)

	// 本地未命中时从远端读取并回填
	require.NoError(t, local.Delete(ctx, "k"))
	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
	_, err = local.Get(ctx, "k")
	assert.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestHybridStoreKeepsRemoteExpiry(t *testing.T) {
	ctx := context.Background()
	local := NewMemoryStore(4, time.Minute)
	remoteConn := newFakeConn(nil)
	s := NewHybridStore(local, newRedisStore([]redisConn{remoteConn}, time.Minute, nil))

	t.Run("read-through entry expires with the remote one", func(t *testing.T) {
		remoteConn.put("metasearch:short", "v", 80*time.Millisecond)

		v, err := s.Get(ctx, "short")
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), v)
		_, err = local.Get(ctx, "short")
		require.NoError(t, err)

		assert.Eventually(t, func() bool {
			_, err := s.Get(ctx, "short")
			return errors.Is(err, ErrMiss)
		}, time.Second, 10*time.Millisecond)
		_, err = local.Get(ctx, "short")
		assert.ErrorIs(t, err, ErrMiss)
	})

	t.Run("remote entry without expiry is not copied locally", func(t *testing.T) {
		remoteConn.mu.Lock()
		remoteConn.data["metasearch:forever"] = "v"
		remoteConn.mu.Unlock()

		v, err := s.Get(ctx, "forever")
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), v)
		_, err = local.Get(ctx, "forever")
		assert.ErrorIs(t, err, ErrMiss)
	})
}

func TestMemoryStoreSetUntil(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	s := NewMemoryStore(4, time.Minute)
	s.now = func() time.Time { return now }

	s.setUntil("a", []byte("1"), now.Add(time.Second))
	s.setUntil("b", []byte("2"), now.Add(time.Hour))

	now = now.Add(2 * time.Second)
	_, err := s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrMiss)
	_, err = s.Get(ctx, "b")
	require.NoError(t, err)

	// 截止时间不超过自身 TTL
	now = now.Add(time.Minute)
	_, err = s.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestDisabledStore(t *testing.T) {
	codec, err := NewCodec(CompressionNone, nil)
	require.NoError(t, err)
	c := New(DisabledStore{}, codec, nil)

	require.NoError(t, c.Put(context.Background(), testKey("rust"), sampleEnvelope()))
	_, err = c.Get(context.Background(), testKey("rust"))
	assert.ErrorIs(t, err, ErrMiss)
}
