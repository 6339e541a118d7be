package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// redisConn 连接池中单个连接所需的命令，由 *redis.Client 实现
type redisConn interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	PTTL(ctx context.Context, key string) *redis.DurationCmd
	Close() error
}

// RedisStore 由多个连接组成的远端缓存
//
// 每次调用从第一个连接开始，遇到连接断开时换下一个重试；
// 轮换下标只存在于单次调用内。
type RedisStore struct {
	conns  []redisConn
	ttl    time.Duration
	prefix string
	log    *zap.Logger
}

// NewRedisStore 连接 redis 并创建 poolSize 个连接
func NewRedisStore(ctx context.Context, redisURL string, poolSize int, ttl time.Duration, log *zap.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if poolSize < 1 {
		poolSize = 1
	}

	conns := make([]redisConn, 0, poolSize)
	for range poolSize {
		client := redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = client.Close()
			for _, c := range conns {
				_ = c.Close()
			}
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		conns = append(conns, client)
	}

	return newRedisStore(conns, ttl, log), nil
}

func newRedisStore(conns []redisConn, ttl time.Duration, log *zap.Logger) *RedisStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisStore{
		conns:  conns,
		ttl:    ttl,
		prefix: "metasearch:",
		log:    log.With(zap.String("module", "redis")),
	}
}

// do 依次尝试每个连接，只有连接断开才换下一个
func (s *RedisStore) do(op string, call func(c redisConn) error) error {
	for i, c := range s.conns {
		err := call(c)
		if err == nil || errors.Is(err, ErrMiss) {
			return err
		}
		if !isConnDropped(err) {
			return &BackendError{Op: op, Err: err}
		}
		s.log.Warn("Redis connection dropped, rotating",
			zap.String("op", op),
			zap.Int("conn", i),
			zap.Error(err))
	}
	return ErrPoolExhaustion
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.do("get", func(c redisConn) error {
		v, err := c.Get(ctx, s.prefix+key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrMiss
		}
		value = v
		return err
	})
	return value, err
}

// GetWithTTL 读取值及其剩余有效期，键没有过期时间时有效期为 0
func (s *RedisStore) GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, error) {
	var (
		value     []byte
		remaining time.Duration
	)
	err := s.do("get", func(c redisConn) error {
		v, err := c.Get(ctx, s.prefix+key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrMiss
		}
		if err != nil {
			return err
		}
		// PTTL 对无过期时间或已删除的键返回负值
		ttl, err := c.PTTL(ctx, s.prefix+key).Result()
		if err != nil {
			return err
		}
		value, remaining = v, max(ttl, 0)
		return nil
	})
	return value, remaining, err
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	return s.do("set", func(c redisConn) error {
		return c.Set(ctx, s.prefix+key, value, s.ttl).Err()
	})
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.do("del", func(c redisConn) error {
		return c.Del(ctx, s.prefix+key).Err()
	})
}

func (s *RedisStore) Close() error {
	var errs []error
	for _, c := range s.conns {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// isConnDropped 判断错误是否为连接层面的失败
func isConnDropped(err error) bool {
	if errors.Is(err, redis.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return strings.Contains(err.Error(), "connection reset") ||
		strings.Contains(err.Error(), "broken pipe")
}
