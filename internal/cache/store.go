package cache

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Store 缓存后端，TTL 由后端实例统一设置
type Store interface {
	// Get 键不存在或已过期时返回 ErrMiss
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// expiringStore 读取时能给出条目剩余有效期的后端
type expiringStore interface {
	// GetWithTTL 剩余有效期未知时返回 0
	GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, error)
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore 进程内 LRU 缓存，按条目数淘汰
type MemoryStore struct {
	lru *expirable.LRU[string, memoryEntry]
	ttl time.Duration
	now func() time.Time
}

// NewMemoryStore 创建内存缓存
func NewMemoryStore(capacity int, ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		lru: expirable.NewLRU[string, memoryEntry](capacity, nil, ttl),
		ttl: ttl,
		now: time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	e, ok := s.lru.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		s.lru.Remove(key)
		return nil, ErrMiss
	}
	return e.value, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	var expiresAt time.Time
	if s.ttl > 0 {
		expiresAt = s.now().Add(s.ttl)
	}
	s.lru.Add(key, memoryEntry{value: value, expiresAt: expiresAt})
	return nil
}

// setUntil 写入截止时间早于自身 TTL 的条目
func (s *MemoryStore) setUntil(key string, value []byte, expiresAt time.Time) {
	if s.ttl > 0 {
		expiresAt = minTime(expiresAt, s.now().Add(s.ttl))
	}
	s.lru.Add(key, memoryEntry{value: value, expiresAt: expiresAt})
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.lru.Remove(key)
	return nil
}

func (s *MemoryStore) Close() error {
	s.lru.Purge()
	return nil
}

// Len 当前条目数
func (s *MemoryStore) Len() int {
	return s.lru.Len()
}

// HybridStore 内存在前、远端在后：读穿透，写同时写入两者
//
// 读穿透回填的本地条目沿用远端剩余有效期；远端给不出有效期时不回填。
type HybridStore struct {
	local  *MemoryStore
	remote Store
}

// NewHybridStore 组合两个后端
func NewHybridStore(local *MemoryStore, remote Store) *HybridStore {
	return &HybridStore{local: local, remote: remote}
}

func (s *HybridStore) Get(ctx context.Context, key string) ([]byte, error) {
	if v, err := s.local.Get(ctx, key); err == nil {
		return v, nil
	}
	remote, ok := s.remote.(expiringStore)
	if !ok {
		return s.remote.Get(ctx, key)
	}
	v, remaining, err := remote.GetWithTTL(ctx, key)
	if err != nil {
		return nil, err
	}
	if remaining > 0 {
		s.local.setUntil(key, v, s.local.now().Add(remaining))
	}
	return v, nil
}

func (s *HybridStore) Set(ctx context.Context, key string, value []byte) error {
	localErr := s.local.Set(ctx, key, value)
	return errors.Join(localErr, s.remote.Set(ctx, key, value))
}

func (s *HybridStore) Delete(ctx context.Context, key string) error {
	return errors.Join(s.local.Delete(ctx, key), s.remote.Delete(ctx, key))
}

func (s *HybridStore) Close() error {
	return errors.Join(s.local.Close(), s.remote.Close())
}

// DisabledStore 不缓存任何内容
type DisabledStore struct{}

func (DisabledStore) Get(context.Context, string) ([]byte, error) { return nil, ErrMiss }
func (DisabledStore) Set(context.Context, string, []byte) error { return nil }
func (DisabledStore) Delete(context.Context, string) error { return nil }
func (DisabledStore) Close() error { return nil }
