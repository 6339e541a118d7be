package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrMiss 键不存在、已过期或内容无法解密
	ErrMiss = errors.New("cache miss")
	// ErrPoolExhaustion 连接池中所有连接均已断开
	ErrPoolExhaustion = errors.New("cache pool exhausted")
	// ErrCorruption 已存在的条目无法解码
	ErrCorruption = errors.New("cache entry corrupted")
)

// BackendError 非连接类的后端 I/O 错误
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("cache backend %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}
