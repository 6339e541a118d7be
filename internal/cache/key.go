package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
)

// Key 一次搜索请求的缓存键
type Key struct {
	// Origin 形如 scheme://host:port
	Origin     string
	Query      string
	Page       uint
	SafeSearch uint8
	Engines    []string
}

// NewKey 规范化查询与引擎列表后构造缓存键
//
// 查询去除首尾空白并合并连续空白，大小写保留；引擎列表排序去重。
func NewKey(origin, query string, page uint, safeSearch uint8, engines []string) Key {
	sorted := slices.Clone(engines)
	slices.Sort(sorted)
	return Key{
		Origin:     strings.TrimRight(origin, "/"),
		Query:      NormalizeQuery(query),
		Page:       page,
		SafeSearch: safeSearch,
		Engines:    slices.Compact(sorted),
	}
}

// NormalizeQuery 去除首尾空白并合并连续空白
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(q), " ")
}

// String 返回未哈希的键
func (k Key) String() string {
	return fmt.Sprintf("%s/search?q=%s&page=%d&safesearch=%d&engines=%s",
		k.Origin, k.Query, k.Page, k.SafeSearch, strings.Join(k.Engines, ","))
}

// Hash 返回键的 sha256 十六进制摘要，作为后端实际使用的键
func (k Key) Hash() string {
	sum := sha256.Sum256([]byte(k.String()))
	return hex.EncodeToString(sum[:])
}
