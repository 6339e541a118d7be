package policy

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/cliffyan/go-metasearch/internal/engine"
)

const (
	// LevelFilter 从该级别开始按黑名单过滤结果
	LevelFilter uint8 = 3
	// LevelBlockQuery 该级别下命中黑名单的查询直接拒绝
	LevelBlockQuery uint8 = 4
)

// Filter 黑白名单过滤器，可在运行时重新加载
type Filter struct {
	blockPath string
	allowPath string
	log       *zap.Logger

	mu    sync.RWMutex
	block *List
	allow *List
	// 对应文件是否曾成功加载
	blockLoaded bool
	allowLoaded bool
}

// NewFilter 以已加载的列表创建过滤器
func NewFilter(block, allow *List) *Filter {
	return &Filter{block: block, allow: allow, log: zap.NewNop()}
}

// LoadFilter 从文件加载黑白名单，路径为空或文件不存在时视为空列表
func LoadFilter(blockPath, allowPath string, log *zap.Logger) (*Filter, error) {
	if log == nil {
		log = zap.NewNop()
	}
	f := &Filter{
		blockPath: blockPath,
		allowPath: allowPath,
		log:       log.With(zap.String("module", "policy")),
	}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Reload 重新读取两个列表，任一失败则保留原列表
//
// 曾成功加载的文件消失时沿用原列表，编辑器非原子保存的中间状态不会清空过滤。
func (f *Filter) Reload() error {
	block, blockFound, err := loadOptional(f.blockPath)
	if err != nil {
		return fmt.Errorf("load blocklist: %w", err)
	}
	allow, allowFound, err := loadOptional(f.allowPath)
	if err != nil {
		return fmt.Errorf("load allowlist: %w", err)
	}

	f.mu.Lock()
	block, blockFound = f.keepIfMissing("blocklist", f.blockPath, block, blockFound, f.block, f.blockLoaded)
	allow, allowFound = f.keepIfMissing("allowlist", f.allowPath, allow, allowFound, f.allow, f.allowLoaded)
	f.block, f.allow = block, allow
	f.blockLoaded, f.allowLoaded = blockFound, allowFound
	f.mu.Unlock()

	f.log.Info("Loaded policy lists",
		zap.String("blocklist", f.blockPath),
		zap.Int("blocked_patterns", block.Len()),
		zap.String("allowlist", f.allowPath),
		zap.Int("allowed_patterns", allow.Len()))
	return nil
}

func (f *Filter) keepIfMissing(name, path string, list *List, found bool, prev *List, loaded bool) (*List, bool) {
	if found || !loaded {
		return list, found
	}
	f.log.Warn("Policy list file missing, keeping previous patterns",
		zap.String("list", name),
		zap.String("path", path),
		zap.Int("patterns", prev.Len()))
	return prev, true
}

func (f *Filter) lists() (block, allow *List) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.block, f.allow
}

// Apply 安全级别不低于 3 时移除命中黑名单的结果，命中白名单的结果会被保留
func (f *Filter) Apply(results []engine.SearchResult, level uint8) []engine.SearchResult {
	if level < LevelFilter {
		return results
	}
	block, allow := f.lists()
	if block.Len() == 0 {
		return results
	}

	kept := make([]engine.SearchResult, 0, len(results))
	for _, r := range results {
		if block.Match(r) && !allow.Match(r) {
			continue
		}
		kept = append(kept, r)
	}
	return kept
}

// QueryDisallowed 安全级别为 4 且查询命中黑名单
func (f *Filter) QueryDisallowed(query string, level uint8) bool {
	if level < LevelBlockQuery {
		return false
	}
	block, _ := f.lists()
	return block.MatchString(query)
}

// Paths 返回监听的文件路径
func (f *Filter) Paths() []string {
	var paths []string
	for _, p := range []string{f.blockPath, f.allowPath} {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}
