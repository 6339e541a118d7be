package paths

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// AppName 配置目录名称
const AppName = "go-metasearch"

const (
	publicDirectoryName = "public"
	configFileName      = "config.yaml"
	allowlistFileName   = "allowlist.txt"
	blocklistFileName   = "blocklist.txt"
)

// FileKind 文件类型
type FileKind int

const (
	Config FileKind = iota
	Blocklist
	Allowlist
	Theme
)

func (k FileKind) String() string {
	switch k {
	case Config:
		return "config"
	case Blocklist:
		return "blocklist"
	case Allowlist:
		return "allowlist"
	case Theme:
		return "theme"
	default:
		return fmt.Sprintf("FileKind(%d)", int(k))
	}
}

// ErrNotFound 所有候选路径都不存在
var ErrNotFound = errors.New("file not found")

// Resolver 在约定位置中查找配置、名单与主题文件
type Resolver struct {
	home       string
	candidates map[FileKind][]string
	once       sync.Once
	exists     func(path string) bool
}

// NewResolver 创建路径解析器，home 为空时读取 $HOME
func NewResolver(home string) *Resolver {
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return &Resolver{
		home: home,
		exists: func(path string) bool {
			_, err := os.Stat(path)
			return err == nil
		},
	}
}

func (r *Resolver) init() {
	r.once.Do(func() {
		inConventionalDirs := func(file string) []string {
			var dirs []string
			if r.home != "" {
				dirs = append(dirs, filepath.Join(r.home, ".config", AppName, file))
			}
			return append(dirs,
				filepath.Join("/etc/xdg", AppName, file),
				"./"+filepath.Join(AppName, file),
			)
		}
		r.candidates = map[FileKind][]string{
			Config:    inConventionalDirs(configFileName),
			Blocklist: inConventionalDirs(blocklistFileName),
			Allowlist: inConventionalDirs(allowlistFileName),
			Theme: {
				filepath.Join("/opt", AppName, publicDirectoryName),
				"./" + publicDirectoryName,
			},
		}
	})
}

// Candidates 返回某类文件的候选路径（按优先级）
func (r *Resolver) Candidates(kind FileKind) []string {
	r.init()
	return append([]string(nil), r.candidates[kind]...)
}

// Resolve 返回第一个存在的候选路径
func (r *Resolver) Resolve(kind FileKind) (string, error) {
	for _, path := range r.Candidates(kind) {
		if r.exists(path) {
			return path, nil
		}
	}
	return "", fmt.Errorf("%s: %w", kind, ErrNotFound)
}
