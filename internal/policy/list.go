package policy

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/cliffyan/go-metasearch/internal/engine"
)

// RegexError 列表文件中存在无法编译的正则
type RegexError struct {
	Path string
	Line int
	Err  error
}

func (e *RegexError) Error() string {
	return fmt.Sprintf("%s:%d: invalid pattern: %v", e.Path, e.Line, e.Err)
}

func (e *RegexError) Unwrap() error {
	return e.Err
}

// List 一组大小写不敏感的正则
type List struct {
	patterns []*regexp.Regexp
}

// LoadList 从文件读取正则列表，每行一个，空行与 # 开头的行被忽略
func LoadList(path string) (*List, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read list %s: %w", path, err)
	}

	var list List
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for line := 1; scanner.Scan(); line++ {
		pattern := strings.TrimSpace(scanner.Text())
		if pattern == "" || strings.HasPrefix(pattern, "#") {
			continue
		}
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, &RegexError{Path: path, Line: line, Err: err}
		}
		list.patterns = append(list.patterns, re)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan list %s: %w", path, err)
	}
	return &list, nil
}

// loadOptional 路径为空或文件不存在时返回空列表，found 表示文件存在
func loadOptional(path string) (list *List, found bool, err error) {
	if path == "" {
		return &List{}, false, nil
	}
	list, err = LoadList(path)
	if errors.Is(err, os.ErrNotExist) {
		return &List{}, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return list, true, nil
}

// Len 返回正则数量
func (l *List) Len() int {
	if l == nil {
		return 0
	}
	return len(l.patterns)
}

// MatchString 任一正则匹配即返回 true
func (l *List) MatchString(s string) bool {
	if l == nil {
		return false
	}
	for _, re := range l.patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// Match 检查结果的链接、标题、描述
func (l *List) Match(r engine.SearchResult) bool {
	return l.MatchString(r.URL) || l.MatchString(r.Title) || l.MatchString(r.Description)
}
