package engine

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// Extractor 从单个结果节点的标题、链接、描述子节点构造结果，返回 false 表示跳过
//
// 传入的 Selection 可能为空（Length() == 0），由各引擎自行决定如何处理。
type Extractor func(title, url, desc *goquery.Selection) (SearchResult, bool)

// ResultParser 基于 CSS 选择器的通用结果解析器
type ResultParser struct {
	noResults cascadia.Selector
	results   cascadia.Selector
	title     cascadia.Selector
	url       cascadia.Selector
	desc      cascadia.Selector
}

// NewResultParser 编译五个选择器，任一编译失败即返回错误
func NewResultParser(noResults, results, title, url, desc string) (*ResultParser, error) {
	var p ResultParser
	for _, s := range []struct {
		dst *cascadia.Selector
		src string
	}{
		{&p.noResults, noResults},
		{&p.results, results},
		{&p.title, title},
		{&p.url, url},
		{&p.desc, desc},
	} {
		sel, err := cascadia.Compile(s.src)
		if err != nil {
			return nil, fmt.Errorf("compile selector %q: %w", s.src, err)
		}
		*s.dst = sel
	}
	return &p, nil
}

// mustParser 供内置引擎使用，选择器为常量
func mustParser(name string, selectors ...string) *ResultParser {
	if len(selectors) != 5 {
		panic(fmt.Sprintf("%s: expected 5 selectors, got %d", name, len(selectors)))
	}
	p, err := NewResultParser(selectors[0], selectors[1], selectors[2], selectors[3], selectors[4])
	if err != nil {
		panic(fmt.Sprintf("%s: %v", name, err))
	}
	return p
}

// ParseForNoResults 返回文档中所有匹配“无结果”哨兵的节点
func (p *ResultParser) ParseForNoResults(doc *goquery.Document) *goquery.Selection {
	return doc.FindMatcher(p.noResults)
}

// ParseForResults 遍历结果节点并交给 extract 处理
func (p *ResultParser) ParseForResults(doc *goquery.Document, extract Extractor) []SearchResult {
	var results []SearchResult
	doc.FindMatcher(p.results).Each(func(_ int, s *goquery.Selection) {
		title := s.FindMatcher(p.title).First()
		link := s.FindMatcher(p.url).First()
		desc := s.FindMatcher(p.desc).First()

		result, ok := extract(title, link, desc)
		if !ok {
			return
		}
		result.Title = strings.TrimSpace(result.Title)
		result.URL = strings.TrimSpace(result.URL)
		result.Description = strings.TrimSpace(result.Description)
		if result.URL == "" {
			return
		}
		results = append(results, result)
	})
	return results
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// text 取节点文本并去除首尾空白
func text(s *goquery.Selection) string {
	return strings.TrimSpace(s.Text())
}

// stripTags 去除 HTML 片段中的标签并反转义实体
func stripTags(fragment string) string {
	return strings.TrimSpace(html.UnescapeString(tagPattern.ReplaceAllString(fragment, "")))
}
