package ranking

import (
	"math"
	"strings"
	"unicode"

	"github.com/rivo/uniseg"
)

// stopWords 英文停用词
var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`
		a about above after again against all am an and any are as at be because been
		before being below between both but by can could did do does doing down during
		each few for from further had has have having he her here hers herself him himself
		his how i if in into is it its itself just me more most my myself no nor not now of
		off on once only or other our ours ourselves out over own same she should so some
		such than that the their theirs them themselves then there these they this those
		through to too under until up very was we were what when where which while who whom
		why will with would you your yours yourself yourselves www http https com org net`) {
		stopWords[w] = struct{}{}
	}
}

// corpusSize 每个结果参与计算的文档数：标题、链接、描述
const corpusSize = 3

// Tokenize 小写化后按 Unicode 单词边界切分，去除停用词与标点
func Tokenize(s string) []string {
	var tokens []string
	state := -1
	rest := strings.ToLower(s)
	for len(rest) > 0 {
		var word string
		word, rest, state = uniseg.FirstWordInString(rest, state)
		if !isWord(word) {
			continue
		}
		if _, stop := stopWords[word]; stop {
			continue
		}
		tokens = append(tokens, word)
	}
	return tokens
}

// isWord 至少包含一个字母或数字
func isWord(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			return true
		}
	}
	return false
}

// Score 以单个结果的标题、链接、描述为语料计算查询的 TF-IDF 相关度
//
// 返回值总是有限且非负。
func Score(query, title, url, description string) float64 {
	terms := unique(Tokenize(query))
	if len(terms) == 0 {
		return 0
	}

	docs := [corpusSize][]string{Tokenize(title), Tokenize(url), Tokenize(description)}
	freqs := make([]map[string]int, corpusSize)
	df := make(map[string]int)
	for i, doc := range docs {
		freqs[i] = make(map[string]int, len(doc))
		for _, tok := range doc {
			freqs[i][tok]++
		}
		for tok := range freqs[i] {
			df[tok]++
		}
	}

	var sum float64
	for _, term := range terms {
		idf := math.Log(corpusSize / float64(1+df[term]))
		best := 0.0
		for i, doc := range docs {
			if len(doc) == 0 {
				continue
			}
			tf := float64(freqs[i][term]) / float64(len(doc))
			best = math.Max(best, tf*idf)
		}
		sum += best
	}

	score := sum / float64(len(terms))
	if math.IsNaN(score) || math.IsInf(score, 0) || score < 0 {
		return 0
	}
	return score
}

func unique(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := tokens[:0]
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
