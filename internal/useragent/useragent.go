package useragent

import (
	"fmt"
	"math/rand/v2"
	"sync"
)

// Pool 桌面浏览器 User-Agent 池，首次使用时初始化，之后只读
type Pool struct {
	once   sync.Once
	agents []string
}

var defaultPool Pool

// Random 从进程级默认池中随机返回一个 User-Agent
func Random() string {
	return defaultPool.Random()
}

// Random 随机返回一个 User-Agent
func (p *Pool) Random() string {
	p.once.Do(p.build)
	return p.agents[rand.IntN(len(p.agents))]
}

// All 返回池中全部 User-Agent 的副本
func (p *Pool) All() []string {
	p.once.Do(p.build)
	return append([]string(nil), p.agents...)
}

var platforms = []string{
	"Windows NT 10.0; Win64; x64",
	"Macintosh; Intel Mac OS X 10_15_7",
	"X11; Linux x86_64",
}

func (p *Pool) build() {
	var agents []string

	// Chrome
	for major := 118; major <= 126; major++ {
		for _, platform := range platforms {
			agents = append(agents, fmt.Sprintf(
				"Mozilla/5.0 (%s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.0.0 Safari/537.36",
				platform, major))
		}
	}

	// Edge
	for major := 118; major <= 126; major++ {
		agents = append(agents, fmt.Sprintf(
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.0.0 Safari/537.36 Edg/%d.0.0.0",
			major, major))
	}

	// Firefox
	firefoxPlatforms := []string{
		"Windows NT 10.0; Win64; x64",
		"Macintosh; Intel Mac OS X 10.15",
		"X11; Linux x86_64",
		"X11; Ubuntu; Linux x86_64",
	}
	for major := 115; major <= 127; major++ {
		for _, platform := range firefoxPlatforms {
			agents = append(agents, fmt.Sprintf(
				"Mozilla/5.0 (%s; rv:%d.0) Gecko/20100101 Firefox/%d.0",
				platform, major, major))
		}
	}

	// Safari
	for _, version := range []string{"16.6", "17.0", "17.1", "17.2", "17.3", "17.4", "17.5"} {
		agents = append(agents, fmt.Sprintf(
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/%s Safari/605.1.15",
			version))
	}

	p.agents = agents
}
