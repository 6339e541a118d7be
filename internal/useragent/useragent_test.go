package useragent

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPool_Random(t *testing.T) {
	var p Pool
	all := p.All()
	assert.NotEmpty(t, all)

	for i := 0; i < 50; i++ {
		ua := p.Random()
		assert.True(t, strings.HasPrefix(ua, "Mozilla/5.0 ("), ua)
		assert.Contains(t, all, ua)
	}
}

func TestPool_Families(t *testing.T) {
	var p Pool
	joined := strings.Join(p.All(), "\n")
	for _, family := range []string{"Chrome/", "Firefox/", "Edg/", "Version/17.0 Safari/"} {
		assert.Contains(t, joined, family)
	}
}

func TestRandom_Concurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NotEmpty(t, Random())
		}()
	}
	wg.Wait()
}
