package llm

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func detReq(content string) *Request {
	return &Request{
		Model:       "test-model",
		Messages:    []Message{{Role: "user", Content: content}},
		Temperature: 0,
	}
}

func TestCacheHitOnDeterministicRequest(t *testing.T) {
	c := NewCache(10, time.Hour)
	req := detReq("hello")

	_, ok := c.Get(req)
	assert.False(t, ok)

	c.Put(req, Response{Text: "world"})
	resp, ok := c.Get(req)
	require.True(t, ok)
	assert.Equal(t, "world", resp.Text)
	assert.True(t, resp.Cached)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestCacheBypassesNonDeterministic(t *testing.T) {
	c := NewCache(10, time.Hour)
	req := &Request{
		Model:       "test-model",
		Messages:    []Message{{Role: "user", Content: "hello"}},
		Temperature: 0.7,
	}

	_, ok := c.Get(req)
	assert.False(t, ok)
	c.Put(req, Response{Text: "ignored"})

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Bypassed)
	assert.Equal(t, int64(0), stats.Misses)
	assert.Equal(t, 0, stats.Size)
}

func TestCacheLRUEviction(t *testing.T) {
	const n = 3
	c := NewCache(n, time.Hour)

	reqs := make([]*Request, n+1)
	for i := range reqs {
		reqs[i] = detReq(fmt.Sprintf("key-%d", i))
	}
	for i := 0; i < n; i++ {
		c.Put(reqs[i], Response{Text: fmt.Sprintf("v%d", i)})
	}

	// Inserting key n evicts the least recently used entry, key 0.
	c.Put(reqs[n], Response{Text: "vN"})
	_, ok := c.Get(reqs[0])
	assert.False(t, ok)
	_, ok = c.Get(reqs[1])
	assert.True(t, ok)
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestCacheLRUTouchProtects(t *testing.T) {
	const n = 3
	c := NewCache(n, time.Hour)

	reqs := make([]*Request, n+1)
	for i := range reqs {
		reqs[i] = detReq(fmt.Sprintf("key-%d", i))
	}
	for i := 0; i < n; i++ {
		c.Put(reqs[i], Response{Text: fmt.Sprintf("v%d", i)})
	}

	// Touch key 0 so key 1 becomes the eviction victim.
	_, ok := c.Get(reqs[0])
	require.True(t, ok)
	c.Put(reqs[n], Response{Text: "vN"})

	_, ok = c.Get(reqs[0])
	assert.True(t, ok)
	_, ok = c.Get(reqs[1])
	assert.False(t, ok)
}

func TestCacheTTLExpiry(t *testing.T) {
	c := NewCache(10, 10*time.Millisecond)
	req := detReq("hello")
	c.Put(req, Response{Text: "world"})

	time.Sleep(25 * time.Millisecond)

	_, ok := c.Get(req)
	assert.False(t, ok)
	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 0, stats.Size, "expired entry purged on access")
}

func TestCacheKeyDiscriminates(t *testing.T) {
	base := detReq("hello")

	diffModel := detReq("hello")
	diffModel.Model = "other-model"
	diffTemp := detReq("hello")
	diffTemp.Temperature = 0.1
	diffExtra := detReq("hello")
	diffExtra.Extra = map[string]interface{}{"top_p": 0.9}

	assert.NotEqual(t, base.CacheKey(), diffModel.CacheKey())
	assert.NotEqual(t, base.CacheKey(), diffTemp.CacheKey())
	assert.NotEqual(t, base.CacheKey(), diffExtra.CacheKey())
	assert.Equal(t, base.CacheKey(), detReq("hello").CacheKey())
}

func TestCacheKeySortsExtraParams(t *testing.T) {
	a := detReq("hello")
	a.Extra = map[string]interface{}{"top_p": 0.9, "stop": "\n"}
	b := detReq("hello")
	b.Extra = map[string]interface{}{"stop": "\n", "top_p": 0.9}
	assert.Equal(t, a.CacheKey(), b.CacheKey())
}

func TestCacheDisabled(t *testing.T) {
	c := NewCache(0, time.Hour)
	req := detReq("hello")
	c.Put(req, Response{Text: "world"})
	_, ok := c.Get(req)
	assert.False(t, ok)
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := NewCache(50, time.Hour)
	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 200; i++ {
				req := detReq(fmt.Sprintf("g%d-k%d", g, i%60))
				c.Put(req, Response{Text: "v"})
				c.Get(req)
			}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}
	assert.LessOrEqual(t, c.Stats().Size, 50)
}
