package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remem/internal/config"
	"remem/internal/types"
)

func testLLMConfig(endpoint string) config.LLMConfig {
	cfg := config.DefaultLLMConfig()
	cfg.Endpoint = endpoint
	cfg.APIKey = "test-key"
	cfg.Model = "test-model"
	cfg.RetryBaseDelay = time.Millisecond
	return cfg
}

func completionHandler(text string, hits *atomic.Int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		var req chatCompletionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": text}},
			},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func TestCompleteSuccess(t *testing.T) {
	srv := httptest.NewServer(completionHandler("the answer", nil))
	defer srv.Close()

	c := NewClient(testLLMConfig(srv.URL), config.DefaultCacheConfig())
	defer c.Close()

	resp, err := c.Complete(context.Background(), &Request{
		Messages: []Message{{Role: "user", Content: "question"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "the answer", resp.Text)
	assert.Equal(t, 10, resp.PromptTokens)
	assert.Equal(t, 5, resp.CompletionTokens)
	assert.Equal(t, int64(1), c.Stats().Calls)
}

func TestCompleteCachesDeterministic(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(completionHandler("cached", &calls))
	defer srv.Close()

	c := NewClient(testLLMConfig(srv.URL), config.DefaultCacheConfig())
	defer c.Close()

	req := &Request{
		Messages:    []Message{{Role: "user", Content: "same question"}},
		Temperature: 0,
	}
	first, err := c.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := c.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Text, second.Text)

	assert.Equal(t, int64(1), calls.Load(), "second call served from cache")
	assert.Equal(t, int64(1), c.CacheStats().Hits)
}

func TestCompleteBypassesCacheWhenNonDeterministic(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(completionHandler("fresh", &calls))
	defer srv.Close()

	c := NewClient(testLLMConfig(srv.URL), config.DefaultCacheConfig())
	defer c.Close()

	req := &Request{
		Messages:    []Message{{Role: "user", Content: "same question"}},
		Temperature: 0.7,
	}
	_, err := c.Complete(context.Background(), req)
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, int64(2), calls.Load())
	assert.Equal(t, int64(0), c.CacheStats().Hits)
}

func TestCompleteRetriesOn503(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		completionHandler("finally", nil)(w, r)
	}))
	defer srv.Close()

	c := NewClient(testLLMConfig(srv.URL), config.DefaultCacheConfig())
	defer c.Close()

	resp, err := c.Complete(context.Background(), &Request{
		Messages:    []Message{{Role: "user", Content: "q"}},
		Temperature: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, "finally", resp.Text)
	assert.Equal(t, int64(3), calls.Load(), "503, 503, then 200")

	// The retried success is inserted into the cache once.
	cached, err := c.Complete(context.Background(), &Request{
		Messages:    []Message{{Role: "user", Content: "q"}},
		Temperature: 0,
	})
	require.NoError(t, err)
	assert.True(t, cached.Cached)
	assert.Equal(t, int64(3), calls.Load())
}

func TestCompleteTerminalErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(testLLMConfig(srv.URL), config.DefaultCacheConfig())
	defer c.Close()

	_, err := c.Complete(context.Background(), &Request{
		Messages: []Message{{Role: "user", Content: "q"}},
	})
	require.Error(t, err)
	assert.Equal(t, int64(1), c.Stats().Errors)
}

func TestCompleteNoAPIKey(t *testing.T) {
	cfg := testLLMConfig("http://localhost:1")
	cfg.APIKey = ""
	c := NewClient(cfg, config.DefaultCacheConfig())
	defer c.Close()

	_, err := c.Complete(context.Background(), &Request{
		Messages: []Message{{Role: "user", Content: "q"}},
	})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindApiKey))
}

func TestCompleteFillsDefaults(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatCompletionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotModel = req.Model
		completionHandler("ok", nil)(w, r)
	}))
	defer srv.Close()

	c := NewClient(testLLMConfig(srv.URL), config.DefaultCacheConfig())
	defer c.Close()

	_, err := c.Complete(context.Background(), &Request{
		Messages: []Message{{Role: "user", Content: "q"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "test-model", gotModel)
}
