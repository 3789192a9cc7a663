package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"remem/internal/config"
	"remem/internal/logging"
	"remem/internal/types"
)

// APIStats is a snapshot of gateway call counters.
type APIStats struct {
	Calls          int64
	Errors         int64
	TotalLatencyMs int64
}

// AvgLatencyMs returns the mean request latency, zero when no calls.
func (s APIStats) AvgLatencyMs() int64 {
	if s.Calls == 0 {
		return 0
	}
	return s.TotalLatencyMs / s.Calls
}

// Client talks to an OpenAI-compatible chat completions endpoint through a
// pooled HTTP transport, a retry policy, and a response cache. Safe for
// concurrent use.
type Client struct {
	cfg    config.LLMConfig
	http   *http.Client
	cache  *Cache
	policy Policy

	calls     atomic.Int64
	errors    atomic.Int64
	latencyMs atomic.Int64
}

// NewClient builds a gateway from config. The transport keeps up to
// PoolSize idle connections per host; connection setup and response
// header waits are bounded separately so a slow generation does not
// inherit the short dial timeout.
func NewClient(cfg config.LLMConfig, cacheCfg config.CacheConfig) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		MaxIdleConns:          cfg.PoolSize,
		MaxIdleConnsPerHost:   cfg.PoolSize,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
	}
	return &Client{
		cfg:   cfg,
		http:  &http.Client{Transport: transport},
		cache: NewCache(cacheCfg.MaxSize, cacheCfg.TTL),
		policy: Policy{
			BaseDelay:   cfg.RetryBaseDelay,
			MaxAttempts: cfg.RetryMaxAttempts,
		},
	}
}

// Model returns the configured default model.
func (c *Client) Model() string { return c.cfg.Model }

// Complete performs a chat completion. Deterministic requests are served
// from cache when possible; transient API failures are retried with
// exponential backoff.
func (c *Client) Complete(ctx context.Context, req *Request) (*Response, error) {
	timer := logging.StartTimer(logging.CategoryGateway, "Complete")
	defer timer.Stop()

	if c.cfg.APIKey == "" {
		return nil, types.NewError(types.KindApiKey, "no API key configured; set llm.api_key or REMEM_API_KEY")
	}
	if req.Model == "" {
		req.Model = c.cfg.Model
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = c.cfg.MaxTokens
	}
	if req.ReasoningEffort == "" {
		req.ReasoningEffort = c.cfg.ReasoningEffort
	}

	if resp, ok := c.cache.Get(req); ok {
		logging.GatewayDebug("Cache hit for model %s", req.Model)
		return &resp, nil
	}

	var resp *Response
	err := c.policy.Do(ctx, "chat completion", func() error {
		r, err := c.post(ctx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		c.errors.Add(1)
		return nil, err
	}

	c.cache.Put(req, *resp)
	return resp, nil
}

// post performs one HTTP round trip to /chat/completions.
func (c *Client) post(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	c.calls.Add(1)

	temp := req.Temperature
	wire := chatCompletionRequest{
		Model:           req.Model,
		Messages:        req.Messages,
		Temperature:     &temp,
		MaxTokens:       req.MaxTokens,
		ReasoningEffort: req.ReasoningEffort,
		Stream:          false,
	}
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(c.cfg.Endpoint, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat completion request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.latencyMs.Add(time.Since(start).Milliseconds())

	if httpResp.StatusCode != http.StatusOK {
		return nil, &httpStatusError{
			Status:     httpResp.StatusCode,
			Body:       string(respBody),
			RetryAfter: parseRetryAfter(httpResp.Header),
		}
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, types.WrapError(types.KindJsonParse, err, "decode completion response")
	}
	if parsed.Error != nil {
		return nil, types.NewError(types.KindLlm, "api error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, types.NewError(types.KindLlm, "completion returned no choices")
	}

	resp := &Response{
		Text:             parsed.Choices[0].Message.Content,
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
		ReasoningTokens:  parsed.Usage.CompletionTokensDetails.ReasoningTokens,
	}
	logging.GatewayDebug("Completion ok: %d prompt + %d completion tokens in %v",
		resp.PromptTokens, resp.CompletionTokens, time.Since(start))
	return resp, nil
}

// Stats returns gateway call counters.
func (c *Client) Stats() APIStats {
	return APIStats{
		Calls:          c.calls.Load(),
		Errors:         c.errors.Load(),
		TotalLatencyMs: c.latencyMs.Load(),
	}
}

// CacheStats returns the response cache counters.
func (c *Client) CacheStats() CacheStats {
	return c.cache.Stats()
}

// Close releases idle transport connections.
func (c *Client) Close() {
	if t, ok := c.http.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}
