// Package llm provides the gateway to OpenAI-compatible chat completion
// APIs: a pooled HTTP client with retry, an LRU response cache for
// deterministic requests, and call statistics.
package llm

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a provider-neutral completion request.
type Request struct {
	Model           string
	Messages        []Message
	Temperature     float64
	MaxTokens       int
	ReasoningEffort string
	// Extra carries provider-specific parameters that participate in the
	// cache key (e.g. top_p, stop sequences).
	Extra map[string]interface{}
}

// Response is the completion result with token accounting.
type Response struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	ReasoningTokens  int
	Cached           bool
}

// TotalTokens returns prompt plus completion tokens.
func (r *Response) TotalTokens() int {
	return r.PromptTokens + r.CompletionTokens
}

// CacheKey returns a deterministic SHA-256 digest over the request: model,
// canonical messages JSON, temperature, and sorted extra parameters. Two
// requests differing in any of these never collide.
func (r *Request) CacheKey() string {
	var b strings.Builder
	b.WriteString(r.Model)
	b.WriteByte('\x00')

	msgs, _ := json.Marshal(r.Messages)
	b.Write(msgs)
	b.WriteByte('\x00')

	fmt.Fprintf(&b, "temp=%g", r.Temperature)
	b.WriteByte('\x00')
	fmt.Fprintf(&b, "max=%d", r.MaxTokens)
	b.WriteByte('\x00')
	b.WriteString(r.ReasoningEffort)
	b.WriteByte('\x00')

	if len(r.Extra) > 0 {
		keys := make([]string, 0, len(r.Extra))
		for k := range r.Extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v, _ := json.Marshal(r.Extra[k])
			fmt.Fprintf(&b, "%s=%s", k, v)
			b.WriteByte('\x00')
		}
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// =============================================================================
// OPENAI-COMPATIBLE WIRE TYPES
// =============================================================================

type chatCompletionRequest struct {
	Model           string        `json:"model"`
	Messages        []Message     `json:"messages"`
	Temperature     *float64      `json:"temperature,omitempty"`
	MaxTokens       int           `json:"max_tokens,omitempty"`
	ReasoningEffort string        `json:"reasoning_effort,omitempty"`
	Stream          bool          `json:"stream"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens        int `json:"prompt_tokens"`
		CompletionTokens    int `json:"completion_tokens"`
		TotalTokens         int `json:"total_tokens"`
		CompletionTokensDetails struct {
			ReasoningTokens int `json:"reasoning_tokens"`
		} `json:"completion_tokens_details"`
	} `json:"usage"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    interface{} `json:"code"`
}
