package reason

import (
	"context"
	"sync"
	"sync/atomic"

	"remem/internal/llm"
)

// fakeCompleter serves scripted responses, optionally through a custom
// handler for latency injection. Safe for concurrent candidates.
type fakeCompleter struct {
	mu        sync.Mutex
	responses []string
	calls     atomic.Int64
	handler   func(ctx context.Context, req *llm.Request, call int) (*llm.Response, error)
}

func (f *fakeCompleter) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	call := int(f.calls.Add(1)) - 1
	if f.handler != nil {
		return f.handler(ctx, req, call)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.responses) == 0 {
		return &llm.Response{Text: "fallback", PromptTokens: 5, CompletionTokens: 5}, nil
	}
	text := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return &llm.Response{Text: text, PromptTokens: 5, CompletionTokens: 5}, nil
}

func (f *fakeCompleter) Model() string { return "fake" }
