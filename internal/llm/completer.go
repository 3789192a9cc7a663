package llm

import "context"

// Completer is the call surface the reasoning and judging layers consume.
// *Client implements it; tests substitute fakes.
type Completer interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
	Model() string
}
