package memory

import (
	"context"
	"fmt"

	"remem/internal/store"
)

// stubEmbedder returns fixed vectors per text, defaulting to a unit vector
// so cosine distances stay well defined.
type stubEmbedder struct {
	vectors map[string][]float32
	fail    bool
}

func newStubEmbedder() *stubEmbedder {
	return &stubEmbedder{vectors: make(map[string][]float32)}
}

func (s *stubEmbedder) set(text string, vec []float32) { s.vectors[text] = vec }

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.fail {
		return nil, fmt.Errorf("embedding backend unavailable")
	}
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *stubEmbedder) Dimensions() int { return 3 }
func (s *stubEmbedder) Name() string    { return "stub" }

func newTestBackend(t interface {
	Helper()
	Cleanup(func())
	Fatalf(format string, args ...interface{})
}) store.Backend {
	t.Helper()
	b, err := store.NewLocalStore(":memory:")
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}
