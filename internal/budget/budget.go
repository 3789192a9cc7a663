// Package budget provides token estimation and prompt compression so a
// single request never exceeds the configured context or spend limits.
package budget

import (
	"sync"

	"remem/internal/logging"
	"remem/internal/types"
)

// Marker inserted where compressed text was removed.
const truncationMarker = "\n... [truncated for length] ...\n"

// Estimate approximates the token count of a string as ceil(len/4). The
// heuristic tracks typical BPE tokenizers closely enough for budgeting
// without shipping a tokenizer per model.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// Compress shrinks text to fit maxTokens by keeping the head and tail and
// dropping the middle. The preserved head and tail are each 20% of the
// character budget; text already within budget is returned unchanged.
func Compress(text string, maxTokens int) string {
	if maxTokens <= 0 || Estimate(text) <= maxTokens {
		return text
	}

	budgetChars := maxTokens * 4
	keep := budgetChars / 5
	if keep < 1 {
		keep = 1
	}
	if keep*2 >= len(text) {
		return text
	}

	compressed := text[:keep] + truncationMarker + text[len(text)-keep:]
	logging.Get(logging.CategoryReason).Warn(
		"Compressed prompt from ~%d to ~%d tokens", Estimate(text), Estimate(compressed))
	return compressed
}

// Accounter tracks cumulative token spend for one request against a hard
// budget. Safe for concurrent use by parallel candidates.
type Accounter struct {
	mu    sync.Mutex
	limit int
	spent int
}

// NewAccounter creates an accounter with the given budget. limit <= 0
// means unlimited.
func NewAccounter(limit int) *Accounter {
	return &Accounter{limit: limit}
}

// Charge records spent tokens. Returns TokenBudgetExceeded once the
// cumulative spend passes the limit; the charge is still recorded so
// Spent stays truthful.
func (a *Accounter) Charge(tokens int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.spent += tokens
	if a.limit > 0 && a.spent > a.limit {
		return types.NewError(types.KindTokenBudgetExceeded,
			"token budget exceeded: spent %d of %d", a.spent, a.limit)
	}
	return nil
}

// Remaining returns tokens left under the budget, or -1 when unlimited.
func (a *Accounter) Remaining() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.limit <= 0 {
		return -1
	}
	r := a.limit - a.spent
	if r < 0 {
		r = 0
	}
	return r
}

// Spent returns cumulative tokens charged.
func (a *Accounter) Spent() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.spent
}
