package reason

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"remem/internal/types"
)

// loopDetector terminates the iterative loop when a step's normalized
// content recurs at the same step kind within one request.
type loopDetector struct {
	seen map[string]bool
}

func newLoopDetector() *loopDetector {
	return &loopDetector{seen: make(map[string]bool)}
}

// stepHash produces a stable digest of (kind, normalized content).
// Normalization collapses whitespace and case so trivial reformatting does
// not defeat detection.
func stepHash(kind types.StepKind, content string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(content), " "))
	sum := sha256.Sum256([]byte(string(kind) + "\x00" + normalized))
	return hex.EncodeToString(sum[:])
}

// Observe records a step and reports whether it repeats an earlier one.
func (d *loopDetector) Observe(kind types.StepKind, content string) bool {
	h := stepHash(kind, content)
	if d.seen[h] {
		return true
	}
	d.seen[h] = true
	return false
}
