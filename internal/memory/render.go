package memory

import (
	"fmt"
	"strings"

	"remem/internal/types"
)

// Render formats retrieved memories as prompt blocks. Memories with error
// context get a prominent warning section so the model sees recorded
// failure modes before repeating them.
func Render(scored []types.ScoredMemory) string {
	if len(scored) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("## Relevant past experience\n\n")
	for i, s := range scored {
		m := s.Memory
		fmt.Fprintf(&b, "### Memory %d: %s\n", i+1, m.Title)
		if m.Description != "" {
			b.WriteString(m.Description)
			b.WriteString("\n")
		}
		if m.Content != "" {
			b.WriteString(m.Content)
			b.WriteString("\n")
		}
		if m.HasErrorContext() {
			ec := m.ErrorContext
			b.WriteString("\n⚠ WARNING - recorded failure mode:\n")
			fmt.Fprintf(&b, "  error type: %s\n", ec.ErrorType)
			if ec.FailurePattern != "" {
				fmt.Fprintf(&b, "  failure pattern: %s\n", ec.FailurePattern)
			}
			if ec.CorrectiveGuidance != "" {
				fmt.Fprintf(&b, "  corrective guidance: %s\n", ec.CorrectiveGuidance)
			}
		}
		if len(m.PatternTags) > 0 {
			fmt.Fprintf(&b, "Tags: %s\n", strings.Join(m.PatternTags, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}
