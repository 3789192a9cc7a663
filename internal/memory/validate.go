package memory

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"remem/internal/types"
)

// ValidateMemory checks the required-field invariant: non-empty title,
// description, content, and a workspace id.
func ValidateMemory(m *types.Memory) error {
	switch {
	case m == nil:
		return types.NewError(types.KindMemoryValidation, "nil memory")
	case strings.TrimSpace(m.Title) == "":
		return types.NewError(types.KindMemoryValidation, "memory requires a title")
	case strings.TrimSpace(m.Description) == "":
		return types.NewError(types.KindMemoryValidation, "memory %q requires a description", m.Title)
	case strings.TrimSpace(m.Content) == "":
		return types.NewError(types.KindMemoryValidation, "memory %q requires content", m.Title)
	case m.WorkspaceID == "":
		return types.NewError(types.KindMemoryValidation, "memory %q requires a workspace id", m.Title)
	}
	return nil
}

// normalizeMemory fills identity and timestamp defaults before storage.
func normalizeMemory(m *types.Memory) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	} else {
		m.Timestamp = m.Timestamp.UTC()
	}
}
