// Package workspace derives tenant namespace ids from directory paths.
// Every store and query in the engine is scoped to exactly one workspace id.
package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"regexp"
)

// idPattern matches a valid 16-hex-character workspace id.
var idPattern = regexp.MustCompile(`^[0-9a-f]{16}$`)

// ResolveID derives the workspace id for a directory: the first 64 bits of
// SHA-256 over the absolute canonical path, hex-encoded. Pure function:
// the same path always yields the same id.
func ResolveID(dir string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("workspace directory required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve workspace path: %w", err)
	}
	abs = filepath.Clean(abs)
	sum := sha256.Sum256([]byte(abs))
	return hex.EncodeToString(sum[:8]), nil
}

// ValidID reports whether s is a well-formed workspace id.
func ValidID(s string) bool {
	return idPattern.MatchString(s)
}
