package judge

import (
	"encoding/json"
	"strings"

	"remem/internal/types"
)

// unmarshalLenient decodes a JSON object out of model output that may be
// wrapped in markdown code fences or surrounded by prose. Strategy: strip
// fences if present, otherwise slice from the first '{' to the matching
// final '}'.
func unmarshalLenient(text string, v interface{}) error {
	candidate := strings.TrimSpace(text)

	if fenced := extractFence(candidate); fenced != "" {
		candidate = fenced
	} else {
		start := strings.Index(candidate, "{")
		end := strings.LastIndex(candidate, "}")
		if start < 0 || end <= start {
			return types.NewError(types.KindJsonParse, "no JSON object in response")
		}
		candidate = candidate[start : end+1]
	}

	if err := json.Unmarshal([]byte(candidate), v); err != nil {
		return types.WrapError(types.KindJsonParse, err, "decode judge payload")
	}
	return nil
}

// extractFence returns the body of the first ``` fenced block, or "".
func extractFence(text string) string {
	start := strings.Index(text, "```")
	if start < 0 {
		return ""
	}
	rest := text[start+3:]
	// Skip an optional language tag on the fence line.
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		firstLine := strings.TrimSpace(rest[:nl])
		if firstLine == "json" || firstLine == "" {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(rest[:end])
}
