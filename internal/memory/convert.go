package memory

import (
	"encoding/json"
	"fmt"
	"time"

	"remem/internal/store"
	"remem/internal/types"
)

// memoryToRecord flattens a memory into a backend record. The whole memory
// document is stored under metadata["doc"] so nothing is lost round-trip;
// filterable fields are mirrored at the top level.
func memoryToRecord(m *types.Memory) (store.Record, error) {
	// The embedding lives in the record column, not the JSON document.
	slim := *m
	slim.Embedding = nil
	doc, err := json.Marshal(&slim)
	if err != nil {
		return store.Record{}, fmt.Errorf("marshal memory %s: %w", m.ID, err)
	}
	meta := map[string]interface{}{
		"doc":     string(doc),
		"title":   m.Title,
		"domain":  m.Domain,
		"outcome": string(m.Outcome),
	}
	if m.HasErrorContext() {
		meta["error_context"] = m.ErrorContext.ErrorType
	}
	return store.Record{
		ID:          m.ID,
		Kind:        store.KindMemory,
		WorkspaceID: m.WorkspaceID,
		Embedding:   m.Embedding,
		Metadata:    meta,
		CreatedAt:   m.Timestamp,
	}, nil
}

// recordToMemory reconstructs a memory from a backend record.
func recordToMemory(meta map[string]interface{}) (*types.Memory, error) {
	doc, _ := meta["doc"].(string)
	if doc == "" {
		return nil, fmt.Errorf("record has no memory document")
	}
	var m types.Memory
	if err := json.Unmarshal([]byte(doc), &m); err != nil {
		return nil, fmt.Errorf("unmarshal memory document: %w", err)
	}
	return &m, nil
}

// traceToRecord flattens a trace into a backend record. Traces carry no
// embedding; they are looked up by id or scanned, never ANN-queried.
func traceToRecord(t *types.Trace) (store.Record, error) {
	doc, err := json.Marshal(t)
	if err != nil {
		return store.Record{}, fmt.Errorf("marshal trace %s: %w", t.TraceID, err)
	}
	created := t.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return store.Record{
		ID:          t.TraceID,
		Kind:        store.KindTrace,
		WorkspaceID: t.WorkspaceID,
		Metadata: map[string]interface{}{
			"doc":     string(doc),
			"outcome": string(t.Outcome),
		},
		CreatedAt: created,
	}, nil
}

// recordToTrace reconstructs a trace from a backend record.
func recordToTrace(meta map[string]interface{}) (*types.Trace, error) {
	doc, _ := meta["doc"].(string)
	if doc == "" {
		return nil, fmt.Errorf("record has no trace document")
	}
	var t types.Trace
	if err := json.Unmarshal([]byte(doc), &t); err != nil {
		return nil, fmt.Errorf("unmarshal trace document: %w", err)
	}
	return &t, nil
}
