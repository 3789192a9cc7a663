// Package backup writes and restores workspace archives: a tar-gz holding
// metadata.json, memories.json, and traces.json, with a checksum binding
// the metadata to the memory payload.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"remem/internal/logging"
	"remem/internal/memory"
	"remem/internal/types"
)

const schemaVersion = 1

// Metadata describes an archive.
type Metadata struct {
	SchemaVersion int       `json:"schema_version"`
	Timestamp     time.Time `json:"timestamp"`
	WorkspaceID   string    `json:"workspace_id"`
	MemoryCount   int       `json:"memory_count"`
	TraceCount    int       `json:"trace_count"`
	// Checksum is the hex SHA-256 of the memories.json payload.
	Checksum string `json:"checksum"`
	// Incremental marks an archive holding only memories absent from its
	// predecessor at the same path.
	Incremental bool `json:"incremental,omitempty"`
}

// Manager performs backup, restore, and validation against the memory core.
type Manager struct {
	core *memory.Core
}

// NewManager wires a backup manager.
func NewManager(core *memory.Core) *Manager {
	return &Manager{core: core}
}

// Backup archives a workspace (or all workspaces when workspaceID is
// empty) to path. With incremental set and an existing archive at path,
// memories already present there are skipped.
func (m *Manager) Backup(ctx context.Context, path, workspaceID string, incremental bool) (*Metadata, error) {
	timer := logging.StartTimer(logging.CategoryBackup, "Backup")
	defer timer.Stop()

	memories, err := m.core.Memories(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	traces, err := m.core.Traces(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	if incremental {
		if known, err := existingMemoryIDs(path); err == nil && len(known) > 0 {
			filtered := memories[:0]
			for _, mem := range memories {
				if !known[mem.ID] {
					filtered = append(filtered, mem)
				}
			}
			logging.Backup("Incremental backup: %d of %d memories are new",
				len(filtered), len(memories))
			memories = filtered
		}
	}

	memJSON, err := json.Marshal(memories)
	if err != nil {
		return nil, fmt.Errorf("marshal memories: %w", err)
	}
	traceJSON, err := json.Marshal(traces)
	if err != nil {
		return nil, fmt.Errorf("marshal traces: %w", err)
	}

	sum := sha256.Sum256(memJSON)
	meta := &Metadata{
		SchemaVersion: schemaVersion,
		Timestamp:     time.Now().UTC(),
		WorkspaceID:   workspaceID,
		MemoryCount:   len(memories),
		TraceCount:    len(traces),
		Checksum:      hex.EncodeToString(sum[:]),
		Incremental:   incremental,
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	if err := writeArchive(path, map[string][]byte{
		"metadata.json": metaJSON,
		"memories.json": memJSON,
		"traces.json":   traceJSON,
	}); err != nil {
		return nil, err
	}

	logging.Backup("Backed up %d memories, %d traces to %s",
		meta.MemoryCount, meta.TraceCount, path)
	return meta, nil
}

// RestoreResult reports what a restore imported.
type RestoreResult struct {
	Memories    int    `json:"memories"`
	Traces      int    `json:"traces"`
	Skipped     int    `json:"skipped"`
	WorkspaceID string `json:"workspace_id"`
}

// Restore imports an archive. targetWorkspace, when non-empty, remaps
// every record into that workspace. Without overwrite, records whose ids
// already exist are skipped.
func (m *Manager) Restore(ctx context.Context, path, targetWorkspace string, overwrite bool) (*RestoreResult, error) {
	timer := logging.StartTimer(logging.CategoryBackup, "Restore")
	defer timer.Stop()

	meta, memories, traces, err := readArchive(path)
	if err != nil {
		return nil, err
	}

	workspace := meta.WorkspaceID
	if targetWorkspace != "" {
		workspace = targetWorkspace
	}
	if workspace != "" {
		for _, mem := range memories {
			mem.WorkspaceID = workspace
		}
		for _, t := range traces {
			t.WorkspaceID = workspace
		}
	}

	counts, err := m.core.Import(ctx, memories, traces, overwrite)
	if err != nil {
		return nil, err
	}

	logging.Backup("Restored %d memories, %d traces from %s (skipped %d)",
		counts.Memories, counts.Traces, path, counts.Skipped)
	return &RestoreResult{
		Memories:    counts.Memories,
		Traces:      counts.Traces,
		Skipped:     counts.Skipped,
		WorkspaceID: workspace,
	}, nil
}

// Validate checks archive integrity: readable tar-gz, parseable documents,
// matching checksum and counts.
func (m *Manager) Validate(path string) (*Metadata, error) {
	meta, memories, traces, err := readArchive(path)
	if err != nil {
		return nil, err
	}
	if meta.MemoryCount != len(memories) {
		return nil, fmt.Errorf("archive %s: metadata claims %d memories, found %d",
			path, meta.MemoryCount, len(memories))
	}
	if meta.TraceCount != len(traces) {
		return nil, fmt.Errorf("archive %s: metadata claims %d traces, found %d",
			path, meta.TraceCount, len(traces))
	}
	return meta, nil
}

// =============================================================================
// ARCHIVE I/O
// =============================================================================

func writeArchive(path string, files map[string][]byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create backup directory: %w", err)
		}
	}

	// Write to a temp file and rename so a failed backup never clobbers
	// an existing archive.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".remem-backup-*")
	if err != nil {
		return fmt.Errorf("create temp archive: %w", err)
	}
	defer os.Remove(tmp.Name())

	gz := gzip.NewWriter(tmp)
	tw := tar.NewWriter(gz)
	// Fixed member order keeps archives byte-comparable.
	for _, name := range []string{"metadata.json", "memories.json", "traces.json"} {
		data, ok := files[name]
		if !ok {
			continue
		}
		hdr := &tar.Header{
			Name:    name,
			Mode:    0o644,
			Size:    int64(len(data)),
			ModTime: time.Now().UTC(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			tmp.Close()
			return fmt.Errorf("write tar header %s: %w", name, err)
		}
		if _, err := tw.Write(data); err != nil {
			tmp.Close()
			return fmt.Errorf("write tar member %s: %w", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("finalize tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("finalize gzip: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp archive: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("move archive into place: %w", err)
	}
	return nil
}

func readArchive(path string) (*Metadata, []*types.Memory, []*types.Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("archive %s is not gzip: %w", path, err)
	}
	defer gz.Close()

	var metaJSON, memJSON, traceJSON []byte
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, nil, fmt.Errorf("read archive %s: %w", path, err)
		}
		data, err := io.ReadAll(io.LimitReader(tr, 1<<30))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("read archive member %s: %w", hdr.Name, err)
		}
		switch filepath.Base(hdr.Name) {
		case "metadata.json":
			metaJSON = data
		case "memories.json":
			memJSON = data
		case "traces.json":
			traceJSON = data
		}
	}

	if metaJSON == nil || memJSON == nil {
		return nil, nil, nil, fmt.Errorf("archive %s missing metadata.json or memories.json", path)
	}

	var meta Metadata
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, nil, nil, fmt.Errorf("parse metadata.json: %w", err)
	}
	sum := sha256.Sum256(memJSON)
	if got := hex.EncodeToString(sum[:]); got != meta.Checksum {
		return nil, nil, nil, fmt.Errorf("archive %s checksum mismatch", path)
	}

	var memories []*types.Memory
	if err := json.Unmarshal(memJSON, &memories); err != nil {
		return nil, nil, nil, fmt.Errorf("parse memories.json: %w", err)
	}
	var traces []*types.Trace
	if traceJSON != nil {
		if err := json.Unmarshal(traceJSON, &traces); err != nil {
			return nil, nil, nil, fmt.Errorf("parse traces.json: %w", err)
		}
	}
	return &meta, memories, traces, nil
}

// existingMemoryIDs reads the memory ids out of an archive, tolerating a
// missing file.
func existingMemoryIDs(path string) (map[string]bool, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	_, memories, _, err := readArchive(path)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]bool, len(memories))
	for _, m := range memories {
		ids[m.ID] = true
	}
	return ids, nil
}
