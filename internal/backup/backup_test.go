package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remem/internal/config"
	"remem/internal/memory"
	"remem/internal/store"
	"remem/internal/types"
)

// hashEmbedder derives a deterministic unit-ish vector from the text so
// distinct memories get distinct embeddings without a real backend.
type hashEmbedder struct{}

func (hashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	sum := sha256.Sum256([]byte(text))
	return []float32{
		float32(sum[0])/255 + 0.01,
		float32(sum[1]) / 255,
		float32(sum[2]) / 255,
	}, nil
}

func (h hashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := h.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (hashEmbedder) Dimensions() int { return 3 }
func (hashEmbedder) Name() string    { return "hash" }

func newTestCore(t *testing.T) *memory.Core {
	t.Helper()
	b, err := store.NewLocalStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return memory.NewCore(b, hashEmbedder{}, config.DefaultMemoryConfig())
}

const testWorkspace = "a1b2c3d4e5f60718"

// seedTrace stores one trace with n extracted memories.
func seedTrace(t *testing.T, core *memory.Core, outcome types.Outcome, n int, label string) {
	t.Helper()
	trace := &types.Trace{
		WorkspaceID: testWorkspace,
		Task:        "task " + label,
		Outcome:     outcome,
		FinalScore:  0.9,
		CreatedAt:   time.Now().UTC(),
	}
	for i := 0; i < n; i++ {
		trace.MemoryItems = append(trace.MemoryItems, &types.Memory{
			Title:       fmt.Sprintf("%s memory %d", label, i),
			Description: "a reusable pattern",
			Content:     fmt.Sprintf("content %s-%d", label, i),
			Domain:      "algorithms",
		})
	}
	_, err := core.Store(context.Background(), trace)
	require.NoError(t, err)
}

func archivePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "workspace.tar.gz")
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newTestCore(t)
	seedTrace(t, src, types.OutcomeSuccess, 2, "alpha")
	seedTrace(t, src, types.OutcomeFailure, 1, "beta")

	path := archivePath(t)
	meta, err := NewManager(src).Backup(ctx, path, testWorkspace, false)
	require.NoError(t, err)
	assert.Equal(t, 3, meta.MemoryCount)
	assert.Equal(t, 2, meta.TraceCount)
	assert.Equal(t, testWorkspace, meta.WorkspaceID)

	dst := newTestCore(t)
	res, err := NewManager(dst).Restore(ctx, path, "", false)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Memories)
	assert.Equal(t, 2, res.Traces)
	assert.Zero(t, res.Skipped)

	// The restored workspace reports identical statistics and holds the
	// same memory documents.
	srcStats, err := src.Statistics(ctx, testWorkspace)
	require.NoError(t, err)
	dstStats, err := dst.Statistics(ctx, testWorkspace)
	require.NoError(t, err)
	assert.Equal(t, srcStats, dstStats)
	assert.InDelta(t, 0.5, dstStats.SuccessRate, 1e-9)

	srcMems, err := src.Memories(ctx, testWorkspace)
	require.NoError(t, err)
	dstMems, err := dst.Memories(ctx, testWorkspace)
	require.NoError(t, err)
	byID := cmpopts.SortSlices(func(a, b *types.Memory) bool { return a.ID < b.ID })
	if diff := cmp.Diff(srcMems, dstMems, byID); diff != "" {
		t.Errorf("restored memories differ (-src +dst):\n%s", diff)
	}
}

func TestRestorePreservesEmbeddings(t *testing.T) {
	ctx := context.Background()
	src := newTestCore(t)
	seedTrace(t, src, types.OutcomeSuccess, 1, "vec")

	path := archivePath(t)
	_, err := NewManager(src).Backup(ctx, path, testWorkspace, false)
	require.NoError(t, err)

	dst := newTestCore(t)
	_, err = NewManager(dst).Restore(ctx, path, "", false)
	require.NoError(t, err)

	mems, err := dst.Memories(ctx, testWorkspace)
	require.NoError(t, err)
	require.Len(t, mems, 1)
	assert.Len(t, mems[0].Embedding, 3, "embedding survives the round trip")
}

func TestRestoreRemapsWorkspace(t *testing.T) {
	ctx := context.Background()
	src := newTestCore(t)
	seedTrace(t, src, types.OutcomeSuccess, 2, "gamma")

	path := archivePath(t)
	_, err := NewManager(src).Backup(ctx, path, testWorkspace, false)
	require.NoError(t, err)

	const target = "00ff00ff00ff00ff"
	dst := newTestCore(t)
	res, err := NewManager(dst).Restore(ctx, path, target, false)
	require.NoError(t, err)
	assert.Equal(t, target, res.WorkspaceID)

	mems, err := dst.Memories(ctx, target)
	require.NoError(t, err)
	assert.Len(t, mems, 2)
	for _, m := range mems {
		assert.Equal(t, target, m.WorkspaceID)
	}
	orig, err := dst.Memories(ctx, testWorkspace)
	require.NoError(t, err)
	assert.Empty(t, orig, "nothing lands in the source workspace")
}

func TestRestoreSkipsExistingWithoutOverwrite(t *testing.T) {
	ctx := context.Background()
	core := newTestCore(t)
	seedTrace(t, core, types.OutcomeSuccess, 2, "delta")

	path := archivePath(t)
	m := NewManager(core)
	_, err := m.Backup(ctx, path, testWorkspace, false)
	require.NoError(t, err)

	// Restoring into the same core finds every id already present.
	res, err := m.Restore(ctx, path, "", false)
	require.NoError(t, err)
	assert.Zero(t, res.Memories)
	assert.Zero(t, res.Traces)
	assert.Equal(t, 3, res.Skipped)

	// Overwrite replaces in place without duplicating.
	res, err = m.Restore(ctx, path, "", true)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Memories)
	assert.Equal(t, 1, res.Traces)

	stats, err := core.Statistics(ctx, testWorkspace)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Memories)
	assert.Equal(t, 1, stats.Traces)
}

func TestBackupIncrementalSkipsExisting(t *testing.T) {
	ctx := context.Background()
	core := newTestCore(t)
	seedTrace(t, core, types.OutcomeSuccess, 2, "first")

	path := archivePath(t)
	m := NewManager(core)
	meta, err := m.Backup(ctx, path, testWorkspace, false)
	require.NoError(t, err)
	require.Equal(t, 2, meta.MemoryCount)

	seedTrace(t, core, types.OutcomeSuccess, 1, "second")

	meta, err = m.Backup(ctx, path, testWorkspace, true)
	require.NoError(t, err)
	assert.True(t, meta.Incremental)
	assert.Equal(t, 1, meta.MemoryCount, "only memories absent from the prior archive")
}

func TestBackupIncrementalWithoutPriorArchive(t *testing.T) {
	ctx := context.Background()
	core := newTestCore(t)
	seedTrace(t, core, types.OutcomeSuccess, 2, "solo")

	// No archive at path yet; incremental degrades to a full backup.
	meta, err := NewManager(core).Backup(ctx, archivePath(t), testWorkspace, true)
	require.NoError(t, err)
	assert.Equal(t, 2, meta.MemoryCount)
}

func TestValidate(t *testing.T) {
	ctx := context.Background()
	core := newTestCore(t)
	seedTrace(t, core, types.OutcomeSuccess, 2, "valid")

	path := archivePath(t)
	m := NewManager(core)
	_, err := m.Backup(ctx, path, testWorkspace, false)
	require.NoError(t, err)

	meta, err := m.Validate(path)
	require.NoError(t, err)
	assert.Equal(t, 2, meta.MemoryCount)
	assert.Equal(t, 1, meta.TraceCount)
}

func TestValidateRejectsChecksumMismatch(t *testing.T) {
	path := archivePath(t)
	memJSON := []byte(`[{"id":"m1","title":"t","description":"d","content":"c","workspace_id":"a1b2c3d4e5f60718","timestamp":"2026-01-01T00:00:00Z"}]`)
	meta := Metadata{
		SchemaVersion: 1,
		Timestamp:     time.Now().UTC(),
		WorkspaceID:   testWorkspace,
		MemoryCount:   1,
		Checksum:      "0000000000000000000000000000000000000000000000000000000000000000",
	}
	writeRawArchive(t, path, meta, memJSON)

	_, err := NewManager(newTestCore(t)).Validate(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")
}

func TestValidateRejectsCountMismatch(t *testing.T) {
	path := archivePath(t)
	memJSON := []byte(`[{"id":"m1","title":"t","description":"d","content":"c","workspace_id":"a1b2c3d4e5f60718","timestamp":"2026-01-01T00:00:00Z"}]`)
	sum := sha256.Sum256(memJSON)
	meta := Metadata{
		SchemaVersion: 1,
		Timestamp:     time.Now().UTC(),
		WorkspaceID:   testWorkspace,
		MemoryCount:   5, // archive holds one
		Checksum:      hex.EncodeToString(sum[:]),
	}
	writeRawArchive(t, path, meta, memJSON)

	_, err := NewManager(newTestCore(t)).Validate(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "claims 5 memories")
}

func TestValidateMissingArchive(t *testing.T) {
	_, err := NewManager(newTestCore(t)).Validate(filepath.Join(t.TempDir(), "absent.tar.gz"))
	require.Error(t, err)
}

func TestBackupDoesNotClobberOnFailure(t *testing.T) {
	ctx := context.Background()
	core := newTestCore(t)
	seedTrace(t, core, types.OutcomeSuccess, 1, "keep")

	dir := t.TempDir()
	path := filepath.Join(dir, "archive.tar.gz")
	m := NewManager(core)
	_, err := m.Backup(ctx, path, testWorkspace, false)
	require.NoError(t, err)

	before, err := os.ReadFile(path)
	require.NoError(t, err)

	// A second backup rewrites atomically; the archive stays valid at
	// every observable point.
	seedTrace(t, core, types.OutcomeSuccess, 1, "more")
	_, err = m.Backup(ctx, path, testWorkspace, false)
	require.NoError(t, err)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
	_, err = m.Validate(path)
	require.NoError(t, err)
}

// writeRawArchive crafts an archive directly so tests can break invariants
// the writer enforces.
func writeRawArchive(t *testing.T, path string, meta Metadata, memJSON []byte) {
	t.Helper()
	metaJSON, err := json.Marshal(meta)
	require.NoError(t, err)

	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for _, member := range []struct {
		name string
		data []byte
	}{
		{"metadata.json", metaJSON},
		{"memories.json", memJSON},
		{"traces.json", []byte("[]")},
	} {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: member.name,
			Mode: 0o644,
			Size: int64(len(member.data)),
		}))
		_, err = tw.Write(member.data)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
}
