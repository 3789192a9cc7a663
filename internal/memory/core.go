// Package memory implements the memory core: trace persistence, composite
// retrieval, genealogy traversal, statistics, and cleanup over a pluggable
// store backend.
package memory

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"remem/internal/config"
	"remem/internal/embedding"
	"remem/internal/logging"
	"remem/internal/store"
	"remem/internal/types"
)

// Core owns persisted memories and traces for all workspaces. It never
// dereferences backend-specific state; everything goes through the
// store.Backend interface.
type Core struct {
	backend store.Backend
	engine  embedding.Engine
	scorer  *Scorer
	cfg     config.MemoryConfig

	droppedInvalid atomic.Int64
}

// NewCore wires the memory core.
func NewCore(backend store.Backend, engine embedding.Engine, cfg config.MemoryConfig) *Core {
	return &Core{
		backend: backend,
		engine:  engine,
		scorer:  NewScorer(cfg),
		cfg:     cfg,
	}
}

// DroppedInvalid returns how many invalid memories were dropped at store
// time since startup.
func (c *Core) DroppedInvalid() int64 { return c.droppedInvalid.Load() }

// Store persists a trace and its extracted memories as one batch. Invalid
// memories are dropped with a counter increment; missing embeddings are
// computed here. Returns the trace id.
func (c *Core) Store(ctx context.Context, trace *types.Trace) (string, error) {
	timer := logging.StartTimer(logging.CategoryMemory, "Store")
	defer timer.Stop()

	if trace == nil {
		return "", types.NewError(types.KindMemoryValidation, "nil trace")
	}
	if trace.TraceID == "" {
		trace.TraceID = uuid.NewString()
	}
	if trace.WorkspaceID == "" {
		return "", types.NewError(types.KindMemoryValidation, "trace requires a workspace id")
	}
	if trace.CreatedAt.IsZero() {
		trace.CreatedAt = time.Now().UTC()
	}

	// Validate and normalize memories, dropping invalid ones.
	kept := trace.MemoryItems[:0]
	for _, m := range trace.MemoryItems {
		if m == nil {
			c.droppedInvalid.Add(1)
			continue
		}
		m.WorkspaceID = trace.WorkspaceID
		m.TraceID = trace.TraceID
		if err := ValidateMemory(m); err != nil {
			c.droppedInvalid.Add(1)
			logging.Memory("Dropping invalid memory: %v", err)
			continue
		}
		normalizeMemory(m)
		kept = append(kept, m)
	}
	trace.MemoryItems = kept

	// Embed memories that arrived without a vector.
	var toEmbed []*types.Memory
	var texts []string
	for _, m := range trace.MemoryItems {
		if len(m.Embedding) == 0 {
			toEmbed = append(toEmbed, m)
			texts = append(texts, embedText(m))
		}
	}
	if len(toEmbed) > 0 {
		vecs, err := c.engine.EmbedBatch(ctx, texts)
		if err != nil {
			return "", types.WrapError(types.KindEmbedding, err,
				"embed %d memories for trace %s", len(toEmbed), trace.TraceID)
		}
		for i, m := range toEmbed {
			m.Embedding = vecs[i]
		}
	}

	// Build the record batch: trace row plus one row per memory. The
	// backend applies the batch atomically, so a failure leaves nothing
	// partially written.
	records := make([]store.Record, 0, len(trace.MemoryItems)+1)
	traceRec, err := traceToRecord(trace)
	if err != nil {
		return "", types.WrapError(types.KindMemoryStorage, err, "encode trace")
	}
	records = append(records, traceRec)
	for _, m := range trace.MemoryItems {
		rec, err := memoryToRecord(m)
		if err != nil {
			return "", types.WrapError(types.KindMemoryStorage, err, "encode memory")
		}
		records = append(records, rec)
	}

	if err := c.backend.Upsert(ctx, records); err != nil {
		return "", types.WrapError(types.KindMemoryStorage, err,
			"persist trace %s with %d memories", trace.TraceID, len(trace.MemoryItems))
	}

	logging.Memory("Stored trace %s (%d memories, outcome=%s)",
		trace.TraceID, len(trace.MemoryItems), trace.Outcome)
	return trace.TraceID, nil
}

// embedText builds the embedding input for a memory.
func embedText(m *types.Memory) string {
	return m.Title + "\n" + m.Description + "\n" + m.Content
}

// Retrieve embeds the query, runs a filtered ANN search, applies composite
// scoring, and returns the top n memories. Embedding failures surface as
// an error alongside an empty result so callers can degrade to a memoryless
// attempt.
func (c *Core) Retrieve(ctx context.Context, query, workspaceID string, n int, opts types.RetrieveOptions) ([]types.ScoredMemory, error) {
	timer := logging.StartTimer(logging.CategoryMemory, "Retrieve")
	defer timer.Stop()

	if n <= 0 {
		n = 5
	}

	qvec, err := c.engine.Embed(ctx, query)
	if err != nil {
		logging.Get(logging.CategoryMemory).Warn("Query embedding failed, returning no memories: %v", err)
		return nil, types.WrapError(types.KindEmbedding, err, "embed retrieval query")
	}

	filter := store.Filter{
		WorkspaceID: workspaceID,
		Kind:        store.KindMemory,
		Domain:      opts.Domain,
	}
	if !opts.IncludeErrors {
		f := false
		filter.HasErrorContext = &f
	}

	// Overfetch so post-ANN tag and score filters still fill top-n.
	k := n * 4
	if k < 20 {
		k = 20
	}
	hits, err := c.backend.ANNQuery(ctx, qvec, k, filter)
	if err != nil {
		return nil, types.WrapError(types.KindMemoryRetrieval, err, "ann query")
	}

	scored := make([]types.ScoredMemory, 0, len(hits))
	for _, h := range hits {
		m, err := recordToMemory(h.Metadata)
		if err != nil {
			logging.MemoryDebug("Skipping unreadable memory %s: %v", h.ID, err)
			continue
		}
		if len(opts.PatternTags) > 0 && !hasAnyTag(m, opts.PatternTags) {
			continue
		}
		s := c.scorer.Score(m, h.Distance)
		if opts.MinScore > 0 && s.Composite < opts.MinScore {
			continue
		}
		scored = append(scored, s)
	}

	Rank(scored)
	if len(scored) > n {
		scored = scored[:n]
	}

	logging.Memory("Retrieved %d/%d memories for workspace %s", len(scored), len(hits), workspaceID)
	return scored, nil
}

// hasAnyTag reports whether the memory carries at least one of the wanted
// tags (OR semantics).
func hasAnyTag(m *types.Memory, wanted []string) bool {
	for _, w := range wanted {
		for _, t := range m.PatternTags {
			if t == w {
				return true
			}
		}
	}
	return false
}

// Stats aggregates workspace counters.
type Stats struct {
	Traces      int     `json:"traces"`
	Memories    int     `json:"memories"`
	SuccessRate float64 `json:"success_rate"`
}

// Statistics counts traces and memories and computes the trace success
// rate. Empty workspaceID aggregates across all workspaces.
func (c *Core) Statistics(ctx context.Context, workspaceID string) (Stats, error) {
	traces, err := c.backend.Count(ctx, store.Filter{WorkspaceID: workspaceID, Kind: store.KindTrace})
	if err != nil {
		return Stats{}, types.WrapError(types.KindMemoryRetrieval, err, "count traces")
	}
	memories, err := c.backend.Count(ctx, store.Filter{WorkspaceID: workspaceID, Kind: store.KindMemory})
	if err != nil {
		return Stats{}, types.WrapError(types.KindMemoryRetrieval, err, "count memories")
	}
	succeeded, err := c.backend.Count(ctx, store.Filter{
		WorkspaceID: workspaceID, Kind: store.KindTrace, Outcome: string(types.OutcomeSuccess),
	})
	if err != nil {
		return Stats{}, types.WrapError(types.KindMemoryRetrieval, err, "count successes")
	}

	s := Stats{Traces: traces, Memories: memories}
	if traces > 0 {
		s.SuccessRate = float64(succeeded) / float64(traces)
	}
	return s, nil
}

// CleanupResult reports what a cleanup pass removed.
type CleanupResult struct {
	DeletedTraces   int       `json:"deleted_traces"`
	DeletedMemories int       `json:"deleted_memories"`
	FreedMBEst      float64   `json:"freed_mb_est"`
	Cutoff          time.Time `json:"cutoff_ts"`
}

// Cleanup deletes traces and memories older than the retention horizon.
// Empty workspaceID cleans every workspace.
func (c *Core) Cleanup(ctx context.Context, retentionDays int, workspaceID string) (CleanupResult, error) {
	timer := logging.StartTimer(logging.CategoryMemory, "Cleanup")
	defer timer.Stop()

	if retentionDays <= 0 {
		retentionDays = c.cfg.RetentionDays
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	// Estimate freed bytes from the records about to go.
	old, err := c.backend.Scan(ctx, store.Filter{WorkspaceID: workspaceID, Before: cutoff})
	if err != nil {
		return CleanupResult{}, types.WrapError(types.KindMemoryRetrieval, err, "scan expired records")
	}
	var bytes int
	for _, r := range old {
		bytes += len(r.Embedding) * 4
		if doc, ok := r.Metadata["doc"].(string); ok {
			bytes += len(doc)
		}
	}

	deletedMems, err := c.backend.Delete(ctx, store.Filter{
		WorkspaceID: workspaceID, Kind: store.KindMemory, Before: cutoff,
	})
	if err != nil {
		return CleanupResult{}, types.WrapError(types.KindMemoryStorage, err, "delete expired memories")
	}
	deletedTraces, err := c.backend.Delete(ctx, store.Filter{
		WorkspaceID: workspaceID, Kind: store.KindTrace, Before: cutoff,
	})
	if err != nil {
		return CleanupResult{}, types.WrapError(types.KindMemoryStorage, err, "delete expired traces")
	}

	res := CleanupResult{
		DeletedTraces:   deletedTraces,
		DeletedMemories: deletedMems,
		FreedMBEst:      float64(bytes) / (1 << 20),
		Cutoff:          cutoff,
	}
	logging.Memory("Cleanup removed %d traces, %d memories before %s",
		res.DeletedTraces, res.DeletedMemories, cutoff.Format(time.RFC3339))
	return res, nil
}

// DeleteWorkspace removes every trace and memory in a workspace. The
// confirm flag must be set; this is the only destructive whole-namespace
// operation.
func (c *Core) DeleteWorkspace(ctx context.Context, workspaceID string, confirm bool) (int, error) {
	if !confirm {
		return 0, types.NewError(types.KindConfirmationRequired,
			"deleting workspace %s requires confirm=true", workspaceID)
	}
	if workspaceID == "" {
		return 0, types.NewError(types.KindMemoryValidation, "workspace id required")
	}
	n, err := c.backend.Delete(ctx, store.Filter{WorkspaceID: workspaceID})
	if err != nil {
		return 0, types.WrapError(types.KindMemoryStorage, err, "delete workspace %s", workspaceID)
	}
	logging.Memory("Deleted workspace %s (%d records)", workspaceID, n)
	return n, nil
}

// Traces returns all traces in a workspace, oldest first.
func (c *Core) Traces(ctx context.Context, workspaceID string) ([]*types.Trace, error) {
	recs, err := c.backend.Scan(ctx, store.Filter{WorkspaceID: workspaceID, Kind: store.KindTrace})
	if err != nil {
		return nil, types.WrapError(types.KindMemoryRetrieval, err, "scan traces")
	}
	out := make([]*types.Trace, 0, len(recs))
	for _, r := range recs {
		t, err := recordToTrace(r.Metadata)
		if err != nil {
			logging.MemoryDebug("Skipping unreadable trace %s: %v", r.ID, err)
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// Memories returns all memories in a workspace, oldest first.
func (c *Core) Memories(ctx context.Context, workspaceID string) ([]*types.Memory, error) {
	recs, err := c.backend.Scan(ctx, store.Filter{WorkspaceID: workspaceID, Kind: store.KindMemory})
	if err != nil {
		return nil, types.WrapError(types.KindMemoryRetrieval, err, "scan memories")
	}
	out := make([]*types.Memory, 0, len(recs))
	for _, r := range recs {
		m, err := recordToMemory(r.Metadata)
		if err != nil {
			logging.MemoryDebug("Skipping unreadable memory %s: %v", r.ID, err)
			continue
		}
		// The document omits the embedding to keep metadata small; restore
		// it from the record.
		if len(m.Embedding) == 0 {
			m.Embedding = r.Embedding
		}
		out = append(out, m)
	}
	return out, nil
}
