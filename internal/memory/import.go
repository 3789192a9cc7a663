package memory

import (
	"context"

	"remem/internal/store"
	"remem/internal/types"
)

// ImportCounts reports what a raw import wrote and skipped.
type ImportCounts struct {
	Memories int
	Traces   int
	Skipped  int
}

// Import writes already-formed memories and traces directly, bypassing the
// judge pipeline. Used by restore. When overwrite is false, records whose
// ids already exist in the target workspace are skipped.
func (c *Core) Import(ctx context.Context, memories []*types.Memory, traces []*types.Trace, overwrite bool) (ImportCounts, error) {
	var counts ImportCounts

	existing := make(map[string]bool)
	if !overwrite {
		ids := make([]string, 0, len(memories)+len(traces))
		for _, m := range memories {
			ids = append(ids, m.ID)
		}
		for _, t := range traces {
			ids = append(ids, t.TraceID)
		}
		if len(ids) > 0 {
			recs, err := c.backend.Scan(ctx, store.Filter{IDs: ids})
			if err != nil {
				return counts, types.WrapError(types.KindMemoryRetrieval, err, "probe existing ids")
			}
			for _, r := range recs {
				existing[r.ID] = true
			}
		}
	}

	var records []store.Record
	for _, m := range memories {
		if existing[m.ID] {
			counts.Skipped++
			continue
		}
		if err := ValidateMemory(m); err != nil {
			counts.Skipped++
			continue
		}
		rec, err := memoryToRecord(m)
		if err != nil {
			return counts, types.WrapError(types.KindMemoryStorage, err, "encode memory")
		}
		records = append(records, rec)
		counts.Memories++
	}
	for _, t := range traces {
		if existing[t.TraceID] {
			counts.Skipped++
			continue
		}
		rec, err := traceToRecord(t)
		if err != nil {
			return counts, types.WrapError(types.KindMemoryStorage, err, "encode trace")
		}
		records = append(records, rec)
		counts.Traces++
	}

	if len(records) == 0 {
		return counts, nil
	}
	if err := c.backend.Upsert(ctx, records); err != nil {
		return counts, types.WrapError(types.KindMemoryStorage, err,
			"import %d records", len(records))
	}
	return counts, nil
}
