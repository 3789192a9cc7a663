package memory

import (
	"math"
	"sort"
	"time"

	"remem/internal/config"
	"remem/internal/types"
)

// Scorer ranks retrieved memories by a weighted blend of semantic
// similarity, recency, and an error-context boost.
type Scorer struct {
	cfg config.MemoryConfig
	// now is injectable for deterministic tests.
	now func() time.Time
}

// NewScorer builds a scorer from config.
func NewScorer(cfg config.MemoryConfig) *Scorer {
	return &Scorer{cfg: cfg, now: time.Now}
}

// clamp01 bounds v to [0, 1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// recency computes exponential age decay: 0.5^(age/half-life). A memory at
// exactly one half-life scores 0.5; future timestamps clamp to 1.
func (s *Scorer) recency(ts time.Time) float64 {
	if ts.IsZero() {
		return 0
	}
	age := s.now().Sub(ts)
	if age <= 0 {
		return 1
	}
	halfLife := time.Duration(s.cfg.HalfLifeDays * 24 * float64(time.Hour))
	if halfLife <= 0 {
		return 1
	}
	return math.Pow(0.5, float64(age)/float64(halfLife))
}

// Score computes the composite for one memory given its cosine distance
// from the query. All components and the composite are clamped to [0, 1].
func (s *Scorer) Score(m *types.Memory, distance float64) types.ScoredMemory {
	// Distance is in [0, 2]; map to a [0, 1] similarity.
	sim := clamp01(1 - distance/2)
	rec := clamp01(s.recency(m.Timestamp))

	boost := 1.0
	if m.HasErrorContext() {
		boost = s.cfg.ErrorBoost
	}

	composite := clamp01(s.cfg.WeightSimilarity*sim +
		s.cfg.WeightRecency*rec +
		s.cfg.WeightError*boost)

	return types.ScoredMemory{
		Memory:     m,
		Similarity: sim,
		Recency:    rec,
		ErrorBoost: boost,
		Composite:  composite,
	}
}

// Rank sorts scored memories by composite descending. Ties break by
// timestamp descending (newer first), then by id ascending so ordering is
// fully deterministic.
func Rank(scored []types.ScoredMemory) {
	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Composite != b.Composite {
			return a.Composite > b.Composite
		}
		if !a.Memory.Timestamp.Equal(b.Memory.Timestamp) {
			return a.Memory.Timestamp.After(b.Memory.Timestamp)
		}
		return a.Memory.ID < b.Memory.ID
	})
}
