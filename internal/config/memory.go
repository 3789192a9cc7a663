package config

// MemoryConfig configures the memory store and composite scorer.
type MemoryConfig struct {
	// Backend: "vector_local" (SQLite) or "vector_cloud" (Qdrant).
	Backend string `yaml:"backend"`

	// SQLite storage path (vector_local).
	DatabasePath string `yaml:"database_path"`

	// Qdrant connection (vector_cloud).
	QdrantHost       string `yaml:"qdrant_host"`
	QdrantPort       int    `yaml:"qdrant_port"`
	QdrantCollection string `yaml:"qdrant_collection"`

	// Composite retrieval scorer parameters.
	HalfLifeDays     float64 `yaml:"half_life_days"`
	ErrorBoost       float64 `yaml:"error_boost"`
	WeightSimilarity float64 `yaml:"weight_similarity"`
	WeightRecency    float64 `yaml:"weight_recency"`
	WeightError      float64 `yaml:"weight_error"`

	// RetentionDays is the default cleanup horizon.
	RetentionDays int `yaml:"retention_days"`

	// PersistFailures stores failed traces so error contexts become
	// retrievable warnings. Default true.
	PersistFailures *bool `yaml:"persist_failures"`
}

// DefaultMemoryConfig returns the memory defaults.
func DefaultMemoryConfig() MemoryConfig {
	t := true
	return MemoryConfig{
		Backend:          "vector_local",
		DatabasePath:     ".remem/memory.db",
		QdrantHost:       "localhost",
		QdrantPort:       6334,
		QdrantCollection: "remem_memories",
		HalfLifeDays:     30,
		ErrorBoost:       1.2,
		WeightSimilarity: 0.6,
		WeightRecency:    0.3,
		WeightError:      0.1,
		RetentionDays:    90,
		PersistFailures:  &t,
	}
}

// PersistFailuresEnabled resolves the pointer default.
func (m MemoryConfig) PersistFailuresEnabled() bool {
	return m.PersistFailures == nil || *m.PersistFailures
}

// ReasonConfig configures the iterative controller and MaTTS.
type ReasonConfig struct {
	MaxIterations    int     `yaml:"max_iterations"`
	SuccessThreshold float64 `yaml:"success_threshold"`

	// Token budgeting.
	MaxPromptTokens    int `yaml:"max_prompt_tokens"`
	RequestTokenBudget int `yaml:"request_token_budget"`

	// MaTTS defaults (overridable per request).
	MattsK    int    `yaml:"matts_k"`
	MattsMode string `yaml:"matts_mode"` // parallel or sequential

	// RetrieveTopN memories are injected into THINK prompts.
	RetrieveTopN int `yaml:"retrieve_top_n"`
}

// DefaultReasonConfig returns the reasoning defaults.
func DefaultReasonConfig() ReasonConfig {
	return ReasonConfig{
		MaxIterations:      3,
		SuccessThreshold:   0.8,
		MaxPromptTokens:    12000,
		RequestTokenBudget: 100000,
		MattsK:             3,
		MattsMode:          "parallel",
		RetrieveTopN:       5,
	}
}
