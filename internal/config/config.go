// Package config holds all remem configuration. Configuration is read from
// a yaml file and overridable through REMEM_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all remem configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// StateDir is where the engine keeps its database, logs and archives.
	StateDir string `yaml:"state_dir"`

	// WorkspaceDir is the directory the workspace id is derived from.
	WorkspaceDir string `yaml:"workspace_dir"`

	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Memory    MemoryConfig    `yaml:"memory"`
	Cache     CacheConfig     `yaml:"cache"`
	Reason    ReasonConfig    `yaml:"reason"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig configures the categorized file logger.
type LoggingConfig struct {
	DebugMode bool   `yaml:"debug_mode"`
	Level     string `yaml:"level"` // debug, info, warn, error
}

// Default returns the full default configuration.
func Default() Config {
	return Config{
		Name:      "remem",
		Version:   "0.3.0",
		StateDir:  ".remem",
		LLM:       DefaultLLMConfig(),
		Embedding: DefaultEmbeddingConfig(),
		Memory:    DefaultMemoryConfig(),
		Cache:     DefaultCacheConfig(),
		Reason:    DefaultReasonConfig(),
		Logging:   LoggingConfig{DebugMode: false, Level: "info"},
	}
}

// Load reads configuration from a yaml file, applying defaults for any
// omitted field and environment overrides on top. A missing file is not an
// error: defaults plus environment apply.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnvOverrides reads REMEM_* environment knobs over the loaded values.
func (c *Config) ApplyEnvOverrides() {
	setStr(&c.WorkspaceDir, "REMEM_WORKSPACE_DIR")
	setStr(&c.StateDir, "REMEM_STATE_DIR")

	setStr(&c.LLM.Endpoint, "REMEM_API_ENDPOINT")
	setStr(&c.LLM.APIKey, "REMEM_API_KEY")
	setStr(&c.LLM.Model, "REMEM_MODEL")
	setStr(&c.LLM.ReasoningEffort, "REMEM_REASONING_EFFORT")
	setInt(&c.LLM.PoolSize, "REMEM_POOL_SIZE")
	setDur(&c.LLM.ConnectTimeout, "REMEM_CONNECT_TIMEOUT")
	setDur(&c.LLM.ReadTimeout, "REMEM_READ_TIMEOUT")
	setDur(&c.LLM.RetryBaseDelay, "REMEM_RETRY_BASE_DELAY")
	setInt(&c.LLM.RetryMaxAttempts, "REMEM_RETRY_MAX_ATTEMPTS")

	setStr(&c.Embedding.Provider, "REMEM_EMBEDDING_PROVIDER")
	setStr(&c.Embedding.GenAIAPIKey, "REMEM_GENAI_API_KEY")
	setStr(&c.Embedding.OllamaEndpoint, "REMEM_OLLAMA_ENDPOINT")

	setStr(&c.Memory.Backend, "REMEM_BACKEND")
	setStr(&c.Memory.DatabasePath, "REMEM_DATABASE_PATH")
	setStr(&c.Memory.QdrantHost, "REMEM_QDRANT_HOST")
	setInt(&c.Memory.QdrantPort, "REMEM_QDRANT_PORT")
	setFloat(&c.Memory.HalfLifeDays, "REMEM_HALFLIFE_DAYS")
	setFloat(&c.Memory.WeightSimilarity, "REMEM_WEIGHT_SIMILARITY")
	setFloat(&c.Memory.WeightRecency, "REMEM_WEIGHT_RECENCY")
	setFloat(&c.Memory.WeightError, "REMEM_WEIGHT_ERROR")

	setInt(&c.Cache.MaxSize, "REMEM_CACHE_SIZE")
	setDur(&c.Cache.TTL, "REMEM_CACHE_TTL")

	setInt(&c.Reason.MaxIterations, "REMEM_MAX_ITERATIONS")
	setFloat(&c.Reason.SuccessThreshold, "REMEM_SUCCESS_THRESHOLD")
	setInt(&c.Reason.MaxPromptTokens, "REMEM_MAX_PROMPT_TOKENS")
	setInt(&c.Reason.RequestTokenBudget, "REMEM_REQUEST_TOKEN_BUDGET")

	if v := os.Getenv("REMEM_DEBUG"); v != "" {
		c.Logging.DebugMode = v == "1" || v == "true"
	}
}

// Validate checks cross-field constraints that would otherwise surface as
// confusing runtime behavior.
func (c *Config) Validate() error {
	if c.Reason.SuccessThreshold < 0 || c.Reason.SuccessThreshold > 1 {
		return fmt.Errorf("success_threshold must be in [0,1], got %v", c.Reason.SuccessThreshold)
	}
	if c.Reason.MattsK != 0 && (c.Reason.MattsK < 2 || c.Reason.MattsK > 10) {
		return fmt.Errorf("matts_k must be in [2,10], got %d", c.Reason.MattsK)
	}
	switch c.Memory.Backend {
	case "", "vector_local", "vector_cloud":
	default:
		return fmt.Errorf("unknown backend %q (use vector_local or vector_cloud)", c.Memory.Backend)
	}
	return nil
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setDur(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
