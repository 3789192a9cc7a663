package config

import "time"

// LLMConfig configures the gateway to the completion endpoint.
type LLMConfig struct {
	// Endpoint is the base URL of an OpenAI-compatible completion API.
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`

	// ReasoningEffort: low, medium, high. Passed through to the endpoint.
	ReasoningEffort string `yaml:"reasoning_effort"`

	// PoolSize bounds persistent connections to the endpoint.
	PoolSize int `yaml:"pool_size"`

	// Timeouts are expressed as a (connect, read) pair. A single-value
	// timeout cannot distinguish a dead host from a slow completion.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`

	// Retry schedule: attempt i waits base*2^(i-1) with ±25% jitter.
	RetryBaseDelay   time.Duration `yaml:"retry_base_delay"`
	RetryMaxAttempts int           `yaml:"retry_max_attempts"`

	// MaxTokens is the completion token limit per call.
	MaxTokens int `yaml:"max_tokens"`
}

// DefaultLLMConfig returns the gateway defaults.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Endpoint:         "https://api.openai.com/v1",
		Model:            "gpt-4o-mini",
		ReasoningEffort:  "medium",
		PoolSize:         10,
		ConnectTimeout:   10 * time.Second,
		ReadTimeout:      120 * time.Second,
		RetryBaseDelay:   time.Second,
		RetryMaxAttempts: 3,
		MaxTokens:        4096,
	}
}

// CacheConfig configures the deterministic-response cache.
type CacheConfig struct {
	MaxSize int           `yaml:"max_size"`
	TTL     time.Duration `yaml:"ttl"`
}

// DefaultCacheConfig returns the cache defaults.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{MaxSize: 100, TTL: time.Hour}
}

// EmbeddingConfig configures the vector embedding engine.
// Supports Ollama (local) and GenAI (cloud) backends.
type EmbeddingConfig struct {
	// Provider: "ollama" or "genai"
	Provider string `yaml:"provider"`

	// Ollama Configuration (local embedding server)
	OllamaEndpoint string `yaml:"ollama_endpoint"` // Default: "http://localhost:11434"
	OllamaModel    string `yaml:"ollama_model"`    // Default: "embeddinggemma"

	// GenAI Configuration (Google cloud embedding)
	GenAIAPIKey string `yaml:"genai_api_key"`
	GenAIModel  string `yaml:"genai_model"` // Default: "gemini-embedding-001"

	// TaskType for GenAI: SEMANTIC_SIMILARITY, RETRIEVAL_QUERY, RETRIEVAL_DOCUMENT
	TaskType string `yaml:"task_type"`
}

// DefaultEmbeddingConfig returns sensible embedding defaults.
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Provider:       "ollama",
		OllamaEndpoint: "http://localhost:11434",
		OllamaModel:    "embeddinggemma",
		GenAIModel:     "gemini-embedding-001",
		TaskType:       "SEMANTIC_SIMILARITY",
	}
}
