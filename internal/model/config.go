package model

import "time"

// Config holds the complete pipeline configuration
type Config struct {
	SchemaPath  string            `yaml:"schema_path" json:"schema_path"`
	LLM         LLMConfig         `yaml:"llm" json:"llm"`
	Concurrency ConcurrencyConfig `yaml:"concurrency" json:"concurrency"`
	Cache       CacheConfig       `yaml:"cache" json:"cache"`
	Ledger      LedgerConfig      `yaml:"ledger" json:"ledger"`
	Pipeline    PipelineConfig    `yaml:"pipeline" json:"pipeline"`
	Output      OutputConfig      `yaml:"output" json:"output"`
}

// LLMConfig configures the external model service used for escalation
type LLMConfig struct {
	// Provider name: "ollama", "openai", "" (escalation disabled)
	Provider string `yaml:"provider" json:"provider"`

	// Model is the primary model name (provider-specific)
	Model string `yaml:"model" json:"model"`

	// SecondOpinionModel answers re-issued prompts when the primary
	// confidence is below ConfidenceThreshold. Empty disables the tier.
	SecondOpinionModel string `yaml:"second_opinion_model" json:"second_opinion_model"`

	// APIKey for OpenAI
	APIKey string `yaml:"api_key,omitempty" json:"-"`

	// BaseURL for custom endpoints (e.g. Ollama)
	BaseURL string `yaml:"base_url" json:"base_url"`

	// Timeout for a single generate call, seconds
	Timeout int `yaml:"timeout" json:"timeout"`

	// MaxTokens limits response length
	MaxTokens int `yaml:"max_tokens" json:"max_tokens"`

	// ConfidenceThreshold gates acceptance of model answers and triggers
	// the second-opinion tier below it
	ConfidenceThreshold float64 `yaml:"confidence_threshold" json:"confidence_threshold"`
}

// ConcurrencyConfig bounds the worker pool and model-service request rate
type ConcurrencyConfig struct {
	Workers           int     `yaml:"workers" json:"workers"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `yaml:"burst" json:"burst"`
}

// CacheConfig controls the AI response cache
type CacheConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	Dir     string        `yaml:"dir" json:"dir"`
	TTL     time.Duration `yaml:"ttl" json:"ttl"`
}

// LedgerConfig locates the audit store
type LedgerConfig struct {
	Path string `yaml:"path" json:"path"`
}

// PipelineConfig controls tier routing and the autonomous loop
type PipelineConfig struct {
	// EscalationEnabled turns the AI cascade on for products the rules
	// cannot resolve
	EscalationEnabled bool `yaml:"escalation_enabled" json:"escalation_enabled"`

	// TargetCleanRatio is the autonomous-mode accuracy target (0-1)
	TargetCleanRatio float64 `yaml:"target_clean_ratio" json:"target_clean_ratio"`

	// MaxIterations bounds autonomous improvement cycles
	MaxIterations int `yaml:"max_iterations" json:"max_iterations"`

	// Budget caps wall-clock time for escalation calls in one batch. On
	// exhaustion no new escalations are issued; computed tags still flush
	// to the ledger. Zero means no budget.
	Budget time.Duration `yaml:"budget" json:"budget"`
}

// OutputConfig controls export paths and verbosity
type OutputConfig struct {
	Dir     string `yaml:"dir" json:"dir"`
	Verbose bool   `yaml:"verbose" json:"verbose"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		SchemaPath: "approved_tags.yaml",
		LLM: LLMConfig{
			Provider:            "", // Disabled by default
			BaseURL:             "",
			Timeout:             60,
			MaxTokens:           256,
			ConfidenceThreshold: 0.7,
		},
		Concurrency: ConcurrencyConfig{
			Workers:           4,
			RequestsPerSecond: 4,
			Burst:             4,
		},
		Cache: CacheConfig{
			Enabled: true,
			Dir:     ".tagforge-cache",
			TTL:     7 * 24 * time.Hour,
		},
		Ledger: LedgerConfig{
			Path: "output/tag_audit.sqlite3",
		},
		Pipeline: PipelineConfig{
			EscalationEnabled: true,
			TargetCleanRatio:  0.90,
			MaxIterations:     3,
		},
		Output: OutputConfig{
			Dir: "output",
		},
	}
}
