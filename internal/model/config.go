package model

import "time"

// Config is the explicit configuration object threaded through the
// orchestrator's construction. Nothing in the pipeline reads ambient
// process-wide state.
type Config struct {
	Reasoning  ReasoningConfig  `yaml:"reasoning" json:"reasoning"`
	Pipeline   PipelineConfig   `yaml:"pipeline" json:"pipeline"`
	Simulation SimulationConfig `yaml:"simulation" json:"simulation"`
	Cache      CacheConfig      `yaml:"cache" json:"cache"`
	Output     OutputConfig     `yaml:"output" json:"output"`
}

// ReasoningConfig configures the external reasoning endpoint and the
// adapter's retry and rate-limit discipline.
type ReasoningConfig struct {
	Provider string `yaml:"provider" json:"provider"` // openai, anthropic, ollama, "" for disabled
	Model    string `yaml:"model" json:"model"`
	APIKey   string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	BaseURL  string `yaml:"base_url,omitempty" json:"base_url,omitempty"`

	Timeout    int `yaml:"timeout" json:"timeout"` // seconds, per call
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
	MaxTokens  int `yaml:"max_tokens" json:"max_tokens"`

	// Shared across all concurrent cases: the upstream sees one pool.
	RatePerSecond float64 `yaml:"rate_per_second" json:"rate_per_second"`
	RateBurst     int     `yaml:"rate_burst" json:"rate_burst"`

	HTTPProxy  string `yaml:"http_proxy,omitempty" json:"http_proxy,omitempty"`
	HTTPSProxy string `yaml:"https_proxy,omitempty" json:"https_proxy,omitempty"`
	NoProxy    string `yaml:"no_proxy,omitempty" json:"no_proxy,omitempty"`
}

// PipelineConfig bounds the orchestrator's loops and parallelism.
type PipelineConfig struct {
	MaxRevisionRounds      int            `yaml:"max_revision_rounds" json:"max_revision_rounds"`
	MaxConcurrentInference int            `yaml:"max_concurrent_inference" json:"max_concurrent_inference"`
	PhaseTimeout           time.Duration  `yaml:"phase_timeout" json:"phase_timeout"` // wall-clock budget per phase
	ExpectedDocuments      []DocumentType `yaml:"expected_documents" json:"expected_documents"`
}

// SimulationConfig sets Monte Carlo defaults. The same seed with the same
// inputs must reproduce percentile output bit for bit.
type SimulationConfig struct {
	Samples     int       `yaml:"samples" json:"samples"`
	Percentiles []float64 `yaml:"percentiles" json:"percentiles"`
	Seed        int64     `yaml:"seed" json:"seed"`
}

// CacheConfig controls the reasoning-response cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	Dir     string        `yaml:"dir,omitempty" json:"dir,omitempty"` // empty keeps the cache memory-only
	TTL     time.Duration `yaml:"ttl" json:"ttl"`
}

// OutputConfig controls logging and CLI chatter.
type OutputConfig struct {
	Verbose bool   `yaml:"verbose" json:"verbose"`
	LogMode string `yaml:"log_mode" json:"log_mode"` // dev or prod
}

// DefaultConfig returns the defaults every other source overrides.
func DefaultConfig() *Config {
	return &Config{
		Reasoning: ReasoningConfig{
			Provider:      "",
			Timeout:       60,
			MaxRetries:    3,
			MaxTokens:     2048,
			RatePerSecond: 2,
			RateBurst:     4,
		},
		Pipeline: PipelineConfig{
			MaxRevisionRounds:      2,
			MaxConcurrentInference: 4,
			PhaseTimeout:           10 * time.Minute,
			ExpectedDocuments: []DocumentType{
				DocBankStatement,
				DocTaxReturn,
				DocPropertyRecord,
				DocBusinessRecord,
			},
		},
		Simulation: SimulationConfig{
			Samples:     10000,
			Percentiles: []float64{10, 50, 90},
			Seed:        42,
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     24 * time.Hour,
		},
		Output: OutputConfig{
			LogMode: "dev",
		},
	}
}
