package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

const (
	EmbedProviderOllama = "ollama"
	EmbedProviderOpenAI = "openai"
	// EmbedProviderHash is a deterministic local embedder for demos and tests.
	EmbedProviderHash = "hash"
)

// EmbedConfig selects and tunes the embedding service client.
type EmbedConfig struct {
	Provider     string        `env:"PROVIDER"       envDefault:"ollama"`
	Model        string        `env:"MODEL"          envDefault:"nomic-embed-text"`
	Dimension    int           `env:"DIMENSION"      envDefault:"768"`
	OllamaHost   string        `env:"OLLAMA_HOST"    envDefault:"http://localhost:11434"`
	OpenAIAPIKey string        `env:"OPENAI_API_KEY"`
	RatePerSec   float64       `env:"RATE_PER_SEC"   envDefault:"5"`
	Burst        int           `env:"BURST"          envDefault:"2"`
	Timeout      time.Duration `env:"TIMEOUT"        envDefault:"30s"`
}

func (c *EmbedConfig) Sanitize() {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

func (c EmbedConfig) Validate() error {
	switch c.Provider {
	case EmbedProviderOllama, EmbedProviderHash:
		return nil
	case EmbedProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return errors.New("EMBED_OPENAI_API_KEY is required for the openai provider")
		}
		return nil
	default:
		return errors.Newf("unsupported embedding provider %q", c.Provider)
	}
}

// WorkerConfig tunes batch sizes, invocation budgets and the daemon loop.
type WorkerConfig struct {
	BatchSize         int `env:"BATCH_SIZE"          envDefault:"100"`
	PageSize          int `env:"PAGE_SIZE"           envDefault:"100"`
	SubBatchSize      int `env:"SUB_BATCH_SIZE"      envDefault:"20"`
	MaxVectorAttempts int `env:"MAX_VECTOR_ATTEMPTS" envDefault:"3"`

	// MaxInvocation is the wall-clock budget of one worker invocation.
	MaxInvocation time.Duration `env:"MAX_INVOCATION" envDefault:"60s"`
	SafetyMargin  time.Duration `env:"SAFETY_MARGIN"  envDefault:"10s"`
	// StallThreshold defaults to three invocation budgets.
	StallThreshold time.Duration `env:"STALL_THRESHOLD"`

	Pools        []string      `env:"POOLS"         envDefault:"ingest,vectorize" envSeparator:","`
	Concurrency  int           `env:"CONCURRENCY"   envDefault:"2"`
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`
}

func (c *WorkerConfig) Sanitize() {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.SubBatchSize <= 0 {
		c.SubBatchSize = 20
	}
	if c.SubBatchSize > c.PageSize {
		c.SubBatchSize = c.PageSize
	}
	if c.MaxVectorAttempts <= 0 {
		c.MaxVectorAttempts = 3
	}
	if c.MaxInvocation <= 0 {
		c.MaxInvocation = 60 * time.Second
	}
	if c.SafetyMargin < 0 || c.SafetyMargin >= c.MaxInvocation {
		c.SafetyMargin = c.MaxInvocation / 6
	}
	if c.StallThreshold <= 0 {
		c.StallThreshold = 3 * c.MaxInvocation
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	pools := c.Pools[:0]
	for _, p := range c.Pools {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			pools = append(pools, p)
		}
	}
	c.Pools = pools
}

// HTTPConfig configures the api server.
type HTTPConfig struct {
	Addr            string        `env:"ADDR"             envDefault:":8080"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT"     envDefault:"10s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT"    envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

func (c *HTTPConfig) Sanitize() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 15 * time.Second
	}
}
