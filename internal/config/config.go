// Package config loads the service configuration from environment variables.
package config

import (
	"os"
	"strings"

	env "github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// AppConfig composes the per-concern configuration groups. Each group reads its own
// env prefix (DB_, REDIS_, EMBED_, WORKER_, HTTP_).
type AppConfig struct {
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`

	// StoreDriver selects the repositories: postgres, or memory for single-process demos.
	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`

	Postgres DBConfig     `envPrefix:"DB_"`
	Redis    RedisConfig  `envPrefix:"REDIS_"`
	Embed    EmbedConfig  `envPrefix:"EMBED_"`
	Worker   WorkerConfig `envPrefix:"WORKER_"`
	HTTP     HTTPConfig   `envPrefix:"HTTP_"`
}

// Sanitize applies guardrails to values loaded from env.
func (c *AppConfig) Sanitize() {
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
	if c.StoreDriver == "" {
		c.StoreDriver = StoreDriverPostgres
	}
	c.Postgres.Sanitize()
	c.Embed.Sanitize()
	c.Worker.Sanitize()
	c.HTTP.Sanitize()
}

// Validate reports configuration that cannot work at all.
func (c *AppConfig) Validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.Postgres.DSN == "" {
			return errors.New("DB_DSN is required when STORE_DRIVER=postgres")
		}
	case StoreDriverMemory:
	default:
		return errors.Newf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	return c.Embed.Validate()
}

// Load reads an optional .env file, parses the environment and sanitizes the result.
func Load() (AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return AppConfig{}, errors.Wrap(err, "load .env file")
		}
	}

	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, errors.Wrap(err, "parse config")
	}

	cfg.Sanitize()
	return cfg, nil
}
