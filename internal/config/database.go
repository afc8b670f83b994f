package config

import "time"

// DBConfig contains PostgreSQL configuration.
type DBConfig struct {
	DSN             string        `env:"DSN"`
	MaxConns        int32         `env:"MAX_CONNS"         envDefault:"10"`
	MinConns        int32         `env:"MIN_CONNS"         envDefault:"0"`
	MaxConnLifetime time.Duration `env:"MAX_CONN_LIFETIME" envDefault:"30m"`
	// RunMigrationsOnStart applies the embedded migrations before the api or worker starts.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

func (c *DBConfig) Sanitize() {
	if c.MaxConns <= 0 {
		c.MaxConns = 10
	}
	if c.MinConns < 0 || c.MinConns > c.MaxConns {
		c.MinConns = 0
	}
}

// RedisConfig configures the kick channel. An empty Addr disables Redis and workers
// fall back to polling.
type RedisConfig struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB"       envDefault:"0"`
	Channel  string `env:"CHANNEL"  envDefault:"ingest:kick"`
}

func (c RedisConfig) Enabled() bool { return c.Addr != "" }
