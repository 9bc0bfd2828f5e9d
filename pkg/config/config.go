package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
	"go.uber.org/multierr"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreBolt     = "bolt"
)

type Config struct {
	Port            int           `env:"PORT,default=8080"`
	Store           string        `env:"LEDGER_STORE,default=memory"`
	DatabaseURL     string        `env:"DATABASE_URL"`
	BoltPath        string        `env:"BOLT_PATH,default=ledger.db"`
	LogLevel        string        `env:"LOG_LEVEL,default=info"`
	MaxRetries      uint64        `env:"LEDGER_MAX_RETRIES,default=3"`
	RetryBase       time.Duration `env:"LEDGER_RETRY_BASE,default=20ms"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT,default=5s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
	ServiceName     string        `env:"OTEL_SERVICE_NAME,default=ledger"`
}

// Load reads the configuration from the process environment.
func Load(ctx context.Context) (Config, error) {
	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, l envconfig.Lookuper) (Config, error) {
	var c Config
	if err := envconfig.ProcessWith(ctx, &c, l); err != nil {
		return Config{}, fmt.Errorf("reading environment: %w", err)
	}
	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	var err error
	if c.Port <= 0 || c.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("PORT %d out of range", c.Port))
	}
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			err = multierr.Append(err, errors.New("DATABASE_URL is required for the postgres store"))
		}
	case StoreBolt:
		if c.BoltPath == "" {
			err = multierr.Append(err, errors.New("BOLT_PATH is required for the bolt store"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("unknown LEDGER_STORE %q", c.Store))
	}
	if c.RetryBase <= 0 {
		err = multierr.Append(err, errors.New("LEDGER_RETRY_BASE must be positive"))
	}
	if c.RequestTimeout <= 0 {
		err = multierr.Append(err, errors.New("REQUEST_TIMEOUT must be positive"))
	}
	if c.ShutdownTimeout <= 0 {
		err = multierr.Append(err, errors.New("SHUTDOWN_TIMEOUT must be positive"))
	}
	return err
}

func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
