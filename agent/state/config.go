package state

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendUpstash  = "upstash"
)

// Config selects and tunes the session backend. Loaded with prefix "STORE".
type Config struct {
	Backend       string        `envconfig:"BACKEND" default:"memory"`
	SQLitePath    string        `envconfig:"SQLITE_PATH" split_words:"true" default:"./krishi_saathi.db"`
	PostgresDSN   string        `envconfig:"POSTGRES_DSN" split_words:"true"`
	UpstashURL    string        `envconfig:"UPSTASH_URL" split_words:"true"`
	UpstashToken  string        `envconfig:"UPSTASH_TOKEN" split_words:"true"`
	KeyPrefix     string        `envconfig:"KEY_PREFIX" split_words:"true" default:"krishi:session:"`
	IdleTTL       time.Duration `envconfig:"IDLE_TTL" split_words:"true" default:"0s"`
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" split_words:"true" default:"10m"`
	Timeout       time.Duration `envconfig:"TIMEOUT" default:"10s"`
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// OpenStore builds the configured backend. The returned closer releases any
// database handle and is never nil.
func OpenStore(ctx context.Context, cfg Config) (Store, io.Closer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendMemory:
		return NewMemoryStore(), nopCloser{}, nil
	case BackendSQLite:
		store, err := NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, store, nil
	case BackendPostgres:
		store, err := NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, store, nil
	case BackendUpstash:
		store, err := NewUpstashRedisStore(
			UpstashRedisConfig{URL: cfg.UpstashURL, Token: cfg.UpstashToken, Timeout: cfg.Timeout},
			WithKeyPrefix(cfg.KeyPrefix),
			WithTTL(cfg.IdleTTL),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("open upstash store: %w", err)
		}
		return store, nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
