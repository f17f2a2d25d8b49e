package prefs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Atique-Syed1/Trading-bot/internal/store/postgres"
	"github.com/Atique-Syed1/Trading-bot/internal/store/redis"
	"github.com/Atique-Syed1/Trading-bot/internal/store/sqlite"
)

// Config selects and configures a backend.
type Config struct {
	Backend string // memory | sqlite | postgres | redis

	SQLitePath     string
	PostgresDSN    string
	PostgresSchema string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
}

// Open builds a Store for cfg. When the backend cannot be opened the error
// is logged and an in-memory store is returned instead.
func Open(ctx context.Context, cfg Config) *Store {
	name := strings.ToLower(strings.TrimSpace(cfg.Backend))
	backend, err := openBackend(ctx, name, cfg)
	if err != nil {
		slog.Warn("preferences backend unavailable, falling back to memory",
			"component", "prefs", "backend", name, "error", err)
		return New("memory", nil)
	}
	return New(name, backend)
}

func openBackend(ctx context.Context, name string, cfg Config) (Backend, error) {
	switch name {
	case "", "memory":
		return nil, nil
	case "sqlite":
		return sqlite.Open(sqlite.Config{DBPath: cfg.SQLitePath})
	case "postgres":
		return postgres.Open(ctx, postgres.Config{DSN: cfg.PostgresDSN, Schema: cfg.PostgresSchema})
	case "redis":
		c, err := redis.New(ctx, redis.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			return nil, err
		}
		return redis.NewPrefs(c), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
}
