// Package redis backs the scanner's Redis integrations: the update publisher
// and subscriber on the scanner:updates channel, and a preferences backend.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// Config configures the Redis connection.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Client wraps a go-redis client shared by the publisher and prefs backend.
type Client struct {
	rdb *goredis.Client
}

// New creates a client and pings the server.
func New(ctx context.Context, cfg Config) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	slog.Info("redis connected", "component", "redis", "addr", cfg.Addr)
	return &Client{rdb: rdb}, nil
}

// Redis returns the underlying go-redis client for health checks.
func (c *Client) Redis() *goredis.Client { return c.rdb }

// Close releases the connection pool.
func (c *Client) Close() error { return c.rdb.Close() }
