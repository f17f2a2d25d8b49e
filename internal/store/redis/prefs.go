package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/go-redis/redis/v8"
)

const prefsKeyPrefix = "scanner:prefs:"

// Prefs is a key/value preferences backend stored under scanner:prefs:*.
type Prefs struct {
	c *Client
}

// NewPrefs returns a preferences backend on c.
func NewPrefs(c *Client) *Prefs { return &Prefs{c: c} }

// Get returns the stored value; ok is false when the key is absent.
func (p *Prefs) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := p.c.rdb.Get(ctx, prefsKeyPrefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, true, nil
}

// Set stores value without expiry.
func (p *Prefs) Set(ctx context.Context, key string, value []byte) error {
	if err := p.c.rdb.Set(ctx, prefsKeyPrefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (p *Prefs) Delete(ctx context.Context, key string) error {
	if err := p.c.rdb.Del(ctx, prefsKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Close closes the shared client.
func (p *Prefs) Close() error { return p.c.Close() }
