package prefs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// brokenBackend fails every call, like a full quota or unreachable server.
type brokenBackend struct{ calls atomic.Int32 }

var errQuota = errors.New("quota exceeded")

func (b *brokenBackend) Get(context.Context, string) ([]byte, bool, error) {
	b.calls.Add(1)
	return nil, false, errQuota
}
func (b *brokenBackend) Set(context.Context, string, []byte) error { b.calls.Add(1); return errQuota }
func (b *brokenBackend) Delete(context.Context, string) error      { b.calls.Add(1); return errQuota }
func (b *brokenBackend) Close() error                              { return nil }

func TestStore_MemoryRoundTrip(t *testing.T) {
	s := New("", nil)
	ctx := context.Background()
	assert.Equal(t, "memory", s.Backend())

	var theme string
	assert.False(t, s.Get(ctx, KeyTheme, &theme))

	require.NoError(t, s.Set(ctx, KeyTheme, "dark"))
	require.NoError(t, s.Set(ctx, KeyWatchlist, []string{"TCS", "INFY"}))

	assert.True(t, s.Get(ctx, KeyTheme, &theme))
	assert.Equal(t, "dark", theme)

	var wl []string
	assert.True(t, s.Get(ctx, KeyWatchlist, &wl))
	assert.Equal(t, []string{"TCS", "INFY"}, wl)

	s.Delete(ctx, KeyTheme)
	assert.False(t, s.Get(ctx, KeyTheme, &theme))
	assert.False(t, s.Degraded())
}

func TestStore_BackendFailureDegradesToMemory(t *testing.T) {
	b := &brokenBackend{}
	s := New("redis", b)
	var errs int
	s.OnError = func(op string, err error) {
		assert.ErrorIs(t, err, errQuota)
		errs++
	}
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, KeyActiveTab, "scanner"))
	var tab string
	assert.True(t, s.Get(ctx, KeyActiveTab, &tab))
	assert.Equal(t, "scanner", tab)
	assert.True(t, s.Degraded())
	assert.Equal(t, 2, errs)

	s.Delete(ctx, KeyActiveTab)
	assert.False(t, s.Get(ctx, KeyActiveTab, &tab))
}

func TestStore_CorruptValueFallsBackToDefault(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.Set(ctx, KeyWatchlist, []byte(`{not json`)))

	s := New("memory", mem)
	wl := []string{"DEFAULT"}
	assert.False(t, s.Get(ctx, KeyWatchlist, &wl))
	assert.Equal(t, []string{"DEFAULT"}, wl)
}

func TestStore_SetUnencodable(t *testing.T) {
	s := New("", nil)
	err := s.Set(context.Background(), "bad", func() {})
	assert.Error(t, err)
}

func TestStore_Raw(t *testing.T) {
	s := New("", nil)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, KeyMode, "live"))
	raw, ok := s.Raw(ctx, KeyMode)
	require.True(t, ok)
	assert.JSONEq(t, `"live"`, string(raw))
}

func TestOpen_UnknownBackendFallsBack(t *testing.T) {
	s := Open(context.Background(), Config{Backend: "etcd"})
	assert.Equal(t, "memory", s.Backend())
	require.NoError(t, s.Set(context.Background(), KeyTheme, "light"))
}

func TestOpen_UnreachableRedisFallsBack(t *testing.T) {
	s := Open(context.Background(), Config{Backend: "redis", RedisAddr: "127.0.0.1:1"})
	assert.Equal(t, "memory", s.Backend())
}
