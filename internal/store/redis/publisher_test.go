package redis

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Atique-Syed1/Trading-bot/internal/breaker"
	"github.com/Atique-Syed1/Trading-bot/internal/model"
)

type fakePublisher struct {
	mu   sync.Mutex
	fail bool
	got  []model.StoreEvent
}

func (f *fakePublisher) Publish(_ context.Context, ev model.StoreEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("connection refused")
	}
	f.got = append(f.got, ev)
	return nil
}

func (f *fakePublisher) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

func TestBufferedPublisher_BuffersWhileOpenAndFlushesOnClose(t *testing.T) {
	fp := &fakePublisher{fail: true}
	cb := breaker.New(breaker.Settings{Name: "redis", MaxFailures: 1, ResetTimeout: 20 * time.Millisecond})
	bp := NewBufferedPublisher(fp, cb, 10)

	var flushed int
	var fmu sync.Mutex
	bp.OnFlush = func(n int) { fmu.Lock(); flushed = n; fmu.Unlock() }

	ctx := context.Background()
	// first failure trips the breaker and is returned
	assert.Error(t, bp.Publish(ctx, model.StoreEvent{Type: model.EventSnapshot}))
	require.Equal(t, breaker.StateOpen, cb.CurrentState())

	// while open, events are buffered
	for i := 0; i < 3; i++ {
		require.NoError(t, bp.Publish(ctx, model.StoreEvent{Type: model.EventPriceUpdate}))
	}
	assert.Equal(t, 3, bp.PendingCount())

	fp.setFail(false)
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, bp.Publish(ctx, model.StoreEvent{Type: model.EventPriceUpdate}))
	assert.Equal(t, breaker.StateClosed, cb.CurrentState())

	assert.Equal(t, 4, fp.count())
	assert.Equal(t, 0, bp.PendingCount())
	fmu.Lock()
	assert.Equal(t, 3, flushed)
	fmu.Unlock()
}

func (f *fakePublisher) modes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.got))
	for i, ev := range f.got {
		out[i] = ev.Mode
	}
	return out
}

func TestBufferedPublisher_KeepsOrderAcrossRecovery(t *testing.T) {
	fp := &fakePublisher{fail: true}
	cb := breaker.New(breaker.Settings{Name: "redis", MaxFailures: 1, ResetTimeout: 20 * time.Millisecond})
	bp := NewBufferedPublisher(fp, cb, 10)
	ctx := context.Background()

	assert.Error(t, bp.Publish(ctx, model.StoreEvent{Type: model.EventSnapshot, Mode: "lost"}))
	require.NoError(t, bp.Publish(ctx, model.StoreEvent{Type: model.EventSnapshot, Mode: "buffered-snapshot"}))
	require.NoError(t, bp.Publish(ctx, model.StoreEvent{Type: model.EventPriceUpdate, Mode: "buffered-delta"}))

	fp.setFail(false)
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, bp.Publish(ctx, model.StoreEvent{Type: model.EventPriceUpdate, Mode: "newer"}))
	require.NoError(t, bp.Publish(ctx, model.StoreEvent{Type: model.EventPriceUpdate, Mode: "newest"}))

	assert.Equal(t, []string{"buffered-snapshot", "buffered-delta", "newer", "newest"}, fp.modes())
	assert.Equal(t, breaker.StateClosed, cb.CurrentState())
}

type flakyPublisher struct {
	fakePublisher
	okLeft int
}

func (f *flakyPublisher) Publish(ctx context.Context, ev model.StoreEvent) error {
	f.mu.Lock()
	if f.okLeft == 0 {
		f.mu.Unlock()
		return errors.New("connection reset")
	}
	f.okLeft--
	f.mu.Unlock()
	return f.fakePublisher.Publish(ctx, ev)
}

func TestBufferedPublisher_FailedDrainKeepsRemainderAhead(t *testing.T) {
	fp := &flakyPublisher{}
	cb := breaker.New(breaker.Settings{MaxFailures: 1, ResetTimeout: 20 * time.Millisecond})
	bp := NewBufferedPublisher(fp, cb, 10)
	ctx := context.Background()

	assert.Error(t, bp.Publish(ctx, model.StoreEvent{Mode: "lost"}))
	for _, m := range []string{"a", "b", "c"} {
		require.NoError(t, bp.Publish(ctx, model.StoreEvent{Mode: m}))
	}

	// the trial call sends "a" and then fails on "b"
	fp.mu.Lock()
	fp.okLeft = 1
	fp.mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	assert.Error(t, bp.Publish(ctx, model.StoreEvent{Mode: "d"}))
	assert.Equal(t, breaker.StateOpen, cb.CurrentState())
	assert.Equal(t, 3, bp.PendingCount())

	fp.mu.Lock()
	fp.okLeft = -1
	fp.mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, bp.Publish(ctx, model.StoreEvent{Mode: "e"}))
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, fp.modes())
}

func TestBufferedPublisher_DropsOldestWhenFull(t *testing.T) {
	fp := &fakePublisher{fail: true}
	cb := breaker.New(breaker.Settings{MaxFailures: 1, ResetTimeout: time.Hour})
	bp := NewBufferedPublisher(fp, cb, 2)

	buffered := 0
	bp.OnBuffer = func() { buffered++ }

	ctx := context.Background()
	_ = bp.Publish(ctx, model.StoreEvent{})
	for i := 0; i < 5; i++ {
		_ = bp.Publish(ctx, model.StoreEvent{Mode: string(rune('a' + i))})
	}
	assert.Equal(t, 2, bp.PendingCount())
	assert.Equal(t, 5, buffered)

	bp.mu.Lock()
	assert.Equal(t, "d", bp.buffer[0].Mode)
	assert.Equal(t, "e", bp.buffer[1].Mode)
	bp.mu.Unlock()
}

func TestBufferedPublisher_RunStopsOnClose(t *testing.T) {
	fp := &fakePublisher{}
	cb := breaker.New(breaker.Settings{MaxFailures: 3, ResetTimeout: time.Second})
	bp := NewBufferedPublisher(fp, cb, 0)

	ch := make(chan model.StoreEvent, 2)
	ch <- model.StoreEvent{Type: model.EventSnapshot}
	ch <- model.StoreEvent{Type: model.EventPriceUpdate}
	close(ch)

	done := make(chan struct{})
	go func() { bp.Run(context.Background(), ch); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after channel close")
	}
	assert.Equal(t, 2, fp.count())
}

// Integration against a real server; set SCANNER_TEST_REDIS_ADDR to run.
func TestRedis_PublishSubscribeAndPrefs(t *testing.T) {
	addr := os.Getenv("SCANNER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SCANNER_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := New(ctx, Config{Addr: addr})
	require.NoError(t, err)
	defer c.Close()

	events, err := c.Subscribe(ctx, "scanner:test")
	require.NoError(t, err)

	pub := NewPublisher(c, "scanner:test")
	require.NoError(t, pub.Publish(ctx, model.StoreEvent{Type: model.EventSnapshot, Mode: "live"}))

	select {
	case ev := <-events:
		assert.Equal(t, model.EventSnapshot, ev.Type)
	case <-ctx.Done():
		t.Fatal("no event received")
	}
	latest, ok, err := pub.Latest(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "live", latest.Mode)

	p := &Prefs{c: c}
	require.NoError(t, p.Set(ctx, "theme", []byte(`"dark"`)))
	v, ok, err := p.Get(ctx, "theme")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `"dark"`, string(v))
	require.NoError(t, p.Delete(ctx, "theme"))
	_, ok, err = p.Get(ctx, "theme")
	require.NoError(t, err)
	assert.False(t, ok)
}
