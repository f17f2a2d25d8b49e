package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/Atique-Syed1/Trading-bot/internal/breaker"
	"github.com/Atique-Syed1/Trading-bot/internal/model"
)

const (
	// UpdatesChannel carries every committed StoreEvent as JSON.
	UpdatesChannel = "scanner:updates"
	// LatestSnapshotKey holds the most recent snapshot event.
	LatestSnapshotKey = "scanner:latest"

	defaultLatestTTL = 24 * time.Hour
)

// EventPublisher sends store events somewhere.
type EventPublisher interface {
	Publish(ctx context.Context, ev model.StoreEvent) error
}

// Publisher publishes store events on a Redis channel. Snapshot events are
// also stored under LatestSnapshotKey so late subscribers can catch up.
type Publisher struct {
	c       *Client
	channel string
}

// NewPublisher publishes on channel, or UpdatesChannel when empty.
func NewPublisher(c *Client, channel string) *Publisher {
	if channel == "" {
		channel = UpdatesChannel
	}
	return &Publisher{c: c, channel: channel}
}

// Publish writes ev in a single pipeline round trip.
func (p *Publisher) Publish(ctx context.Context, ev model.StoreEvent) error {
	data := ev.JSON()
	pipe := p.c.rdb.Pipeline()
	pipe.Publish(ctx, p.channel, data)
	if ev.Type == model.EventSnapshot {
		pipe.Set(ctx, LatestSnapshotKey, data, defaultLatestTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish %s: %w", p.channel, err)
	}
	return nil
}

// Latest returns the last stored snapshot event, if any.
func (p *Publisher) Latest(ctx context.Context) (model.StoreEvent, bool, error) {
	var ev model.StoreEvent
	data, err := p.c.rdb.Get(ctx, LatestSnapshotKey).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return ev, false, nil
		}
		return ev, false, fmt.Errorf("redis get latest: %w", err)
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, false, fmt.Errorf("decode latest: %w", err)
	}
	return ev, true, nil
}

// BufferedPublisher wraps an EventPublisher with a circuit breaker.
// While the circuit is open, events are buffered locally. The next call
// the breaker lets through drains the buffer in order before sending its
// own event, so subscribers always see events in commit order.
type BufferedPublisher struct {
	pub EventPublisher
	cb  *breaker.Breaker
	log *slog.Logger

	// mu serialises publishing and guards buffer.
	mu     sync.Mutex
	buffer []model.StoreEvent
	maxBuf int // max buffered events before dropping oldest (default: 1000)

	// Callbacks
	OnBuffer func()          // called when an event is buffered (for metrics)
	OnFlush  func(count int) // called after buffered events are sent
}

// NewBufferedPublisher creates a BufferedPublisher.
func NewBufferedPublisher(pub EventPublisher, cb *breaker.Breaker, maxBufferSize int) *BufferedPublisher {
	if maxBufferSize <= 0 {
		maxBufferSize = 1000
	}
	return &BufferedPublisher{
		pub:    pub,
		cb:     cb,
		log:    slog.Default().With("component", "publisher"),
		buffer: make([]model.StoreEvent, 0, 64),
		maxBuf: maxBufferSize,
	}
}

// Publish sends ev through the breaker. If the circuit is open the event is
// buffered and nil is returned.
func (bp *BufferedPublisher) Publish(ctx context.Context, ev model.StoreEvent) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	err := bp.cb.Execute(func() error { return bp.send(ctx, ev) })
	if errors.Is(err, breaker.ErrCircuitOpen) {
		bp.bufferLocked(ev)
		return nil
	}
	return err
}

// send publishes the buffered events and then ev. On failure everything
// not yet sent stays buffered in order; ev is only kept when older events
// were still pending ahead of it. Caller holds bp.mu.
func (bp *BufferedPublisher) send(ctx context.Context, ev model.StoreEvent) error {
	pending := bp.buffer
	flushed := 0
	defer func() {
		if flushed == 0 {
			return
		}
		bp.log.Info("flushed buffered events", "count", flushed)
		if bp.OnFlush != nil {
			bp.OnFlush(flushed)
		}
	}()

	for i, old := range pending {
		if err := bp.pub.Publish(ctx, old); err != nil {
			rest := make([]model.StoreEvent, 0, len(pending)-i+1)
			bp.buffer = append(append(rest, pending[i:]...), ev)
			bp.trimLocked()
			return err
		}
		flushed++
	}
	bp.buffer = bp.buffer[:0]
	return bp.pub.Publish(ctx, ev)
}

// Run publishes every event from events until ctx is done or events closes.
func (bp *BufferedPublisher) Run(ctx context.Context, events <-chan model.StoreEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := bp.Publish(ctx, ev); err != nil {
				bp.log.Warn("publish failed", "type", string(ev.Type), "error", err)
			}
		}
	}
}

func (bp *BufferedPublisher) bufferLocked(ev model.StoreEvent) {
	bp.buffer = append(bp.buffer, ev)
	bp.trimLocked()
	if bp.OnBuffer != nil {
		bp.OnBuffer()
	}
}

// trimLocked drops the oldest events beyond maxBuf.
func (bp *BufferedPublisher) trimLocked() {
	if over := len(bp.buffer) - bp.maxBuf; over > 0 {
		bp.buffer = append(bp.buffer[:0], bp.buffer[over:]...)
	}
}

// PendingCount returns the number of buffered events waiting to be flushed.
func (bp *BufferedPublisher) PendingCount() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.buffer)
}
