// Package bus fans store events out to independent consumers (publisher,
// alerts, metrics) without letting a slow consumer stall the scanner loop.
package bus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Atique-Syed1/Trading-bot/internal/model"
)

// FanOut broadcasts store events from a single input channel to N named
// output channels. If an output channel is full, the event is dropped for
// that consumer only, and the next event it does receive carries Resync.
type FanOut struct {
	mu      sync.RWMutex
	outputs []*output
	bufSize int

	// OnDrop is called when an event is dropped for a subscriber.
	OnDrop func(subscriber string)
}

type output struct {
	name string
	ch   chan model.StoreEvent
	gap  bool // an event was dropped since the last delivery
}

// New creates a FanOut with the given buffer size for output channels.
func New(outputBufferSize int) *FanOut {
	return &FanOut{bufSize: outputBufferSize}
}

// Subscribe creates and returns a new output channel. Subscribe before Run.
func (f *FanOut) Subscribe(name string) <-chan model.StoreEvent {
	ch := make(chan model.StoreEvent, f.bufSize)
	f.mu.Lock()
	f.outputs = append(f.outputs, &output{name: name, ch: ch})
	f.mu.Unlock()
	return ch
}

// Run reads from the input channel and fans out to all subscribers.
// Blocks until ctx is cancelled or input is closed, then closes every output.
func (f *FanOut) Run(ctx context.Context, input <-chan model.StoreEvent) {
	defer func() {
		f.mu.RLock()
		for _, o := range f.outputs {
			close(o.ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-input:
			if !ok {
				return
			}
			f.mu.RLock()
			for _, o := range f.outputs {
				out := ev
				out.Resync = ev.Resync || o.gap
				select {
				case o.ch <- out:
					o.gap = false
				default:
					o.gap = true
					if f.OnDrop != nil {
						f.OnDrop(o.name)
					} else {
						slog.Warn("subscriber full, dropping event", "component", "bus", "subscriber", o.name, "type", string(ev.Type))
					}
				}
			}
			f.mu.RUnlock()
		}
	}
}

// ChannelStat reports (length, capacity) for one subscriber channel.
// Used for reporting channel saturation percentage.
type ChannelStat struct {
	Name string
	Len  int
	Cap  int
}

func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, o := range f.outputs {
		stats[i] = ChannelStat{Name: o.name, Len: len(o.ch), Cap: cap(o.ch)}
	}
	return stats
}
