package httpapi

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Atique-Syed1/Trading-bot/internal/feed"
	"github.com/Atique-Syed1/Trading-bot/internal/model"
	"github.com/Atique-Syed1/Trading-bot/internal/reconcile"
)

const clientSendBuffer = 256

const resyncTimeout = 2 * time.Second

// Source returns the authoritative collection.
type Source func(ctx context.Context) ([]model.Instrument, error)

// Hub re-serves store events to WebSocket clients in the push-channel wire
// format, so one scanner can feed another. It keeps its own copy of the
// collection to greet new clients with a current initial frame, and a
// log of recent frames so a client reconnecting with ?last_seq=N only receives
// what it missed. A delta marked Resync means events were lost on the way
// in; the hub then rebuilds its copy from the Source and sends clients a
// snapshot instead.
type Hub struct {
	mu      sync.Mutex
	clients map[*Client]bool
	store   *reconcile.Store
	frames  *frameLog
	closed  bool
	source  Source
	log     *slog.Logger
}

// NewHub creates a hub retaining replayCap frames.
func NewHub(replayCap int) *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		store:   reconcile.New(),
		frames:  newFrameLog(replayCap),
		log:     slog.Default().With("component", "ws"),
	}
}

// SetSource sets where the hub resyncs from after lost events.
func (h *Hub) SetSource(src Source) {
	h.mu.Lock()
	h.source = src
	h.mu.Unlock()
}

// Run consumes events until ctx is done or events closes, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context, events <-chan model.StoreEvent) {
	defer h.shutdown()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Resync && ev.Type != model.EventSnapshot {
				ev = h.resync(ctx, ev)
			}
			h.Publish(ev)
		}
	}
}

// Publish applies ev to the hub's copy and fans the frame out. Slow
// clients miss frames rather than stall the hub.
func (h *Hub) Publish(ev model.StoreEvent) {
	var f feed.Frame
	switch ev.Type {
	case model.EventSnapshot:
		f = feed.SnapshotFrame(ev.Instruments)
	case model.EventPriceUpdate:
		at := ev.At
		if !ev.FeedAt.IsZero() {
			at = ev.FeedAt
		}
		f = feed.DeltaFrame(at, ev.Deltas)
	default:
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if ev.Type == model.EventSnapshot {
		h.store.ApplySnapshot(ev.Instruments)
	} else {
		h.store.ApplyDeltas(ev.Deltas)
	}
	f.Seq = h.frames.next()
	data, err := f.Marshal()
	if err != nil {
		h.log.Error("encode frame", "error", err)
		return
	}
	h.frames.append(data)

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
		}
	}
}

// resync replaces ev with a snapshot from the source. Without a source, or
// when it fails, ev is passed on and the copy stays stale until the next
// snapshot.
func (h *Hub) resync(ctx context.Context, ev model.StoreEvent) model.StoreEvent {
	h.mu.Lock()
	src := h.source
	h.mu.Unlock()
	if src == nil {
		h.log.Warn("events lost, stream stale until next snapshot")
		return ev
	}
	ctx, cancel := context.WithTimeout(ctx, resyncTimeout)
	defer cancel()
	items, err := src(ctx)
	if err != nil {
		h.log.Warn("resync failed, stream stale until next snapshot", "error", err)
		return ev
	}
	h.log.Info("resynced after lost events", "instruments", len(items))
	return model.StoreEvent{Type: model.EventSnapshot, Mode: ev.Mode, At: ev.At, Instruments: items, Resync: true}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Serve registers conn and starts its pumps. lastSeq, when positive and
// still covered by the frame log, resumes the stream after that frame;
// otherwise the client starts from the current collection.
func (h *Hub) Serve(conn *websocket.Conn, lastSeq int64) {
	c := &Client{conn: conn, send: make(chan []byte, clientSendBuffer), hub: h}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	for _, data := range h.catchUp(lastSeq) {
		c.send <- data
	}
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()

	h.log.Info("ws client connected", "clients", count, "last_seq", lastSeq)
	go c.writePump()
	go c.readPump()
}

// catchUp returns the frames a new client needs: what it missed after
// lastSeq when the log still holds all of it and it fits the send buffer,
// otherwise one snapshot of the current collection. Caller holds h.mu.
func (h *Hub) catchUp(lastSeq int64) [][]byte {
	if lastSeq > 0 {
		if missed, ok := h.frames.since(lastSeq); ok && len(missed) < clientSendBuffer {
			return missed
		}
	}
	if h.frames.last == 0 {
		return nil
	}
	f := feed.SnapshotFrame(h.store.Instruments())
	f.Seq = h.frames.last
	data, err := f.Marshal()
	if err != nil {
		h.log.Error("encode initial frame", "error", err)
		return nil
	}
	return [][]byte{data}
}

// trySend queues data for c unless c is gone or its buffer is full.
func (h *Hub) trySend(c *Client, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[c] {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
