package feed

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ────────────────────────────────────────────────────────────
// Test helpers
// ────────────────────────────────────────────────────────────

// loop is a minimal single-goroutine executor standing in for the owner.
type loop struct {
	ch   chan func()
	done chan struct{}
}

func newLoop(t *testing.T) *loop {
	l := &loop{ch: make(chan func(), 64), done: make(chan struct{})}
	go func() {
		for {
			select {
			case fn := <-l.ch:
				fn()
			case <-l.done:
				return
			}
		}
	}()
	t.Cleanup(func() { close(l.done) })
	return l
}

func (l *loop) post(fn func()) {
	select {
	case l.ch <- fn:
	case <-l.done:
	}
}

// do runs fn on the loop and waits for it.
func (l *loop) do(fn func()) {
	wait := make(chan struct{})
	l.post(func() { fn(); close(wait) })
	<-wait
}

type fakeConn struct {
	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	dropErr   chan error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames:  make(chan []byte, 16),
		closed:  make(chan struct{}),
		dropErr: make(chan error, 1),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case err := <-c.dropErr:
		return nil, err
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials atomic.Int32
	fail  atomic.Bool
	gate  chan struct{} // when set, Dial blocks until closed
}

func (d *fakeDialer) Dial(ctx context.Context, _ string) (Conn, error) {
	d.dials.Add(1)
	if d.gate != nil {
		<-d.gate
	}
	if d.fail.Load() {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// recorder collects handler callbacks; only touched on the loop.
type recorder struct {
	states   []State
	messages []Message
	errs     []error
	drops    []string
}

func (r *recorder) handler() Handler {
	return Handler{
		OnState:   func(s State) { r.states = append(r.states, s) },
		OnMessage: func(m Message) { r.messages = append(r.messages, m) },
		OnError:   func(err error) { r.errs = append(r.errs, err) },
		OnDrop:    func(reason string) { r.drops = append(r.drops, reason) },
	}
}

func newTestSession(t *testing.T, d Dialer, cfg Config) (*Session, *loop, *recorder) {
	t.Helper()
	l := newLoop(t)
	rec := &recorder{}
	if cfg.URL == "" {
		cfg.URL = "ws://test/ws"
	}
	s, err := NewSession(cfg, d, l.post, rec.handler())
	require.NoError(t, err)
	return s, l, rec
}

func waitState(t *testing.T, l *loop, s *Session, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		var got State
		l.do(func() { got = s.State() })
		return got == want
	}, 2*time.Second, 5*time.Millisecond, "waiting for %s", want)
}

// ────────────────────────────────────────────────────────────
// State machine
// ────────────────────────────────────────────────────────────

func TestSession_IdempotentConnect(t *testing.T) {
	d := &fakeDialer{}
	s, l, rec := newTestSession(t, d, Config{})

	l.do(func() {
		s.Connect()
		s.Connect() // Connecting: no-op
	})
	waitState(t, l, s, Open)
	l.do(func() { s.Connect() }) // Open: no-op

	assert.Equal(t, int32(1), d.dials.Load())
	l.do(func() {
		assert.Equal(t, []State{Connecting, Open}, rec.states)
	})
}

func TestSession_DeliversFramesInOrder(t *testing.T) {
	d := &fakeDialer{}
	s, l, rec := newTestSession(t, d, Config{})
	l.do(s.Connect)
	waitState(t, l, s, Open)

	c := d.last()
	c.frames <- []byte(`{"type":"initial","data":[{"symbol":"T1","price":100}]}`)
	c.frames <- []byte(`{"type":"price_update","data":[{"symbol":"T1","price":104,"change":4,"changePercent":4.0}]}`)

	require.Eventually(t, func() bool {
		var n int
		l.do(func() { n = len(rec.messages) })
		return n == 2
	}, time.Second, 5*time.Millisecond)

	l.do(func() {
		assert.Equal(t, KindSnapshot, rec.messages[0].Kind)
		assert.Equal(t, KindDelta, rec.messages[1].Kind)
		assert.Equal(t, 104.0, rec.messages[1].Deltas[0].Price)
	})
}

func TestSession_UnrecognizedFrameIsDropped(t *testing.T) {
	d := &fakeDialer{}
	s, l, rec := newTestSession(t, d, Config{})
	l.do(s.Connect)
	waitState(t, l, s, Open)

	c := d.last()
	c.frames <- []byte(`not json`)
	c.frames <- []byte(`{"type":"heartbeat"}`)
	c.frames <- []byte(`{"type":"initial","data":[]}`)

	require.Eventually(t, func() bool {
		var n int
		l.do(func() { n = len(rec.messages) })
		return n == 1
	}, time.Second, 5*time.Millisecond)

	l.do(func() {
		assert.Len(t, rec.drops, 2)
		assert.Equal(t, Open, s.State())
	})
}

func TestSession_HandlerPanicDoesNotKillSession(t *testing.T) {
	d := &fakeDialer{}
	l := newLoop(t)
	var got atomic.Int32
	s, err := NewSession(Config{URL: "ws://test/ws"}, d, l.post, Handler{
		OnMessage: func(m Message) {
			if got.Add(1) == 1 {
				panic("boom")
			}
		},
	})
	require.NoError(t, err)

	l.do(s.Connect)
	waitState(t, l, s, Open)
	c := d.last()
	c.frames <- []byte(`{"type":"initial","data":[]}`)
	c.frames <- []byte(`{"type":"initial","data":[]}`)

	require.Eventually(t, func() bool { return got.Load() == 2 }, time.Second, 5*time.Millisecond)
	waitState(t, l, s, Open)
}

// ────────────────────────────────────────────────────────────
// Reconnection
// ────────────────────────────────────────────────────────────

func TestSession_DialFailureReportsAndRetries(t *testing.T) {
	d := &fakeDialer{}
	d.fail.Store(true)
	s, l, rec := newTestSession(t, d, Config{ReconnectDelay: 20 * time.Millisecond})

	l.do(s.Connect)
	require.Eventually(t, func() bool { return d.dials.Load() >= 2 }, time.Second, 5*time.Millisecond)

	d.fail.Store(false)
	waitState(t, l, s, Open)

	l.do(func() {
		require.NotEmpty(t, rec.errs)
		assert.ErrorIs(t, rec.errs[0], ErrEstablish)
		assert.Contains(t, rec.errs[0].Error(), "channel failed to establish")
		assert.Equal(t, []State{Connecting, Closed, Connecting}, rec.states[:3])
	})
}

func TestSession_CloseSchedulesReconnect(t *testing.T) {
	d := &fakeDialer{}
	s, l, rec := newTestSession(t, d, Config{ReconnectDelay: 20 * time.Millisecond})
	l.do(s.Connect)
	waitState(t, l, s, Open)

	first := d.last()
	first.dropErr <- errors.New("reset by peer")

	require.Eventually(t, func() bool { return d.dials.Load() == 2 }, time.Second, 5*time.Millisecond)
	waitState(t, l, s, Open)
	assert.NotSame(t, first, d.last())

	l.do(func() {
		assert.Equal(t, []State{Connecting, Open, Closed, Connecting, Open}, rec.states)
		require.Len(t, rec.errs, 1)
		assert.ErrorIs(t, rec.errs[0], ErrClosed)
	})
}

func TestSession_DisconnectCancelsPendingReconnect(t *testing.T) {
	d := &fakeDialer{}
	s, l, rec := newTestSession(t, d, Config{ReconnectDelay: 50 * time.Millisecond})
	l.do(s.Connect)
	waitState(t, l, s, Open)

	d.last().dropErr <- errors.New("reset by peer")
	waitState(t, l, s, Closed)
	l.do(s.Disconnect)

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), d.dials.Load())
	l.do(func() {
		assert.Equal(t, Idle, s.State())
		assert.Equal(t, []State{Connecting, Open, Closed, Idle}, rec.states)
	})
}

func TestSession_DisconnectWhileOpenClosesChannel(t *testing.T) {
	d := &fakeDialer{}
	s, l, rec := newTestSession(t, d, Config{ReconnectDelay: 10 * time.Millisecond})
	l.do(s.Connect)
	waitState(t, l, s, Open)

	c := d.last()
	l.do(s.Disconnect)
	assert.True(t, c.isClosed())

	// the read error from closing must not trigger Closed or a retry
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), d.dials.Load())
	l.do(func() {
		assert.Equal(t, []State{Connecting, Open, Idle}, rec.states)
		assert.Empty(t, rec.errs)
	})
}

func TestSession_DisconnectDuringDialDiscardsResult(t *testing.T) {
	gate := make(chan struct{})
	d := &fakeDialer{gate: gate}
	s, l, _ := newTestSession(t, d, Config{})

	l.do(s.Connect)
	l.do(s.Disconnect)
	close(gate)

	require.Eventually(t, func() bool {
		c := d.last()
		return c != nil && c.isClosed()
	}, time.Second, 5*time.Millisecond)
	l.do(func() { assert.Equal(t, Idle, s.State()) })
}

func TestSession_MaxReconnectAttempts(t *testing.T) {
	d := &fakeDialer{}
	d.fail.Store(true)
	s, l, rec := newTestSession(t, d, Config{
		ReconnectDelay:       5 * time.Millisecond,
		MaxReconnectAttempts: 2,
	})

	l.do(s.Connect)
	require.Eventually(t, func() bool {
		var exhausted bool
		l.do(func() {
			for _, err := range rec.errs {
				if errors.Is(err, ErrRetriesExhausted) {
					exhausted = true
				}
			}
		})
		return exhausted
	}, time.Second, 5*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(2), d.dials.Load())
	l.do(func() { assert.Equal(t, Closed, s.State()) })

	// a manual connect starts a fresh budget
	d.fail.Store(false)
	l.do(s.Connect)
	waitState(t, l, s, Open)
}

// ────────────────────────────────────────────────────────────
// gorilla/websocket dialer
// ────────────────────────────────────────────────────────────

func TestWSDialer_EndToEnd(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"initial","data":[{"symbol":"TCS","price":3900,"sector":"IT"}]}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/prices"
	s, l, rec := newTestSession(t, WSDialer{HandshakeTimeout: time.Second}, Config{URL: wsURL})

	l.do(s.Connect)
	require.Eventually(t, func() bool {
		var n int
		l.do(func() { n = len(rec.messages) })
		return n == 1
	}, 2*time.Second, 10*time.Millisecond)

	l.do(func() {
		require.Len(t, rec.messages[0].Instruments, 1)
		assert.Equal(t, "TCS", rec.messages[0].Instruments[0].Symbol)
		s.Disconnect()
	})
}

func TestWSDialer_RefusedReportsEstablishError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	s, l, rec := newTestSession(t, WSDialer{HandshakeTimeout: time.Second}, Config{URL: wsURL, ReconnectDelay: time.Hour})
	l.do(s.Connect)
	waitState(t, l, s, Closed)
	l.do(func() {
		require.NotEmpty(t, rec.errs)
		assert.ErrorIs(t, rec.errs[0], ErrEstablish)
		s.Disconnect()
	})
}
