// Package feed owns the live push channel: a connection state machine with
// fixed-delay reconnection, and classification of inbound frames.
//
// A Session is single-threaded. Every exported method must be called from the
// owner's event loop, and every I/O completion (dial result, frame, read
// error, timer fire) is handed back to that loop through the post function
// given to NewSession. Completions from a superseded connection attempt are
// recognised by epoch and dropped.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"
)

// State of a Session.
type State int

const (
	Idle State = iota
	Connecting
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	// ErrEstablish is reported when a dial attempt fails.
	ErrEstablish = errors.New("channel failed to establish")
	// ErrClosed is reported when an open channel drops.
	ErrClosed = errors.New("channel closed unexpectedly")
	// ErrRetriesExhausted is reported when MaxReconnectAttempts is reached.
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")
)

// Config holds session settings.
type Config struct {
	// URL of the push endpoint, e.g. "ws://localhost:8000/ws/prices".
	URL string

	// ReconnectDelay is the fixed delay after entering Closed. Defaults to 3s.
	ReconnectDelay time.Duration

	// DialTimeout bounds one connection attempt. Defaults to 10s.
	DialTimeout time.Duration

	// MaxReconnectAttempts bounds consecutive failed dials. Zero is unlimited.
	MaxReconnectAttempts int
}

func (c *Config) defaults() {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 3 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
}

// Handler receives session events on the owner's loop. Nil fields are skipped.
type Handler struct {
	OnState   func(State)
	OnMessage func(Message)
	OnError   func(error)

	// OnDrop is called for every unrecognized frame.
	OnDrop func(reason string)

	// OnReconnect is called each time a scheduled reconnect fires.
	OnReconnect func()
}

// Session is a reconnecting push-channel client.
type Session struct {
	cfg    Config
	dialer Dialer
	post   func(func())
	h      Handler
	log    *slog.Logger

	state      State
	epoch      uint64
	wantLive   bool
	conn       Conn
	cancelDial context.CancelFunc
	timer      *time.Timer
	failures   int
}

// NewSession creates an idle session. Returns an error if the URL is unparseable.
func NewSession(cfg Config, dialer Dialer, post func(func()), h Handler) (*Session, error) {
	cfg.defaults()
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("feed url: %w", err)
	}
	if dialer == nil {
		dialer = WSDialer{HandshakeTimeout: cfg.DialTimeout}
	}
	return &Session{
		cfg:    cfg,
		dialer: dialer,
		post:   post,
		h:      h,
		log:    slog.Default().With("component", "feed"),
	}, nil
}

// State reports the current connection state.
func (s *Session) State() State { return s.state }

// Connect starts a connection attempt and enables auto-reconnect.
// A no-op while Open or Connecting.
func (s *Session) Connect() {
	if s.state == Open || s.state == Connecting {
		return
	}
	s.wantLive = true
	s.failures = 0
	s.stopTimer()
	s.dial()
}

// Disconnect moves to Idle from any state. It cancels a pending reconnect,
// aborts an in-flight dial, closes the channel and invalidates any
// completions still on their way to the loop.
func (s *Session) Disconnect() {
	s.wantLive = false
	s.epoch++
	s.stopTimer()
	if s.cancelDial != nil {
		s.cancelDial()
		s.cancelDial = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.failures = 0
	s.setState(Idle)
}

func (s *Session) dial() {
	s.epoch++
	ep := s.epoch
	s.setState(Connecting)

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DialTimeout)
	s.cancelDial = cancel
	go func() {
		conn, err := s.dialer.Dial(ctx, s.cfg.URL)
		cancel()
		s.post(func() { s.onDial(ep, conn, err) })
	}()
}

func (s *Session) onDial(ep uint64, conn Conn, err error) {
	if ep != s.epoch {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	s.cancelDial = nil

	if err != nil {
		s.failures++
		s.log.Warn("dial failed", "url", s.cfg.URL, "attempt", s.failures, "error", err)
		s.emitError(fmt.Errorf("%w: %v", ErrEstablish, err))
		s.enterClosed()
		return
	}

	s.conn = conn
	s.failures = 0
	s.log.Info("connected", "url", s.cfg.URL)
	s.setState(Open)
	go s.readLoop(ep, conn)
}

// readLoop classifies frames off the loop and posts them back in arrival order.
func (s *Session) readLoop(ep uint64, conn Conn) {
	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			s.post(func() { s.onClosed(ep, err) })
			return
		}
		msg := Classify(raw)
		s.post(func() { s.onMessage(ep, msg) })
	}
}

func (s *Session) onMessage(ep uint64, msg Message) {
	if ep != s.epoch || s.state != Open {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("message handler panic", "kind", msg.Kind.String(), "panic", r)
		}
	}()

	if msg.Kind == KindUnrecognized {
		s.log.Warn("dropping frame", "reason", msg.Reason)
		if s.h.OnDrop != nil {
			s.h.OnDrop(msg.Reason)
		}
		return
	}
	if msg.Dropped > 0 {
		s.log.Warn("dropped malformed entries", "kind", msg.Kind.String(), "count", msg.Dropped)
	}
	if s.h.OnMessage != nil {
		s.h.OnMessage(msg)
	}
}

func (s *Session) onClosed(ep uint64, err error) {
	if ep != s.epoch {
		return
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.log.Warn("disconnected", "error", err)
	s.emitError(fmt.Errorf("%w: %v", ErrClosed, err))
	s.enterClosed()
}

// enterClosed schedules the single reconnect for this Closed period while
// live mode is still wanted.
func (s *Session) enterClosed() {
	s.setState(Closed)
	if !s.wantLive {
		return
	}
	if limit := s.cfg.MaxReconnectAttempts; limit > 0 && s.failures >= limit {
		s.log.Error("giving up", "attempts", s.failures)
		s.emitError(fmt.Errorf("%w after %d attempts", ErrRetriesExhausted, s.failures))
		return
	}

	ep := s.epoch
	s.log.Info("reconnecting", "in", s.cfg.ReconnectDelay.String())
	s.timer = time.AfterFunc(s.cfg.ReconnectDelay, func() {
		s.post(func() { s.onTimer(ep) })
	})
}

func (s *Session) onTimer(ep uint64) {
	if ep != s.epoch || s.state != Closed || !s.wantLive {
		return
	}
	s.timer = nil
	if s.h.OnReconnect != nil {
		s.h.OnReconnect()
	}
	s.dial()
}

func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) setState(st State) {
	if s.state == st {
		return
	}
	s.state = st
	if s.h.OnState != nil {
		s.h.OnState(st)
	}
}

func (s *Session) emitError(err error) {
	if s.h.OnError != nil {
		s.h.OnError(err)
	}
}
