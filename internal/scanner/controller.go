// Package scanner coordinates the data sources of the scanner. A Controller
// owns the reconciliation store and the stream session and switches between
// offline generation and the live feed so that only one of them is ever
// authoritative.
//
// Every command and every I/O completion runs as a closure on the
// controller's loop goroutine, so the store is mutated by a single writer.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Atique-Syed1/Trading-bot/internal/compliance"
	"github.com/Atique-Syed1/Trading-bot/internal/feed"
	"github.com/Atique-Syed1/Trading-bot/internal/logger"
	"github.com/Atique-Syed1/Trading-bot/internal/markethours"
	"github.com/Atique-Syed1/Trading-bot/internal/model"
	"github.com/Atique-Syed1/Trading-bot/internal/offline"
	"github.com/Atique-Syed1/Trading-bot/internal/reconcile"
	"github.com/Atique-Syed1/Trading-bot/internal/signal"
)

var (
	ErrScanInProgress = errors.New("scan already in progress")
	ErrLoopStopped    = errors.New("scanner loop stopped")
	ErrUnknownMode    = errors.New("unknown mode")
	ErrNoBackend      = errors.New("no backend configured for live scans")
	ErrNotFound       = errors.New("symbol not in universe")
)

// Mode selects the authoritative data source.
type Mode string

const (
	ModeOffline Mode = "offline"
	ModeLive    Mode = "live"
)

// ParseMode accepts "live" or "offline".
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeOffline, ModeLive:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// BannerCategory groups user-visible errors. A success in one category
// clears only a banner of that category.
type BannerCategory string

const (
	BannerTransport BannerCategory = "transport"
	BannerFetch     BannerCategory = "fetch"
)

// Fetch banner messages.
const (
	ScanFailedMessage   = "Failed to fetch scan results. The backend may be unreachable."
	StatusFailedMessage = "Failed to fetch backend status."
)

// Banner is the single user-visible error message.
type Banner struct {
	Category BannerCategory `json:"category"`
	Message  string         `json:"message"`
}

// Backend runs on-demand scans in live mode.
type Backend interface {
	Scan(ctx context.Context) ([]model.Instrument, error)
}

// StatusChecker is implemented by backends that can report their status.
// The controller asks once on every entry into live mode.
type StatusChecker interface {
	CheckStatus(ctx context.Context) error
}

// Config configures a Controller.
type Config struct {
	Feed feed.Config

	// InitialMode is entered when Run starts. Defaults to offline.
	InitialMode Mode

	// ScanDelay is the artificial latency of an offline manual scan.
	// Defaults to 800ms.
	ScanDelay time.Duration

	// Catalog is the offline universe. Defaults to offline.DefaultCatalog().
	Catalog []offline.CatalogEntry

	// Rescore re-runs the local screener and signal engine over live
	// snapshots instead of trusting the backend's verdicts.
	Rescore    bool
	Policy     compliance.Policy
	Thresholds signal.Thresholds
}

func (c *Config) defaults() {
	if c.InitialMode == "" {
		c.InitialMode = ModeOffline
	}
	if c.ScanDelay <= 0 {
		c.ScanDelay = 800 * time.Millisecond
	}
	if c.Catalog == nil {
		c.Catalog = offline.DefaultCatalog()
	}
	if c.Policy.MaxDebtRatio == 0 && c.Policy.ProhibitedSectors == nil {
		c.Policy = compliance.DefaultPolicy()
	}
	if c.Thresholds.Period == 0 {
		c.Thresholds = signal.DefaultThresholds()
	}
}

// Hooks observe the controller, for metrics and health. They run on the
// loop and must not block or call back into the Controller. Nil fields are
// skipped.
type Hooks struct {
	OnMode         func(Mode)
	OnSessionState func(feed.State)
	OnReconnect    func()
	OnFrame        func(kind feed.Kind, droppedEntries int)
	OnDeltas       func(reconcile.Result)
	OnSnapshot     func(size int)
	OnScan         func(mode Mode, took time.Duration, err error)
	OnEventDropped func()
	OnCommit       func(at time.Time, size int)
	OnStatus       func(err error)
}

// Options carry the collaborators of a Controller.
type Options struct {
	// Dialer opens the push channel. Nil uses feed.WSDialer.
	Dialer feed.Dialer

	// Backend serves live manual scans. Nil makes a live ManualScan fail
	// with ErrNoBackend.
	Backend Backend

	// Generator produces offline universes. Nil uses a time-seeded one.
	Generator *offline.Generator

	// Events receives a StoreEvent after every committed merge. Sends never
	// block; a full channel drops the event, and the next event sent is a
	// full snapshot marked Resync.
	Events chan<- model.StoreEvent

	Hooks Hooks
}

// Controller is the mode controller. Create with New, then call Run.
type Controller struct {
	cfg     Config
	backend Backend
	gen     *offline.Generator
	events  chan<- model.StoreEvent
	hooks   Hooks
	log     *slog.Logger
	now     func() time.Time

	ops     chan func()
	done    chan struct{}
	stopped bool
	runCtx  context.Context

	// Owned by the loop.
	mode      Mode
	epoch     uint64
	store     *reconcile.Store
	session   *feed.Session
	banner    *Banner
	scanning  bool
	scanTimer *time.Timer
	resync    bool // an event was dropped; the next one is a full snapshot
}

// New creates a Controller. The feed URL is validated here.
func New(cfg Config, opts Options) (*Controller, error) {
	cfg.defaults()
	if _, err := ParseMode(string(cfg.InitialMode)); err != nil {
		return nil, err
	}
	gen := opts.Generator
	if gen == nil {
		gen = offline.NewGenerator(time.Now().UnixNano(),
			offline.WithPolicy(cfg.Policy), offline.WithThresholds(cfg.Thresholds))
	}

	c := &Controller{
		cfg:     cfg,
		backend: opts.Backend,
		gen:     gen,
		events:  opts.Events,
		hooks:   opts.Hooks,
		log:     slog.Default().With("component", "scanner"),
		now:     time.Now,
		ops:     make(chan func(), 256),
		done:    make(chan struct{}),
		runCtx:  context.Background(),
		store:   reconcile.New(),
	}

	sess, err := feed.NewSession(cfg.Feed, opts.Dialer, c.post, feed.Handler{
		OnState:     c.onSessionState,
		OnMessage:   c.onMessage,
		OnError:     c.onSessionError,
		OnDrop:      c.onDrop,
		OnReconnect: c.onReconnect,
	})
	if err != nil {
		return nil, err
	}
	c.session = sess
	return c, nil
}

// Run enters the initial mode and processes commands until ctx is done.
// On return the session is disconnected and pending work is discarded.
// Run must be called once.
func (c *Controller) Run(ctx context.Context) error {
	c.runCtx = ctx
	defer close(c.done)

	c.setMode(c.cfg.InitialMode)
	for {
		select {
		case <-ctx.Done():
			c.teardown()
			return nil
		case fn := <-c.ops:
			fn()
		}
	}
}

// post queues fn for the loop. After teardown fn is discarded.
func (c *Controller) post(fn func()) {
	select {
	case c.ops <- fn:
	case <-c.done:
	}
}

// call runs fn on the loop and waits for its result.
func (c *Controller) call(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	select {
	case c.ops <- func() { errc <- fn() }:
	case <-c.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errc:
		return err
	case <-c.done:
		select {
		case err := <-errc:
			return err
		default:
			return ErrLoopStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetMode switches the authoritative source. Switching to the current mode
// is a no-op.
func (c *Controller) SetMode(ctx context.Context, m Mode) error {
	if _, err := ParseMode(string(m)); err != nil {
		return err
	}
	return c.call(ctx, func() error {
		c.setMode(m)
		return nil
	})
}

// ManualScan starts a scan and returns once it is dispatched. Offline, a new
// universe is generated after ScanDelay; live, the backend is asked for a
// full scan and the answer replaces the collection as a snapshot.
func (c *Controller) ManualScan(ctx context.Context) error {
	return c.call(ctx, func() error {
		if c.scanning {
			return ErrScanInProgress
		}
		if c.mode == ModeLive && c.backend == nil {
			return ErrNoBackend
		}
		c.scanning = true
		ep := c.epoch
		mode := c.mode
		start := c.now()
		scanCtx := logger.WithTraceID(c.runCtx, logger.NewTraceID())
		c.log.Info("scan started", append([]any{"mode", string(mode)}, logger.LogWithTrace(scanCtx)...)...)

		switch mode {
		case ModeOffline:
			c.scanTimer = time.AfterFunc(c.cfg.ScanDelay, func() {
				c.post(func() { c.finishOfflineScan(scanCtx, ep, start) })
			})
		case ModeLive:
			go func() {
				items, err := c.backend.Scan(scanCtx)
				c.post(func() { c.finishLiveScan(scanCtx, ep, start, items, err) })
			}()
		}
		return nil
	})
}

// Select marks symbol as the detail-view instrument. An empty symbol clears
// the selection.
func (c *Controller) Select(ctx context.Context, symbol string) error {
	return c.call(ctx, func() error {
		if !c.store.Select(symbol) {
			return fmt.Errorf("%w: %s", ErrNotFound, symbol)
		}
		return nil
	})
}

// State is an observable copy of the controller.
type State struct {
	Mode           Mode                 `json:"mode"`
	Instruments    []model.Instrument   `json:"instruments"`
	PreviousPrices map[string]float64   `json:"previousPrices"`
	Connection     string               `json:"connectionState"`
	LastUpdate     time.Time            `json:"lastUpdateTimestamp"`
	UpdateCounter  uint64               `json:"updateCounter"`
	Selected       *reconcile.Selection `json:"selected,omitempty"`
	Banner         *Banner              `json:"banner,omitempty"`
	Scanning       bool                 `json:"scanning"`
	MarketStatus   markethours.Status   `json:"marketStatus"`
}

// State returns a copy of the current state.
func (c *Controller) State(ctx context.Context) (State, error) {
	var st State
	err := c.call(ctx, func() error {
		st = State{
			Mode:           c.mode,
			Instruments:    c.store.Instruments(),
			PreviousPrices: c.store.PreviousPrices(),
			Connection:     c.session.State().String(),
			LastUpdate:     c.store.LastUpdate(),
			UpdateCounter:  c.store.UpdateCounter(),
			Scanning:       c.scanning,
			MarketStatus:   markethours.At(c.now()),
		}
		if sel, ok := c.store.Selected(); ok {
			st.Selected = &sel
		}
		if c.banner != nil {
			b := *c.banner
			st.Banner = &b
		}
		return nil
	})
	return st, err
}

// ────────────────────────────────────────────────────────────
// Loop-side handlers
// ────────────────────────────────────────────────────────────

func (c *Controller) setMode(m Mode) {
	if m == c.mode {
		return
	}
	c.epoch++
	c.cancelScan()
	c.mode = m
	c.log.Info("mode changed", "mode", string(m))

	switch m {
	case ModeOffline:
		c.session.Disconnect()
		c.store.ClearPrevious()
		c.clearBanner(BannerTransport)
		c.commitSnapshot(c.gen.Generate(c.cfg.Catalog))
	case ModeLive:
		c.session.Connect()
		c.checkStatus()
	}
	if c.hooks.OnMode != nil {
		c.hooks.OnMode(m)
	}
}

// checkStatus fetches the backend status off the loop. An answer that
// arrives after the live period it belongs to has ended is discarded.
func (c *Controller) checkStatus() {
	sc, ok := c.backend.(StatusChecker)
	if !ok {
		return
	}
	ep := c.epoch
	ctx := c.runCtx
	go func() {
		err := sc.CheckStatus(ctx)
		c.post(func() { c.finishStatus(ep, err) })
	}()
}

func (c *Controller) finishStatus(ep uint64, err error) {
	if ep != c.epoch || c.stopped {
		return
	}
	if c.hooks.OnStatus != nil {
		c.hooks.OnStatus(err)
	}
	if err != nil {
		c.log.Warn("backend status check failed", "error", err)
		c.setBanner(BannerFetch, StatusFailedMessage)
		return
	}
	c.clearBanner(BannerFetch)
}

func (c *Controller) cancelScan() {
	if c.scanTimer != nil {
		c.scanTimer.Stop()
		c.scanTimer = nil
	}
	c.scanning = false
}

func (c *Controller) teardown() {
	c.stopped = true
	c.epoch++
	c.cancelScan()
	c.session.Disconnect()
	c.log.Info("scanner stopped")
}

func (c *Controller) finishOfflineScan(ctx context.Context, ep uint64, start time.Time) {
	if ep != c.epoch || c.stopped {
		c.log.Debug("discarding stale offline scan", logger.LogWithTrace(ctx)...)
		return
	}
	c.scanTimer = nil
	c.scanning = false
	c.commitSnapshot(c.gen.Generate(c.cfg.Catalog))
	c.scanDone(ctx, ModeOffline, start, nil)
}

func (c *Controller) finishLiveScan(ctx context.Context, ep uint64, start time.Time, items []model.Instrument, err error) {
	if ep != c.epoch || c.stopped {
		c.log.Debug("discarding stale live scan", logger.LogWithTrace(ctx)...)
		return
	}
	c.scanning = false
	if err != nil {
		c.setBanner(BannerFetch, ScanFailedMessage)
		c.scanDone(ctx, ModeLive, start, err)
		return
	}
	c.clearBanner(BannerFetch)
	c.commitSnapshot(c.rescore(items))
	c.scanDone(ctx, ModeLive, start, nil)
}

func (c *Controller) scanDone(ctx context.Context, mode Mode, start time.Time, err error) {
	took := c.now().Sub(start)
	attrs := append([]any{"mode", string(mode), "took", took.String()}, logger.LogWithTrace(ctx)...)
	if err != nil {
		c.log.Warn("scan failed", append(attrs, "error", err)...)
	} else {
		c.log.Info("scan complete", append(attrs, "instruments", c.store.Len())...)
	}
	if c.hooks.OnScan != nil {
		c.hooks.OnScan(mode, took, err)
	}
}

func (c *Controller) onSessionState(st feed.State) {
	if st == feed.Open {
		c.clearBanner(BannerTransport)
	}
	if c.hooks.OnSessionState != nil {
		c.hooks.OnSessionState(st)
	}
}

func (c *Controller) onSessionError(err error) {
	if c.mode != ModeLive {
		return
	}
	c.setBanner(BannerTransport, err.Error())
}

func (c *Controller) onReconnect() {
	if c.hooks.OnReconnect != nil {
		c.hooks.OnReconnect()
	}
}

func (c *Controller) onDrop(string) {
	if c.hooks.OnFrame != nil {
		c.hooks.OnFrame(feed.KindUnrecognized, 0)
	}
}

func (c *Controller) onMessage(msg feed.Message) {
	if c.hooks.OnFrame != nil {
		c.hooks.OnFrame(msg.Kind, msg.Dropped)
	}
	if c.mode != ModeLive {
		return
	}
	switch msg.Kind {
	case feed.KindSnapshot:
		c.commitSnapshot(c.rescore(msg.Instruments))
	case feed.KindDelta:
		res := c.store.ApplyDeltas(msg.Deltas)
		if c.hooks.OnDeltas != nil {
			c.hooks.OnDeltas(res)
		}
		if res.Ignored > 0 || res.Skipped > 0 {
			c.log.Debug("deltas not applied", "ignored", res.Ignored, "skipped", res.Skipped)
		}
		if res.Applied > 0 {
			c.emit(model.StoreEvent{Type: model.EventPriceUpdate, Deltas: res.Merged, FeedAt: msg.Timestamp})
		}
	}
}

func (c *Controller) rescore(items []model.Instrument) []model.Instrument {
	if !c.cfg.Rescore {
		return items
	}
	out := make([]model.Instrument, len(items))
	for i, inst := range items {
		inst = inst.Clone()
		c.cfg.Policy.Apply(&inst)
		if len(inst.PriceHistory) > 0 {
			inst.Technicals = c.cfg.Thresholds.Compute(inst.PriceHistory)
		}
		out[i] = inst
	}
	return out
}

func (c *Controller) commitSnapshot(items []model.Instrument) {
	c.store.ApplySnapshot(items)
	if c.hooks.OnSnapshot != nil {
		c.hooks.OnSnapshot(c.store.Len())
	}
	c.emit(model.StoreEvent{Type: model.EventSnapshot, Instruments: c.store.Instruments()})
}

func (c *Controller) emit(ev model.StoreEvent) {
	ev.Mode = string(c.mode)
	ev.At = c.store.LastUpdate()
	if c.hooks.OnCommit != nil {
		c.hooks.OnCommit(ev.At, c.store.Len())
	}
	if c.events == nil {
		return
	}
	if c.resync {
		ev.Type = model.EventSnapshot
		ev.Instruments = c.store.Instruments()
		ev.Deltas = nil
		ev.Resync = true
	}
	select {
	case c.events <- ev:
		c.resync = false
	default:
		c.resync = true
		if c.hooks.OnEventDropped != nil {
			c.hooks.OnEventDropped()
		}
	}
}

func (c *Controller) setBanner(cat BannerCategory, msg string) {
	c.banner = &Banner{Category: cat, Message: msg}
}

func (c *Controller) clearBanner(cat BannerCategory) {
	if c.banner != nil && c.banner.Category == cat {
		c.banner = nil
	}
}
