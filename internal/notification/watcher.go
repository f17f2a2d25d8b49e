package notification

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Atique-Syed1/Trading-bot/internal/model"
)

// BuyWatcher turns store snapshots into one alert per symbol that is both
// Compliant and signalling Buy. A symbol is alerted again only after it has
// left that state.
type BuyWatcher struct {
	n   Notifier
	log *slog.Logger

	// Watchlist, when set and non-empty, restricts alerts to its symbols.
	Watchlist func() []string

	// OnSent is called after each delivered alert (for metrics).
	OnSent func(symbol string)

	alerted map[string]bool
}

// NewBuyWatcher creates a watcher delivering to n.
func NewBuyWatcher(n Notifier) *BuyWatcher {
	return &BuyWatcher{
		n:       n,
		log:     slog.Default().With("component", "alerts"),
		alerted: make(map[string]bool),
	}
}

// Run consumes events until ctx is done or events closes.
func (w *BuyWatcher) Run(ctx context.Context, events <-chan model.StoreEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			w.Handle(ctx, ev)
		}
	}
}

// Handle processes one event. Price updates do not change signals and are
// ignored. Not safe for concurrent use.
func (w *BuyWatcher) Handle(ctx context.Context, ev model.StoreEvent) {
	if ev.Type != model.EventSnapshot {
		return
	}
	allowed := w.watchlist()

	eligible := make(map[string]bool)
	for _, inst := range ev.Instruments {
		if inst.ComplianceStatus != model.Compliant || inst.Technicals.Signal != model.SignalBuy {
			continue
		}
		if allowed != nil && !allowed[inst.Symbol] {
			continue
		}
		eligible[inst.Symbol] = true
		if w.alerted[inst.Symbol] {
			continue
		}
		if err := w.n.Send(ctx, FormatBuyAlert(inst)); err != nil {
			// retried on the next snapshot
			w.log.Warn("alert delivery failed", "symbol", inst.Symbol, "error", err)
			continue
		}
		w.alerted[inst.Symbol] = true
		if w.OnSent != nil {
			w.OnSent(inst.Symbol)
		}
	}

	for sym := range w.alerted {
		if !eligible[sym] {
			delete(w.alerted, sym)
		}
	}
}

func (w *BuyWatcher) watchlist() map[string]bool {
	if w.Watchlist == nil {
		return nil
	}
	syms := w.Watchlist()
	if len(syms) == 0 {
		return nil
	}
	out := make(map[string]bool, len(syms))
	for _, s := range syms {
		out[strings.ToUpper(strings.TrimSpace(s))] = true
	}
	return out
}

// FormatBuyAlert renders the buy-signal alert for inst.
func FormatBuyAlert(inst model.Instrument) Alert {
	t := inst.Technicals
	var b strings.Builder
	fmt.Fprintf(&b, "%s - %s\n", inst.Symbol, inst.Name)
	fmt.Fprintf(&b, "Price: ₹%.2f\n", inst.Price)
	fmt.Fprintf(&b, "RSI: %.1f (strength %d)\n", t.RSI, t.SignalStrength)
	fmt.Fprintf(&b, "Target: ₹%.2f\n", t.Target)
	fmt.Fprintf(&b, "Stop Loss: ₹%.2f\n", t.StopLoss)
	fmt.Fprintf(&b, "Potential: +%.1f%%\n", t.PotentialGainPercent)
	fmt.Fprintf(&b, "Compliance: %s\n", inst.ComplianceStatus)
	fmt.Fprintf(&b, "Sector: %s", inst.Sector)
	return Alert{
		Level:   AlertInfo,
		Symbol:  inst.Symbol,
		Title:   "BUY SIGNAL DETECTED",
		Message: b.String(),
		Signal: &BuySignal{
			Symbol:               inst.Symbol,
			Name:                 inst.Name,
			Sector:               inst.Sector,
			Price:                inst.Price,
			RSI:                  t.RSI,
			Strength:             t.SignalStrength,
			Target:               t.Target,
			StopLoss:             t.StopLoss,
			PotentialGainPercent: t.PotentialGainPercent,
			Compliance:           string(inst.ComplianceStatus),
		},
	}
}
