// Package notification delivers scanner alerts to external channels
// (Telegram, webhooks, logs).
package notification

import (
	"context"
	"errors"
	"log/slog"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Symbol  string     `json:"symbol,omitempty"`
	Title   string     `json:"title"`
	Message string     `json:"message"`

	// Signal is set on buy-signal alerts for channels that take
	// structured payloads.
	Signal *BuySignal `json:"signal,omitempty"`
}

// BuySignal is the machine-readable form of a buy-signal alert.
type BuySignal struct {
	Symbol               string  `json:"symbol"`
	Name                 string  `json:"name"`
	Sector               string  `json:"sector"`
	Price                float64 `json:"price"`
	RSI                  float64 `json:"rsi"`
	Strength             int     `json:"strength"`
	Target               float64 `json:"target"`
	StopLoss             float64 `json:"stopLoss"`
	PotentialGainPercent float64 `json:"potentialGainPercent"`
	Compliance           string  `json:"compliance"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts (useful for development).
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: slog.Default().With("component", "notify")}
}

func (n *LogNotifier) Send(_ context.Context, alert Alert) error {
	n.log.Info(alert.Title, "level", string(alert.Level), "symbol", alert.Symbol, "message", alert.Message)
	return nil
}

// Multi sends every alert to all notifiers and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
