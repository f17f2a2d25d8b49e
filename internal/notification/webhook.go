package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Webhook event names.
const (
	WebhookEventBuySignal = "buy_signal"
	WebhookEventAlert     = "alert"
)

// webhookPayload is the JSON body posted for every alert. Buy-signal alerts
// carry the structured signal next to the rendered text.
type webhookPayload struct {
	Event   string     `json:"event"`
	Level   AlertLevel `json:"level"`
	Symbol  string     `json:"symbol,omitempty"`
	Title   string     `json:"title"`
	Text    string     `json:"text"`
	Signal  *BuySignal `json:"signal,omitempty"`
	SentAt  time.Time  `json:"sentAt"`
	Service string     `json:"service"`
}

// WebhookNotifier posts alerts as JSON to an HTTP endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
	log    *slog.Logger
	now    func() time.Time
}

// NewWebhookNotifier posts to url with a 10s timeout.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    slog.Default().With("component", "webhook"),
		now:    time.Now,
	}
}

func (w *WebhookNotifier) payload(alert Alert) webhookPayload {
	p := webhookPayload{
		Event:   WebhookEventAlert,
		Level:   alert.Level,
		Symbol:  alert.Symbol,
		Title:   alert.Title,
		Text:    alert.Message,
		Signal:  alert.Signal,
		SentAt:  w.now().UTC(),
		Service: "scanner",
	}
	if alert.Signal != nil {
		p.Event = WebhookEventBuySignal
	}
	return p
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(w.payload(alert))
	if err != nil {
		return fmt.Errorf("webhook: encode %s: %w", alert.Symbol, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("webhook: status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	w.log.Debug("alert delivered", "symbol", alert.Symbol, "title", alert.Title)
	return nil
}
