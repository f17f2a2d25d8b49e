package redis

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Atique-Syed1/Trading-bot/internal/model"
)

// Subscribe streams decoded store events from channel (UpdatesChannel when
// empty) until ctx is cancelled. Undecodable payloads are logged and skipped.
// The returned channel is closed when the subscription ends.
func (c *Client) Subscribe(ctx context.Context, channel string) (<-chan model.StoreEvent, error) {
	if channel == "" {
		channel = UpdatesChannel
	}
	sub := c.rdb.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan model.StoreEvent, 64)
	log := slog.Default().With("component", "subscriber", "channel", channel)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				var ev model.StoreEvent
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					log.Warn("skipping undecodable event", "error", err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
