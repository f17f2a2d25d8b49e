package feed

import (
	"encoding/json"
	"time"

	"github.com/Atique-Syed1/Trading-bot/internal/model"
)

// Frame is an outbound frame in the push-channel wire format. Seq is an
// optional per-server sequence number that Classify ignores.
type Frame struct {
	Type      string `json:"type"`
	Seq       int64  `json:"seq,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Data      any    `json:"data"`
}

// SnapshotFrame builds an initial frame.
func SnapshotFrame(items []model.Instrument) Frame {
	if items == nil {
		items = []model.Instrument{}
	}
	return Frame{Type: TypeInitial, Data: items}
}

// DeltaFrame builds a price_update frame stamped with ts.
func DeltaFrame(ts time.Time, deltas []model.PriceDelta) Frame {
	if deltas == nil {
		deltas = []model.PriceDelta{}
	}
	return Frame{Type: TypePriceUpdate, Timestamp: ts.Format(time.RFC3339Nano), Data: deltas}
}

// Marshal encodes f.
func (f Frame) Marshal() ([]byte, error) { return json.Marshal(f) }
