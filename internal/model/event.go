package model

import (
	"encoding/json"
	"time"
)

// StoreEventType names what kind of merge produced a StoreEvent.
type StoreEventType string

const (
	EventSnapshot    StoreEventType = "snapshot"
	EventPriceUpdate StoreEventType = "price_update"
)

// StoreEvent is announced after every committed merge into the
// reconciliation store. Snapshot events carry the full collection,
// price updates carry only the deltas that were applied. FeedAt is the
// upstream frame time when the push channel supplied one.
type StoreEvent struct {
	Type        StoreEventType `json:"type"`
	Mode        string         `json:"mode"`
	At          time.Time      `json:"at"`
	FeedAt      time.Time      `json:"feedAt,omitempty"`
	Instruments []Instrument   `json:"instruments,omitempty"`
	Deltas      []PriceDelta   `json:"deltas,omitempty"`

	// Resync is set on the first event a consumer receives after events
	// were dropped on its way. A consumer keeping its own copy should
	// refresh it from the source.
	Resync bool `json:"resync,omitempty"`
}

// JSON returns the JSON-encoded event (ignoring errors for hot-path usage).
func (e *StoreEvent) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}
