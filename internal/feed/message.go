package feed

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Atique-Syed1/Trading-bot/internal/model"
)

// Frame types on the wire.
const (
	TypeInitial     = "initial"
	TypePriceUpdate = "price_update"
)

// Kind tags a classified frame.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindSnapshot
	KindDelta
)

func (k Kind) String() string {
	switch k {
	case KindSnapshot:
		return "snapshot"
	case KindDelta:
		return "delta"
	default:
		return "unrecognized"
	}
}

// Message is a classified inbound frame. Only the fields for its Kind are set.
type Message struct {
	Kind Kind

	// KindSnapshot
	Instruments []model.Instrument

	// KindDelta
	Deltas    []model.PriceDelta
	Timestamp time.Time

	// Entries that failed to decode and were dropped individually.
	Dropped int

	// KindUnrecognized
	Reason string
}

type envelope struct {
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// deltaEntry requires a numeric price; the rest default to zero.
type deltaEntry struct {
	Symbol        string   `json:"symbol"`
	Price         *float64 `json:"price"`
	OldPrice      float64  `json:"oldPrice"`
	Change        float64  `json:"change"`
	ChangePercent float64  `json:"changePercent"`
}

// Classify decodes a raw text frame. It never fails: anything that is not a
// well-formed initial or price_update frame comes back as KindUnrecognized
// with a reason. Individual bad entries inside a well-formed frame are
// dropped and counted without rejecting the frame.
func Classify(raw []byte) Message {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return unrecognized("unparseable frame: %v", err)
	}

	switch env.Type {
	case TypeInitial:
		items, bad, err := decodeEntries(env.Data)
		if err != nil {
			return unrecognized("initial: %v", err)
		}
		msg := Message{Kind: KindSnapshot, Instruments: make([]model.Instrument, 0, len(items)), Dropped: bad}
		for _, it := range items {
			var inst model.Instrument
			if err := json.Unmarshal(it, &inst); err != nil || strings.TrimSpace(inst.Symbol) == "" {
				msg.Dropped++
				continue
			}
			msg.Instruments = append(msg.Instruments, inst)
		}
		return msg

	case TypePriceUpdate:
		items, bad, err := decodeEntries(env.Data)
		if err != nil {
			return unrecognized("price_update: %v", err)
		}
		msg := Message{
			Kind:      KindDelta,
			Deltas:    make([]model.PriceDelta, 0, len(items)),
			Timestamp: parseTimestamp(env.Timestamp),
			Dropped:   bad,
		}
		for _, it := range items {
			var e deltaEntry
			if err := json.Unmarshal(it, &e); err != nil || e.Price == nil {
				msg.Dropped++
				continue
			}
			// Entries without a symbol are kept so the store can count them as skipped.
			msg.Deltas = append(msg.Deltas, model.PriceDelta{
				Symbol:        e.Symbol,
				Price:         *e.Price,
				Change:        e.Change,
				ChangePercent: e.ChangePercent,
				OldPrice:      e.OldPrice,
			})
		}
		return msg

	case "":
		return unrecognized("missing type")
	default:
		return unrecognized("unknown type %q", env.Type)
	}
}

func unrecognized(format string, args ...any) Message {
	return Message{Kind: KindUnrecognized, Reason: fmt.Sprintf(format, args...)}
}

// decodeEntries splits data into raw array elements. Null elements are
// counted as bad.
func decodeEntries(data json.RawMessage) ([]json.RawMessage, int, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, 0, fmt.Errorf("missing data")
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, 0, fmt.Errorf("data is not an array: %w", err)
	}
	out := items[:0]
	bad := 0
	for _, it := range items {
		if string(it) == "null" {
			bad++
			continue
		}
		out = append(out, it)
	}
	return out, bad, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// parseTimestamp accepts RFC 3339 or a zone-less ISO timestamp. Unparseable
// input yields the zero time.
func parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts
		}
	}
	return time.Time{}
}
