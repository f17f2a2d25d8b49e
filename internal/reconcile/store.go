// Package reconcile holds the canonical instrument collection and merges
// full snapshots and incremental price deltas into it.
//
// A Store is not safe for concurrent use. It is owned by a single event
// loop, which is what makes the read-then-write on the previous-price map
// safe without locks.
package reconcile

import (
	"strings"
	"time"

	"github.com/Atique-Syed1/Trading-bot/internal/model"
)

// Result summarises one ApplyDeltas batch.
type Result struct {
	Applied int // deltas merged into a known instrument
	Ignored int // symbol not in the current universe
	Skipped int // entry without a symbol

	// Merged holds the applied deltas in batch order.
	Merged []model.PriceDelta
}

// Selection is the projection of the currently selected instrument.
type Selection struct {
	Symbol string
	Price  float64
	// Instrument is a copy of the canonical record as of the last refresh.
	Instrument model.Instrument
}

// Store is an order-preserving instrument collection with O(1) symbol lookup
// and a side map of prices observed before the latest delta per symbol.
type Store struct {
	items    []model.Instrument
	index    map[string]int
	previous map[string]float64

	selected    string
	selection   Selection
	hasSelected bool

	updateCounter uint64
	lastUpdate    time.Time
	now           func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		index:    make(map[string]int),
		previous: make(map[string]float64),
		now:      time.Now,
	}
}

// ApplySnapshot replaces the collection in the order received and clears
// the previous-price map. A repeated symbol keeps its first occurrence.
// Entries without a symbol are dropped. The selection is re-resolved against
// the new collection and dropped if its symbol is gone.
func (s *Store) ApplySnapshot(items []model.Instrument) {
	s.items = make([]model.Instrument, 0, len(items))
	s.index = make(map[string]int, len(items))
	for _, it := range items {
		if strings.TrimSpace(it.Symbol) == "" {
			continue
		}
		if _, dup := s.index[it.Symbol]; dup {
			continue
		}
		s.index[it.Symbol] = len(s.items)
		s.items = append(s.items, it.Clone())
	}
	s.previous = make(map[string]float64)

	if s.hasSelected {
		if i, ok := s.index[s.selected]; ok {
			s.project(i)
		} else {
			s.clearSelection()
		}
	}
	s.touch()
}

// ApplyDeltas merges price-only updates in place. For each known symbol the
// current price is recorded as previous before it is overwritten; history,
// compliance and sector are left alone. Unknown symbols never grow the
// collection. One bad entry does not stop the rest of the batch.
func (s *Store) ApplyDeltas(deltas []model.PriceDelta) Result {
	var res Result
	refreshSelected := false
	for _, d := range deltas {
		if strings.TrimSpace(d.Symbol) == "" {
			res.Skipped++
			continue
		}
		i, ok := s.index[d.Symbol]
		if !ok {
			res.Ignored++
			continue
		}

		inst := &s.items[i]
		s.previous[d.Symbol] = inst.Price
		inst.Price = d.Price
		change, pct := d.Change, d.ChangePercent
		inst.PriceChange = &change
		inst.PriceChangePercent = &pct
		res.Applied++
		res.Merged = append(res.Merged, d)

		if s.hasSelected && d.Symbol == s.selected {
			refreshSelected = true
		}
	}
	if refreshSelected {
		s.project(s.index[s.selected])
	}
	if res.Applied > 0 {
		s.touch()
	}
	return res
}

// GetPrevious returns the price observed before the most recent applied
// delta for symbol. ok is false when no delta has been applied since the
// last snapshot.
func (s *Store) GetPrevious(symbol string) (price float64, ok bool) {
	price, ok = s.previous[symbol]
	return price, ok
}

// ClearPrevious forgets all previous prices.
func (s *Store) ClearPrevious() {
	s.previous = make(map[string]float64)
}

// Instruments returns a deep copy of the collection in order.
func (s *Store) Instruments() []model.Instrument {
	out := make([]model.Instrument, len(s.items))
	for i, it := range s.items {
		out[i] = it.Clone()
	}
	return out
}

// Get returns a copy of the instrument for symbol.
func (s *Store) Get(symbol string) (model.Instrument, bool) {
	i, ok := s.index[symbol]
	if !ok {
		return model.Instrument{}, false
	}
	return s.items[i].Clone(), true
}

// PreviousPrices returns a copy of the previous-price map.
func (s *Store) PreviousPrices() map[string]float64 {
	out := make(map[string]float64, len(s.previous))
	for k, v := range s.previous {
		out[k] = v
	}
	return out
}

// Len is the number of instruments.
func (s *Store) Len() int { return len(s.items) }

// Select marks symbol as selected. An empty symbol clears the selection.
// Returns false, leaving the selection unchanged, when symbol is unknown.
func (s *Store) Select(symbol string) bool {
	if symbol == "" {
		s.clearSelection()
		return true
	}
	i, ok := s.index[symbol]
	if !ok {
		return false
	}
	s.selected = symbol
	s.hasSelected = true
	s.project(i)
	return true
}

// Selected returns the current selection projection.
func (s *Store) Selected() (Selection, bool) {
	if !s.hasSelected {
		return Selection{}, false
	}
	sel := s.selection
	sel.Instrument = sel.Instrument.Clone()
	return sel, true
}

// UpdateCounter counts committed merges since the store was created.
func (s *Store) UpdateCounter() uint64 { return s.updateCounter }

// LastUpdate is the time of the last committed merge.
func (s *Store) LastUpdate() time.Time { return s.lastUpdate }

func (s *Store) project(i int) {
	inst := s.items[i]
	s.selection = Selection{Symbol: inst.Symbol, Price: inst.Price, Instrument: inst.Clone()}
}

func (s *Store) clearSelection() {
	s.selected = ""
	s.hasSelected = false
	s.selection = Selection{}
}

func (s *Store) touch() {
	s.updateCounter++
	s.lastUpdate = s.now()
}
