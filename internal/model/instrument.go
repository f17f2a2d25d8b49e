package model

// ComplianceStatus is the verdict of the compliance screen.
type ComplianceStatus string

const (
	Compliant       ComplianceStatus = "Compliant"
	NonCompliant    ComplianceStatus = "Non-Compliant"
	LikelyCompliant ComplianceStatus = "Likely-Compliant"
)

// Signal is the discrete trading signal derived from RSI.
type Signal string

const (
	SignalBuy     Signal = "Buy"
	SignalSell    Signal = "Sell"
	SignalNeutral Signal = "Neutral"
)

// Technicals holds the derived technical snapshot for one instrument.
// SignalStrength, StopLoss, Target and PotentialGainPercent are only
// populated when Signal is Buy.
type Technicals struct {
	RSI                  float64 `json:"rsi"`
	Signal               Signal  `json:"signal"`
	SignalStrength       int     `json:"signalStrength"`
	StopLoss             float64 `json:"stopLoss"`
	Target               float64 `json:"target"`
	PotentialGainPercent float64 `json:"potentialGainPercent"`
}

// Instrument is one tradable symbol tracked by the scanner.
// Symbol is the identity key and is stable across updates.
type Instrument struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
	Sector string `json:"sector"`

	Price        float64   `json:"price"`
	PriceHistory []float64 `json:"priceHistory"` // most recent last

	// Set only once a live tick has been merged.
	PriceChange        *float64 `json:"priceChange,omitempty"`
	PriceChangePercent *float64 `json:"priceChangePercent,omitempty"`

	DebtToMarketCap float64 `json:"debtToMarketCap"`
	CashToMarketCap float64 `json:"cashToMarketCap"`

	ComplianceStatus ComplianceStatus `json:"complianceStatus"`
	ComplianceReason string           `json:"complianceReason,omitempty"`

	Technicals Technicals `json:"technicals"`
}

// Clone returns a deep copy so callers outside the owning goroutine never
// share history slices or optional fields with the canonical record.
func (i Instrument) Clone() Instrument {
	cp := i
	if i.PriceHistory != nil {
		cp.PriceHistory = append([]float64(nil), i.PriceHistory...)
	}
	if i.PriceChange != nil {
		v := *i.PriceChange
		cp.PriceChange = &v
	}
	if i.PriceChangePercent != nil {
		v := *i.PriceChangePercent
		cp.PriceChangePercent = &v
	}
	return cp
}

// PriceDelta is a partial, price-only update for an existing instrument.
type PriceDelta struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"changePercent"`

	// OldPrice is informational; the store records its own previous price.
	OldPrice float64 `json:"oldPrice,omitempty"`
}
