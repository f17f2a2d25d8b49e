// Package offline produces a synthetic instrument universe for running the
// scanner without a live feed. Each instrument gets a random-walk price
// history which is then scored by the signal engine and compliance screen.
package offline

import (
	"math"
	"math/rand"
	"sync"

	"github.com/Atique-Syed1/Trading-bot/internal/compliance"
	"github.com/Atique-Syed1/Trading-bot/internal/model"
	"github.com/Atique-Syed1/Trading-bot/internal/signal"
)

const (
	// WalkSteps is the length of the generated walk.
	WalkSteps = 50
	// HistoryLen is how many trailing walk points are kept as history.
	HistoryLen = 20
	// StepVolatility bounds each step as a fraction of the current price.
	StepVolatility = 0.05
	// MinPrice floors the walk so prices stay positive.
	MinPrice = 0.01

	defaultBasePrice = 1000
)

// Generator builds offline universes. Safe for concurrent use.
type Generator struct {
	mu         sync.Mutex
	rng        *rand.Rand
	policy     compliance.Policy
	thresholds signal.Thresholds
}

// Option configures a Generator.
type Option func(*Generator)

// WithPolicy overrides the compliance policy.
func WithPolicy(p compliance.Policy) Option {
	return func(g *Generator) { g.policy = p }
}

// WithThresholds overrides the signal thresholds.
func WithThresholds(th signal.Thresholds) Option {
	return func(g *Generator) { g.thresholds = th }
}

// New returns a Generator drawing from rng.
func New(rng *rand.Rand, opts ...Option) *Generator {
	g := &Generator{
		rng:        rng,
		policy:     compliance.DefaultPolicy(),
		thresholds: signal.DefaultThresholds(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// NewGenerator returns a Generator with a deterministic source.
func NewGenerator(seed int64, opts ...Option) *Generator {
	return New(rand.New(rand.NewSource(seed)), opts...)
}

// Generate returns one scored instrument per catalog entry, in catalog order.
func (g *Generator) Generate(catalog []CatalogEntry) []model.Instrument {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]model.Instrument, 0, len(catalog))
	for _, e := range catalog {
		base := e.BasePrice
		if base <= 0 {
			base = defaultBasePrice
		}
		walk := g.walk(base)
		history := walk[len(walk)-HistoryLen:]

		inst := model.Instrument{
			Symbol:          e.Symbol,
			Name:            e.Name,
			Sector:          e.Sector,
			Price:           history[len(history)-1],
			PriceHistory:    history,
			DebtToMarketCap: e.DebtToMarketCap,
			CashToMarketCap: e.CashToMarketCap,
			Technicals:      g.thresholds.Compute(history),
		}
		g.policy.Apply(&inst)
		out = append(out, inst)
	}
	return out
}

func (g *Generator) walk(base float64) []float64 {
	out := make([]float64, WalkSteps)
	p := base
	for i := range out {
		p = g.step(p)
		out[i] = p
	}
	return out
}

func (g *Generator) step(p float64) float64 {
	p += (g.rng.Float64()*2 - 1) * p * StepVolatility
	p = math.Round(p*100) / 100
	if p < MinPrice {
		p = MinPrice
	}
	return p
}

// Generate builds a universe from catalog with an unseeded source.
func Generate(catalog []CatalogEntry) []model.Instrument {
	return New(rand.New(rand.NewSource(rand.Int63()))).Generate(catalog)
}
