// Package signal derives the RSI trading signal and, for Buy signals, an
// ATR-style trade setup from a price history.
package signal

import (
	"math"

	"github.com/Atique-Syed1/Trading-bot/internal/indicator"
	"github.com/Atique-Syed1/Trading-bot/internal/model"
)

// Thresholds parameterise the signal engine.
type Thresholds struct {
	Period    int     `yaml:"rsi_period" json:"rsiPeriod"`
	BuyBelow  float64 `yaml:"buy_below" json:"buyBelow"`
	SellAbove float64 `yaml:"sell_above" json:"sellAbove"`

	// ATR is approximated as price*ATRFactor.
	ATRFactor float64 `yaml:"atr_factor" json:"atrFactor"`
	StopATR   float64 `yaml:"stop_atr" json:"stopAtr"`
	TargetATR float64 `yaml:"target_atr" json:"targetAtr"`
}

// DefaultThresholds returns RSI(14) with 40/70 bands and a 2/3 ATR setup.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Period:    14,
		BuyBelow:  40,
		SellAbove: 70,
		ATRFactor: 0.02,
		StopATR:   2,
		TargetATR: 3,
	}
}

// Compute derives technicals for history, whose last element is the
// current price. An empty history yields a Neutral reading at RSI 50.
func (th Thresholds) Compute(history []float64) model.Technicals {
	rsi := indicator.ComputeRSI(history, th.Period)
	tech := model.Technicals{RSI: round2(rsi), Signal: th.Classify(rsi)}
	if tech.Signal != model.SignalBuy || len(history) == 0 {
		return tech
	}

	price := history[len(history)-1]
	atr := price * th.ATRFactor
	tech.StopLoss = round2(price - th.StopATR*atr)
	tech.Target = round2(price + th.TargetATR*atr)
	if price > 0 {
		tech.PotentialGainPercent = round2((price + th.TargetATR*atr - price) / price * 100)
	}
	tech.SignalStrength = strength(rsi)
	return tech
}

// Classify maps an RSI value to a signal using strict comparisons.
func (th Thresholds) Classify(rsi float64) model.Signal {
	switch {
	case rsi < th.BuyBelow:
		return model.SignalBuy
	case rsi > th.SellAbove:
		return model.SignalSell
	default:
		return model.SignalNeutral
	}
}

// Compute runs the default thresholds.
func Compute(history []float64) model.Technicals {
	return DefaultThresholds().Compute(history)
}

// Lower RSI means a stronger oversold reading.
func strength(rsi float64) int {
	s := int(math.Round(100 - rsi))
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
