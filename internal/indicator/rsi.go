// Package indicator computes the RSI behind the scanner's signal engine.
package indicator

// Neutral is the RSI reported before enough samples exist.
const Neutral = 50.0

// RSI calculates the Relative Strength Index using Wilder's smoothing method.
// Update is O(1) per price with no history scans.
type RSI struct {
	period    int
	count     int
	prevPrice float64
	avgGain   float64
	avgLoss   float64
	current   float64
}

// NewRSI creates a new RSI indicator with the given period (typically 14).
// A non-positive period is treated as 1.
func NewRSI(period int) *RSI {
	if period < 1 {
		period = 1
	}
	return &RSI{period: period, current: Neutral}
}

// Update feeds the next price.
func (r *RSI) Update(price float64) {
	r.count++

	if r.count == 1 {
		// First price: record it, no delta yet
		r.prevPrice = price
		return
	}

	gain, loss := split(price - r.prevPrice)
	r.prevPrice = price

	if r.count <= r.period+1 {
		// Accumulation phase: build initial averages
		r.avgGain += gain
		r.avgLoss += loss

		if r.count == r.period+1 {
			// First RSI value using SMA seed
			r.avgGain /= float64(r.period)
			r.avgLoss /= float64(r.period)
			r.current = rsiFrom(r.avgGain, r.avgLoss)
		}
		return
	}

	// Wilder's smoothing: avgGain = (prevAvgGain * (period-1) + gain) / period
	p := float64(r.period)
	r.avgGain = (r.avgGain*(p-1) + gain) / p
	r.avgLoss = (r.avgLoss*(p-1) + loss) / p
	r.current = rsiFrom(r.avgGain, r.avgLoss)
}

// Value returns the current RSI, or Neutral until period+1 prices are seen.
func (r *RSI) Value() float64 { return r.current }

// ComputeRSI runs a fresh RSI over the whole series and returns the final
// value. Fewer than period+1 samples yields Neutral.
func ComputeRSI(series []float64, period int) float64 {
	r := NewRSI(period)
	for _, p := range series {
		r.Update(p)
	}
	return r.Value()
}

func split(delta float64) (gain, loss float64) {
	if delta > 0 {
		return delta, 0
	}
	return 0, -delta
}

// avgLoss == 0 maps to 100 regardless of avgGain, so a flat series is 100.
func rsiFrom(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}
