package indicator

import (
	"math"
	"testing"
)

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// ────────────────────────────────────────────────────────────
// RSI Correctness (Wilder's Method)
// ────────────────────────────────────────────────────────────

func TestRSI_Correctness_Period5(t *testing.T) {
	// Prices: 44, 44.34, 44.09, 43.61, 44.33, 44.83, 45.10, 45.42, 45.84
	//
	// First RSI (after 6 prices, period=5):
	//   sumGain = 0.34+0.72+0.50 = 1.56 → avgGain = 0.312
	//   sumLoss = 0.25+0.48       = 0.73 → avgLoss = 0.146
	//   RSI = 100 - 100/(1+2.13699) = 68.112
	//
	// Then Wilder smoothing:
	//   45.10 → 72.219, 45.42 → 76.658, 45.84 → 81.509
	prices := []float64{44, 44.34, 44.09, 43.61, 44.33, 44.83, 45.10, 45.42, 45.84}

	rsi := NewRSI(5)
	for i := 0; i <= 5; i++ {
		rsi.Update(prices[i])
	}
	assertClose(t, "RSI(5) price 6", rsi.Value(), 68.112, 0.1)

	rsi.Update(prices[6])
	assertClose(t, "RSI(5) price 7", rsi.Value(), 72.219, 0.1)

	rsi.Update(prices[7])
	assertClose(t, "RSI(5) price 8", rsi.Value(), 76.658, 0.1)

	rsi.Update(prices[8])
	assertClose(t, "RSI(5) price 9", rsi.Value(), 81.509, 0.2)

	assertClose(t, "ComputeRSI", ComputeRSI(prices, 5), rsi.Value(), 1e-9)
}

func TestRSI_AllUp_Is100(t *testing.T) {
	rsi := NewRSI(5)
	for i := 0; i < 10; i++ {
		rsi.Update(100 + float64(i))
	}
	assertClose(t, "RSI all up", rsi.Value(), 100.0, 0.001)
}

func TestRSI_AllDown_Is0(t *testing.T) {
	rsi := NewRSI(5)
	for i := 0; i < 10; i++ {
		rsi.Update(200 - float64(i))
	}
	assertClose(t, "RSI all down", rsi.Value(), 0.0, 0.001)
}

func TestRSI_Flat_Is100(t *testing.T) {
	// avgLoss == 0 returns 100 regardless of avgGain.
	rsi := NewRSI(5)
	for i := 0; i < 10; i++ {
		rsi.Update(100)
	}
	assertClose(t, "RSI flat", rsi.Value(), 100.0, 0.001)
}

func TestRSI_NotReady_IsNeutral(t *testing.T) {
	rsi := NewRSI(14)
	for i := 0; i < 14; i++ {
		rsi.Update(100 + float64(i))
		assertClose(t, "RSI not ready", rsi.Value(), Neutral, 0)
	}

	rsi.Update(120)
	assertClose(t, "RSI after period+1 rising prices", rsi.Value(), 100, 0)
}

func TestComputeRSI_ShortSeries(t *testing.T) {
	cases := []struct {
		name   string
		series []float64
	}{
		{"nil", nil},
		{"single", []float64{10}},
		{"period samples", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assertClose(t, tc.name, ComputeRSI(tc.series, 14), 50, 0)
		})
	}
}

func TestComputeRSI_Bounded(t *testing.T) {
	series := []float64{10, 12, 9, 15, 7, 20, 3, 25, 1, 30, 2, 28, 5, 27, 4, 26, 8, 22}
	v := ComputeRSI(series, 14)
	if v < 0 || v > 100 {
		t.Fatalf("RSI out of range: %f", v)
	}
}
