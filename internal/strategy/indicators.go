package strategy

import (
	"math"

	"craftstrat-engine/pkg/types"
)

// SMA is the mean over the last min(len(values), period) values.
func SMA(values []float64, period int) float64 {
	if len(values) == 0 || period <= 0 {
		return 0
	}
	n := period
	if len(values) < n {
		n = len(values)
	}
	tail := values[len(values)-n:]
	var sum float64
	for _, v := range tail {
		sum += v
	}
	return sum / float64(n)
}

// EMA applies the standard recursion with k = 2/(period+1), seeded at
// values[0].
func EMA(values []float64, period int) float64 {
	if len(values) == 0 || period <= 0 {
		return 0
	}
	k := 2.0 / (float64(period) + 1.0)
	result := values[0]
	for _, v := range values[1:] {
		result = v*k + result*(1-k)
	}
	return result
}

// RSI is Wilder-style: averages gains/losses over the last
// min(len(values)-1, period) first differences. Returns 50 with
// insufficient data, 100 if there were no losses, 0 if there were no
// gains.
func RSI(values []float64, period int) float64 {
	if len(values) < 2 || period <= 0 {
		return 50
	}
	changes := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		changes[i-1] = values[i] - values[i-1]
	}
	n := period
	if len(changes) < n {
		n = len(changes)
	}
	recent := changes[len(changes)-n:]

	var gainSum, lossSum float64
	for _, c := range recent {
		if c > 0 {
			gainSum += c
		} else if c < 0 {
			lossSum += -c
		}
	}
	avgGain := gainSum / float64(n)
	avgLoss := lossSum / float64(n)

	if avgLoss < math.SmallestNonzeroFloat64*1e200 { // effectively zero
		if avgLoss == 0 {
			return 100
		}
	}
	if avgLoss == 0 {
		return 100
	}
	if avgGain == 0 {
		return 0
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// VWAP is price-volume weighted by market_volume_usd over a tick window.
func VWAP(ticks []types.Tick, field string) float64 {
	var sumPV, sumV float64
	for _, t := range ticks {
		price, _ := GetField(&t, field)
		vol := t.MarketVolumeUSD
		sumPV += price * vol
		sumV += vol
	}
	if sumV > 0 {
		return sumPV / sumV
	}
	return 0
}

// CrossAbove reports whether series a crossed above series b between the
// previous and current samples.
func CrossAbove(prevA, currA, prevB, currB float64) bool {
	return prevA <= prevB && currA > currB
}

// CrossBelow reports whether series a crossed below series b between the
// previous and current samples.
func CrossBelow(prevA, currA, prevB, currB float64) bool {
	return prevA >= prevB && currA < currB
}

// seriesForField extracts the named field's value series from a tick
// window, in chronological order.
func seriesForField(ring []types.Tick, field string) []float64 {
	out := make([]float64, 0, len(ring))
	for i := range ring {
		v, _ := GetField(&ring[i], field)
		out = append(out, v)
	}
	return out
}
