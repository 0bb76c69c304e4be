package backtest

import "math"

// aggregate computes total_trades, win_rate, total_pnl, max_drawdown (of
// the cumulative-PnL equity curve, as a fraction of the running peak),
// and the per-trade Sharpe ratio (mean/sample-stddev of trade PnLs).
// An empty trade set yields all zeros (spec.md §4.14).
func aggregate(trades []Trade) *Result {
	result := &Result{Trades: trades}
	if len(trades) == 0 {
		return result
	}

	result.TotalTrades = len(trades)

	var wins int
	var equity, peak, maxDrawdown float64
	for _, t := range trades {
		result.TotalPnL += t.PnL
		if t.PnL > 0 {
			wins++
		}

		equity += t.PnL
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			drawdown := (peak - equity) / peak
			if drawdown > maxDrawdown {
				maxDrawdown = drawdown
			}
		}
	}
	result.WinRate = float64(wins) / float64(len(trades))
	result.MaxDrawdown = maxDrawdown
	result.SharpePerTrade = sharpe(trades)
	return result
}

func sharpe(trades []Trade) float64 {
	n := float64(len(trades))
	if n == 0 {
		return 0
	}

	var sum float64
	for _, t := range trades {
		sum += t.PnL
	}
	mean := sum / n

	if n < 2 {
		return 0
	}

	var sumSq float64
	for _, t := range trades {
		d := t.PnL - mean
		sumSq += d * d
	}
	stddev := math.Sqrt(sumSq / (n - 1))
	if stddev == 0 {
		return 0
	}
	return mean / stddev
}
