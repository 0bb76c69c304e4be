package strategy

import (
	"craftstrat-engine/pkg/types"
)

// checkRisk evaluates the stoploss/take-profit exit for an open position.
// Returns a Sell signal and true if a trigger fired; the caller clears the
// position and returns immediately without consulting entry logic either
// way once a Position is open (spec.md §4.6 step 4).
func checkRisk(risk RiskConfig, tick *types.Tick, pos *types.Position) (types.Signal, bool) {
	current := midForOutcome(tick, pos.Outcome)
	if pos.EntryPx <= 0 || current <= 0 {
		return types.Signal{}, false
	}

	pnlPct := (current - pos.EntryPx) / pos.EntryPx * 100

	if risk.StoplossPct != nil && pnlPct <= -*risk.StoplossPct {
		return types.Signal{
			Kind:      types.SignalSell,
			Outcome:   pos.Outcome,
			SizeUSDC:  pos.SizeUSDC,
			OrderType: types.StopLossOrder(current),
		}, true
	}
	if risk.TakeProfitPct != nil && pnlPct >= *risk.TakeProfitPct {
		return types.Signal{
			Kind:      types.SignalSell,
			Outcome:   pos.Outcome,
			SizeUSDC:  pos.SizeUSDC,
			OrderType: types.TakeProfitOrder(current),
		}, true
	}
	return types.Signal{}, false
}

// checkDailyLoss resets daily_pnl on a calendar-day change, then reports
// whether trading should be blocked because the configured loss limit has
// been breached.
func checkDailyLoss(risk RiskConfig, state *types.StrategyState, tick *types.Tick) bool {
	today := tickDate(tick)
	if state.DailyPnLDate != today {
		state.DailyPnL = 0
		state.DailyPnLDate = today
	}
	if risk.DailyLossLimitUSDC != nil && *risk.DailyLossLimitUSDC > 0 {
		return state.DailyPnL <= -*risk.DailyLossLimitUSDC
	}
	return false
}

// checkCooldown reports whether the cooldown period since the last trade
// has not yet elapsed.
func checkCooldown(risk RiskConfig, state *types.StrategyState, tick *types.Tick) bool {
	if risk.CooldownSeconds == nil || state.LastTradeAt == nil {
		return false
	}
	elapsed := tick.CapturedAt.Unix() - *state.LastTradeAt
	return elapsed < *risk.CooldownSeconds
}

// checkDuplicate reports whether the candidate signal would duplicate the
// currently open position's outcome, when prevent_duplicates is set.
func checkDuplicate(risk RiskConfig, state *types.StrategyState, signal types.Signal) bool {
	if !risk.PreventDuplicates {
		return false
	}
	if state.Position == nil || signal.Kind != types.SignalBuy {
		return false
	}
	return state.Position.Outcome == signal.Outcome
}

// tickDate extracts a YYYYMMDD integer from a tick's capture time in UTC.
func tickDate(tick *types.Tick) int {
	y, m, d := tick.CapturedAt.UTC().Date()
	return y*10000 + int(m)*100 + d
}
