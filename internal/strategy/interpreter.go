package strategy

import (
	"log/slog"

	"craftstrat-engine/pkg/types"
)

// Evaluate runs one assignment's gating sequence and graph evaluation for
// a single tick, and returns the candidate signal to act on (or Hold).
// The sequence, in order: append the tick to the ring, roll the daily-loss
// window, reset the per-slot trade counter on a slot boundary, check the
// risk exit for an open position, apply the cooldown and max-trades gates,
// dispatch to the graph's mode, then apply the duplicate-position gate and
// bump the per-slot trade counter on any non-Hold candidate. cache may be
// nil (as it is for backtests), in which case api_fetch nodes resolve to
// zero rather than consulting live external data.
func Evaluate(g *Graph, tick *types.Tick, state *types.StrategyState, cache *ApiValueCache, logger *slog.Logger) types.Signal {
	state.PushTick(*tick)

	if checkDailyLoss(g.Risk, state, tick) {
		return types.HoldSignal()
	}

	if tick.SlotTS != state.CurrentSlotTS {
		state.CurrentSlotTS = tick.SlotTS
		state.TradesThisSlot = 0
	}

	if state.Position != nil {
		if signal, fired := checkRisk(g.Risk, tick, state.Position); fired {
			state.Position = nil
			state.LastTradeAt = ptrInt64(tick.CapturedAt.Unix())
			return signal
		}
		return types.HoldSignal()
	}

	if checkCooldown(g.Risk, state, tick) {
		return types.HoldSignal()
	}

	if g.Risk.MaxTradesPerSlot != nil && state.TradesThisSlot >= *g.Risk.MaxTradesPerSlot {
		return types.HoldSignal()
	}

	var candidate types.Signal
	switch g.Mode {
	case "form":
		candidate = evaluateForm(g, tick)
	case "node":
		candidate = evaluateNode(g, tick, state.Ring, cache, logger)
	default:
		if logger != nil {
			logger.Warn("unknown strategy graph mode, holding", "mode", g.Mode)
		}
		return types.HoldSignal()
	}

	if candidate.Kind == types.SignalHold {
		return candidate
	}

	if checkDuplicate(g.Risk, state, candidate) {
		return types.HoldSignal()
	}

	if candidate.Kind == types.SignalBuy || candidate.Kind == types.SignalSell {
		state.TradesThisSlot++
	}

	return candidate
}

func ptrInt64(v int64) *int64 { return &v }
