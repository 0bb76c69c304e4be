package strategy

import (
	"encoding/json"

	"craftstrat-engine/pkg/types"
)

// GetField looks up a named scalar field on a Tick. Unknown fields report
// ok=false so callers (interpreter "input" nodes, VWAP's field argument)
// can fall back to a zero value rather than guessing.
func GetField(t *types.Tick, field string) (float64, bool) {
	switch field {
	case "minutes_into_slot":
		return t.MinutesIntoSlot, true
	case "pct_into_slot":
		return t.PctIntoSlot, true
	case "bid_up_l1":
		return t.BidUp1, true
	case "ask_up_l1", "ask_up":
		return t.AskUp1, true
	case "bid_down_l1", "bid_down":
		return t.BidDown1, true
	case "ask_down_l1":
		return t.AskDown1, true
	case "spread_up":
		return t.SpreadUp, true
	case "spread_down":
		return t.SpreadDown, true
	case "mid_up":
		return t.MidUp, true
	case "mid_down":
		return t.MidDown, true
	case "size_ratio_up":
		return t.SizeRatioUp, true
	case "size_ratio_down":
		return t.SizeRatioDown, true
	case "ref_price_start":
		return t.RefPriceStart, true
	case "ref_price_current":
		return t.RefPriceCurrent, true
	case "dir_move_pct":
		return t.DirMovePct, true
	case "abs_move_pct":
		return t.AbsMovePct, true
	case "hour_of_day":
		return float64(t.HourOfDay), true
	case "day_of_week":
		return float64(t.DayOfWeek), true
	case "market_volume_usd":
		return t.MarketVolumeUSD, true
	default:
		return 0, false
	}
}

// midForOutcome returns the side-appropriate mid price used by risk exit
// and entry-price comparisons.
func midForOutcome(t *types.Tick, o types.Outcome) float64 {
	if o == types.Down {
		return t.MidDown
	}
	return t.MidUp
}

// EvaluateOp implements the comparator node's operators. value is the raw
// JSON literal from the graph: a number for all operators except
// "between", which expects a two-element array [lo, hi].
func EvaluateOp(input float64, op string, value json.RawMessage) bool {
	switch op {
	case "between":
		var bounds [2]float64
		if err := json.Unmarshal(value, &bounds); err != nil {
			return false
		}
		return input >= bounds[0] && input <= bounds[1]
	}

	var lit float64
	if err := json.Unmarshal(value, &lit); err != nil {
		return false
	}
	switch op {
	case ">":
		return input > lit
	case ">=":
		return input >= lit
	case "<":
		return input < lit
	case "<=":
		return input <= lit
	case "==":
		return input == lit
	case "!=":
		return input != lit
	default:
		return false
	}
}
