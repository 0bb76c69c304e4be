package strategy

import (
	"encoding/json"

	"craftstrat-engine/pkg/types"
)

// evaluateForm runs the form-mode evaluator: groups combine with OR, and
// within a group, rules combine with AND or OR per the group's own Type.
// An empty Conditions list never fires — with nothing to satisfy there is
// no basis to emit an action, so the graph holds. A group with an empty
// Rules list is likewise never satisfied, rather than vacuously true,
// since a rule-less group carries no signal either.
func evaluateForm(g *Graph, tick *types.Tick) types.Signal {
	if g.Action == nil || len(g.Conditions) == 0 {
		return types.HoldSignal()
	}

	for _, group := range g.Conditions {
		if groupSatisfied(group, tick) {
			return buildFormActionSignal(*g.Action)
		}
	}
	return types.HoldSignal()
}

func groupSatisfied(group ConditionGroup, tick *types.Tick) bool {
	if len(group.Rules) == 0 {
		return false
	}
	if group.Type == "OR" {
		for _, rule := range group.Rules {
			if ruleSatisfied(rule, tick) {
				return true
			}
		}
		return false
	}
	for _, rule := range group.Rules {
		if !ruleSatisfied(rule, tick) {
			return false
		}
	}
	return true
}

func ruleSatisfied(rule ConditionRule, tick *types.Tick) bool {
	var field struct {
		Field string `json:"field"`
	}
	if err := json.Unmarshal(rule.Indicator, &field); err != nil || field.Field == "" {
		return false
	}
	input, ok := GetField(tick, field.Field)
	if !ok {
		return false
	}
	return EvaluateOp(input, rule.Operator, rule.Value)
}

func buildFormActionSignal(a ActionSpec) types.Signal {
	outcome := types.Up
	if a.Outcome == "DOWN" {
		outcome = types.Down
	}
	variant := types.MarketOrder()
	if a.OrderType == "limit" {
		variant = types.LimitOrder(a.Price)
	}
	kind := types.SignalBuy
	if a.Signal == "sell" {
		kind = types.SignalSell
	}
	return types.Signal{Kind: kind, Outcome: outcome, SizeUSDC: a.SizeUSDC, OrderType: variant}
}
