package strategy

import "encoding/json"

// RiskConfig is the risk sub-object recognised by spec.md §6. All keys are
// optional; any positive number or truthy flag activates the
// corresponding gate.
type RiskConfig struct {
	StoplossPct        *float64 `json:"stoploss_pct,omitempty"`
	TakeProfitPct      *float64 `json:"take_profit_pct,omitempty"`
	MaxTradesPerSlot   *int     `json:"max_trades_per_slot,omitempty"`
	DailyLossLimitUSDC *float64 `json:"daily_loss_limit_usdc,omitempty"`
	CooldownSeconds    *int64   `json:"cooldown_seconds,omitempty"`
	PreventDuplicates  bool     `json:"prevent_duplicates,omitempty"`
}

// ConditionRule is one leaf condition in a form-mode group.
type ConditionRule struct {
	Indicator json.RawMessage `json:"indicator"`
	Operator  string          `json:"operator"`
	Value     json.RawMessage `json:"value"`
}

// ConditionGroup is a form-mode AND/OR group of rules.
type ConditionGroup struct {
	Type  string          `json:"type"` // "AND" | "OR"
	Rules []ConditionRule `json:"rules"`
}

// ActionSpec is the fixed signal a form-mode graph emits when satisfied.
type ActionSpec struct {
	Signal    string  `json:"signal"` // "buy" | "sell"
	Outcome   string  `json:"outcome"`
	SizeUSDC  float64 `json:"size_usdc"`
	OrderType string  `json:"order_type,omitempty"`
	Price     float64 `json:"price,omitempty"`
}

// Node is one node of a node-mode strategy graph.
type Node struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Edge connects two nodes, optionally through named handles.
type Edge struct {
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// Graph is the parsed strategy graph schema of spec.md §6.
type Graph struct {
	Mode       string           `json:"mode"` // "form" | "node"
	Conditions []ConditionGroup `json:"conditions,omitempty"`
	Action     *ActionSpec      `json:"action,omitempty"`
	Nodes      []Node           `json:"nodes,omitempty"`
	Edges      []Edge           `json:"edges,omitempty"`
	Risk       RiskConfig       `json:"risk,omitempty"`
}

// ParseGraph decodes a raw strategy graph. A malformed graph is reported
// to the caller, which per spec.md §7 treats it as a Hold-and-log
// validation error rather than propagating.
func ParseGraph(raw json.RawMessage) (*Graph, error) {
	var g Graph
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, err
	}
	return &g, nil
}
