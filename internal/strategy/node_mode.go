package strategy

import (
	"encoding/json"
	"log/slog"
	"time"

	"craftstrat-engine/pkg/types"
)

type nodeValueKind int

const (
	nvNumber nodeValueKind = iota
	nvBool
)

type nodeValue struct {
	kind nodeValueKind
	num  float64
	b    bool
}

func (v nodeValue) asBool() bool {
	if v.kind == nvBool {
		return v.b
	}
	return v.num != 0
}

func (v nodeValue) asNumber() float64 {
	if v.kind == nvNumber {
		return v.num
	}
	if v.b {
		return 1
	}
	return 0
}

type handleEdge struct {
	source       string
	sourceHandle string
	targetHandle string
}

// indicatorData is the shared shape of an "indicator" node's data payload.
// cross_above/cross_below carry two nested scalar indicator specs (A, B)
// instead of a single field/period.
type indicatorData struct {
	Fn     string          `json:"fn"`
	Period int             `json:"period"`
	Field  string          `json:"field"`
	A      json.RawMessage `json:"a"`
	B      json.RawMessage `json:"b"`
}

func resolveIndicator(data json.RawMessage, ring []types.Tick) float64 {
	var d indicatorData
	if err := json.Unmarshal(data, &d); err != nil {
		return 0
	}

	switch d.Fn {
	case "cross_above", "cross_below":
		// Each of a, b is itself a scalar indicator spec, evaluated once
		// on the full ring (current) and once on the ring minus the last
		// element (previous). Insufficient data (<2 ticks) reports no cross.
		if len(ring) < 2 || len(d.A) == 0 || len(d.B) == 0 {
			return 0
		}
		prevRing := ring[:len(ring)-1]
		currA := resolveIndicator(d.A, ring)
		currB := resolveIndicator(d.B, ring)
		prevA := resolveIndicator(d.A, prevRing)
		prevB := resolveIndicator(d.B, prevRing)
		var crossed bool
		if d.Fn == "cross_above" {
			crossed = CrossAbove(prevA, currA, prevB, currB)
		} else {
			crossed = CrossBelow(prevA, currA, prevB, currB)
		}
		if crossed {
			return 1
		}
		return 0
	}

	field := d.Field
	if field == "" {
		field = "mid_up"
	}
	series := seriesForField(ring, field)

	switch d.Fn {
	case "SMA":
		return SMA(series, d.Period)
	case "EMA":
		return EMA(series, d.Period)
	case "RSI":
		return RSI(series, d.Period)
	case "VWAP":
		return VWAP(ring, field)
	default:
		return 0
	}
}

func buildActionSignal(data json.RawMessage) types.Signal {
	var a ActionSpec
	_ = json.Unmarshal(data, &a)
	outcome := types.Up
	if a.Outcome == "DOWN" {
		outcome = types.Down
	}
	variant := types.MarketOrder()
	switch a.OrderType {
	case "limit":
		variant = types.LimitOrder(a.Price)
	}
	kind := types.SignalBuy
	if a.Signal == "sell" {
		kind = types.SignalSell
	}
	return types.Signal{Kind: kind, Outcome: outcome, SizeUSDC: a.SizeUSDC, OrderType: variant}
}

func isEdgeActive(e handleEdge, values map[string]nodeValue, nodeByID map[string]*Node) bool {
	src, ok := nodeByID[e.source]
	if !ok || src.Type != "if_else" {
		return true
	}
	cond := false
	if v, ok := values[e.source]; ok {
		cond = v.asBool()
	}
	switch e.sourceHandle {
	case "true":
		return cond
	case "false":
		return !cond
	default:
		return true
	}
}

// evaluateNode runs the node-mode DAG interpreter over a topologically
// sorted strategy graph. Returns Hold if the graph is malformed or
// cyclic, or if no terminal node fires.
func evaluateNode(g *Graph, tick *types.Tick, ring []types.Tick, cache *ApiValueCache, logger *slog.Logger) types.Signal {
	if len(g.Nodes) == 0 {
		return types.HoldSignal()
	}

	nodeByID := make(map[string]*Node, len(g.Nodes))
	inDegree := make(map[string]int, len(g.Nodes))
	adj := make(map[string][]string, len(g.Nodes))
	handleInputsFor := make(map[string][]handleEdge, len(g.Nodes))

	for i := range g.Nodes {
		n := &g.Nodes[i]
		nodeByID[n.ID] = n
		inDegree[n.ID] = 0
	}
	for _, e := range g.Edges {
		if _, ok := nodeByID[e.Source]; !ok {
			continue
		}
		if _, ok := nodeByID[e.Target]; !ok {
			continue
		}
		inDegree[e.Target]++
		adj[e.Source] = append(adj[e.Source], e.Target)
		handleInputsFor[e.Target] = append(handleInputsFor[e.Target], handleEdge{
			source:       e.Source,
			sourceHandle: e.SourceHandle,
			targetHandle: e.TargetHandle,
		})
	}

	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	var order []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, next := range adj[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != len(g.Nodes) {
		if logger != nil {
			logger.Warn("strategy graph contains a cycle, skipping evaluation")
		}
		return types.HoldSignal()
	}

	values := make(map[string]nodeValue, len(order))

	for _, id := range order {
		n := nodeByID[id]
		hinputs := handleInputsFor[id]

		var result nodeValue
		switch n.Type {
		case "input":
			var d struct {
				Field string `json:"field"`
			}
			_ = json.Unmarshal(n.Data, &d)
			v, _ := GetField(tick, d.Field)
			result = nodeValue{kind: nvNumber, num: v}

		case "indicator":
			result = nodeValue{kind: nvNumber, num: resolveIndicator(n.Data, ring)}

		case "comparator":
			var d struct {
				Operator string          `json:"operator"`
				Value    json.RawMessage `json:"value"`
			}
			_ = json.Unmarshal(n.Data, &d)
			input := firstNumber(hinputs, values)
			if d.Operator == "" {
				d.Operator = "=="
			}
			result = nodeValue{kind: nvBool, b: EvaluateOp(input, d.Operator, d.Value)}

		case "logic":
			var d struct {
				Operator string `json:"operator"`
			}
			_ = json.Unmarshal(n.Data, &d)
			var bools []bool
			for _, e := range hinputs {
				if !isEdgeActive(e, values, nodeByID) {
					continue
				}
				if v, ok := values[e.source]; ok {
					bools = append(bools, v.asBool())
				}
			}
			var b bool
			if d.Operator == "OR" {
				for _, x := range bools {
					if x {
						b = true
						break
					}
				}
			} else {
				b = len(bools) > 0
				for _, x := range bools {
					if !x {
						b = false
						break
					}
				}
			}
			result = nodeValue{kind: nvBool, b: b}

		case "not":
			in := false
			if len(hinputs) > 0 {
				if v, ok := values[hinputs[0].source]; ok {
					in = v.asBool()
				}
			}
			result = nodeValue{kind: nvBool, b: !in}

		case "if_else":
			cond := false
			if len(hinputs) > 0 {
				if v, ok := values[hinputs[0].source]; ok {
					cond = v.asBool()
				}
			}
			result = nodeValue{kind: nvBool, b: cond}

		case "math":
			var d struct {
				Operation string `json:"operation"`
			}
			_ = json.Unmarshal(n.Data, &d)
			a := resolveHandleInput(values, hinputs, "a")
			b := resolveHandleInput(values, hinputs, "b")
			var r float64
			switch d.Operation {
			case "+":
				r = a + b
			case "-":
				r = a - b
			case "*":
				r = a * b
			case "/":
				if b == 0 {
					r = 0
				} else {
					r = a / b
				}
			case "%":
				if b == 0 {
					r = 0
				} else {
					r = mathMod(a, b)
				}
			case "min":
				r = minF(a, b)
			case "max":
				r = maxF(a, b)
			case "abs":
				r = absF(a)
			}
			if isNaNOrInf(r) {
				r = 0
			}
			result = nodeValue{kind: nvNumber, num: r}

		case "ev_calculator":
			var d struct {
				Mode string `json:"mode"`
			}
			_ = json.Unmarshal(n.Data, &d)
			price := resolveHandleInput(values, hinputs, "price")
			prob := resolveHandleInput(values, hinputs, "prob")
			var ev float64
			switch d.Mode {
			case "custom":
				ev = prob * price
			default:
				ev = prob*(1-price) - (1-prob)*price
			}
			if isNaNOrInf(ev) {
				ev = 0
			}
			result = nodeValue{kind: nvNumber, num: ev}

		case "kelly":
			var d struct {
				Fraction *float64 `json:"fraction"`
			}
			_ = json.Unmarshal(n.Data, &d)
			fraction := 0.5
			if d.Fraction != nil {
				fraction = *d.Fraction
			}
			prob := resolveHandleInput(values, hinputs, "prob")
			price := resolveHandleInput(values, hinputs, "price")
			var r float64
			if price > 0 && price < 1 {
				b := (1 - price) / price
				kellyF := (prob*b - (1 - prob)) / b
				r = clamp(kellyF*fraction, 0, 1)
			}
			result = nodeValue{kind: nvNumber, num: r}

		case "api_fetch":
			var d struct {
				URL          string `json:"url"`
				JSONPath     string `json:"json_path"`
				IntervalSecs int64  `json:"interval_secs"`
			}
			_ = json.Unmarshal(n.Data, &d)
			interval := d.IntervalSecs
			if interval < 30 {
				interval = 30
			}
			maxAge := time.Duration(interval*3) * time.Second
			var v float64
			if cache != nil {
				v = cache.Get(d.URL+"#"+d.JSONPath, maxAge)
			}
			result = nodeValue{kind: nvNumber, num: v}

		case "action":
			if triggered, active := allActiveInputsTruthy(hinputs, values, nodeByID); triggered && active {
				return buildActionSignal(n.Data)
			}
			result = nodeValue{kind: nvBool, b: false}

		case "cancel":
			if triggered, active := allActiveInputsTruthy(hinputs, values, nodeByID); triggered && active {
				var d struct {
					Outcome string `json:"outcome"`
				}
				_ = json.Unmarshal(n.Data, &d)
				outcome := types.Up
				if d.Outcome == "DOWN" {
					outcome = types.Down
				}
				return types.Signal{Kind: types.SignalCancel, Outcome: outcome}
			}
			result = nodeValue{kind: nvBool, b: false}

		case "notify":
			if triggered, active := allActiveInputsTruthy(hinputs, values, nodeByID); triggered && active {
				var d struct {
					Channel string `json:"channel"`
					Message string `json:"message"`
				}
				_ = json.Unmarshal(n.Data, &d)
				if d.Channel == "" {
					d.Channel = "database"
				}
				if d.Message == "" {
					d.Message = "Strategy alert"
				}
				return types.Signal{Kind: types.SignalNotify, Channel: d.Channel, Message: d.Message}
			}
			result = nodeValue{kind: nvBool, b: false}

		default:
			result = nodeValue{kind: nvNumber, num: 0}
		}

		values[id] = result
	}

	return types.HoldSignal()
}

func allActiveInputsTruthy(hinputs []handleEdge, values map[string]nodeValue, nodeByID map[string]*Node) (triggered, hasActive bool) {
	triggered = true
	for _, e := range hinputs {
		if !isEdgeActive(e, values, nodeByID) {
			continue
		}
		hasActive = true
		v, ok := values[e.source]
		if !ok || !v.asBool() {
			triggered = false
		}
	}
	return triggered, hasActive
}

func firstNumber(hinputs []handleEdge, values map[string]nodeValue) float64 {
	if len(hinputs) == 0 {
		return 0
	}
	if v, ok := values[hinputs[0].source]; ok {
		return v.asNumber()
	}
	return 0
}

func resolveHandleInput(values map[string]nodeValue, hinputs []handleEdge, targetHandle string) float64 {
	for _, e := range hinputs {
		if e.targetHandle == targetHandle {
			if v, ok := values[e.source]; ok {
				return v.asNumber()
			}
		}
	}
	return 0
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func absF(a float64) float64 {
	if a < 0 {
		return -a
	}
	return a
}

func mathMod(a, b float64) float64 {
	return a - b*float64(int64(a/b))
}

func isNaNOrInf(v float64) bool {
	return v != v || v > 1e308 || v < -1e308
}
