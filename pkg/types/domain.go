package types

import (
	"time"
)

// ————————————————————————————————————————————————————————————————————————
// Outcome, Signal, order-type sum types
// ————————————————————————————————————————————————————————————————————————

// Outcome is the binary side of a prediction-market slot.
type Outcome int

const (
	Up Outcome = iota + 1
	Down
)

func (o Outcome) String() string {
	if o == Down {
		return "DOWN"
	}
	return "UP"
}

// OrderKind enumerates the order_type variants of an ExecutionOrder.
type OrderKind string

const (
	OrderMarket     OrderKind = "market"
	OrderLimit      OrderKind = "limit"
	OrderStopLoss   OrderKind = "stoploss"
	OrderTakeProfit OrderKind = "take_profit"
)

// OrderVariant carries the order_type discriminant plus its payload
// (a price for Limit, a trigger price for StopLoss/TakeProfit).
type OrderVariant struct {
	Kind    OrderKind
	Trigger float64 // limit price, or stoploss/take-profit trigger price
}

func MarketOrder() OrderVariant                { return OrderVariant{Kind: OrderMarket} }
func LimitOrder(price float64) OrderVariant     { return OrderVariant{Kind: OrderLimit, Trigger: price} }
func StopLossOrder(trigger float64) OrderVariant {
	return OrderVariant{Kind: OrderStopLoss, Trigger: trigger}
}
func TakeProfitOrder(trigger float64) OrderVariant {
	return OrderVariant{Kind: OrderTakeProfit, Trigger: trigger}
}

// OrderPriority ranks ExecutionOrders in the execution queue, highest first.
type OrderPriority int

const (
	PriorityLimit OrderPriority = iota
	PriorityStrategyMarket
	PriorityCopyMarket
	PriorityTakeProfit
	PriorityStopLoss
)

// SignalKind enumerates the interpreter's output sum type.
type SignalKind string

const (
	SignalBuy    SignalKind = "buy"
	SignalSell   SignalKind = "sell"
	SignalCancel SignalKind = "cancel"
	SignalNotify SignalKind = "notify"
	SignalHold   SignalKind = "hold"
)

// Signal is the strategy interpreter's output for one tick evaluation.
// Only the fields relevant to Kind are meaningful.
type Signal struct {
	Kind      SignalKind
	Outcome   Outcome
	SizeUSDC  float64
	OrderType OrderVariant
	Channel   string
	Message   string
}

func HoldSignal() Signal { return Signal{Kind: SignalHold} }

// ————————————————————————————————————————————————————————————————————————
// Tick — per-market feature snapshot
// ————————————————————————————————————————————————————————————————————————

// Tick is an immutable per-market snapshot produced at engine cadence from
// the current order book and reference spot price.
type Tick struct {
	CapturedAt time.Time `json:"captured_at"`
	MarketSlug string    `json:"market_slug"`

	SlotTS       int64 `json:"slot_ts"` // slot start, unix seconds
	SlotDuration int64 `json:"slot_duration_secs"`

	MinutesIntoSlot float64 `json:"minutes_into_slot"`
	PctIntoSlot     float64 `json:"pct_into_slot"`

	BidUp1, AskUp1     float64 `json:"bid_up_l1"`
	BidUpSz1, AskUpSz1 float64 `json:"bid_up_sz_l1"`
	BidUp2, AskUp2     float64 `json:"bid_up_l2"`
	BidUpSz2, AskUpSz2 float64 `json:"bid_up_sz_l2"`
	BidUp3, AskUp3     float64 `json:"bid_up_l3"`
	BidUpSz3, AskUpSz3 float64 `json:"bid_up_sz_l3"`

	BidDown1, AskDown1     float64 `json:"bid_down_l1"`
	BidDownSz1, AskDownSz1 float64 `json:"bid_down_sz_l1"`
	BidDown2, AskDown2     float64 `json:"bid_down_l2"`
	BidDownSz2, AskDownSz2 float64 `json:"bid_down_sz_l2"`
	BidDown3, AskDown3     float64 `json:"bid_down_l3"`
	BidDownSz3, AskDownSz3 float64 `json:"bid_down_sz_l3"`

	SpreadUp, SpreadDown float64 `json:"spread_up"`
	MidUp, MidDown       float64 `json:"mid_up"`
	SizeRatioUp          float64 `json:"size_ratio_up"`
	SizeRatioDown        float64 `json:"size_ratio_down"`

	RefPriceStart   float64 `json:"ref_price_start"`
	RefPriceEnd     float64 `json:"ref_price_end"`
	RefPriceCurrent float64 `json:"ref_price_current"`
	RefPriceSource  string  `json:"ref_price_source"`

	DirMovePct float64 `json:"dir_move_pct"`
	AbsMovePct float64 `json:"abs_move_pct"`

	HourOfDay int `json:"hour_of_day"`
	DayOfWeek int `json:"day_of_week"`

	MarketVolumeUSD float64 `json:"market_volume_usd"`

	Winner *Outcome `json:"winner,omitempty"`
}

// ————————————————————————————————————————————————————————————————————————
// OrderBook
// ————————————————————————————————————————————————————————————————————————

// BookSide identifies a side of a two-sided book.
type BookSide int

const (
	SideBid BookSide = iota
	SideAsk
)

// Level is a single (price, size) entry.
type Level struct {
	Price float64
	Size  float64
}

// TokenBook is the local mirror of one token's order book. Bids are kept
// descending by price, asks ascending.
type TokenBook struct {
	TokenID   string
	Bids      []Level
	Asks      []Level
	UpdatedAt time.Time
}

// ————————————————————————————————————————————————————————————————————————
// ActiveMarket
// ————————————————————————————————————————————————————————————————————————

// ActiveMarket is immutable once discovered.
type ActiveMarket struct {
	ConditionID     string
	Slug            string
	RefSymbol       string // optional reference-spot symbol
	SlotTS          int64
	SlotDuration    int64
	EndTime         time.Time
	UpTokenID       string
	DownTokenID     string
	RefPriceAtEntry float64
}

// ————————————————————————————————————————————————————————————————————————
// Position, Assignment, StrategyState
// ————————————————————————————————————————————————————————————————————————

// Position is the single open position an assignment may hold.
type Position struct {
	Outcome   Outcome   `json:"outcome"`
	EntryPx   float64   `json:"entry_price"`
	SizeUSDC  float64   `json:"size_usdc"`
	EntryAt   int64     `json:"entry_at"` // unix seconds
}

// StrategyState is the per-assignment mutable state. Never shared across
// assignments; serializable for persistence and warm-start restore.
type StrategyState struct {
	Ring         []Tick             `json:"ring"`
	RingCapacity int                `json:"ring_capacity"`
	Position     *Position          `json:"position,omitempty"`
	PnL          float64            `json:"pnl"`
	TradesThisSlot int              `json:"trades_this_slot"`
	CurrentSlotTS  int64            `json:"current_slot_ts"`
	DailyPnL       float64          `json:"daily_pnl"`
	DailyPnLDate   int              `json:"daily_pnl_date"` // YYYYMMDD
	LastTradeAt    *int64           `json:"last_trade_at,omitempty"`
	IndicatorCache map[string]float64 `json:"indicator_cache,omitempty"`
}

// NewStrategyState returns an empty state with the given ring capacity.
func NewStrategyState(capacity int) *StrategyState {
	if capacity <= 0 {
		capacity = 200
	}
	return &StrategyState{
		RingCapacity:   capacity,
		IndicatorCache: make(map[string]float64),
	}
}

// PushTick appends a tick to the ring, popping the oldest entry once at
// capacity. The tick ring for an assignment never exceeds RingCapacity.
func (s *StrategyState) PushTick(t Tick) {
	s.Ring = append(s.Ring, t)
	if len(s.Ring) > s.RingCapacity {
		s.Ring = s.Ring[len(s.Ring)-s.RingCapacity:]
	}
}

// Clone returns a deep-enough copy for safe handoff across goroutines
// (used by persistence, which reads state outside the per-assignment lock
// only after acquiring it — this is for serialization, not lock bypass).
func (s *StrategyState) Clone() *StrategyState {
	clone := *s
	clone.Ring = append([]Tick(nil), s.Ring...)
	if s.Position != nil {
		pos := *s.Position
		clone.Position = &pos
	}
	clone.IndicatorCache = make(map[string]float64, len(s.IndicatorCache))
	for k, v := range s.IndicatorCache {
		clone.IndicatorCache[k] = v
	}
	return &clone
}

// ————————————————————————————————————————————————————————————————————————
// ExecutionOrder, OrderResult
// ————————————————————————————————————————————————————————————————————————

// ExecOrderStatus mirrors OrderResult's status sum type.
type ExecOrderStatus string

const (
	StatusFilled    ExecOrderStatus = "filled"
	StatusCancelled ExecOrderStatus = "cancelled"
	StatusFailed    ExecOrderStatus = "failed"
	StatusTimeout   ExecOrderStatus = "timeout"
)

// ExecutionOrder is immutable once queued.
type ExecutionOrder struct {
	ID                 string
	WalletID            uint64
	StrategyID          *uint64 // nil for copy trades
	CopyRelationshipID  *uint64 // nil for strategy trades
	MarketSlug          string
	TokenID             string
	Side                Side
	Outcome             Outcome
	Price               *float64 // for limit/trigger orders
	SizeUSDC            float64
	OrderType           OrderVariant
	Priority            OrderPriority
	CreatedAt           int64 // unix seconds; tie-break within a priority
	LeaderAddress       string
	LeaderTxHash        string
	IsPaper             bool
}

// OrderResult is the outcome of an order submission attempt.
type OrderResult struct {
	ExternalOrderID string
	Status          ExecOrderStatus
	FilledPrice     *float64
	FeeRateBps      *int
}
