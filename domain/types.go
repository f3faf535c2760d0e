// Package domain holds the value types shared across the event log,
// clocks, strategy runner, router, and execution services: runs, order
// intents and states, fills, positions, and bars.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type RunMode string

const (
	ModeLive     RunMode = "live"
	ModePaper    RunMode = "paper"
	ModeBacktest RunMode = "backtest"
)

type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunStopped   RunStatus = "stopped"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run is the unit of orchestration: one strategy bound to one mode, one
// set of symbols, and (for backtest) one time range.
type Run struct {
	ID         string
	StrategyID string
	Mode       RunMode
	Symbols    []string
	Timeframe  string
	Config     map[string]any
	Start      *time.Time
	End        *time.Time
	Status     RunStatus
	CreatedAt  time.Time
	StartedAt  *time.Time
	StoppedAt  *time.Time
}

// Validate checks the creation-time invariants of §3: symbols non-empty,
// timeframe recognized, start/end required iff backtest.
func (r *Run) Validate() error {
	if len(r.Symbols) == 0 {
		return &ValidationError{Field: "symbols", Msg: "must not be empty"}
	}
	if !ValidTimeframe(r.Timeframe) {
		return &ValidationError{Field: "timeframe", Msg: "unrecognized timeframe " + r.Timeframe}
	}
	switch r.Mode {
	case ModeBacktest:
		if r.Start == nil || r.End == nil {
			return &ValidationError{Field: "start/end", Msg: "required for backtest mode"}
		}
		if r.End.Before(*r.Start) {
			return &ValidationError{Field: "end", Msg: "must be >= start"}
		}
	case ModeLive, ModePaper:
		if r.Start != nil || r.End != nil {
			return &ValidationError{Field: "start/end", Msg: "forbidden for live/paper mode"}
		}
	default:
		return &ValidationError{Field: "mode", Msg: "unrecognized mode " + string(r.Mode)}
	}
	return nil
}

type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

type OrderType string

const (
	OrderMarket    OrderType = "market"
	OrderLimit     OrderType = "limit"
	OrderStop      OrderType = "stop"
	OrderStopLimit OrderType = "stop_limit"
)

type TimeInForce string

const (
	TIFDay TimeInForce = "day"
	TIFGTC TimeInForce = "gtc"
	TIFIOC TimeInForce = "ioc"
	TIFFOK TimeInForce = "fok"
)

// OrderIntent is the input to execution, caller-constructed. ClientOrderID
// is the idempotency key.
type OrderIntent struct {
	RunID         string
	ClientOrderID string
	Symbol        string
	Side          OrderSide
	OrderType     OrderType
	Qty           decimal.Decimal
	LimitPrice    *decimal.Decimal
	StopPrice     *decimal.Decimal
	TimeInForce   TimeInForce
}

func (i *OrderIntent) Validate() error {
	if i.ClientOrderID == "" {
		return &ValidationError{Field: "client_order_id", Msg: "required"}
	}
	if i.Symbol == "" {
		return &ValidationError{Field: "symbol", Msg: "required"}
	}
	if i.Side != SideBuy && i.Side != SideSell {
		return &ValidationError{Field: "side", Msg: "must be buy or sell"}
	}
	if !i.Qty.IsPositive() {
		return &ValidationError{Field: "qty", Msg: "must be positive"}
	}
	if i.OrderType == OrderLimit || i.OrderType == OrderStopLimit {
		if i.LimitPrice == nil {
			return &ValidationError{Field: "limit_price", Msg: "required for " + string(i.OrderType)}
		}
	}
	if i.OrderType == OrderStop || i.OrderType == OrderStopLimit {
		if i.StopPrice == nil {
			return &ValidationError{Field: "stop_price", Msg: "required for " + string(i.OrderType)}
		}
	}
	return nil
}

type OrderStatus string

const (
	OrderPendingState   OrderStatus = "pending"
	OrderSubmitting     OrderStatus = "submitting"
	OrderSubmitted      OrderStatus = "submitted"
	OrderAccepted       OrderStatus = "accepted"
	OrderPartiallyFill  OrderStatus = "partially_filled"
	OrderFilledState    OrderStatus = "filled"
	OrderCancelledState OrderStatus = "cancelled"
	OrderRejectedState  OrderStatus = "rejected"
	OrderExpiredState   OrderStatus = "expired"
)

// OrderState is the authoritative local view of one order: the intent
// plus everything learned from the adapter and fills since.
type OrderState struct {
	ID              string
	RunID           string
	ClientOrderID   string
	ExchangeOrderID string
	Symbol          string
	Side            OrderSide
	OrderType       OrderType
	Qty             decimal.Decimal
	LimitPrice      *decimal.Decimal
	StopPrice       *decimal.Decimal
	TimeInForce     TimeInForce
	Status          OrderStatus
	FilledQty       decimal.Decimal
	FilledAvgPrice  decimal.Decimal
	CreatedAt       time.Time
	SubmittedAt     *time.Time
	FilledAt        *time.Time
	CancelledAt     *time.Time
	ErrorCode       string
	RejectReason    string
}

func NewOrderState(intent OrderIntent) *OrderState {
	return &OrderState{
		RunID:         intent.RunID,
		ClientOrderID: intent.ClientOrderID,
		Symbol:        intent.Symbol,
		Side:          intent.Side,
		OrderType:     intent.OrderType,
		Qty:           intent.Qty,
		LimitPrice:    intent.LimitPrice,
		StopPrice:     intent.StopPrice,
		TimeInForce:   intent.TimeInForce,
		Status:        OrderPendingState,
		FilledQty:     decimal.Zero,
	}
}

// Fill is one immutable execution slice of an order.
type Fill struct {
	ID         string
	OrderID    string
	Qty        decimal.Decimal
	Price      decimal.Decimal
	Commission decimal.Decimal
	Timestamp  time.Time
}

// Position is derived purely from applied fills; see PositionTracker for
// the transition rules.
type Position struct {
	Symbol         string
	Qty            decimal.Decimal
	AvgEntryPrice  decimal.Decimal
	MarketValue    decimal.Decimal
	UnrealizedPnL  decimal.Decimal
	RealizedPnL    decimal.Decimal
}

// Bar is one OHLCV aggregate, unique by (symbol, timeframe, timestamp).
type Bar struct {
	Symbol    string
	Timeframe string
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

var timeframes = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"1d":  24 * time.Hour,
}

func ValidTimeframe(tf string) bool {
	_, ok := timeframes[tf]
	return ok
}

// TimeframeDuration returns the wall/simulated duration of a recognized
// timeframe string, or false if unrecognized.
func TimeframeDuration(tf string) (time.Duration, bool) {
	d, ok := timeframes[tf]
	return d, ok
}
