// Package runner binds one strategy instance to one run and translates
// its actions into mode-neutral strategy.* events on the log.
package runner

import (
	"github.com/shopspring/decimal"

	"github.com/5TFG4/weaver/clock"
	"github.com/5TFG4/weaver/domain"
)

// Action is the union of things a strategy can ask the runner to do in
// response to a tick or a data event.
type Action interface {
	isAction()
}

// FetchWindowAction requests the latest N bars for a symbol.
type FetchWindowAction struct {
	Symbol   string
	Lookback int
}

func (FetchWindowAction) isAction() {}

// PlaceOrderAction submits an order.
type PlaceOrderAction struct {
	Symbol     string
	Side       domain.OrderSide
	Qty        decimal.Decimal
	OrderType  domain.OrderType
	LimitPrice *decimal.Decimal
	StopPrice  *decimal.Decimal
}

func (PlaceOrderAction) isAction() {}

// Strategy is the plug-in contract. OnTick and OnData are the required
// methods; Initialize is optional (see Initializer below) so strategies
// with no setup work can skip it entirely, matching the "optional
// initialize" clause of the contract.
type Strategy interface {
	Name() string
	OnTick(tick clock.Tick) ([]Action, error)
	OnData(payload any) ([]Action, error)
}

// Initializer is implemented by strategies that need per-run setup
// before the first tick.
type Initializer interface {
	Initialize(symbols []string) error
}
