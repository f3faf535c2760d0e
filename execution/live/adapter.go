// Package live implements the Live Execution Service: idempotent order
// placement against a pluggable ExchangeAdapter, local order and fill
// tracking, position derivation, and persistence.
package live

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/5TFG4/weaver/domain"
)

// SubmitResult is what an adapter returns for a submit_order call.
type SubmitResult struct {
	Success         bool
	ExchangeOrderID string
	Status          domain.OrderStatus
	ErrorCode       string
	ErrorMessage    string
}

// Quote is a best bid/ask snapshot used for mark-to-market.
type Quote struct {
	Symbol    string
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Timestamp time.Time
}

// Account is the adapter's view of buying power and equity.
type Account struct {
	Equity        decimal.Decimal
	Cash          decimal.Decimal
	BuyingPower   decimal.Decimal
}

// OrderFilter narrows ListOrders; empty fields are unconstrained.
type OrderFilter struct {
	RunID  string
	Symbol string
	Status domain.OrderStatus
}

// ExchangeAdapter is the pluggable boundary to an exchange or broker.
// Adapters MUST honor idempotency on client_order_id when possible; the
// Service's own local deduplication is the fallback guarantee.
type ExchangeAdapter interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	SubmitOrder(ctx context.Context, intent domain.OrderIntent) (SubmitResult, error)
	CancelOrder(ctx context.Context, exchangeOrderID string) (bool, error)
	GetOrder(ctx context.Context, exchangeOrderID string) (domain.OrderState, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]domain.OrderState, error)

	GetAccount(ctx context.Context) (Account, error)
	GetPositions(ctx context.Context) ([]domain.Position, error)
	GetPosition(ctx context.Context, symbol string) (domain.Position, bool, error)

	GetLatestBar(ctx context.Context, symbol, timeframe string) (domain.Bar, error)
	GetHistoricalBars(ctx context.Context, symbol, timeframe string, lookback int) ([]domain.Bar, error)
	GetQuote(ctx context.Context, symbol string) (Quote, error)
}
