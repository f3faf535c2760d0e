package live

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/5TFG4/weaver/domain"
)

// MockAdapter is an in-memory ExchangeAdapter for tests, grounded on
// original_source's MockExchangeAdapter: market orders fill
// immediately at a configurable mock price, limit/stop orders stay
// accepted, idempotent submission is keyed on client_order_id, and a
// single pending rejection can be armed for the next submit call.
type MockAdapter struct {
	mu            sync.Mutex
	connected     bool
	prices        map[string]decimal.Decimal
	orders        map[string]domain.OrderState // exchange_order_id -> state
	clientToOrder map[string]string            // client_order_id -> exchange_order_id
	positions     map[string]domain.Position
	account       Account
	rejectNext    bool
	rejectReason  string
}

func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		prices:        map[string]decimal.Decimal{"BTC/USD": decimal.NewFromInt(42000)},
		orders:        make(map[string]domain.OrderState),
		clientToOrder: make(map[string]string),
		positions:     make(map[string]domain.Position),
		account: Account{
			Equity:      decimal.NewFromInt(150000),
			Cash:        decimal.NewFromInt(50000),
			BuyingPower: decimal.NewFromInt(100000),
		},
	}
}

func (m *MockAdapter) SetPrice(symbol string, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
}

func (m *MockAdapter) RejectNextOrder(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectNext = true
	m.rejectReason = reason
}

func (m *MockAdapter) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

func (m *MockAdapter) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

func (m *MockAdapter) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockAdapter) SubmitOrder(ctx context.Context, intent domain.OrderIntent) (SubmitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if exchID, ok := m.clientToOrder[intent.ClientOrderID]; ok {
		o := m.orders[exchID]
		return SubmitResult{Success: true, ExchangeOrderID: exchID, Status: o.Status}, nil
	}

	if m.rejectNext {
		m.rejectNext = false
		reason := m.rejectReason
		m.rejectReason = ""
		return SubmitResult{Success: false, Status: domain.OrderRejectedState, ErrorCode: "REJECTED", ErrorMessage: reason}, nil
	}

	exchID := uuid.NewString()
	status := domain.OrderAccepted
	filledQty := decimal.Zero
	filledAvgPrice := decimal.Zero
	if intent.OrderType == domain.OrderMarket {
		status = domain.OrderFilledState
		filledQty = intent.Qty
		filledAvgPrice = m.priceFor(intent.Symbol)
	}

	m.orders[exchID] = domain.OrderState{
		ExchangeOrderID: exchID,
		ClientOrderID:   intent.ClientOrderID,
		Symbol:          intent.Symbol,
		Side:            intent.Side,
		OrderType:       intent.OrderType,
		Qty:             intent.Qty,
		Status:          status,
		FilledQty:       filledQty,
		FilledAvgPrice:  filledAvgPrice,
	}
	m.clientToOrder[intent.ClientOrderID] = exchID

	return SubmitResult{Success: true, ExchangeOrderID: exchID, Status: status}, nil
}

func (m *MockAdapter) CancelOrder(ctx context.Context, exchangeOrderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[exchangeOrderID]
	if !ok {
		return false, nil
	}
	switch o.Status {
	case domain.OrderFilledState, domain.OrderCancelledState, domain.OrderRejectedState, domain.OrderExpiredState:
		return false, nil
	}
	o.Status = domain.OrderCancelledState
	m.orders[exchangeOrderID] = o
	return true, nil
}

func (m *MockAdapter) GetOrder(ctx context.Context, exchangeOrderID string) (domain.OrderState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[exchangeOrderID]
	if !ok {
		return domain.OrderState{}, &domain.NotFound{Resource: "order", ID: exchangeOrderID}
	}
	return o, nil
}

func (m *MockAdapter) ListOrders(ctx context.Context, filter OrderFilter) ([]domain.OrderState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.OrderState, 0, len(m.orders))
	for _, o := range m.orders {
		if filter.Symbol != "" && o.Symbol != filter.Symbol {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (m *MockAdapter) GetAccount(ctx context.Context) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.account, nil
}

func (m *MockAdapter) GetPositions(ctx context.Context) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out, nil
}

func (m *MockAdapter) GetPosition(ctx context.Context, symbol string) (domain.Position, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[symbol]
	return p, ok, nil
}

func (m *MockAdapter) priceFor(symbol string) decimal.Decimal {
	if p, ok := m.prices[symbol]; ok {
		return p
	}
	return decimal.NewFromInt(100)
}

func (m *MockAdapter) GetLatestBar(ctx context.Context, symbol, timeframe string) (domain.Bar, error) {
	m.mu.Lock()
	price := m.priceFor(symbol)
	m.mu.Unlock()
	return mockBar(symbol, timeframe, time.Now().UTC(), price), nil
}

func (m *MockAdapter) GetHistoricalBars(ctx context.Context, symbol, timeframe string, lookback int) ([]domain.Bar, error) {
	m.mu.Lock()
	price := m.priceFor(symbol)
	m.mu.Unlock()
	delta, ok := domain.TimeframeDuration(timeframe)
	if !ok {
		delta = time.Minute
	}
	now := time.Now().UTC()
	bars := make([]domain.Bar, 0, lookback)
	for i := lookback; i > 0; i-- {
		bars = append(bars, mockBar(symbol, timeframe, now.Add(-time.Duration(i)*delta), price))
	}
	return bars, nil
}

func mockBar(symbol, timeframe string, ts time.Time, price decimal.Decimal) domain.Bar {
	return domain.Bar{
		Symbol:    symbol,
		Timeframe: timeframe,
		Timestamp: ts,
		Open:      price.Mul(decimal.NewFromFloat(0.999)),
		High:      price.Mul(decimal.NewFromFloat(1.002)),
		Low:       price.Mul(decimal.NewFromFloat(0.998)),
		Close:     price,
		Volume:    decimal.NewFromInt(100),
	}
}

func (m *MockAdapter) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	m.mu.Lock()
	price := m.priceFor(symbol)
	m.mu.Unlock()
	spread := price.Mul(decimal.NewFromFloat(0.0001))
	return Quote{
		Symbol:    symbol,
		Bid:       price.Sub(spread),
		Ask:       price.Add(spread),
		Timestamp: time.Now().UTC(),
	}, nil
}
