package live

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/5TFG4/weaver/domain"
)

// PositionTracker maintains symbol -> position from applied fills,
// generalizing the teacher's updatePosition (execution/executor.go),
// which only ever adds to or zeroes out a long, into the full
// sign-flip/reduce/delete rule set of the fill-application rules: a
// fill same-sign as the existing position re-weights cost basis; a
// fill that reduces without crossing zero leaves cost basis alone; a
// fill that crosses zero resets cost basis to the fill price on the
// new side; a fill that lands exactly on zero deletes the entry.
type PositionTracker struct {
	mu        sync.Mutex
	positions map[string]*domain.Position
	realized  map[string]decimal.Decimal
}

func NewPositionTracker() *PositionTracker {
	return &PositionTracker{
		positions: make(map[string]*domain.Position),
		realized:  make(map[string]decimal.Decimal),
	}
}

// ApplyFill folds one fill into the tracked position for symbol.
func (t *PositionTracker) ApplyFill(symbol string, side domain.OrderSide, qty, price decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()

	signedQty := qty
	if side == domain.SideSell {
		signedQty = qty.Neg()
	}

	pos, exists := t.positions[symbol]
	if !exists || pos.Qty.IsZero() {
		t.positions[symbol] = &domain.Position{
			Symbol:        symbol,
			Qty:           signedQty,
			AvgEntryPrice: price,
		}
		return
	}

	sameSign := pos.Qty.Sign() == signedQty.Sign()
	if sameSign {
		totalCost := pos.AvgEntryPrice.Mul(pos.Qty.Abs()).Add(price.Mul(qty))
		newQty := pos.Qty.Add(signedQty)
		pos.AvgEntryPrice = totalCost.Div(newQty.Abs())
		pos.Qty = newQty
		return
	}

	// Opposite-sign fill: reduces, flips, or zeroes the position.
	reducedQty := decimal.Min(qty, pos.Qty.Abs())
	var pnlPerUnit decimal.Decimal
	if pos.Qty.IsPositive() {
		pnlPerUnit = price.Sub(pos.AvgEntryPrice)
	} else {
		pnlPerUnit = pos.AvgEntryPrice.Sub(price)
	}
	t.realized[symbol] = t.realized[symbol].Add(pnlPerUnit.Mul(reducedQty))

	newQty := pos.Qty.Add(signedQty)
	switch {
	case newQty.IsZero():
		delete(t.positions, symbol)
	case qty.GreaterThan(pos.Qty.Abs()):
		// crossed zero onto the opposite side
		pos.Qty = newQty
		pos.AvgEntryPrice = price
	default:
		pos.Qty = newQty
	}
}

// Get returns a copy of the tracked position for symbol, if any.
func (t *PositionTracker) Get(symbol string) (domain.Position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	out := *pos
	out.RealizedPnL = t.realized[symbol]
	return out, true
}

// All returns a snapshot of every open position.
func (t *PositionTracker) All() []domain.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.Position, 0, len(t.positions))
	for symbol, pos := range t.positions {
		copied := *pos
		copied.RealizedPnL = t.realized[symbol]
		out = append(out, copied)
	}
	return out
}

// MarkPrice applies a mark-to-market price to a symbol's tracked
// position, updating market_value and unrealized_pnl. It does not
// choose the price source; callers resolve the fallback chain (quote
// midpoint, then last trade, then last fill) and pass the result here.
func (t *PositionTracker) MarkPrice(symbol string, price decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.positions[symbol]
	if !ok {
		return
	}
	pos.MarketValue = price.Mul(pos.Qty)
	pos.UnrealizedPnL = price.Sub(pos.AvgEntryPrice).Mul(pos.Qty)
}

// SyncFromExchange replaces the local view with the adapter's
// authoritative positions, used at startup and after disconnects.
// Realized P&L history is preserved across the resync.
func (t *PositionTracker) SyncFromExchange(positions []domain.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.positions = make(map[string]*domain.Position, len(positions))
	for i := range positions {
		p := positions[i]
		t.positions[p.Symbol] = &p
	}
}
