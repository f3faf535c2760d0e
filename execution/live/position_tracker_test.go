package live

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/5TFG4/weaver/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestPositionTrackerOpensOnFirstFill(t *testing.T) {
	tr := NewPositionTracker()
	tr.ApplyFill("BTC/USD", domain.SideBuy, dec("1"), dec("100"))

	pos, ok := tr.Get("BTC/USD")
	if !ok {
		t.Fatal("expected an open position")
	}
	if !pos.Qty.Equal(dec("1")) || !pos.AvgEntryPrice.Equal(dec("100")) {
		t.Errorf("qty/avg = %s/%s, want 1/100", pos.Qty, pos.AvgEntryPrice)
	}
}

func TestPositionTrackerReweightsCostBasisOnAddition(t *testing.T) {
	tr := NewPositionTracker()
	tr.ApplyFill("BTC/USD", domain.SideBuy, dec("1"), dec("100"))
	tr.ApplyFill("BTC/USD", domain.SideBuy, dec("1"), dec("200"))

	pos, _ := tr.Get("BTC/USD")
	if !pos.Qty.Equal(dec("2")) {
		t.Errorf("qty = %s, want 2", pos.Qty)
	}
	if !pos.AvgEntryPrice.Equal(dec("150")) {
		t.Errorf("avg_entry_price = %s, want 150", pos.AvgEntryPrice)
	}
}

func TestPositionTrackerKeepsCostBasisOnPartialReduction(t *testing.T) {
	tr := NewPositionTracker()
	tr.ApplyFill("BTC/USD", domain.SideBuy, dec("2"), dec("100"))
	tr.ApplyFill("BTC/USD", domain.SideSell, dec("1"), dec("150"))

	pos, ok := tr.Get("BTC/USD")
	if !ok {
		t.Fatal("expected position to remain open")
	}
	if !pos.Qty.Equal(dec("1")) {
		t.Errorf("qty = %s, want 1", pos.Qty)
	}
	if !pos.AvgEntryPrice.Equal(dec("100")) {
		t.Errorf("avg_entry_price = %s, want unchanged 100", pos.AvgEntryPrice)
	}
	if !pos.RealizedPnL.Equal(dec("50")) {
		t.Errorf("realized_pnl = %s, want 50", pos.RealizedPnL)
	}
}

func TestPositionTrackerDeletesOnExactZero(t *testing.T) {
	tr := NewPositionTracker()
	tr.ApplyFill("BTC/USD", domain.SideBuy, dec("1"), dec("100"))
	tr.ApplyFill("BTC/USD", domain.SideSell, dec("1"), dec("120"))

	if _, ok := tr.Get("BTC/USD"); ok {
		t.Error("expected position to be deleted at zero qty")
	}
}

// TestPositionTrackerFlipsSign exercises spec scenario S6: BUY 1 @ 100
// then SELL 3 @ 110 should leave qty = -2, cost basis reset to 110.
func TestPositionTrackerFlipsSign(t *testing.T) {
	tr := NewPositionTracker()
	tr.ApplyFill("BTC/USD", domain.SideBuy, dec("1"), dec("100"))
	tr.ApplyFill("BTC/USD", domain.SideSell, dec("3"), dec("110"))

	pos, ok := tr.Get("BTC/USD")
	if !ok {
		t.Fatal("expected an open short position after the flip")
	}
	if !pos.Qty.Equal(dec("-2")) {
		t.Errorf("qty = %s, want -2", pos.Qty)
	}
	if !pos.AvgEntryPrice.Equal(dec("110")) {
		t.Errorf("avg_entry_price = %s, want 110 (reset to fill price)", pos.AvgEntryPrice)
	}
}

func TestPositionTrackerShortSideAddsAndReduces(t *testing.T) {
	tr := NewPositionTracker()
	tr.ApplyFill("ETH/USD", domain.SideSell, dec("1"), dec("100"))
	tr.ApplyFill("ETH/USD", domain.SideSell, dec("1"), dec("200"))

	pos, _ := tr.Get("ETH/USD")
	if !pos.Qty.Equal(dec("-2")) {
		t.Errorf("qty = %s, want -2", pos.Qty)
	}
	if !pos.AvgEntryPrice.Equal(dec("150")) {
		t.Errorf("avg_entry_price = %s, want 150", pos.AvgEntryPrice)
	}

	tr.ApplyFill("ETH/USD", domain.SideBuy, dec("1"), dec("120"))
	pos, ok := tr.Get("ETH/USD")
	if !ok {
		t.Fatal("expected position to remain open after partial cover")
	}
	if !pos.Qty.Equal(dec("-1")) {
		t.Errorf("qty = %s, want -1", pos.Qty)
	}
	if !pos.AvgEntryPrice.Equal(dec("150")) {
		t.Errorf("avg_entry_price = %s, want unchanged 150", pos.AvgEntryPrice)
	}
	// covering a short below cost basis realizes a gain
	if !pos.RealizedPnL.Equal(dec("30")) {
		t.Errorf("realized_pnl = %s, want 30", pos.RealizedPnL)
	}
}

func TestPositionTrackerSyncFromExchangeReplacesView(t *testing.T) {
	tr := NewPositionTracker()
	tr.ApplyFill("BTC/USD", domain.SideBuy, dec("1"), dec("100"))

	tr.SyncFromExchange([]domain.Position{
		{Symbol: "ETH/USD", Qty: dec("5"), AvgEntryPrice: dec("2000")},
	})

	if _, ok := tr.Get("BTC/USD"); ok {
		t.Error("expected BTC/USD to be gone after sync")
	}
	pos, ok := tr.Get("ETH/USD")
	if !ok || !pos.Qty.Equal(dec("5")) {
		t.Errorf("expected synced ETH/USD position with qty 5, got %+v ok=%v", pos, ok)
	}
}
