package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/5TFG4/weaver/domain"
	"github.com/5TFG4/weaver/events"
)

func newTestLog(t *testing.T) *events.Log {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared&_busy_timeout=5000"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	l, err := events.OpenForTest(db)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	return l
}

// TestServiceRunsBacktestToCompletion exercises spec scenario S1: six
// 1-minute bars, a strategy that requests a window then places one
// market buy, advanced tick by tick.
func TestServiceRunsBacktestToCompletion(t *testing.T) {
	l := newTestLog(t)
	start := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)
	end := start.Add(5 * time.Minute)
	repo := &fakeBarRepo{bars: map[string][]domain.Bar{"BTC/USD": sixBars(t)}}

	fixedNow := start
	svc := New("run-1", l, DefaultFillSimConfig(), dec("100000"), func() time.Time { return fixedNow })
	if err := svc.Initialize(context.Background(), repo, []string{"BTC/USD"}, "1m", start, end); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	defer svc.Cleanup()

	windowReady := make(chan events.Envelope, 6)
	l.SubscribeFiltered([]string{"data.WindowReady"}, func(env events.Envelope) { windowReady <- env }, nil)
	created := make(chan events.Envelope, 1)
	l.SubscribeFiltered([]string{"orders.Created"}, func(env events.Envelope) { created <- env }, nil)
	filled := make(chan events.Envelope, 1)
	l.SubscribeFiltered([]string{"orders.Filled"}, func(env events.Envelope) { filled <- env }, nil)

	placedOrder := false
	ts := start
	for i := 0; i < 6; i++ {
		fixedNow = ts

		fetchEnv := events.NewEnvelope(events.KindEvent, "backtest.FetchWindow", "1", "run-1", "glados.router", ts, domain.FetchWindowPayload{Symbol: "BTC/USD", Lookback: 10})
		if _, err := l.Append(fetchEnv); err != nil {
			t.Fatalf("append fetch window: %v", err)
		}

		select {
		case <-windowReady:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for data.WindowReady on tick %d", i)
		}

		if !placedOrder {
			placeEnv := events.NewEnvelope(events.KindEvent, "backtest.PlaceOrder", "1", "run-1", "glados.router", ts, domain.PlaceRequestPayload{
				Symbol: "BTC/USD", Side: "buy", Qty: "1", OrderType: "market",
			})
			if _, err := l.Append(placeEnv); err != nil {
				t.Fatalf("append place order: %v", err)
			}
			select {
			case <-created:
			case <-time.After(time.Second):
				t.Fatal("timed out waiting for orders.Created")
			}
			placedOrder = true
		}

		svc.AdvanceTo(ts)
		ts = ts.Add(time.Minute)
	}

	select {
	case <-filled:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for orders.Filled")
	}

	result := svc.Result()
	if len(result.Fills) != 1 {
		t.Fatalf("fills = %d, want 1", len(result.Fills))
	}
	if len(result.EquityCurve) != 6 {
		t.Fatalf("equity curve points = %d, want 6 (one per tick)", len(result.EquityCurve))
	}
	pos, ok := svc.Tracker.Get("BTC/USD")
	if !ok || !pos.Qty.Equal(dec("1")) {
		t.Errorf("expected an open position of qty 1, got %+v ok=%v", pos, ok)
	}
}

// TestServiceReconcilesCashAgainstRealizedPnL checks the Open Question 2
// invariant: total realized P&L equals total cash inflow/outflow minus
// commissions, across a full round trip.
func TestServiceReconcilesCashAgainstRealizedPnL(t *testing.T) {
	l := newTestLog(t)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := New("run-2", l, FillSimConfig{SlippageBps: dec("0"), CommissionBps: dec("0"), MinCommission: dec("0"), FillAt: FillAtClose}, dec("10000"), func() time.Time { return start })

	buyBar := domain.Bar{Symbol: "X", Timeframe: "1m", Timestamp: start, Open: dec("100"), High: dec("100"), Low: dec("100"), Close: dec("100"), Volume: dec("1")}
	sellBar := domain.Bar{Symbol: "X", Timeframe: "1m", Timestamp: start.Add(time.Minute), Open: dec("150"), High: dec("150"), Low: dec("150"), Close: dec("150"), Volume: dec("1")}

	svc.Symbols = []string{"X"}
	svc.currentBars["X"] = buyBar
	buyIntent := domain.OrderIntent{RunID: "run-2", ClientOrderID: "buy-1", Symbol: "X", Side: domain.SideBuy, OrderType: domain.OrderMarket, Qty: dec("1")}
	svc.placeOrder(buyIntent, nil)
	svc.processPendingOrders(start)

	svc.currentBars["X"] = sellBar
	sellIntent := domain.OrderIntent{RunID: "run-2", ClientOrderID: "sell-1", Symbol: "X", Side: domain.SideSell, OrderType: domain.OrderMarket, Qty: dec("1")}
	svc.placeOrder(sellIntent, nil)
	svc.processPendingOrders(start.Add(time.Minute))

	pos, ok := svc.Tracker.Get("X")
	if ok {
		t.Fatalf("expected the round trip to close the position, got %+v", pos)
	}
	_ = pos

	cashDelta := svc.cash.Sub(dec("10000"))
	if !cashDelta.Equal(dec("50")) {
		t.Errorf("cash delta = %s, want 50 (sold at 150, bought at 100, no costs)", cashDelta)
	}

	var stats BacktestStats
	computeTradeStats(&stats, svc.fills)
	realizedPnL := stats.AvgWin.Mul(decimal.NewFromInt(int64(stats.WinningTrades))).
		Sub(stats.AvgLoss.Mul(decimal.NewFromInt(int64(stats.LosingTrades))))
	if !realizedPnL.Equal(cashDelta) {
		t.Errorf("realized P&L = %s, want %s (net cash flow minus commissions)", realizedPnL, cashDelta)
	}
}
