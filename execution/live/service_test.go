package live

import (
	"context"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/5TFG4/weaver/domain"
	"github.com/5TFG4/weaver/events"
)

func newTestService(t *testing.T) (*Service, *MockAdapter, *events.Log) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared&_busy_timeout=5000"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	l, err := events.OpenForTest(db)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}

	adapter := NewMockAdapter()
	adapter.Connect(context.Background())
	repo := NewOrderRepository(db)
	tracker := NewPositionTracker()
	fixedNow := func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	svc := NewService(adapter, repo, tracker, l, nil, fixedNow)
	return svc, adapter, l
}

func TestPlaceOrderIdempotentSubmit(t *testing.T) {
	svc, _, l := newTestService(t)

	created := make(chan events.Envelope, 4)
	l.SubscribeFiltered([]string{"orders.Created"}, func(env events.Envelope) { created <- env }, nil)

	intent := domain.OrderIntent{RunID: "run-1", ClientOrderID: "abc", Symbol: "BTC/USD", Side: domain.SideBuy, OrderType: domain.OrderMarket, Qty: dec("1")}

	first, err := svc.PlaceOrder(context.Background(), intent, nil)
	if err != nil {
		t.Fatalf("first place: %v", err)
	}
	second, err := svc.PlaceOrder(context.Background(), intent, nil)
	if err == nil {
		t.Fatal("expected IdempotencyReplay on the second submit")
	}
	if _, ok := err.(*domain.IdempotencyReplay); !ok {
		t.Errorf("err type = %T, want *domain.IdempotencyReplay", err)
	}
	if second.ID != first.ID || !second.FilledQty.Equal(first.FilledQty) {
		t.Errorf("replayed state diverges from original: %+v vs %+v", second, first)
	}

	select {
	case <-created:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first orders.Created")
	}
	select {
	case env := <-created:
		t.Fatalf("expected exactly one orders.Created, got a second: %+v", env)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestPlaceOrderMarketFillsImmediately(t *testing.T) {
	svc, _, _ := newTestService(t)
	intent := domain.OrderIntent{RunID: "run-1", ClientOrderID: "xyz", Symbol: "BTC/USD", Side: domain.SideBuy, OrderType: domain.OrderMarket, Qty: dec("1")}

	state, err := svc.PlaceOrder(context.Background(), intent, nil)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if state.Status != domain.OrderFilledState {
		t.Errorf("status = %s, want filled", state.Status)
	}
	if !state.FilledQty.Equal(dec("1")) {
		t.Errorf("filled_qty = %s, want 1", state.FilledQty)
	}
}

func TestPlaceOrderRejection(t *testing.T) {
	svc, adapter, l := newTestService(t)
	adapter.RejectNextOrder("insufficient buying power")

	rejected := make(chan events.Envelope, 1)
	l.SubscribeFiltered([]string{"orders.Rejected"}, func(env events.Envelope) { rejected <- env }, nil)

	intent := domain.OrderIntent{RunID: "run-1", ClientOrderID: "rej-1", Symbol: "BTC/USD", Side: domain.SideBuy, OrderType: domain.OrderMarket, Qty: dec("1")}
	state, err := svc.PlaceOrder(context.Background(), intent, nil)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if state.Status != domain.OrderRejectedState {
		t.Errorf("status = %s, want rejected", state.Status)
	}

	select {
	case <-rejected:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for orders.Rejected")
	}
}

func TestCancelOrderFlow(t *testing.T) {
	svc, _, l := newTestService(t)
	cancelled := make(chan events.Envelope, 1)
	l.SubscribeFiltered([]string{"orders.Cancelled"}, func(env events.Envelope) { cancelled <- env }, nil)

	limitPrice := dec("100")
	intent := domain.OrderIntent{RunID: "run-1", ClientOrderID: "limit-1", Symbol: "BTC/USD", Side: domain.SideBuy, OrderType: domain.OrderLimit, Qty: dec("1"), LimitPrice: &limitPrice}
	if _, err := svc.PlaceOrder(context.Background(), intent, nil); err != nil {
		t.Fatalf("place: %v", err)
	}

	ok, err := svc.CancelOrder(context.Background(), "run-1", "limit-1", nil)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !ok {
		t.Fatal("expected cancel to succeed")
	}

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for orders.Cancelled")
	}
}

func TestIngestFillUpdatesOrderAndPosition(t *testing.T) {
	svc, _, l := newTestService(t)
	filled := make(chan events.Envelope, 2)
	l.SubscribeFiltered([]string{"orders.Filled"}, func(env events.Envelope) { filled <- env }, nil)

	intent := domain.OrderIntent{RunID: "run-1", ClientOrderID: "limit-2", Symbol: "BTC/USD", Side: domain.SideBuy, OrderType: domain.OrderLimit, Qty: dec("2")}
	limit := dec("100")
	intent.LimitPrice = &limit
	state, err := svc.PlaceOrder(context.Background(), intent, nil)
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	fill := domain.Fill{Qty: dec("2"), Price: dec("100"), Timestamp: time.Now()}
	if err := svc.IngestFill(state, fill, nil); err != nil {
		t.Fatalf("ingest fill: %v", err)
	}

	updated, ok, err := svc.GetOrder("run-1", "limit-2")
	if err != nil || !ok {
		t.Fatalf("get order: ok=%v err=%v", ok, err)
	}
	if updated.Status != domain.OrderFilledState {
		t.Errorf("status = %s, want filled", updated.Status)
	}
	if !updated.FilledQty.Equal(dec("2")) {
		t.Errorf("filled_qty = %s, want 2", updated.FilledQty)
	}

	pos, ok := svc.Tracker.Get("BTC/USD")
	if !ok || !pos.Qty.Equal(dec("2")) {
		t.Errorf("expected tracked position qty 2, got %+v ok=%v", pos, ok)
	}

	select {
	case <-filled:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for orders.Filled")
	}
}
