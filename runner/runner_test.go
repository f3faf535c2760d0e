package runner

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/5TFG4/weaver/clock"
	"github.com/5TFG4/weaver/domain"
	"github.com/5TFG4/weaver/events"
)

type fakeStrategy struct {
	name        string
	tickActions []Action
	dataActions []Action
	initialized []string
}

func (f *fakeStrategy) Name() string { return f.name }
func (f *fakeStrategy) OnTick(tick clock.Tick) ([]Action, error) {
	return f.tickActions, nil
}
func (f *fakeStrategy) OnData(payload any) ([]Action, error) {
	return f.dataActions, nil
}
func (f *fakeStrategy) Initialize(symbols []string) error {
	f.initialized = symbols
	return nil
}

func newTestLog(t *testing.T) *events.Log {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared&_busy_timeout=5000"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	l, err := events.OpenForTest(db)
	if err != nil {
		t.Fatalf("new log: %v", err)
	}
	return l
}

func TestRunnerEmitsFetchWindowOnTick(t *testing.T) {
	l := newTestLog(t)
	strat := &fakeStrategy{
		name: "always-fetch",
		tickActions: []Action{
			FetchWindowAction{Symbol: "BTC/USD", Lookback: 10},
		},
	}
	r := New("run-1", strat, l, func() time.Time { return time.Date(2024, 1, 1, 9, 31, 0, 0, time.UTC) })

	captured := make(chan events.Envelope, 1)
	l.SubscribeFiltered([]string{"strategy.FetchWindow"}, func(env events.Envelope) {
		captured <- env
	}, nil)

	if err := r.Initialize([]string{"BTC/USD"}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if strat.initialized == nil {
		t.Error("expected strategy Initialize to be called")
	}

	r.OnTick(clock.Tick{RunID: "run-1", Ts: time.Now(), Timeframe: "1m", BarIndex: 1})

	select {
	case env := <-captured:
		if env.RunID != "run-1" {
			t.Errorf("run_id = %s, want run-1", env.RunID)
		}
		if env.Producer != "marvin.runner" {
			t.Errorf("producer = %s, want marvin.runner", env.Producer)
		}
		if env.CausationID != "" {
			t.Error("a tick-driven action should have no causation_id")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for strategy.FetchWindow")
	}

	r.Cleanup()
	r.Cleanup() // must be safe to call twice
}

func TestRunnerStampsEnvelopeWithTickTimestampNotWallClock(t *testing.T) {
	l := newTestLog(t)
	strat := &fakeStrategy{
		name: "always-fetch",
		tickActions: []Action{
			FetchWindowAction{Symbol: "BTC/USD", Lookback: 10},
		},
	}
	// now() is a decoy far from the tick's simulated time; if the
	// emitted envelope ever carries it, the backtest's timestamps are
	// not simulated time as invariant (vi) requires.
	r := New("run-1", strat, l, func() time.Time { return time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC) })
	if err := r.Initialize([]string{"BTC/USD"}); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	captured := make(chan events.Envelope, 1)
	l.SubscribeFiltered([]string{"strategy.FetchWindow"}, func(env events.Envelope) {
		captured <- env
	}, nil)

	simulatedTs := time.Date(2024, 1, 1, 9, 31, 0, 0, time.UTC)
	r.OnTick(clock.Tick{RunID: "run-1", Ts: simulatedTs, Timeframe: "1m", BarIndex: 1, IsBacktest: true})

	select {
	case env := <-captured:
		if !env.Ts.Equal(simulatedTs) {
			t.Errorf("envelope Ts = %v, want the tick's simulated time %v", env.Ts, simulatedTs)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for strategy.FetchWindow")
	}
}

func TestRunnerEmitsPlaceRequestOnWindowReady(t *testing.T) {
	l := newTestLog(t)
	qty := decimal.NewFromInt(1)
	strat := &fakeStrategy{
		name: "buy-once",
		dataActions: []Action{
			PlaceOrderAction{Symbol: "BTC/USD", Side: domain.SideBuy, Qty: qty, OrderType: domain.OrderMarket},
		},
	}
	r := New("run-1", strat, l, nil)
	if err := r.Initialize([]string{"BTC/USD"}); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	captured := make(chan events.Envelope, 1)
	l.SubscribeFiltered([]string{"strategy.PlaceRequest"}, func(env events.Envelope) {
		captured <- env
	}, nil)

	source := events.NewEnvelope(events.KindEvent, "data.WindowReady", "1", "run-1", "greta", time.Now(), nil)
	if _, err := l.Append(source); err != nil {
		t.Fatalf("append source: %v", err)
	}
	// the append itself dispatches to the Runner's own data.WindowReady
	// subscription, so no direct call is needed.

	select {
	case env := <-captured:
		if env.CausationID != source.ID {
			t.Errorf("causation_id = %s, want %s", env.CausationID, source.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for strategy.PlaceRequest")
	}
}
