// Package backtest implements the Backtest Execution Service: a
// per-run fill simulator, equity curve, and statistics, grounded on
// original_source/src/greta/greta_service.go.
package backtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/5TFG4/weaver/domain"
	"github.com/5TFG4/weaver/events"
	"github.com/5TFG4/weaver/execution/live"
)

const eventVersion = "1"
const producer = "greta.service"

// BacktestResult is the per-run outcome exposed on completion, mirroring
// greta's BacktestResult dataclass.
type BacktestResult struct {
	RunID       string
	StartTime   time.Time
	EndTime     time.Time
	Timeframe   string
	Symbols     []string
	Stats       BacktestStats
	FinalEquity decimal.Decimal
	EquityCurve []EquityPoint
	Fills       []SimulatedFill
}

// Service is a PER-RUN instance: one per backtest run, never shared.
// It owns its bar cache, pending-order map, fills log, equity curve,
// and Position Tracker (reused from the Live Execution Service, since
// the sign-flip/reduce/delete rules of spec §4.6.1 are identical here).
type Service struct {
	RunID     string
	Symbols   []string
	Timeframe string
	Start     time.Time
	End       time.Time

	Log       *events.Log
	Config    FillSimConfig
	Tracker   *live.PositionTracker
	simulator FillSimulator
	now       func() time.Time

	tsMu      sync.Mutex
	currentTs time.Time

	cache         *barCache
	pendingOrders map[string]domain.OrderState
	fills         []SimulatedFill
	equityCurve   []EquityPoint
	currentBars   map[string]domain.Bar
	cash          decimal.Decimal
	initialCash   decimal.Decimal

	subIDs []string
}

// New constructs a Service bound to one run. Call Initialize before
// feeding it ticks.
func New(runID string, log *events.Log, cfg FillSimConfig, initialCash decimal.Decimal, nowFn func() time.Time) *Service {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Service{
		RunID:         runID,
		Log:           log,
		Config:        cfg,
		Tracker:       live.NewPositionTracker(),
		now:           nowFn,
		currentTs:     nowFn(),
		cache:         newBarCache(),
		pendingOrders: make(map[string]domain.OrderState),
		currentBars:   make(map[string]domain.Bar),
		cash:          initialCash,
		initialCash:   initialCash,
	}
}

// Initialize preloads bar data for symbols over [start, end] and
// subscribes to this run's backtest.FetchWindow and backtest.PlaceOrder
// events.
func (s *Service) Initialize(ctx context.Context, repo BarRepository, symbols []string, timeframe string, start, end time.Time) error {
	s.Symbols = symbols
	s.Timeframe = timeframe
	s.Start = start
	s.End = end
	s.currentTs = start

	if err := s.cache.Load(ctx, repo, symbols, timeframe, start, end); err != nil {
		return err
	}

	fetchSub := s.Log.SubscribeFiltered([]string{"backtest.FetchWindow"}, s.onFetchWindow, s.ownRun)
	placeSub := s.Log.SubscribeFiltered([]string{"backtest.PlaceOrder"}, s.onPlaceOrder, s.ownRun)
	s.subIDs = []string{fetchSub, placeSub}
	return nil
}

func (s *Service) ownRun(env events.Envelope) bool { return env.RunID == s.RunID }

// Cleanup unsubscribes from the Event Log. Safe to call more than once.
func (s *Service) Cleanup() {
	for _, id := range s.subIDs {
		s.Log.UnsubscribeByID(id)
	}
	s.subIDs = nil
}

// AdvanceTo drives one tick of the simulation: refresh bars, attempt
// fills, mark positions, record equity. Called by the orchestrator's
// clock callback with tick.Ts.
func (s *Service) AdvanceTo(ts time.Time) {
	s.tsMu.Lock()
	s.currentTs = ts
	s.tsMu.Unlock()

	for _, symbol := range s.Symbols {
		if bar, ok := s.cache.At(symbol, ts); ok {
			s.currentBars[symbol] = bar
		}
	}

	s.processPendingOrders(ts)
	s.markPositions()
	s.recordEquity(ts)
}

func (s *Service) processPendingOrders(ts time.Time) {
	var filledIDs []string

	for orderID, state := range s.pendingOrders {
		bar, ok := s.currentBars[state.Symbol]
		if !ok {
			continue
		}

		intent := domain.OrderIntent{
			RunID: state.RunID, ClientOrderID: state.ClientOrderID, Symbol: state.Symbol,
			Side: state.Side, OrderType: state.OrderType, Qty: state.Qty,
			LimitPrice: state.LimitPrice, StopPrice: state.StopPrice, TimeInForce: state.TimeInForce,
		}
		fill, err := s.simulator.SimulateFill(intent, bar, s.Config)
		if err != nil {
			log.Error().Err(err).Str("run_id", s.RunID).Str("order_id", orderID).Msg("backtest: fill simulation failed")
			filledIDs = append(filledIDs, orderID)
			continue
		}
		if fill == nil {
			continue
		}

		fill.OrderID = orderID
		fill.ClientOrderID = state.ClientOrderID
		fill.Timestamp = ts
		s.fills = append(s.fills, *fill)
		filledIDs = append(filledIDs, orderID)

		s.applyFill(*fill)

		state.Status = domain.OrderFilledState
		state.FilledQty = fill.Qty
		state.FilledAvgPrice = fill.FillPrice
		filledAt := ts
		state.FilledAt = &filledAt
		s.emit(nil, "orders.Filled", domain.OrderStateToPayload(state))
	}

	for _, id := range filledIDs {
		delete(s.pendingOrders, id)
	}
}

// applyFill updates cash and delegates position math to the shared
// Position Tracker.
func (s *Service) applyFill(fill SimulatedFill) {
	notional := fill.Notional()
	if fill.Side == domain.SideBuy {
		s.cash = s.cash.Sub(notional).Sub(fill.Commission)
	} else {
		s.cash = s.cash.Add(notional).Sub(fill.Commission)
	}
	s.Tracker.ApplyFill(fill.Symbol, fill.Side, fill.Qty, fill.FillPrice)
}

func (s *Service) markPositions() {
	for _, symbol := range s.Symbols {
		bar, ok := s.currentBars[symbol]
		if !ok {
			continue
		}
		s.Tracker.MarkPrice(symbol, bar.Close)
	}
}

func (s *Service) recordEquity(ts time.Time) {
	s.equityCurve = append(s.equityCurve, EquityPoint{Ts: ts, Equity: s.equity()})
}

func (s *Service) equity() decimal.Decimal {
	total := s.cash
	for _, pos := range s.Tracker.All() {
		total = total.Add(pos.MarketValue)
	}
	return total
}

// simTs returns the simulated time of the most recent AdvanceTo call,
// the authoritative clock for every envelope this service emits; it is
// never wall-clock time once a backtest has started advancing.
func (s *Service) simTs() time.Time {
	s.tsMu.Lock()
	defer s.tsMu.Unlock()
	return s.currentTs
}

func (s *Service) onFetchWindow(src events.Envelope) {
	payload, ok := src.Payload.(domain.FetchWindowPayload)
	if !ok {
		return
	}
	var asOf time.Time
	if payload.AsOf != "" {
		if t, err := time.Parse(time.RFC3339, payload.AsOf); err == nil {
			asOf = t
		}
	}

	bars := s.cache.Window(payload.Symbol, payload.Lookback, asOf)
	barPayloads := make([]domain.BarPayload, len(bars))
	for i, b := range bars {
		barPayloads[i] = domain.BarToPayload(b)
	}

	dst := events.Derive(src, "data.WindowReady", eventVersion, producer, s.simTs(), domain.WindowReadyPayload{
		Symbol: payload.Symbol,
		Bars:   barPayloads,
	})
	if _, err := s.Log.Append(dst); err != nil {
		log.Error().Err(err).Str("run_id", s.RunID).Msg("backtest: failed to append data.WindowReady")
	}
}

func (s *Service) onPlaceOrder(src events.Envelope) {
	intent, err := parsePlaceOrderPayload(s.RunID, src.Payload)
	if err != nil {
		log.Error().Err(err).Str("run_id", s.RunID).Msg("backtest: malformed PlaceOrder payload")
		return
	}
	s.placeOrder(intent, &src)
}

// placeOrder queues intent for simulation on the next AdvanceTo and
// emits orders.Created. Backtest fills are never immediate; they
// resolve against the bar current at the next tick.
func (s *Service) placeOrder(intent domain.OrderIntent, source *events.Envelope) {
	state := domain.NewOrderState(intent)
	state.ID = uuid.NewString()
	state.Status = domain.OrderAccepted
	state.CreatedAt = s.simTs()

	s.pendingOrders[state.ID] = *state
	s.emit(source, "orders.Created", domain.OrderStateToPayload(*state))
}

func (s *Service) emit(source *events.Envelope, eventType string, payload any) {
	var env events.Envelope
	if source != nil {
		env = events.Derive(*source, eventType, eventVersion, producer, s.simTs(), payload)
	} else {
		env = events.NewEnvelope(events.KindEvent, eventType, eventVersion, s.RunID, producer, s.simTs(), payload)
	}
	if _, err := s.Log.Append(env); err != nil {
		log.Error().Err(err).Str("run_id", s.RunID).Str("type", eventType).Msg("backtest service failed to append event")
	}
}

// Result returns the run's outcome. Valid any time; stats over a
// partial curve describe the run so far.
func (s *Service) Result() BacktestResult {
	finalEquity := s.equity()
	return BacktestResult{
		RunID:       s.RunID,
		StartTime:   s.Start,
		EndTime:     s.End,
		Timeframe:   s.Timeframe,
		Symbols:     s.Symbols,
		Stats:       computeStats(s.fills, s.equityCurve, s.initialCash, finalEquity),
		FinalEquity: finalEquity,
		EquityCurve: append([]EquityPoint(nil), s.equityCurve...),
		Fills:       append([]SimulatedFill(nil), s.fills...),
	}
}

func parsePlaceOrderPayload(runID string, payload any) (domain.OrderIntent, error) {
	p, ok := payload.(domain.PlaceRequestPayload)
	if !ok {
		return domain.OrderIntent{}, fmt.Errorf("unexpected payload type %T", payload)
	}
	qty, err := decimal.NewFromString(p.Qty)
	if err != nil {
		return domain.OrderIntent{}, fmt.Errorf("invalid qty: %w", err)
	}
	intent := domain.OrderIntent{
		RunID:         runID,
		ClientOrderID: "backtest-" + uuid.NewString(),
		Symbol:        p.Symbol,
		Side:          domain.OrderSide(p.Side),
		OrderType:     domain.OrderType(p.OrderType),
		Qty:           qty,
		TimeInForce:   domain.TimeInForce(p.TimeInForce),
	}
	if p.LimitPrice != nil {
		v, err := decimal.NewFromString(*p.LimitPrice)
		if err != nil {
			return domain.OrderIntent{}, fmt.Errorf("invalid limit_price: %w", err)
		}
		intent.LimitPrice = &v
	}
	if p.StopPrice != nil {
		v, err := decimal.NewFromString(*p.StopPrice)
		if err != nil {
			return domain.OrderIntent{}, fmt.Errorf("invalid stop_price: %w", err)
		}
		intent.StopPrice = &v
	}
	return intent, nil
}
