package live

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/5TFG4/weaver/domain"
	"github.com/5TFG4/weaver/events"
)

const eventVersion = "1"

// NotConnected is returned when an order is placed or cancelled before
// the adapter has connected.
type NotConnected struct{}

func (NotConnected) Error() string { return "exchange adapter is not connected" }
func (NotConnected) Kind() string  { return "NotConnected" }

// Service is the singleton Live Execution Service: one adapter, one
// Order Repository, one Position Tracker, shared across every
// live/paper run. Grounded on execution/executor.go's Executor, whose
// orders map keyed by ClientID and ForceCloseAllPositions/LoadPosition
// reconciliation pair are generalized here into OrderRepository-backed
// idempotency and Service.Reconcile.
type Service struct {
	Adapter  ExchangeAdapter
	Repo     *OrderRepository
	Tracker  *PositionTracker
	Log      *events.Log
	now      func() time.Time

	runFilter func(runID string) bool
	subID     string
}

func NewService(adapter ExchangeAdapter, repo *OrderRepository, tracker *PositionTracker, log *events.Log, runFilter func(string) bool, nowFn func() time.Time) *Service {
	if nowFn == nil {
		nowFn = time.Now
	}
	if runFilter == nil {
		runFilter = func(string) bool { return true }
	}
	return &Service{Adapter: adapter, Repo: repo, Tracker: tracker, Log: log, now: nowFn, runFilter: runFilter}
}

// Start subscribes to live.PlaceOrder and live.CancelOrder, filtered
// to the service's configured runs.
func (s *Service) Start() {
	if s.subID != "" {
		return
	}
	s.subID = s.Log.SubscribeFiltered([]string{"live.PlaceOrder", "live.CancelOrder"}, s.onEnvelope, func(env events.Envelope) bool {
		return s.runFilter(env.RunID)
	})
}

func (s *Service) Stop() {
	if s.subID == "" {
		return
	}
	s.Log.UnsubscribeByID(s.subID)
	s.subID = ""
}

func (s *Service) onEnvelope(env events.Envelope) {
	switch env.Type {
	case "live.PlaceOrder":
		intent, err := intentFromPayload(env.RunID, env.Payload)
		if err != nil {
			log.Error().Err(err).Str("run_id", env.RunID).Msg("live service: malformed PlaceOrder payload")
			return
		}
		if _, err := s.PlaceOrder(context.Background(), intent, &env); err != nil {
			log.Error().Err(err).Str("run_id", env.RunID).Str("client_order_id", intent.ClientOrderID).Msg("live service: place_order failed")
		}
	case "live.CancelOrder":
		p, ok := env.Payload.(map[string]any)
		if !ok {
			return
		}
		clientOrderID, _ := p["client_order_id"].(string)
		if _, err := s.CancelOrder(context.Background(), env.RunID, clientOrderID, &env); err != nil {
			log.Error().Err(err).Str("run_id", env.RunID).Str("client_order_id", clientOrderID).Msg("live service: cancel_order failed")
		}
	}
}

func intentFromPayload(runID string, payload any) (domain.OrderIntent, error) {
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
		ClientOrderID: uuid.NewString(),
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

// PlaceOrder implements the five-step place-order flow of spec §4.6.
// source, if non-nil, is the triggering live.PlaceOrder envelope and
// becomes the causation_id of the emitted orders.* event.
func (s *Service) PlaceOrder(ctx context.Context, intent domain.OrderIntent, source *events.Envelope) (domain.OrderState, error) {
	if !s.Adapter.IsConnected() {
		return domain.OrderState{}, &NotConnected{}
	}
	if err := intent.Validate(); err != nil {
		return domain.OrderState{}, err
	}

	if existing, ok, err := s.Repo.GetByClientOrderID(intent.RunID, intent.ClientOrderID); err != nil {
		return domain.OrderState{}, err
	} else if ok {
		return existing, &domain.IdempotencyReplay{ClientOrderID: intent.ClientOrderID}
	}

	result, err := s.Adapter.SubmitOrder(ctx, intent)
	if err != nil {
		return domain.OrderState{}, &domain.TransportTimeout{Op: "SubmitOrder", Err: err}
	}

	state := domain.NewOrderState(intent)
	state.ID = uuid.NewString()
	now := s.now()
	state.CreatedAt = now
	state.SubmittedAt = &now
	state.ExchangeOrderID = result.ExchangeOrderID
	state.Status = result.Status
	state.ErrorCode = result.ErrorCode
	state.RejectReason = result.ErrorMessage

	if result.Status == domain.OrderFilledState {
		if fresh, err := s.Adapter.GetOrder(ctx, result.ExchangeOrderID); err == nil {
			state.FilledQty = fresh.FilledQty
			state.FilledAvgPrice = fresh.FilledAvgPrice
			filledAt := s.now()
			state.FilledAt = &filledAt
		}
	}

	if err := s.Repo.Save(*state); err != nil {
		return domain.OrderState{}, err
	}

	eventType := "orders.Created"
	if result.Status == domain.OrderRejectedState {
		eventType = "orders.Rejected"
	}
	s.emit(source, intent.RunID, eventType, domain.OrderStateToPayload(*state))

	return *state, nil
}

// CancelOrder looks up local state, delegates to the adapter, and on
// success marks the order cancelled and emits orders.Cancelled.
func (s *Service) CancelOrder(ctx context.Context, runID, clientOrderID string, source *events.Envelope) (bool, error) {
	state, ok, err := s.Repo.GetByClientOrderID(runID, clientOrderID)
	if err != nil {
		return false, err
	}
	if !ok || state.ExchangeOrderID == "" {
		return false, &domain.NotFound{Resource: "order", ID: clientOrderID}
	}

	cancelled, err := s.Adapter.CancelOrder(ctx, state.ExchangeOrderID)
	if err != nil {
		return false, &domain.TransportTimeout{Op: "CancelOrder", Err: err}
	}
	if !cancelled {
		return false, nil
	}

	now := s.now()
	state.Status = domain.OrderCancelledState
	state.CancelledAt = &now
	if err := s.Repo.Save(state); err != nil {
		return false, err
	}
	s.emit(source, runID, "orders.Cancelled", domain.OrderStateToPayload(state))
	return true, nil
}

// GetOrder prefers local state, falling back to the repository — they
// are the same store here, but the distinction matters if a caller
// someday keeps a separate in-memory hot set.
func (s *Service) GetOrder(runID, clientOrderID string) (domain.OrderState, bool, error) {
	return s.Repo.GetByClientOrderID(runID, clientOrderID)
}

func (s *Service) ListOrders(runID string) ([]domain.OrderState, error) {
	return s.Repo.ListByRun(runID)
}

// IngestFill appends a fill to an order, recomputes filled_qty and the
// weighted filled_avg_price, applies the fill to the Position Tracker,
// and emits orders.Filled.
func (s *Service) IngestFill(order domain.OrderState, fill domain.Fill, source *events.Envelope) error {
	if fill.ID == "" {
		fill.ID = uuid.NewString()
	}
	fill.OrderID = order.ID
	if err := s.Repo.SaveFill(fill); err != nil {
		return err
	}

	totalNotional := order.FilledAvgPrice.Mul(order.FilledQty).Add(fill.Price.Mul(fill.Qty))
	order.FilledQty = order.FilledQty.Add(fill.Qty)
	if order.FilledQty.IsPositive() {
		order.FilledAvgPrice = totalNotional.Div(order.FilledQty)
	}
	if order.FilledQty.GreaterThanOrEqual(order.Qty) {
		order.Status = domain.OrderFilledState
		now := s.now()
		order.FilledAt = &now
	} else {
		order.Status = domain.OrderPartiallyFill
	}

	if err := s.Repo.Save(order); err != nil {
		return err
	}

	s.Tracker.ApplyFill(order.Symbol, order.Side, fill.Qty, fill.Price)
	s.emit(source, order.RunID, "orders.Filled", domain.OrderStateToPayload(order))
	return nil
}

// Reconcile resyncs the Position Tracker from the exchange's
// authoritative view, used at startup and after disconnected periods,
// generalizing the teacher's ForceCloseAllPositions/LoadPosition pair
// (execution/executor.go) into a read-only resync.
func (s *Service) Reconcile(ctx context.Context) error {
	positions, err := s.Adapter.GetPositions(ctx)
	if err != nil {
		return &domain.TransportTimeout{Op: "GetPositions", Err: err}
	}
	s.Tracker.SyncFromExchange(positions)
	return nil
}

func (s *Service) emit(source *events.Envelope, runID, eventType string, payload any) {
	env := events.NewEnvelope(events.KindEvent, eventType, eventVersion, runID, "veda", s.now(), payload)
	if source != nil {
		env.CorrID = source.CorrID
		env.CausationID = source.ID
	}
	if _, err := s.Log.Append(env); err != nil {
		log.Error().Err(err).Str("run_id", runID).Str("type", eventType).Msg("live service failed to append event")
	}
}
