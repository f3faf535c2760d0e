package runner

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/5TFG4/weaver/clock"
	"github.com/5TFG4/weaver/domain"
	"github.com/5TFG4/weaver/events"
)

const eventVersion = "1"

// Runner binds one strategy instance to one run. It subscribes to
// data.WindowReady filtered to its run_id, calls the strategy on ticks
// and on data, and appends the resulting actions as mode-neutral
// strategy.* envelopes. Emitted envelopes are stamped with the
// triggering tick's Ts rather than wall-clock time, so a backtest run's
// events carry simulated time per invariant (vi); now is the fallback
// used only before the first tick has been observed.
type Runner struct {
	RunID    string
	Strategy Strategy
	Log      *events.Log
	now      func() time.Time

	subID string

	mu        sync.Mutex
	currentTs time.Time
}

func New(runID string, strategy Strategy, log *events.Log, nowFn func() time.Time) *Runner {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Runner{RunID: runID, Strategy: strategy, Log: log, now: nowFn, currentTs: nowFn()}
}

// Initialize subscribes to this run's data.WindowReady events and, if
// the strategy opts in, calls its Initialize hook.
func (r *Runner) Initialize(symbols []string) error {
	r.subID = r.Log.SubscribeFiltered([]string{"data.WindowReady"}, r.onWindowReady, func(env events.Envelope) bool {
		return env.RunID == r.RunID
	})

	if init, ok := r.Strategy.(Initializer); ok {
		return init.Initialize(symbols)
	}
	return nil
}

// OnTick is invoked by the orchestrator on every clock tick for this run.
func (r *Runner) OnTick(tick clock.Tick) {
	r.mu.Lock()
	r.currentTs = tick.Ts
	r.mu.Unlock()

	actions, err := r.Strategy.OnTick(tick)
	if err != nil {
		log.Error().Err(err).Str("run_id", r.RunID).Str("strategy", r.Strategy.Name()).
			Msg("strategy on_tick returned an error")
		return
	}
	for _, action := range actions {
		r.emit(nil, r.tickTs(), action)
	}
}

func (r *Runner) onWindowReady(source events.Envelope) {
	actions, err := r.Strategy.OnData(source.Payload)
	if err != nil {
		log.Error().Err(err).Str("run_id", r.RunID).Str("strategy", r.Strategy.Name()).
			Msg("strategy on_data returned an error")
		return
	}
	for _, action := range actions {
		// use the triggering event's own Ts, not the latest tick: in a
		// backtest the window-ready response carries the simulated time
		// the window was computed at, which is the authoritative time
		// for anything it causes.
		r.emit(&source, source.Ts, action)
	}
}

// tickTs returns the Ts of the most recent tick observed, which is
// simulated time for a backtest run and wall-clock time for a live or
// paper run, falling back to now() before any tick has arrived.
func (r *Runner) tickTs() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentTs
}

// emit appends one mode-neutral strategy.* envelope per action. Each
// action starts a fresh correlation chain (spec requires a new corr_id
// per action so responses can be grouped); causation_id points back to
// the event that triggered on_data, or is empty for a root tick-driven
// action.
func (r *Runner) emit(source *events.Envelope, ts time.Time, action Action) {
	var eventType string
	var payload any

	switch a := action.(type) {
	case FetchWindowAction:
		eventType = "strategy.FetchWindow"
		payload = domain.FetchWindowPayload{Symbol: a.Symbol, Lookback: a.Lookback}
	case PlaceOrderAction:
		eventType = "strategy.PlaceRequest"
		payload = placeRequestPayload(a)
	default:
		log.Warn().Str("run_id", r.RunID).Msg("runner: unknown action type, dropping")
		return
	}

	env := events.NewEnvelope(events.KindEvent, eventType, eventVersion, r.RunID, "marvin.runner", ts, payload)
	if source != nil {
		env.CausationID = source.ID
	}

	if _, err := r.Log.Append(env); err != nil {
		log.Error().Err(err).Str("run_id", r.RunID).Str("type", eventType).Msg("runner failed to append action event")
	}
}

func placeRequestPayload(a PlaceOrderAction) domain.PlaceRequestPayload {
	p := domain.PlaceRequestPayload{
		Symbol:    a.Symbol,
		Side:      string(a.Side),
		Qty:       a.Qty.String(),
		OrderType: string(a.OrderType),
	}
	if a.LimitPrice != nil {
		s := a.LimitPrice.String()
		p.LimitPrice = &s
	}
	if a.StopPrice != nil {
		s := a.StopPrice.String()
		p.StopPrice = &s
	}
	return p
}

// Cleanup unsubscribes from the Event Log. The runner stores its
// subscription id so cleanup is deterministic even if called twice.
func (r *Runner) Cleanup() {
	if r.subID == "" {
		return
	}
	r.Log.UnsubscribeByID(r.subID)
	r.subID = ""
}
