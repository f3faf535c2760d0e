// Package router implements the single in-process subscriber that
// rewrites mode-neutral strategy.* events into backtest.* or live.*
// events, generalized from a market-keyed subscription map (the
// teacher's core/router.go) into a run-mode-keyed translation table.
package router

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/5TFG4/weaver/domain"
	"github.com/5TFG4/weaver/events"
)

const eventVersion = "1"

// RunModeLookup resolves a run_id to its mode, so the router depends on
// this interface rather than on the orchestrator package that satisfies it.
type RunModeLookup interface {
	ModeOf(runID string) (domain.RunMode, bool)
}

// suffixTranslation maps a strategy.* suffix to its routed counterpart;
// unknown suffixes are dropped silently per the routing rule.
var suffixTranslation = map[string]string{
	"FetchWindow":  "FetchWindow",
	"PlaceRequest": "PlaceOrder",
}

// Router subscribes once to strategy.* and emits the translated event
// for every envelope whose run_id the RunModeLookup knows; the run's
// status is not checked.
type Router struct {
	Log   *events.Log
	Modes RunModeLookup
	now   func() time.Time
	subID string
}

func New(log *events.Log, modes RunModeLookup, nowFn func() time.Time) *Router {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Router{Log: log, Modes: modes, now: nowFn}
}

// Start registers the subscription. It is idempotent.
func (r *Router) Start() {
	if r.subID != "" {
		return
	}
	r.subID = r.Log.SubscribeFiltered([]string{"*"}, r.onEnvelope, isStrategyEvent)
}

func (r *Router) Stop() {
	if r.subID == "" {
		return
	}
	r.Log.UnsubscribeByID(r.subID)
	r.subID = ""
}

func isStrategyEvent(env events.Envelope) bool {
	return len(env.Type) > len("strategy.") && env.Type[:len("strategy.")] == "strategy."
}

func (r *Router) onEnvelope(src events.Envelope) {
	if src.RunID == "" {
		return
	}
	mode, ok := r.Modes.ModeOf(src.RunID)
	if !ok {
		return
	}

	suffix := src.Type[len("strategy."):]
	translated, ok := suffixTranslation[suffix]
	if !ok {
		return
	}

	prefix := "live."
	if mode == domain.ModeBacktest {
		prefix = "backtest."
	}

	// propagate src.Ts rather than wall-clock time: the router must not
	// overwrite a backtest event's simulated time with the instant the
	// translation itself happened to run.
	dst := events.Derive(src, prefix+translated, eventVersion, "glados.router", src.Ts, src.Payload)
	if _, err := r.Log.Append(dst); err != nil {
		log.Error().Err(err).Str("run_id", src.RunID).Str("type", dst.Type).Msg("router failed to append translated event")
	}
}
