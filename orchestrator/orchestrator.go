// Package orchestrator owns the lifecycle of every run: creation,
// clock selection, strategy binding, per-mode wiring, and the
// create/start/stop/fail state machine of spec §4.8. Grounded on
// original_source/src/glados/services/run_manager.py for the
// create/start/stop state machine and event emission order, and on
// alanyoungcy-polymarketbot's internal/pipeline/orchestrator.go for the
// "ctx.Err() means clean shutdown, anything else is a real failure"
// errgroup convention, here applied per-run instead of per-process.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/5TFG4/weaver/clock"
	"github.com/5TFG4/weaver/domain"
	"github.com/5TFG4/weaver/events"
	"github.com/5TFG4/weaver/execution/backtest"
	"github.com/5TFG4/weaver/execution/live"
	"github.com/5TFG4/weaver/runner"
)

const (
	eventVersion = "1"
	producer     = "glados.run_manager"
)

// StrategyLoader resolves a strategy_id to a bound Strategy instance.
// The Orchestrator knows strategies only by this contract, per spec
// §9's "dynamic dispatch / plugin loading" design note.
type StrategyLoader interface {
	Load(strategyID string) (runner.Strategy, error)
}

// CreateRequest mirrors the run.CreateRequest ingress payload of
// spec §6.
type CreateRequest struct {
	StrategyID string
	Mode       domain.RunMode
	Symbols    []string
	Timeframe  string
	Config     map[string]any
	Start      *time.Time
	End        *time.Time
}

// runContext is everything the Orchestrator owns for one active run,
// removed from the registry on any terminal transition per spec §9's
// "per-run state isolation" note.
type runContext struct {
	clk         clock.Clock
	runnerInst  *runner.Runner
	backtestSvc *backtest.Service
}

// Orchestrator owns the run registry, the Run Repository, and the
// collaborators every run wires into: the strategy loader, the
// singleton Live Execution Service (shared across live/paper runs),
// and the bar repository backtests preload from.
type Orchestrator struct {
	Log         *events.Log
	Repo        *RunRepository
	Strategies  StrategyLoader
	LiveSvc     *live.Service
	BarRepo     backtest.BarRepository
	InitialCash decimal.Decimal
	FillConfig  backtest.FillSimConfig
	now         func() time.Time

	mu   sync.Mutex
	runs map[string]*runContext
}

func New(log *events.Log, repo *RunRepository, strategies StrategyLoader, liveSvc *live.Service, barRepo backtest.BarRepository, initialCash decimal.Decimal, fillConfig backtest.FillSimConfig, nowFn func() time.Time) *Orchestrator {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Orchestrator{
		Log: log, Repo: repo, Strategies: strategies, LiveSvc: liveSvc,
		BarRepo: barRepo, InitialCash: initialCash, FillConfig: fillConfig,
		now: nowFn, runs: make(map[string]*runContext),
	}
}

// ModeOf implements router.RunModeLookup by consulting the repository,
// so the router can resolve a run's mode without the Orchestrator
// keeping every run's mode duplicated in memory.
func (o *Orchestrator) ModeOf(runID string) (domain.RunMode, bool) {
	run, ok, err := o.Repo.Get(runID)
	if err != nil || !ok {
		return "", false
	}
	return run.Mode, true
}

// Create validates and persists a new pending run, emitting run.Created.
func (o *Orchestrator) Create(req CreateRequest) (domain.Run, error) {
	run := domain.Run{
		ID: uuid.NewString(), StrategyID: req.StrategyID, Mode: req.Mode,
		Symbols: req.Symbols, Timeframe: req.Timeframe, Config: req.Config,
		Start: req.Start, End: req.End, Status: domain.RunPending, CreatedAt: o.now(),
	}
	if err := run.Validate(); err != nil {
		return domain.Run{}, err
	}
	if err := o.Repo.Save(run); err != nil {
		return domain.Run{}, err
	}
	o.emitRunEvent(run, "run.Created")
	return run, nil
}

// Start begins a pending run: selects the clock, loads the strategy,
// and wires mode-specific collaborators.
func (o *Orchestrator) Start(ctx context.Context, runID string) error {
	run, ok, err := o.Repo.Get(runID)
	if err != nil {
		return err
	}
	if !ok {
		return &domain.NotFound{Resource: "run", ID: runID}
	}
	if run.Status != domain.RunPending {
		return &domain.IllegalTransition{Entity: "run", From: string(run.Status), Op: "start"}
	}

	strat, err := o.Strategies.Load(run.StrategyID)
	if err != nil {
		return err
	}

	clockMode := "realtime"
	var clockParams clock.Params
	if run.Mode == domain.ModeBacktest {
		clockMode = "backtest"
		clockParams = clock.Params{RunID: run.ID, Timeframe: run.Timeframe, RangeStart: *run.Start, RangeEnd: *run.End}
	} else {
		clockParams = clock.Params{RunID: run.ID, Timeframe: run.Timeframe}
	}
	clk, err := clock.New(clockMode, clockParams)
	if err != nil {
		return err
	}

	runnerInst := runner.New(run.ID, strat, o.Log, o.now)
	if err := runnerInst.Initialize(run.Symbols); err != nil {
		return err
	}

	rc := &runContext{clk: clk, runnerInst: runnerInst}

	if run.Mode == domain.ModeBacktest {
		svc := backtest.New(run.ID, o.Log, o.FillConfig, o.InitialCash, o.now)
		if err := svc.Initialize(ctx, o.BarRepo, run.Symbols, run.Timeframe, *run.Start, *run.End); err != nil {
			return err
		}
		rc.backtestSvc = svc

		clk.OnTick(func(tick clock.Tick) {
			defer o.recoverTick(run.ID)
			runnerInst.OnTick(tick)
			svc.AdvanceTo(tick.Ts)
		})
	} else {
		clk.OnTick(func(tick clock.Tick) {
			defer o.recoverTick(run.ID)
			runnerInst.OnTick(tick)
		})
	}

	o.mu.Lock()
	o.runs[run.ID] = rc
	o.mu.Unlock()

	now := o.now()
	run.Status = domain.RunRunning
	run.StartedAt = &now
	if err := o.Repo.Save(run); err != nil {
		return err
	}
	o.emitRunEvent(run, "run.Started")

	if err := clk.Start(ctx); err != nil {
		return err
	}

	if run.Mode == domain.ModeBacktest {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			clk.Wait()
			if gctx.Err() != nil {
				return nil // caller-initiated shutdown, not a run failure
			}
			o.completeRun(run.ID)
			return nil
		})
	}
	return nil
}

// recoverTick implements spec §4.8's error recovery: a panic out of the
// tick callback fails the run instead of propagating into the clock's
// own best-effort recovery, which only logs and continues. failRun runs
// on its own goroutine because it waits for the clock's loop, which is
// the goroutine executing this callback.
func (o *Orchestrator) recoverTick(runID string) {
	if r := recover(); r != nil {
		go o.failRun(runID, &domain.RunFailure{RunID: runID, Err: fmt.Errorf("%v", r)})
	}
}

// Stop is idempotent: already-terminal runs return unchanged.
func (o *Orchestrator) Stop(runID string) error {
	run, ok, err := o.Repo.Get(runID)
	if err != nil {
		return err
	}
	if !ok {
		return &domain.NotFound{Resource: "run", ID: runID}
	}
	if isTerminal(run.Status) {
		return nil
	}

	o.mu.Lock()
	rc := o.runs[runID]
	delete(o.runs, runID)
	o.mu.Unlock()

	if rc != nil {
		rc.clk.Stop()
		rc.clk.Wait()
		rc.runnerInst.Cleanup()
		if rc.backtestSvc != nil {
			rc.backtestSvc.Cleanup()
		}
	}

	now := o.now()
	run.Status = domain.RunStopped
	run.StoppedAt = &now
	if err := o.Repo.Save(run); err != nil {
		return err
	}
	o.emitRunEvent(run, "run.Stopped")
	return nil
}

// completeRun transitions a backtest run that reached the end of its
// range on its own, per spec §4.8's "awaits natural completion".
func (o *Orchestrator) completeRun(runID string) {
	o.mu.Lock()
	rc := o.runs[runID]
	delete(o.runs, runID)
	o.mu.Unlock()
	if rc == nil {
		return
	}

	rc.runnerInst.Cleanup()
	if rc.backtestSvc != nil {
		rc.backtestSvc.Cleanup()
	}

	run, ok, err := o.Repo.Get(runID)
	if err != nil || !ok {
		log.Error().Str("run_id", runID).Msg("orchestrator: run disappeared before completion")
		return
	}
	now := o.now()
	run.Status = domain.RunCompleted
	run.StoppedAt = &now
	if err := o.Repo.Save(run); err != nil {
		log.Error().Err(err).Str("run_id", runID).Msg("orchestrator: failed to persist completion")
		return
	}
	o.emitRunEvent(run, "run.Completed")
}

// failRun performs the same cleanup as Stop, per spec's error-recovery
// clause, but transitions to failed and emits run.Failed with details.
func (o *Orchestrator) failRun(runID string, cause error) {
	o.mu.Lock()
	rc := o.runs[runID]
	delete(o.runs, runID)
	o.mu.Unlock()
	if rc != nil {
		rc.clk.Stop()
		rc.clk.Wait()
		rc.runnerInst.Cleanup()
		if rc.backtestSvc != nil {
			rc.backtestSvc.Cleanup()
		}
	}

	run, ok, err := o.Repo.Get(runID)
	if err != nil || !ok {
		log.Error().Err(cause).Str("run_id", runID).Msg("orchestrator: run failed but could not be loaded to persist failure")
		return
	}
	now := o.now()
	run.Status = domain.RunFailed
	run.StoppedAt = &now
	if err := o.Repo.Save(run); err != nil {
		log.Error().Err(err).Str("run_id", runID).Msg("orchestrator: failed to persist run failure")
		return
	}

	env := events.NewEnvelope(events.KindEvent, "run.Failed", eventVersion, run.ID, producer, o.now(), map[string]string{
		"error": cause.Error(),
	})
	if _, err := o.Log.Append(env); err != nil {
		log.Error().Err(err).Str("run_id", run.ID).Msg("orchestrator failed to append run.Failed")
	}
}

func isTerminal(status domain.RunStatus) bool {
	switch status {
	case domain.RunStopped, domain.RunCompleted, domain.RunFailed:
		return true
	default:
		return false
	}
}

func (o *Orchestrator) emitRunEvent(run domain.Run, eventType string) {
	env := events.NewEnvelope(events.KindEvent, eventType, eventVersion, run.ID, producer, o.now(), map[string]string{
		"run_id":      run.ID,
		"strategy_id": run.StrategyID,
		"mode":        string(run.Mode),
		"status":      string(run.Status),
	})
	if _, err := o.Log.Append(env); err != nil {
		log.Error().Err(err).Str("run_id", run.ID).Str("type", eventType).Msg("orchestrator failed to append event")
	}
}

// RecoverOnStartup finds every run whose last persisted status is
// running and, per spec §4.8's persistence clause, re-starts live/paper
// runs or marks backtest runs failed (their in-memory state is lost on
// restart).
func (o *Orchestrator) RecoverOnStartup(ctx context.Context) error {
	stale, err := o.Repo.ListByStatus(domain.RunRunning)
	if err != nil {
		return err
	}
	for _, run := range stale {
		if run.Mode == domain.ModeBacktest {
			run.Status = domain.RunFailed
			now := o.now()
			run.StoppedAt = &now
			if err := o.Repo.Save(run); err != nil {
				return err
			}
			o.emitRunEvent(run, "run.Failed")
			continue
		}

		run.Status = domain.RunPending
		if err := o.Repo.Save(run); err != nil {
			return err
		}
		if err := o.Start(ctx, run.ID); err != nil {
			log.Error().Err(err).Str("run_id", run.ID).Msg("orchestrator: failed to restart recovered run")
		}
	}
	return nil
}
