// Package clock implements the two tick sources that drive a run: a
// wall-aligned realtime clock and a fast-forward backtest clock, sharing
// one Tick contract and one Clock interface.
package clock

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Tick is the shared contract both clocks emit. Ts is the bar start, not
// the emission instant; BarIndex is a 1-based serial within the run.
type Tick struct {
	RunID      string
	Ts         time.Time
	Timeframe  string
	BarIndex   int
	IsBacktest bool
}

// Clock is implemented by RealtimeClock and BacktestClock. Callbacks
// registered via OnTick are invoked for every tick; a callback panicking
// must not stop the loop or other callbacks.
type Clock interface {
	Start(ctx context.Context) error
	Stop()
	Wait()
	OnTick(func(Tick))
}

// callbackSet is the common panic-isolated multi-callback dispatch both
// clock implementations share.
type callbackSet struct {
	mu        sync.Mutex
	callbacks []func(Tick)
}

func (c *callbackSet) add(cb func(Tick)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, cb)
}

func (c *callbackSet) dispatch(tick Tick) {
	c.mu.Lock()
	cbs := make([]func(Tick), len(c.callbacks))
	copy(cbs, c.callbacks)
	c.mu.Unlock()

	for _, cb := range cbs {
		invokeSafely(cb, tick)
	}
}

func invokeSafely(cb func(Tick), tick Tick) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("run_id", tick.RunID).
				Msg("clock callback panicked, continuing tick loop")
		}
	}()
	cb(tick)
}
