package clock

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	longWaitRemainder = 100 * time.Millisecond
	shortWaitInterval = 10 * time.Millisecond
)

// RealtimeClock emits ticks aligned to wall-clock bar boundaries. To hit
// the +-50ms precision target without busy-waiting, it sleeps
// cooperatively in slices of at most ~100ms, re-reading the clock after
// each, until it is within ~100ms of the boundary, then sleeps ~10ms at
// a time.
type RealtimeClock struct {
	callbackSet

	RunID     string
	Timeframe string

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	barIndex int

	now func() time.Time // overridable for tests
}

func NewRealtimeClock(runID, timeframe string) *RealtimeClock {
	return &RealtimeClock{
		RunID:     runID,
		Timeframe: timeframe,
		now:       time.Now,
	}
}

func (c *RealtimeClock) OnTick(cb func(Tick)) { c.add(cb) }

func (c *RealtimeClock) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.loop(ctx)
	return nil
}

func (c *RealtimeClock) loop(ctx context.Context) {
	defer c.wg.Done()
	for {
		boundary := NextBoundary(c.now(), c.Timeframe)
		if !c.waitUntil(ctx, boundary) {
			return
		}

		c.barIndex++
		tick := Tick{
			RunID:      c.RunID,
			Ts:         boundary,
			Timeframe:  c.Timeframe,
			BarIndex:   c.barIndex,
			IsBacktest: false,
		}
		c.safeDispatch(tick)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// safeDispatch isolates panics from the tick loop itself: a callback
// failure must log and let the loop continue to the next boundary.
func (c *RealtimeClock) safeDispatch(tick Tick) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("run_id", c.RunID).
				Msg("realtime clock tick loop recovered from failure, continuing")
		}
	}()
	c.dispatch(tick)
}

// waitUntil cooperatively sleeps until target, returning false if ctx
// was cancelled first.
func (c *RealtimeClock) waitUntil(ctx context.Context, target time.Time) bool {
	for {
		remaining := target.Sub(c.now())
		if remaining <= 0 {
			return true
		}

		wait := remaining - longWaitRemainder
		if wait < 0 {
			wait = shortWaitInterval
		}
		if wait > longWaitRemainder {
			wait = longWaitRemainder
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

func (c *RealtimeClock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *RealtimeClock) Wait() {
	c.wg.Wait()
}
