package clock

import (
	"context"
	"sync"
	"time"
)

// BacktestClock runs as fast as the downstream can accept, ticking at
// RangeStart, RangeStart+delta, ..., <=RangeEnd. IsBacktest is always
// true on its ticks; strategies must not branch on it, it exists for
// telemetry only.
type BacktestClock struct {
	callbackSet

	RunID        string
	Timeframe    string
	RangeStart   time.Time
	RangeEnd     time.Time
	Backpressure bool

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	current  time.Time
	barIndex int
	complete bool
	ackCh    chan struct{}
}

func NewBacktestClock(runID, timeframe string, start, end time.Time, backpressure bool) *BacktestClock {
	// one ack slot per tick of the range, so acknowledgements sent ahead
	// of the loop are kept rather than dropped
	ackSlots := 1
	if delta, ok := DurationOf(timeframe); ok && !end.Before(start) {
		ackSlots = int(end.Sub(start)/delta) + 1
	}
	return &BacktestClock{
		RunID:        runID,
		Timeframe:    timeframe,
		RangeStart:   start,
		RangeEnd:     end,
		Backpressure: backpressure,
		current:      start,
		ackCh:        make(chan struct{}, ackSlots),
	}
}

func (c *BacktestClock) OnTick(cb func(Tick)) { c.add(cb) }

// Start begins the fast-forward loop; it returns once the loop has been
// launched, not once it completes (use Wait for that), matching the
// Clock interface's async contract.
func (c *BacktestClock) Start(ctx context.Context) error {
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

func (c *BacktestClock) loop(ctx context.Context) {
	defer c.wg.Done()
	delta, ok := DurationOf(c.Timeframe)
	if !ok {
		return
	}

	ts := c.RangeStart
	for !ts.After(c.RangeEnd) {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		c.current = ts
		c.barIndex++
		tick := Tick{
			RunID:      c.RunID,
			Ts:         ts,
			Timeframe:  c.Timeframe,
			BarIndex:   c.barIndex,
			IsBacktest: true,
		}
		c.mu.Unlock()

		c.dispatch(tick)

		if c.Backpressure {
			select {
			case <-c.ackCh:
			case <-ctx.Done():
				return
			}
		}

		if ts.Equal(c.RangeEnd) {
			break
		}
		ts = ts.Add(delta)
	}

	c.mu.Lock()
	c.complete = true
	c.mu.Unlock()
}

// Acknowledge releases the next tick when Backpressure is enabled; calls
// made before the loop waits are buffered, one per tick of the range. It
// never blocks, and without Backpressure the loop never reads them.
func (c *BacktestClock) Acknowledge() {
	select {
	case c.ackCh <- struct{}{}:
	default:
	}
}

// Progress returns a fraction in [0, 1]: (now - start) / (end - start),
// clamped. A single-tick backtest (start == end) reports 1 once complete.
func (c *BacktestClock) Progress() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.RangeEnd.Sub(c.RangeStart)
	if total <= 0 {
		if c.complete {
			return 1
		}
		return 0
	}
	elapsed := c.current.Sub(c.RangeStart)
	frac := float64(elapsed) / float64(total)
	if frac < 0 {
		return 0
	}
	if frac > 1 {
		return 1
	}
	return frac
}

func (c *BacktestClock) IsComplete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.complete
}

func (c *BacktestClock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *BacktestClock) Wait() {
	c.wg.Wait()
}
