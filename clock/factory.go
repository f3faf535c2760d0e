package clock

import (
	"fmt"
	"time"
)

// Params carries the construction arguments a clock needs. Live/paper
// runs only use RunID and Timeframe; backtest runs also need the range.
type Params struct {
	RunID        string
	Timeframe    string
	RangeStart   time.Time
	RangeEnd     time.Time
	Backpressure bool
}

// New dispatches on mode the way the original clock factory did,
// sparing callers (the orchestrator) an inline branch on run mode.
func New(mode string, p Params) (Clock, error) {
	switch mode {
	case "realtime":
		return NewRealtimeClock(p.RunID, p.Timeframe), nil
	case "backtest":
		return NewBacktestClock(p.RunID, p.Timeframe, p.RangeStart, p.RangeEnd, p.Backpressure), nil
	default:
		return nil, fmt.Errorf("clock: unrecognized mode %q", mode)
	}
}
