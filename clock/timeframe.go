package clock

import "time"

// timeframeDurations mirrors domain.TimeframeDuration; kept local so
// this package does not depend on domain for such a small lookup.
var timeframeDurations = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"1d":  24 * time.Hour,
}

func DurationOf(timeframe string) (time.Duration, bool) {
	d, ok := timeframeDurations[timeframe]
	return d, ok
}

// NextBoundary returns the first bar boundary strictly after from, for
// an intraday timeframe: k*delta seconds past UTC midnight. Daily bars
// boundary on UTC midnight. A from already sitting exactly on a
// boundary still advances to the next one, matching the ground truth's
// "if we're exactly on a bar boundary, return the next bar" rule.
func NextBoundary(from time.Time, timeframe string) time.Time {
	from = from.UTC()
	delta, ok := timeframeDurations[timeframe]
	if !ok {
		return from
	}
	if delta >= 24*time.Hour {
		midnight := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
		return midnight.AddDate(0, 0, 1)
	}
	dayStart := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	elapsed := from.Sub(dayStart)
	k := elapsed / delta
	boundary := dayStart.Add(k * delta)
	return boundary.Add(delta)
}
