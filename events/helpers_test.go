package events

import "time"

func fixedTime() time.Time {
	return time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)
}
