package services

import (
	"context"
	"time"
)

// matchPollSchedule: three quick attempts, then a slower indefinite cadence.
var matchPollSchedule = []time.Duration{
	time.Second,
	time.Second,
	time.Second,
	3 * time.Second,
}

// pollUntil invokes fn after each interval in schedule, repeating the last
// interval indefinitely, until fn reports done or the context is cancelled.
func pollUntil(ctx context.Context, schedule []time.Duration, fn func(ctx context.Context) bool) {
	if len(schedule) == 0 {
		return
	}

	attempt := 0
	for {
		interval := schedule[attempt]
		if attempt < len(schedule)-1 {
			attempt++
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if fn(ctx) {
			return
		}
	}
}
