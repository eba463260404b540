package testing

import (
	"testing"
	"time"
)

// RetryTimingAssertion retries a timed operation until its duration falls
// inside [min, max] or the attempts run out. Transient machine load can push
// a single run outside the window, so a bounded retry keeps such tests honest
// without making them flaky.
//
// A zero max means there is no upper bound.
func RetryTimingAssertion(t *testing.T, maxRetries int, testFn func() (time.Duration, error), min, max time.Duration, description string) bool {
	t.Helper()

	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastDuration time.Duration

	for attempt := 0; attempt < maxRetries; attempt++ {
		duration, err := testFn()
		lastDuration = duration

		if err != nil {
			if attempt < maxRetries-1 {
				t.Logf("Attempt %d/%d: %s failed with error: %v, retrying",
					attempt+1, maxRetries, description, err)
				time.Sleep(100 * time.Millisecond)
				continue
			}
			t.Errorf("%s failed after %d attempts: %v", description, maxRetries, err)
			return false
		}

		if duration >= min && (max == 0 || duration <= max) {
			if attempt > 0 {
				t.Logf("%s: %v (passed on attempt %d/%d)", description, duration, attempt+1, maxRetries)
			}
			return true
		}

		if attempt < maxRetries-1 {
			t.Logf("Attempt %d/%d: %s took %v (window: %v..%v), retrying",
				attempt+1, maxRetries, description, duration, min, max)
			time.Sleep(200 * time.Millisecond)
		}
	}

	t.Errorf("%s outside window after %d attempts: %v (expected %v..%v)",
		description, maxRetries, lastDuration, min, max)
	return false
}
