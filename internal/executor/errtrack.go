package executor

import (
	"sync"
	"time"
)

// errorTracker counts execution errors inside a sliding window and reports
// when the threshold is first crossed, so the alert fires once per burst
// rather than once per error.
type errorTracker struct {
	threshold int
	window    time.Duration

	mu      sync.Mutex
	stamps  []time.Time
	alerted bool
}

func newErrorTracker(threshold int, window time.Duration) *errorTracker {
	if threshold < 1 {
		threshold = 1
	}
	return &errorTracker{threshold: threshold, window: window}
}

// record notes one error and reports whether an alert should fire now.
func (t *errorTracker) record() bool {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := now.Add(-t.window)
	kept := t.stamps[:0]
	for _, s := range t.stamps {
		if s.After(cutoff) {
			kept = append(kept, s)
		}
	}
	t.stamps = append(kept, now)

	if len(t.stamps) >= t.threshold {
		if !t.alerted {
			t.alerted = true
			return true
		}
		return false
	}
	t.alerted = false
	return false
}
