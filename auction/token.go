package auction

import (
	"sync"
	"time"
)

// fallbackToken wraps a scheduled fallback timer in a cancellation token with
// queryable state, so "was this timer already cancelled" is an explicit
// question rather than something implied by a cleared handle. Exactly one of
// fired/cancelled ends up true.
type fallbackToken struct {
	mu        sync.Mutex
	timer     *time.Timer
	cancelled bool
	fired     bool
}

// armFallback schedules fn after d. fn does not run if the token is cancelled
// first.
func armFallback(d time.Duration, fn func()) *fallbackToken {
	t := &fallbackToken{}
	t.timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		if t.cancelled {
			t.mu.Unlock()
			return
		}
		t.fired = true
		t.mu.Unlock()
		fn()
	})
	return t
}

// Cancel stops the timer. It returns true if cancellation won the race, false
// if the timer had already fired.
func (t *fallbackToken) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired {
		return false
	}
	if !t.cancelled {
		t.cancelled = true
		t.timer.Stop()
	}
	return true
}

func (t *fallbackToken) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

func (t *fallbackToken) Fired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired
}
