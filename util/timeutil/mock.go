package timeutil

import (
	"sync"
	"time"
)

// MockClock is a Time implementation that only moves when told to, for
// testing code that records timestamps or measures elapsed time.
type MockClock struct {
	mu  sync.RWMutex
	now time.Time
}

var _ Time = &MockClock{}

// NewMockClockAt creates a MockClock frozen at the given instant.
func NewMockClockAt(now time.Time) *MockClock {
	return &MockClock{now: now}
}

// Advance moves the clock forward by the supplied duration.
func (mc *MockClock) Advance(d time.Duration) {
	mc.mu.Lock()
	mc.now = mc.now.Add(d)
	mc.mu.Unlock()
}

func (mc *MockClock) Now() time.Time {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.now
}
