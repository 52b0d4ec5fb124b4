// Package ratelimiter provides a local requests-per-minute window used to
// avoid burning provider quota on calls that are certain to be throttled.
// Implementations can be local (in-memory) or distributed.
package ratelimiter

import (
	"sync"
	"time"
)

// Limiter is the interface consulted before each provider attempt.
type Limiter interface {
	// TryAcquire atomically consumes one request slot if available.
	TryAcquire() bool

	// TimeUntilAvailable returns how long until a slot frees up
	// (read-only; does not modify state).
	TimeUntilAvailable() time.Duration
}

// Window is an in-memory per-minute request window with proportional
// refill.
type Window struct {
	mu         sync.Mutex
	capacity   int
	remaining  int
	interval   time.Duration
	lastRefill time.Time
}

// Ensure Window implements Limiter.
var _ Limiter = (*Window)(nil)

// New creates a window allowing requestsPerMinute requests.
func New(requestsPerMinute int) *Window {
	return &Window{
		capacity:   requestsPerMinute,
		remaining:  requestsPerMinute,
		interval:   time.Minute,
		lastRefill: time.Now(),
	}
}

// TryAcquire consumes one slot if the window has capacity.
func (w *Window) TryAcquire() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.refillLocked(time.Now())
	if w.remaining <= 0 {
		return false
	}
	w.remaining--
	return true
}

// TimeUntilAvailable returns how long until one slot would be available.
func (w *Window) TimeUntilAvailable() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	remaining := w.effectiveRemaining(now)
	if remaining > 0 {
		return 0
	}
	if w.capacity <= 0 {
		return w.interval
	}

	rate := float64(w.capacity) / float64(w.interval)
	wait := time.Duration(1 / rate)
	// Small buffer so a caller sleeping exactly this long finds a slot.
	return wait + wait/10
}

// refillLocked replenishes slots proportionally to elapsed time. Caller
// holds the mutex.
func (w *Window) refillLocked(now time.Time) {
	elapsed := now.Sub(w.lastRefill)
	if elapsed <= 0 {
		return
	}
	if elapsed >= w.interval {
		w.remaining = w.capacity
		w.lastRefill = now
		return
	}
	replenished := int(float64(w.capacity) * (float64(elapsed) / float64(w.interval)))
	if replenished > 0 {
		w.remaining = min(w.capacity, w.remaining+replenished)
		w.lastRefill = now
	}
}

// effectiveRemaining computes remaining slots including partial refill
// without mutating state. Caller holds the mutex.
func (w *Window) effectiveRemaining(now time.Time) int {
	elapsed := now.Sub(w.lastRefill)
	if elapsed >= w.interval {
		return w.capacity
	}
	if elapsed <= 0 {
		return w.remaining
	}
	replenished := int(float64(w.capacity) * (float64(elapsed) / float64(w.interval)))
	return min(w.capacity, w.remaining+replenished)
}
