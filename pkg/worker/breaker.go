package worker

import "time"

// BreakerState is the circuit breaker's position.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// breaker tracks failures over a sliding window and trips when the
// threshold is crossed. Not safe for concurrent use on its own; the
// owning worker serializes access under its mutex.
type breaker struct {
	threshold int
	window    time.Duration
	cooldown  time.Duration

	state    BreakerState
	failures []time.Time
	openedAt time.Time
	probing  bool
}

func newBreaker(threshold int, window, cooldown time.Duration) breaker {
	return breaker{
		threshold: threshold,
		window:    window,
		cooldown:  cooldown,
		state:     BreakerClosed,
	}
}

// admit reports whether a call may proceed. When an open breaker's
// cooldown has elapsed it moves to half-open and admits a single probe;
// the returned transition is non-empty when the state changed.
func (b *breaker) admit(now time.Time) (allowed bool, transition BreakerState) {
	switch b.state {
	case BreakerOpen:
		if now.Sub(b.openedAt) < b.cooldown {
			return false, ""
		}
		b.state = BreakerHalfOpen
		b.probing = true
		return true, BreakerHalfOpen
	case BreakerHalfOpen:
		if b.probing {
			return false, ""
		}
		b.probing = true
		return true, ""
	default:
		return true, ""
	}
}

// success records a healthy outcome. Half-open closes; closed prunes the
// failure window.
func (b *breaker) success(now time.Time) (transition BreakerState) {
	switch b.state {
	case BreakerHalfOpen:
		b.state = BreakerClosed
		b.failures = nil
		b.probing = false
		return BreakerClosed
	default:
		b.prune(now)
		return ""
	}
}

// failure records a counted outcome. A half-open probe failure reopens
// immediately; a closed breaker trips once the window holds threshold
// failures.
func (b *breaker) failure(now time.Time) (transition BreakerState) {
	switch b.state {
	case BreakerHalfOpen:
		b.open(now)
		return BreakerOpen
	case BreakerOpen:
		return ""
	default:
		b.failures = append(b.failures, now)
		b.prune(now)
		if len(b.failures) >= b.threshold {
			b.open(now)
			return BreakerOpen
		}
		return ""
	}
}

func (b *breaker) open(now time.Time) {
	b.state = BreakerOpen
	b.openedAt = now
	b.failures = nil
	b.probing = false
}

func (b *breaker) prune(now time.Time) {
	cutoff := now.Add(-b.window)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = kept
}

// recentFailures counts window-resident failures without mutating state.
func (b *breaker) recentFailures(now time.Time) int {
	cutoff := now.Add(-b.window)
	count := 0
	for _, t := range b.failures {
		if t.After(cutoff) {
			count++
		}
	}
	return count
}
