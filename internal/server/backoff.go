package server

import "time"

// backoff tracks the escalating sleep applied after consecutive Accept
// failures: 1s, 4s, 16s, 64s (each step a shift-left-by-2 of the last —
// quadrupling, not doubling, per the coded sequence this adopts over its
// own doc comment). A successful accept resets it to the first step.
//
// Adapted from store/redis's CircuitBreaker: both track a run of
// consecutive failures and expose a transition callback, but where the
// breaker trips open/half-open/closed, backoff escalates a sleep
// duration instead.
type backoff struct {
	steps    []time.Duration
	failures int

	OnEscalate func(attempt int, wait time.Duration)
}

func newBackoff() *backoff {
	return &backoff{
		steps: []time.Duration{
			1 * time.Second,
			4 * time.Second,
			16 * time.Second,
			64 * time.Second,
		},
	}
}

// next reports the sleep duration for the current failure and whether
// the backoff is exhausted. Once all four steps have been handed out,
// the next call returns a zero wait and exhausted=true, and the caller
// gives up.
func (b *backoff) next() (wait time.Duration, exhausted bool) {
	if b.failures >= len(b.steps) {
		return 0, true
	}
	wait = b.steps[b.failures]
	b.failures++
	if b.OnEscalate != nil {
		b.OnEscalate(b.failures, wait)
	}
	return wait, false
}

// reset clears the failure count after a successful accept.
func (b *backoff) reset() {
	b.failures = 0
}
