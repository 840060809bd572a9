// Package breaker implements a per-recipient circuit breaker protecting the
// delivery pipeline from repeatedly dispatching to a failing destination.
package breaker

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// ErrOpen is returned by Allow when the circuit for a recipient is open (or
// its half-open probe slot is already claimed).
var ErrOpen = gobreaker.ErrOpenState

// Registry is a lazily-populated, mutex-guarded map of per-recipient circuit
// breakers. The zero value is not usable; construct with New.
type Registry struct {
	failureThreshold uint32
	cooldown         time.Duration

	mu       sync.Mutex
	breakers map[string]*gobreaker.TwoStepCircuitBreaker
}

// New creates a Registry. failureThreshold consecutive failures trip a
// recipient's breaker to open; cooldown is how long it stays open before a
// single probe request is admitted.
func New(failureThreshold int, cooldown time.Duration) *Registry {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	return &Registry{
		failureThreshold: uint32(failureThreshold),
		cooldown:         cooldown,
		breakers:         make(map[string]*gobreaker.TwoStepCircuitBreaker),
	}
}

// Done reports the outcome of a request previously admitted by Allow.
type Done func(success bool)

// Allow decides whether a request to recipient may proceed. If it returns a
// non-nil error (ErrOpen), the caller must not dispatch and must not call the
// returned Done. Otherwise the caller must invoke Done exactly once with the
// outcome of the dispatch.
func (r *Registry) Allow(recipient string) (Done, error) {
	cb := r.breakerFor(recipient)
	done, err := cb.Allow()
	if err != nil {
		return nil, ErrOpen
	}
	return Done(done), nil
}

func (r *Registry) breakerFor(recipient string) *gobreaker.TwoStepCircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[recipient]; ok {
		return cb
	}

	cb := gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        recipient,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     r.cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= r.failureThreshold
		},
	})
	r.breakers[recipient] = cb
	return cb
}

// State returns the current state name for a recipient's breaker, mainly for
// metrics and status reporting. Recipients never seen return "closed".
func (r *Registry) State(recipient string) string {
	r.mu.Lock()
	cb, ok := r.breakers[recipient]
	r.mu.Unlock()
	if !ok {
		return "closed"
	}
	switch cb.State() {
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}
