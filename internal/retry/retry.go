// Package retry implements the fixed retry budget and backoff schedule
// applied to each notification priority class.
package retry

import (
	"math/rand"
	"time"

	"github.com/bakerapps/notifyd/internal/models"
)

// Plan is the attempt budget and configured delay table for one priority class.
type Plan struct {
	MaxAttempts int
	Delays      []time.Duration
}

var table = map[models.Priority]Plan{
	models.PriorityCritical: {
		MaxAttempts: 5,
		Delays: []time.Duration{
			1 * time.Second, 5 * time.Second, 15 * time.Second, 60 * time.Second, 300 * time.Second,
		},
	},
	models.PriorityHigh: {
		MaxAttempts: 3,
		Delays:      []time.Duration{5 * time.Second, 30 * time.Second, 120 * time.Second},
	},
	models.PriorityNormal: {
		MaxAttempts: 2,
		Delays:      []time.Duration{10 * time.Second, 60 * time.Second},
	},
	models.PriorityLow: {
		MaxAttempts: 1,
		Delays:      nil,
	},
}

// PlanFor returns the retry plan for priority, defaulting to the normal plan
// for unrecognised values.
func PlanFor(priority models.Priority) Plan {
	if p, ok := table[priority]; ok {
		return p
	}
	return table[models.PriorityNormal]
}

// NextDelay returns the delay to wait before attemptNumber (1-based) fires.
// Attempt 1 always fires immediately. Attempts within the configured delay
// table use that table's values; attempts beyond it fall back to exponential
// backoff with +/-20% jitter, seeded from the table's last configured delay
// (or 1s if the plan has no delays at all).
func (p Plan) NextDelay(attemptNumber int) time.Duration {
	if attemptNumber <= 1 {
		return 0
	}

	idx := attemptNumber - 2
	if idx < len(p.Delays) {
		return p.Delays[idx]
	}

	base := 1 * time.Second
	if len(p.Delays) > 0 {
		base = p.Delays[len(p.Delays)-1]
	}

	n := attemptNumber - len(p.Delays)
	return backoffWithJitter(base, n)
}

// backoffWithJitter computes base*2^n with symmetric +/-20% jitter,
// clamped at zero. NextDelay passes n = attemptNumber - len(delays).
func backoffWithJitter(base time.Duration, n int) time.Duration {
	exp := n
	if exp < 0 {
		exp = 0
	}

	delay := float64(base)
	for i := 0; i < exp; i++ {
		delay *= 2
	}

	jitterRange := delay * 0.2
	// nolint: gosec // jitter does not need cryptographic randomness.
	delay += (rand.Float64()*2 - 1) * jitterRange

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
