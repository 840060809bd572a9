package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowPassesWhenClosed(t *testing.T) {
	r := New(3, 50*time.Millisecond)
	done, err := r.Allow("alice@example.com")
	require.NoError(t, err)
	done(true)
	assert.Equal(t, "closed", r.State("alice@example.com"))
}

func TestOpensAfterThresholdFailures(t *testing.T) {
	r := New(3, 50*time.Millisecond)
	recipient := "bob@example.com"

	for i := 0; i < 3; i++ {
		done, err := r.Allow(recipient)
		require.NoError(t, err)
		done(false)
	}

	_, err := r.Allow(recipient)
	assert.ErrorIs(t, err, ErrOpen)
	assert.Equal(t, "open", r.State(recipient))
}

func TestHalfOpenAfterCooldownAdmitsOneProbe(t *testing.T) {
	r := New(2, 30*time.Millisecond)
	recipient := "carol@example.com"

	for i := 0; i < 2; i++ {
		done, err := r.Allow(recipient)
		require.NoError(t, err)
		done(false)
	}
	_, err := r.Allow(recipient)
	require.ErrorIs(t, err, ErrOpen)

	time.Sleep(40 * time.Millisecond)

	done, err := r.Allow(recipient)
	require.NoError(t, err)

	// A second concurrent probe must be refused while the first is in flight.
	_, err2 := r.Allow(recipient)
	assert.ErrorIs(t, err2, ErrOpen)

	done(true)
	assert.Equal(t, "closed", r.State(recipient))
}

func TestFailedProbeReopensImmediately(t *testing.T) {
	r := New(1, 20*time.Millisecond)
	recipient := "dave@example.com"

	done, err := r.Allow(recipient)
	require.NoError(t, err)
	done(false)
	assert.Equal(t, "open", r.State(recipient))

	time.Sleep(30 * time.Millisecond)

	probe, err := r.Allow(recipient)
	require.NoError(t, err)
	probe(false)

	assert.Equal(t, "open", r.State(recipient))
	_, err = r.Allow(recipient)
	assert.ErrorIs(t, err, ErrOpen)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	r := New(3, 50*time.Millisecond)
	recipient := "erin@example.com"

	done, err := r.Allow(recipient)
	require.NoError(t, err)
	done(false)

	done, err = r.Allow(recipient)
	require.NoError(t, err)
	done(true)

	// Two more failures shouldn't trip a threshold-3 breaker since the
	// consecutive-failure streak was reset by the intervening success.
	for i := 0; i < 2; i++ {
		done, err := r.Allow(recipient)
		require.NoError(t, err)
		done(false)
	}
	_, err = r.Allow(recipient)
	assert.NoError(t, err)
}

func TestUnseenRecipientReportsClosed(t *testing.T) {
	r := New(3, time.Second)
	assert.Equal(t, "closed", r.State("never-seen@example.com"))
}
