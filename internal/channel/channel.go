// Package channel implements the uniform send contract used by every
// notification delivery mechanism, plus the adapters themselves: sms, push,
// webhook, and email.
package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/bakerapps/notifyd/internal/models"
)

// PermanentError indicates a request that must never be retried: validation
// failure, malformed recipient, or a non-retryable remote response.
type PermanentError struct {
	Message string
}

func (e *PermanentError) Error() string { return e.Message }

// NewPermanentError constructs a PermanentError with a formatted message.
func NewPermanentError(format string, args ...interface{}) error {
	return &PermanentError{Message: fmt.Sprintf(format, args...)}
}

// TransientError indicates a request eligible for retry: timeout, 5xx,
// network failure, or simulated carrier failure.
type TransientError struct {
	Message string
}

func (e *TransientError) Error() string { return e.Message }

// NewTransientError constructs a TransientError with a formatted message.
func NewTransientError(format string, args ...interface{}) error {
	return &TransientError{Message: fmt.Sprintf(format, args...)}
}

// Metadata is the adapter-reported outcome of a successful or failed send
// attempt, merged into the recorded delivery attempt.
type Metadata map[string]interface{}

// Adapter is the uniform interface every channel implementation satisfies.
type Adapter interface {
	Send(ctx context.Context, req *models.NotificationRequest, rendered *models.RenderedContent) (Metadata, error)
}

// Constructor builds an Adapter from a Config. Registered constructors form
// the channel registry; there is deliberately no inheritance hierarchy here,
// just an interface plus a table of constructors.
type Constructor func(cfg Config) Adapter

// Registry resolves a channel name to its adapter, built once at startup.
type Registry struct {
	mu       sync.RWMutex
	adapters map[models.Channel]Adapter
}

// NewRegistry constructs every known adapter from cfg and returns a Registry
// ready for lookups.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		adapters: map[models.Channel]Adapter{
			models.ChannelSMS:     NewSMSAdapter(cfg),
			models.ChannelPush:    NewPushAdapter(cfg),
			models.ChannelWebhook: NewWebhookAdapter(cfg),
			models.ChannelEmail:   NewEmailAdapter(cfg),
		},
	}
}

// Get resolves a channel name to its adapter. Unknown channels are a
// permanent error, since there is nothing a retry could change about it.
func (r *Registry) Get(ch models.Channel) (Adapter, error) {
	r.mu.RLock()
	a, ok := r.adapters[ch]
	r.mu.RUnlock()
	if !ok {
		return nil, NewPermanentError("channel not supported: %s", ch)
	}
	return a, nil
}
