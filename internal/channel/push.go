package channel

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/bakerapps/notifyd/internal/models"
)

var pushTokenRE = regexp.MustCompile(`^[A-Za-z0-9_\-:.]{16,256}$`)

const pushFailureRate = 0.05

// PushAdapter simulates delivery to a mobile push notification provider.
type PushAdapter struct {
	rand  Rand
	sleep func(time.Duration)
}

// NewPushAdapter builds a PushAdapter from cfg.
func NewPushAdapter(cfg Config) Adapter {
	return &PushAdapter{rand: randOrDefault(cfg.Rand), sleep: sleepOrDefault(cfg.Sleep)}
}

// Send validates the device token, simulates network latency, and injects a
// small transient failure rate to mimic a push gateway.
func (a *PushAdapter) Send(ctx context.Context, req *models.NotificationRequest, rendered *models.RenderedContent) (Metadata, error) {
	if !pushTokenRE.MatchString(req.Recipient) {
		return nil, NewPermanentError("invalid push device token: %s", req.Recipient)
	}
	if rendered.Body == "" {
		return nil, NewPermanentError("push body must not be empty")
	}

	start := time.Now()
	a.sleep(time.Duration(uniform(a.rand, 0.1, 1.0) * float64(time.Second)))
	latency := time.Since(start)

	if a.rand.Float64() < pushFailureRate {
		return nil, NewTransientError("Push provider temporary failure")
	}

	receiptID := fmt.Sprintf("r_%d_%04d", time.Now().UnixMilli(), a.rand.Intn(10000))

	return Metadata{
		"latency_ms": latency.Milliseconds(),
		"provider":   "mock-push",
		"receipt_id": receiptID,
	}, nil
}
