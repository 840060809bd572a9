package channel

import (
	"context"
	"regexp"
	"time"

	"github.com/bakerapps/notifyd/internal/models"
)

var smsRecipientRE = regexp.MustCompile(`^\+?[1-9]\d{7,14}$`)

const (
	smsHardCharLimit = 1000
	smsSegmentSize   = 160
	smsFailureRate   = 0.05
)

// SMSAdapter simulates delivery to an SMS carrier gateway with a realistic
// latency distribution and a small injected transient failure rate.
type SMSAdapter struct {
	rand  Rand
	sleep func(time.Duration)
}

// NewSMSAdapter builds an SMSAdapter from cfg.
func NewSMSAdapter(cfg Config) Adapter {
	return &SMSAdapter{rand: randOrDefault(cfg.Rand), sleep: sleepOrDefault(cfg.Sleep)}
}

// Send validates the recipient and body, simulates network latency, and
// injects a small transient failure rate to mimic a carrier gateway.
func (a *SMSAdapter) Send(ctx context.Context, req *models.NotificationRequest, rendered *models.RenderedContent) (Metadata, error) {
	if !smsRecipientRE.MatchString(req.Recipient) {
		return nil, NewPermanentError("invalid SMS recipient: %s", req.Recipient)
	}
	if rendered.Body == "" {
		return nil, NewPermanentError("SMS body must not be empty")
	}
	if len(rendered.Body) > smsHardCharLimit {
		return nil, NewPermanentError("SMS body exceeds %d character limit", smsHardCharLimit)
	}

	start := time.Now()
	a.sleep(time.Duration(uniform(a.rand, 1.0, 5.0) * float64(time.Second)))
	latency := time.Since(start)

	if a.rand.Float64() < smsFailureRate {
		return nil, NewTransientError("Carrier temporary failure")
	}

	segments := (len(rendered.Body) + smsSegmentSize - 1) / smsSegmentSize

	return Metadata{
		"latency_ms": latency.Milliseconds(),
		"provider":   "mock-twilio",
		"segments":   segments,
	}, nil
}
