package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bakerapps/notifyd/internal/models"
)

const webhookUserAgent = "notification-service/0.1"

type webhookPayload struct {
	Channel  models.Channel         `json:"channel"`
	Subject  string                 `json:"subject,omitempty"`
	Body     string                 `json:"body"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// WebhookAdapter delivers by issuing an HTTP POST of the rendered content as
// JSON to the recipient URL.
type WebhookAdapter struct {
	client    HTTPClient
	timeout   time.Duration
	userAgent string
}

// NewWebhookAdapter builds a WebhookAdapter from cfg.
func NewWebhookAdapter(cfg Config) Adapter {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	ua := cfg.WebhookUserAgent
	if ua == "" {
		ua = webhookUserAgent
	}
	timeout := cfg.WebhookTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &WebhookAdapter{client: client, timeout: timeout, userAgent: ua}
}

// Send validates the recipient URL, POSTs the rendered content as JSON, and
// classifies the response by status code.
func (a *WebhookAdapter) Send(ctx context.Context, req *models.NotificationRequest, rendered *models.RenderedContent) (Metadata, error) {
	u, err := url.Parse(req.Recipient)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, NewPermanentError("invalid webhook URL: %s", req.Recipient)
	}

	payload := webhookPayload{
		Channel:  req.Channel,
		Subject:  rendered.Subject,
		Body:     rendered.Body,
		Metadata: req.Metadata,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, NewPermanentError("failed to encode webhook payload: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Recipient, bytes.NewReader(body))
	if err != nil {
		return nil, NewPermanentError("failed to build webhook request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", a.userAgent)
	for k, v := range extraHeaders(req.Metadata) {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := a.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return nil, NewTransientError("webhook request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Metadata{
			"latency_ms":    latency.Milliseconds(),
			"provider":      "http",
			"response_code": resp.StatusCode,
		}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, NewPermanentError("Webhook responded with %d: %s", resp.StatusCode, string(respBody))
	default:
		return nil, NewTransientError("Webhook responded with %d: %s", resp.StatusCode, string(respBody))
	}
}

func extraHeaders(metadata map[string]interface{}) map[string]string {
	out := map[string]string{}
	raw, ok := metadata["headers"]
	if !ok {
		return out
	}
	headers, ok := raw.(map[string]interface{})
	if !ok {
		return out
	}
	for k, v := range headers {
		if s, ok := v.(string); ok {
			out[strings.TrimSpace(k)] = s
		} else {
			out[strings.TrimSpace(k)] = fmt.Sprintf("%v", v)
		}
	}
	return out
}
