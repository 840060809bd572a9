package channel

import "time"

// Config bundles everything the channel adapters need, independent of the
// top-level service config package to keep this package importable in
// isolation (and trivially testable without a full config.Config).
type Config struct {
	WebhookTimeout   time.Duration
	WebhookUserAgent string

	SMTPHost      string
	SMTPPort      int
	SMTPUsername  string
	SMTPPassword  string
	EmailFrom     string
	SMTPUseTLS    bool
	SMTPStartTLS  bool
	AddSPFHeader  bool
	AddDKIMHeader bool
	MaxAttachment int64

	// HTTPClient overrides the HTTP client used by the webhook adapter;
	// nil uses http.DefaultClient's semantics via a new client per Config.
	HTTPClient HTTPClient

	// SMTPDialer overrides how the email adapter sends mail, letting tests
	// substitute a fake without a real network connection.
	SMTPDialer SMTPSender

	// Rand overrides the random source used for simulated failures and
	// sleeps, letting tests force deterministic outcomes.
	Rand Rand

	// Sleep overrides time.Sleep, letting tests skip simulated latency.
	Sleep func(time.Duration)
}

// SMTPConfigured reports whether enough SMTP settings are present to attempt
// a real send; otherwise the email adapter simulates delivery.
func (c Config) SMTPConfigured() bool {
	return c.SMTPHost != "" && c.SMTPUsername != "" && c.SMTPPassword != ""
}
