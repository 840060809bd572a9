package channel

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"regexp"
	"strings"
	"time"

	"github.com/bakerapps/notifyd/internal/models"
)

const (
	emailMaxAttachmentBytes = 10 * 1024 * 1024
	defaultSubject          = "(no subject)"
)

var htmlTagRE = regexp.MustCompile(`<[^>]*>`)

// SMTPSender abstracts the outbound SMTP connection so tests can substitute
// a fake without a real network connection.
type SMTPSender interface {
	Send(host string, port int, auth smtp.Auth, useTLS, startTLS bool, from string, to []string, msg []byte) error
}

type netSMTPSender struct{}

func (netSMTPSender) Send(host string, port int, auth smtp.Auth, useTLS, startTLS bool, from string, to []string, msg []byte) error {
	addr := fmt.Sprintf("%s:%d", host, port)

	if useTLS {
		conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: host})
		if err != nil {
			return err
		}
		client, err := smtp.NewClient(conn, host)
		if err != nil {
			return err
		}
		defer client.Close()
		return sendOverClient(client, auth, from, to, msg)
	}

	client, err := smtp.Dial(addr)
	if err != nil {
		return err
	}
	defer client.Close()

	if startTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: host}); err != nil {
				return err
			}
		}
	}
	return sendOverClient(client, auth, from, to, msg)
}

func sendOverClient(client *smtp.Client, auth smtp.Auth, from string, to []string, msg []byte) error {
	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return err
		}
	}
	if err := client.Mail(from); err != nil {
		return err
	}
	for _, addr := range to {
		if err := client.Rcpt(addr); err != nil {
			return err
		}
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

// EmailAdapter delivers over SMTP when configured, otherwise simulates a
// successful send.
type EmailAdapter struct {
	cfg    Config
	sender SMTPSender
}

// NewEmailAdapter builds an EmailAdapter from cfg.
func NewEmailAdapter(cfg Config) Adapter {
	sender := cfg.SMTPDialer
	if sender == nil {
		sender = netSMTPSender{}
	}
	return &EmailAdapter{cfg: cfg, sender: sender}
}

// Send validates the recipient and attachment sizes, then either relays the
// message over real SMTP or simulates a mock delivery.
func (a *EmailAdapter) Send(ctx context.Context, req *models.NotificationRequest, rendered *models.RenderedContent) (Metadata, error) {
	if !strings.Contains(req.Recipient, "@") {
		return nil, NewPermanentError("invalid email recipient: %s", req.Recipient)
	}

	subject := rendered.Subject
	if subject == "" {
		subject = defaultSubject
	}

	if err := checkAttachmentSize(req.Metadata, a.cfg.MaxAttachment); err != nil {
		return nil, err
	}

	if !a.cfg.SMTPConfigured() {
		return Metadata{
			"latency_ms": 0,
			"provider":   "mock",
		}, nil
	}

	msg := a.buildMessage(req.Recipient, subject, rendered.Body)

	start := time.Now()
	var auth smtp.Auth
	if a.cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", a.cfg.SMTPUsername, a.cfg.SMTPPassword, a.cfg.SMTPHost)
	}
	err := a.sender.Send(a.cfg.SMTPHost, a.cfg.SMTPPort, auth, a.cfg.SMTPUseTLS, a.cfg.SMTPStartTLS, a.cfg.EmailFrom, []string{req.Recipient}, msg)
	latency := time.Since(start)
	if err != nil {
		return nil, NewTransientError("SMTP send failed: %v", err)
	}

	return Metadata{
		"latency_ms": latency.Milliseconds(),
		"provider":   "smtp",
	}, nil
}

func checkAttachmentSize(metadata map[string]interface{}, limit int64) error {
	if limit <= 0 {
		limit = emailMaxAttachmentBytes
	}
	raw, ok := metadata["attachments"]
	if !ok {
		return nil
	}
	attachments, ok := raw.(map[string]interface{})
	if !ok {
		return nil
	}
	var total int64
	for _, v := range attachments {
		info, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		size, ok := info["size"]
		if !ok {
			continue
		}
		switch s := size.(type) {
		case int:
			total += int64(s)
		case int64:
			total += s
		case float64:
			total += int64(s)
		}
	}
	if total > limit {
		return NewPermanentError("Attachments exceed 10MB total size limit")
	}
	return nil
}

func (a *EmailAdapter) buildMessage(to, subject, htmlBody string) []byte {
	plain := htmlTagRE.ReplaceAllString(htmlBody, "")

	var buf bytes.Buffer
	boundary := "notifyd-boundary"

	fmt.Fprintf(&buf, "From: %s\r\n", a.cfg.EmailFrom)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	if a.cfg.AddSPFHeader {
		fmt.Fprintf(&buf, "Received-SPF: pass (notifyd; placeholder, not verified)\r\n")
	}
	if a.cfg.AddDKIMHeader {
		fmt.Fprintf(&buf, "DKIM-Signature: v=1; a=placeholder; d=notifyd; (not signed)\r\n")
	}
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", boundary)

	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	fmt.Fprintf(&buf, "Content-Type: text/plain; charset=utf-8\r\n\r\n")
	fmt.Fprintf(&buf, "%s\r\n\r\n", plain)

	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	fmt.Fprintf(&buf, "Content-Type: text/html; charset=utf-8\r\n\r\n")
	fmt.Fprintf(&buf, "%s\r\n\r\n", htmlBody)

	fmt.Fprintf(&buf, "--%s--\r\n", boundary)

	return buf.Bytes()
}
