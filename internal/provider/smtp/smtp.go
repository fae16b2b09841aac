// Package smtp implements a Provider that relays messages to an SMTP server.
package smtp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"net/textproto"
	"time"

	gomail "gopkg.in/mail.v2"

	"github.com/shineum/csv-mailer/internal/email"
	"github.com/shineum/csv-mailer/internal/provider"
)

const providerName = "smtp"

// dialTimeout bounds connecting and each command exchange.
const dialTimeout = 30 * time.Second

// SMTPProviderConfig holds the configuration for creating an SMTPProvider.
type SMTPProviderConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Sender   string
}

// SMTPProvider submits each message over a fresh authenticated session.
type SMTPProvider struct {
	sender string
	dial   func() (gomail.SendCloser, error)
}

// New creates an SMTPProvider. Port 465 uses implicit TLS; other ports
// upgrade with STARTTLS when the server offers it.
func New(cfg SMTPProviderConfig) *SMTPProvider {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.Timeout = dialTimeout
	return &SMTPProvider{sender: cfg.Sender, dial: d.Dial}
}

// Send writes the message without its Bcc header and delivers it to every
// To, Cc and Bcc address in the envelope.
func (s *SMTPProvider) Send(ctx context.Context, msg *email.Email) (provider.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return provider.Receipt{}, err
	}

	withSender := *msg
	if withSender.From == "" {
		withSender.From = s.sender
	}
	envelopeFrom, err := mail.ParseAddress(withSender.From)
	if err != nil {
		return provider.Receipt{}, fmt.Errorf("invalid sender address %q: %w", withSender.From, err)
	}

	var buf bytes.Buffer
	if err := withSender.WriteTo(&buf, false); err != nil {
		return provider.Receipt{}, fmt.Errorf("failed to build message: %w", err)
	}

	conn, err := s.dial()
	if err != nil {
		return provider.Receipt{}, classifyError(err, true)
	}
	defer conn.Close()

	if err := conn.Send(envelopeFrom.Address, msg.Recipients(), bytes.NewReader(buf.Bytes())); err != nil {
		return provider.Receipt{}, classifyError(err, false)
	}

	return provider.Receipt{}, nil
}

// Name returns the provider name.
func (s *SMTPProvider) Name() string {
	return providerName
}

// classifyError marks 4xx replies transient and 5xx replies permanent.
// Network failures are transient only while dialing, before any message
// data has been handed to the server.
func classifyError(err error, dialing bool) error {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return &provider.SendError{
			Provider:   providerName,
			StatusCode: protoErr.Code,
			Message:    protoErr.Msg,
			Transient:  protoErr.Code >= 400 && protoErr.Code < 500,
			Err:        err,
		}
	}

	var netErr net.Error
	if dialing && errors.As(err, &netErr) {
		return &provider.SendError{
			Provider:  providerName,
			Message:   err.Error(),
			Transient: true,
			Err:       err,
		}
	}

	return fmt.Errorf("SMTP delivery failed: %w", err)
}
