// Package provider defines the interface for email delivery backends.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shineum/csv-mailer/internal/email"
)

// Provider is the interface that email delivery backends must implement.
// Each provider handles the actual sending of a built message to the target
// service (e.g., Gmail API, SES, Microsoft Graph, SMTP).
type Provider interface {
	// Send delivers an email message through this provider.
	// It returns the provider's acknowledgment or an error if delivery fails.
	Send(ctx context.Context, msg *email.Email) (Receipt, error)

	// Name returns the human-readable name of this provider.
	Name() string
}

// Receipt is the acknowledgment returned by a provider after a send.
type Receipt struct {
	// ID is the provider-assigned message id, when the provider returns one.
	ID string
}

// SendError is a delivery failure carrying the remote status so callers
// can decide whether to retry.
type SendError struct {
	Provider   string
	StatusCode int
	Message    string
	Transient  bool
	RetryAfter time.Duration
	Err        error
}

func (e *SendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Provider, e.Message)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// NewStatusError builds a SendError whose transience follows RetryableStatus.
func NewStatusError(providerName string, statusCode int, message string, err error) *SendError {
	return &SendError{
		Provider:   providerName,
		StatusCode: statusCode,
		Message:    message,
		Transient:  RetryableStatus(statusCode),
		Err:        err,
	}
}

// RetryableStatus reports whether an HTTP status marks a transient failure:
// forbidden (quota), rate limited, internal error, bad gateway, unavailable.
func RetryableStatus(code int) bool {
	switch code {
	case http.StatusForbidden,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable:
		return true
	default:
		return false
	}
}

// IsTransient reports whether err is a SendError marked transient.
func IsTransient(err error) bool {
	var sendErr *SendError
	if errors.As(err, &sendErr) {
		return sendErr.Transient
	}
	return false
}

// RetryAfter returns the server-requested delay carried by err, if any.
func RetryAfter(err error) time.Duration {
	var sendErr *SendError
	if errors.As(err, &sendErr) {
		return sendErr.RetryAfter
	}
	return 0
}
