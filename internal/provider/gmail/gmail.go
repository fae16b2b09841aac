// Package gmail implements a Provider that sends raw messages through the
// Gmail API on behalf of the authorized account.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/shineum/csv-mailer/internal/email"
	"github.com/shineum/csv-mailer/internal/provider"
)

// userID addresses the authenticated account.
const userID = "me"

const providerName = "gmail"

// Provider sends emails via users.messages.send.
type Provider struct {
	svc *gmailapi.Service
}

// New creates a Provider that authenticates with client, typically the
// result of Authenticator.Client.
func New(ctx context.Context, client *http.Client) (*Provider, error) {
	return newWithOptions(ctx, option.WithHTTPClient(client))
}

// newWithOptions creates a Provider with custom client options, used for testing.
func newWithOptions(ctx context.Context, opts ...option.ClientOption) (*Provider, error) {
	svc, err := gmailapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}
	return &Provider{svc: svc}, nil
}

// Send submits the message as a single raw payload encoded in the URL-safe
// base64 alphabet.
func (p *Provider) Send(ctx context.Context, msg *email.Email) (provider.Receipt, error) {
	raw, err := msg.Bytes()
	if err != nil {
		return provider.Receipt{}, fmt.Errorf("failed to build raw message: %w", err)
	}

	sent, err := p.svc.Users.Messages.
		Send(userID, &gmailapi.Message{Raw: base64.URLEncoding.EncodeToString(raw)}).
		Context(ctx).
		Do()
	if err != nil {
		return provider.Receipt{}, classifyError(err)
	}

	return provider.Receipt{ID: sent.Id}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return providerName
}

// classifyError maps Gmail API status failures onto provider.SendError.
// Failures without a status are never retried: the request may already
// have been accepted when the connection dropped.
func classifyError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		sendErr := provider.NewStatusError(providerName, apiErr.Code, apiErr.Message, err)
		if seconds, convErr := strconv.Atoi(apiErr.Header.Get("Retry-After")); convErr == nil && seconds > 0 {
			sendErr.RetryAfter = time.Duration(seconds) * time.Second
		}
		return sendErr
	}

	return fmt.Errorf("gmail API request failed: %w", err)
}
