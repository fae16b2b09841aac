// Package resend implements a Provider that sends emails via the Resend API.
package resend

import (
	"context"

	"github.com/resend/resend-go/v3"

	"github.com/shineum/csv-mailer/internal/email"
	"github.com/shineum/csv-mailer/internal/provider"
)

const providerName = "resend"

// ResendProviderConfig holds the configuration for creating a ResendProvider.
type ResendProviderConfig struct {
	APIKey string
	Sender string
}

// ResendProvider sends emails through the Resend HTTP API.
type ResendProvider struct {
	client *resend.Client
	sender string
}

// New creates a new ResendProvider.
func New(cfg ResendProviderConfig) *ResendProvider {
	return NewWithClient(cfg.Sender, resend.NewClient(cfg.APIKey))
}

// NewWithClient creates a ResendProvider with a custom client, used for testing.
func NewWithClient(sender string, client *resend.Client) *ResendProvider {
	return &ResendProvider{client: client, sender: sender}
}

// Send delivers the message. Resend reports failures without a usable
// status, so they are never retried.
func (r *ResendProvider) Send(ctx context.Context, msg *email.Email) (provider.Receipt, error) {
	from := msg.From
	if from == "" {
		from = r.sender
	}

	req := &resend.SendEmailRequest{
		From:    from,
		To:      msg.To,
		Cc:      msg.Cc,
		Bcc:     msg.Bcc,
		Subject: msg.Subject,
		Html:    msg.HtmlBody,
		Text:    msg.TextBody,
	}
	if len(msg.Attachments) > 0 {
		req.Attachments = convertAttachments(msg.Attachments)
	}

	sent, err := r.client.Emails.SendWithContext(ctx, req)
	if err != nil {
		return provider.Receipt{}, &provider.SendError{
			Provider: providerName,
			Message:  err.Error(),
			Err:      err,
		}
	}

	return provider.Receipt{ID: sent.Id}, nil
}

// Name returns the provider name.
func (r *ResendProvider) Name() string {
	return providerName
}

func convertAttachments(attachments []email.Attachment) []*resend.Attachment {
	result := make([]*resend.Attachment, len(attachments))
	for i, a := range attachments {
		result[i] = &resend.Attachment{
			Filename:    a.Filename,
			Content:     a.Content,
			ContentType: a.ContentType,
		}
	}
	return result
}
