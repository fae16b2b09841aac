// Package stdout implements a Provider that prints emails to standard output.
// It also renders the short dry-run preview.
package stdout

import (
	"context"
	"fmt"
	"html"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/shineum/csv-mailer/internal/email"
	"github.com/shineum/csv-mailer/internal/provider"
)

// previewLength is the number of characters of body shown in a preview.
const previewLength = 200

// Provider prints email messages to stdout in a human-readable format.
type Provider struct {
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
	strip  *bluemonday.Policy
}

// New creates a new stdout Provider that writes to os.Stdout.
func New() *Provider {
	return NewWithWriter(os.Stdout)
}

// NewWithWriter creates a new stdout Provider that writes to the given writer.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w, strip: bluemonday.StrictPolicy()}
}

// Send prints the email message in a readable format. It never fails on
// account of the message.
func (p *Provider) Send(_ context.Context, msg *email.Email) (provider.Receipt, error) {
	var b strings.Builder

	b.WriteString("========================================\n")
	fmt.Fprintf(&b, "From: %s\n", msg.From)
	fmt.Fprintf(&b, "To: %s\n", strings.Join(msg.To, ", "))

	if len(msg.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\n", strings.Join(msg.Cc, ", "))
	}
	if len(msg.Bcc) > 0 {
		fmt.Fprintf(&b, "Bcc: %s\n", strings.Join(msg.Bcc, ", "))
	}

	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	b.WriteString("Body:\n")

	body := msg.TextBody
	if body == "" {
		body = msg.HtmlBody
	}
	b.WriteString(body + "\n")

	if len(msg.Attachments) > 0 {
		attachments := make([]string, 0, len(msg.Attachments))
		for _, att := range msg.Attachments {
			attachments = append(attachments, fmt.Sprintf("%s (%s)", att.Filename, formatSize(len(att.Content))))
		}
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(attachments, ", "))
	}

	b.WriteString("========================================\n")

	if _, err := fmt.Fprint(p.writer, b.String()); err != nil {
		return provider.Receipt{}, fmt.Errorf("failed to write message: %w", err)
	}
	return provider.Receipt{}, nil
}

// Preview prints the dry-run summary for one row: recipients, subject and
// the first characters of the body on a single line.
func (p *Provider) Preview(row int, msg *email.Email) error {
	var b strings.Builder

	fmt.Fprintf(&b, "\n--- DRY RUN row %d ---\n", row)
	fmt.Fprintf(&b, "To: %s\n", strings.Join(msg.To, ", "))
	if len(msg.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\n", strings.Join(msg.Cc, ", "))
	}
	if len(msg.Bcc) > 0 {
		fmt.Fprintf(&b, "Bcc: %s\n", strings.Join(msg.Bcc, ", "))
	}
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	if len(msg.Attachments) > 0 {
		names := make([]string, 0, len(msg.Attachments))
		for _, att := range msg.Attachments {
			names = append(names, att.Filename)
		}
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(names, ", "))
	}
	fmt.Fprintf(&b, "Body preview: %s\n", p.bodyPreview(msg))

	_, err := fmt.Fprint(p.writer, b.String())
	return err
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

// bodyPreview flattens the text body, or the tag-stripped HTML body, to one
// line and truncates it to previewLength characters.
func (p *Provider) bodyPreview(msg *email.Email) string {
	source := msg.TextBody
	if source == "" {
		source = html.UnescapeString(p.strip.Sanitize(msg.HtmlBody))
	}

	preview := strings.ReplaceAll(source, "\r\n", " ")
	preview = strings.ReplaceAll(preview, "\n", " ")

	if utf8.RuneCountInString(preview) > previewLength {
		return string([]rune(preview)[:previewLength]) + "…"
	}
	return preview
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
