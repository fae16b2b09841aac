// Package email defines the outgoing message model and its RFC 5322 serialization.
package email

import (
	"bytes"
	"fmt"
	"io"
	"net/mail"
	"strings"

	gomail "gopkg.in/mail.v2"
)

// Email represents a single outgoing message with all its components.
type Email struct {
	From        string
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	TextBody    string
	HtmlBody    string
	Attachments []Attachment
}

// Attachment represents a file attached to an email message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Recipients returns every envelope recipient: To, then Cc, then Bcc.
func (e *Email) Recipients() []string {
	all := make([]string, 0, len(e.To)+len(e.Cc)+len(e.Bcc))
	for _, list := range [][]string{e.To, e.Cc, e.Bcc} {
		for _, addr := range list {
			if parsed, err := mail.ParseAddress(addr); err == nil {
				all = append(all, parsed.Address)
				continue
			}
			all = append(all, addr)
		}
	}
	return all
}

// Bytes serializes the message including its Bcc header. Use it for APIs
// that take a raw message and strip Bcc themselves (Gmail, Graph).
func (e *Email) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := e.WriteTo(&buf, true); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteTo writes the RFC 5322 form of the message to w. When withBcc is
// false the Bcc header is omitted, as required when the bytes travel over
// SMTP to every recipient.
//
// With a text body the message is multipart/alternative (text/plain first,
// text/html second); otherwise the body is HTML only. Attachments wrap the
// body in multipart/mixed.
func (e *Email) WriteTo(w io.Writer, withBcc bool) error {
	m := gomail.NewMessage()

	if e.From != "" {
		setAddressList(m, "From", []string{e.From})
	}
	setAddressList(m, "To", e.To)
	setAddressList(m, "Cc", e.Cc)
	m.SetHeader("Subject", e.Subject)

	if e.TextBody != "" {
		m.SetBody("text/plain", e.TextBody)
		m.AddAlternative("text/html", e.HtmlBody)
	} else {
		m.SetBody("text/html", e.HtmlBody)
	}

	for _, att := range e.Attachments {
		contentType := att.ContentType
		if contentType == "" {
			contentType = defaultContentType
		}
		m.AttachReader(att.Filename, bytes.NewReader(att.Content), gomail.SetHeader(map[string][]string{
			"Content-Type": {fmt.Sprintf("%s; name=%q", contentType, att.Filename)},
		}))
	}

	// gomail never writes Bcc, so it is emitted ahead of the generated headers.
	if withBcc && len(e.Bcc) > 0 {
		if _, err := fmt.Fprintf(w, "Bcc: %s\r\n", strings.Join(formatAddresses(m, e.Bcc), ", ")); err != nil {
			return fmt.Errorf("failed to write Bcc header: %w", err)
		}
	}

	if _, err := m.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// setAddressList sets an address header, encoding display names per RFC 2047.
func setAddressList(m *gomail.Message, field string, addrs []string) {
	if len(addrs) == 0 {
		return
	}
	m.SetHeader(field, formatAddresses(m, addrs)...)
}

func formatAddresses(m *gomail.Message, addrs []string) []string {
	formatted := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		parsed, err := mail.ParseAddress(addr)
		if err != nil {
			formatted = append(formatted, addr)
			continue
		}
		formatted = append(formatted, m.FormatAddress(parsed.Address, parsed.Name))
	}
	return formatted
}

// SplitAddressList splits a comma-separated address cell into addresses.
// RFC 5322 parsing is tried first so quoted display names containing commas
// survive; otherwise a plain comma split is used.
func SplitAddressList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	addresses, err := mail.ParseAddressList(raw)
	if err == nil {
		result := make([]string, 0, len(addresses))
		for _, addr := range addresses {
			if addr.Name == "" {
				result = append(result, addr.Address)
				continue
			}
			result = append(result, addr.String())
		}
		return result
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
