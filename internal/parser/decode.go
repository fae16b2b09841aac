// Package parser decodes a serialized outgoing message back into the fields
// a reader sees, so a dry run can show what would go on the wire.
package parser

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"

	"github.com/shineum/csv-mailer/internal/email"
)

// ErrMissingBoundary is returned for a multipart entity without a boundary.
var ErrMissingBoundary = errors.New("multipart entity has no boundary")

var wordDecoder = new(mime.WordDecoder)

// Parse decodes addresses, subject, the first text and HTML bodies, and the
// attachments of raw. Display names and encoded words are decoded.
func Parse(raw []byte) (*email.Email, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}

	out := &email.Email{
		To:      addresses(msg.Header, "To"),
		Cc:      addresses(msg.Header, "Cc"),
		Bcc:     addresses(msg.Header, "Bcc"),
		Subject: decodeWords(msg.Header.Get("Subject")),
	}
	if from := addresses(msg.Header, "From"); len(from) > 0 {
		out.From = from[0]
	}

	if err := readEntity(textproto.MIMEHeader(msg.Header), msg.Body, out); err != nil {
		return nil, err
	}
	return out, nil
}

// readEntity walks one MIME entity, descending into multipart containers.
func readEntity(h textproto.MIMEHeader, body io.Reader, out *email.Email) error {
	mediaType, params, err := mime.ParseMediaType(h.Get("Content-Type"))
	if err != nil {
		mediaType, params = "text/plain", nil
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return ErrMissingBoundary
		}
		mr := multipart.NewReader(body, boundary)
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to read MIME part: %w", err)
			}
			if err := readEntity(part.Header, part, out); err != nil {
				return err
			}
		}
	}

	content, err := io.ReadAll(decodeTransfer(h.Get("Content-Transfer-Encoding"), body))
	if err != nil {
		return fmt.Errorf("failed to decode %s body: %w", mediaType, err)
	}

	if name := attachmentName(h, params); name != "" {
		out.Attachments = append(out.Attachments, email.Attachment{
			Filename:    name,
			ContentType: mediaType,
			Content:     content,
		})
		return nil
	}

	switch {
	case mediaType == "text/html" && out.HtmlBody == "":
		out.HtmlBody = string(content)
	case mediaType != "text/html" && out.TextBody == "":
		out.TextBody = string(content)
	}
	return nil
}

// decodeTransfer undoes base64 and quoted-printable. multipart.Reader has
// already unwrapped quoted-printable parts and dropped their header.
func decodeTransfer(encoding string, body io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, body)
	case "quoted-printable":
		return quotedprintable.NewReader(body)
	default:
		return body
	}
}

// attachmentName returns the file name of an attachment entity, or "" for
// an inline body.
func attachmentName(h textproto.MIMEHeader, params map[string]string) string {
	disposition, dparams, err := mime.ParseMediaType(h.Get("Content-Disposition"))
	if err == nil {
		if name := dparams["filename"]; name != "" {
			return decodeWords(name)
		}
	}
	if name := params["name"]; name != "" {
		return decodeWords(name)
	}
	if disposition == "attachment" {
		return "attachment"
	}
	return ""
}

// addresses formats an address header as "Name <addr>" entries, falling back
// to the raw comma-separated values when the header does not parse.
func addresses(h mail.Header, field string) []string {
	raw := h.Get(field)
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	list, err := h.AddressList(field)
	if err != nil {
		var out []string
		for _, v := range strings.Split(decodeWords(raw), ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
		return out
	}

	out := make([]string, 0, len(list))
	for _, addr := range list {
		if addr.Name == "" {
			out = append(out, addr.Address)
			continue
		}
		out = append(out, fmt.Sprintf("%s <%s>", addr.Name, addr.Address))
	}
	return out
}

func decodeWords(s string) string {
	decoded, err := wordDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}
