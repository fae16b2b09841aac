package email

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// defaultContentType is used when no MIME type is known for a file extension.
const defaultContentType = "application/octet-stream"

// senderSelf is the sender value meaning "the authenticated account".
const senderSelf = "me"

// BuildParams holds the rendered content and row metadata for one message.
type BuildParams struct {
	To      string
	Cc      []string
	Bcc     []string
	Sender  string
	Subject string
	HTML    string
	Text    string

	// AttachmentPaths is the common attachment list followed by the row's list.
	AttachmentPaths []string
}

// Build assembles an outgoing message. Attachment paths that do not exist are
// skipped with a warning; any other read failure is returned.
func Build(p BuildParams) (*Email, error) {
	msg := &Email{
		To:       []string{p.To},
		Cc:       p.Cc,
		Bcc:      p.Bcc,
		Subject:  p.Subject,
		HtmlBody: p.HTML,
		TextBody: p.Text,
	}
	if p.Sender != "" && p.Sender != senderSelf {
		msg.From = p.Sender
	}

	attachments, err := LoadAttachments(p.AttachmentPaths)
	if err != nil {
		return nil, err
	}
	msg.Attachments = attachments

	return msg, nil
}

// LoadAttachments reads each path from local storage. Blank entries are
// ignored and missing files are logged and skipped.
func LoadAttachments(paths []string) ([]Attachment, error) {
	var attachments []Attachment

	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}

		path := expandHome(p)
		content, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			slog.Warn("attachment not found", "path", path)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read attachment %s: %w", path, err)
		}

		name := filepath.Base(path)
		attachments = append(attachments, Attachment{
			Filename:    name,
			ContentType: ContentTypeFor(name),
			Content:     content,
		})
	}

	return attachments, nil
}

// ContentTypeFor guesses a MIME type from the filename extension, falling
// back to application/octet-stream. Parameters such as charset are dropped.
func ContentTypeFor(filename string) string {
	ctype := mime.TypeByExtension(filepath.Ext(filename))
	if ctype == "" {
		return defaultContentType
	}
	if mediaType, _, err := mime.ParseMediaType(ctype); err == nil {
		return mediaType
	}
	return ctype
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
