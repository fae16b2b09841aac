package template

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
)

// filePrefix marks a template argument that names a file.
const filePrefix = "@"

// Load returns the template text for value. A value starting with "@" names a
// file whose contents are the template; anything else is the template itself.
func Load(value string) (string, error) {
	if !strings.HasPrefix(value, filePrefix) {
		return value, nil
	}

	path := strings.TrimPrefix(value, filePrefix)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read template file: %w", err)
	}
	return string(data), nil
}

// IsMarkdown reports whether value names a Markdown template file.
func IsMarkdown(value string) bool {
	if !strings.HasPrefix(value, filePrefix) {
		return false
	}
	switch strings.ToLower(filepath.Ext(value)) {
	case ".md", ".markdown":
		return true
	default:
		return false
	}
}

// Set holds the normalized subject and body templates used for every row.
type Set struct {
	subject string
	html    string
	text    string

	hasText  bool
	markdown bool
	md       goldmark.Markdown
}

// Rendered is the per-row output of a Set.
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

// LoadSet loads and normalizes the subject, HTML and optional text templates.
// An empty text argument means the message has no plain-text alternative.
//
// When the HTML template is a Markdown file it is rendered to HTML after
// substitution, and the substituted Markdown doubles as the plain-text
// alternative unless a text template is given.
func LoadSet(subject, html, text string) (*Set, error) {
	s := &Set{
		markdown: IsMarkdown(html),
		md:       goldmark.New(),
	}

	var err error
	if s.subject, err = Load(subject); err != nil {
		return nil, fmt.Errorf("subject: %w", err)
	}
	if s.html, err = Load(html); err != nil {
		return nil, fmt.Errorf("html: %w", err)
	}
	if text != "" {
		if s.text, err = Load(text); err != nil {
			return nil, fmt.Errorf("text: %w", err)
		}
		s.hasText = true
	}

	s.subject = Normalize(s.subject)
	s.html = Normalize(s.html)
	s.text = Normalize(s.text)

	return s, nil
}

// Render substitutes row into every template of the set.
func (s *Set) Render(row map[string]string) (*Rendered, error) {
	out := &Rendered{
		Subject: Render(s.subject, row),
		HTML:    Render(s.html, row),
	}
	if s.hasText {
		out.Text = Render(s.text, row)
	}

	if s.markdown {
		var buf bytes.Buffer
		if err := s.md.Convert([]byte(out.HTML), &buf); err != nil {
			return nil, fmt.Errorf("failed to convert markdown: %w", err)
		}
		if !s.hasText {
			out.Text = out.HTML
		}
		out.HTML = buf.String()
	}

	return out, nil
}
