package email

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestBuild_HTMLOnly(t *testing.T) {
	t.Parallel()

	msg, err := Build(BuildParams{
		To:      "ana@example.com",
		Sender:  "me",
		Subject: "Hello",
		HTML:    "<p>Hi</p>",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.From != "" {
		t.Errorf("From: got %q, want empty for sender %q", msg.From, "me")
	}
	if len(msg.To) != 1 || msg.To[0] != "ana@example.com" {
		t.Errorf("To: got %v, want [ana@example.com]", msg.To)
	}
	if msg.TextBody != "" {
		t.Errorf("TextBody: got %q, want empty", msg.TextBody)
	}
	if msg.HtmlBody != "<p>Hi</p>" {
		t.Errorf("HtmlBody: got %q, want %q", msg.HtmlBody, "<p>Hi</p>")
	}
}

func TestBuild_SenderOverride(t *testing.T) {
	t.Parallel()

	msg, err := Build(BuildParams{
		To:      "ana@example.com",
		Sender:  "Team <team@example.com>",
		Subject: "Hello",
		HTML:    "<p>Hi</p>",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.From != "Team <team@example.com>" {
		t.Errorf("From: got %q, want %q", msg.From, "Team <team@example.com>")
	}
}

func TestBuild_AttachmentsSkipMissing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	pdf := writeFile(t, dir, "report.pdf", "pdf-content")
	unknown := writeFile(t, dir, "data.zzz", "raw")

	msg, err := Build(BuildParams{
		To:              "ana@example.com",
		Subject:         "Files",
		HTML:            "<p>See attached</p>",
		AttachmentPaths: []string{pdf, "", filepath.Join(dir, "missing.txt"), " " + unknown + " "},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(msg.Attachments) != 2 {
		t.Fatalf("Attachments count: got %d, want 2", len(msg.Attachments))
	}
	if msg.Attachments[0].Filename != "report.pdf" {
		t.Errorf("Attachments[0].Filename: got %q, want %q", msg.Attachments[0].Filename, "report.pdf")
	}
	if msg.Attachments[0].ContentType != "application/pdf" {
		t.Errorf("Attachments[0].ContentType: got %q, want %q", msg.Attachments[0].ContentType, "application/pdf")
	}
	if string(msg.Attachments[0].Content) != "pdf-content" {
		t.Errorf("Attachments[0].Content: got %q, want %q", msg.Attachments[0].Content, "pdf-content")
	}
	if msg.Attachments[1].ContentType != "application/octet-stream" {
		t.Errorf("Attachments[1].ContentType: got %q, want %q", msg.Attachments[1].ContentType, "application/octet-stream")
	}
}

func TestLoadAttachments_DirectoryIsError(t *testing.T) {
	t.Parallel()

	_, err := LoadAttachments([]string{t.TempDir()})
	if err == nil {
		t.Fatal("expected error reading a directory, got nil")
	}
}

func TestContentTypeFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want string
	}{
		{"a.pdf", "application/pdf"},
		{"a.png", "image/png"},
		{"notes.txt", "text/plain"},
		{"noext", "application/octet-stream"},
		{"a.unknownext", "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ContentTypeFor(tt.name); got != tt.want {
				t.Errorf("ContentTypeFor(%q): got %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestSplitAddressList(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"empty", "  ", nil},
		{"single", "a@example.com", []string{"a@example.com"}},
		{"multiple", "a@example.com, b@example.com", []string{"a@example.com", "b@example.com"}},
		{"quoted name with comma", `"Doe, Jane" <jane@example.com>`, []string{`"Doe, Jane" <jane@example.com>`}},
		{"fallback split", "not an address, b@example.com,", []string{"not an address", "b@example.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := SplitAddressList(tt.raw)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("SplitAddressList(%q): got %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}
