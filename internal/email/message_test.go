package email

import (
	"bytes"
	"strings"
	"testing"
)

func TestBytes_HTMLOnly(t *testing.T) {
	t.Parallel()

	msg := &Email{
		To:       []string{"ana@example.com"},
		Subject:  "Hello Ana",
		HtmlBody: "<p>Hi Ana</p>",
	}

	raw, err := msg.Bytes()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := string(raw)

	if !strings.Contains(out, "To: ana@example.com\r\n") {
		t.Errorf("missing To header in:\n%s", out)
	}
	if !strings.Contains(out, "Subject: Hello Ana\r\n") {
		t.Errorf("missing Subject header in:\n%s", out)
	}
	if !strings.Contains(out, "text/html") {
		t.Errorf("missing text/html content type in:\n%s", out)
	}
	if strings.Contains(out, "multipart/alternative") {
		t.Errorf("HTML-only message should not be multipart/alternative:\n%s", out)
	}
	if strings.Contains(out, "From:") {
		t.Errorf("message without sender should not carry a From header:\n%s", out)
	}
}

func TestBytes_TextAndHTMLAlternative(t *testing.T) {
	t.Parallel()

	msg := &Email{
		From:     "team@example.com",
		To:       []string{"ana@example.com"},
		Subject:  "Both",
		TextBody: "plain body",
		HtmlBody: "<p>html body</p>",
	}

	raw, err := msg.Bytes()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := string(raw)

	if !strings.Contains(out, "multipart/alternative") {
		t.Fatalf("expected multipart/alternative in:\n%s", out)
	}
	textIdx := strings.Index(out, "text/plain")
	htmlIdx := strings.Index(out, "text/html")
	if textIdx < 0 || htmlIdx < 0 || textIdx > htmlIdx {
		t.Errorf("text/plain part must precede text/html part (text=%d html=%d)", textIdx, htmlIdx)
	}
	if !strings.Contains(out, "From: team@example.com\r\n") {
		t.Errorf("missing From header in:\n%s", out)
	}
}

func TestWriteTo_BccHandling(t *testing.T) {
	t.Parallel()

	msg := &Email{
		To:       []string{"ana@example.com"},
		Cc:       []string{"carol@example.com"},
		Bcc:      []string{"audit@example.com", "boss@example.com"},
		Subject:  "Bcc",
		HtmlBody: "<p>x</p>",
	}

	var with bytes.Buffer
	if err := msg.WriteTo(&with, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(with.String(), "Bcc: audit@example.com, boss@example.com\r\n") {
		t.Errorf("expected leading Bcc header, got:\n%s", with.String())
	}
	if !strings.Contains(with.String(), "Cc: carol@example.com\r\n") {
		t.Errorf("missing Cc header in:\n%s", with.String())
	}

	var without bytes.Buffer
	if err := msg.WriteTo(&without, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(without.String(), "audit@example.com") {
		t.Errorf("Bcc address leaked into SMTP form:\n%s", without.String())
	}
}

func TestBytes_RepeatableWithAttachments(t *testing.T) {
	t.Parallel()

	msg := &Email{
		To:       []string{"ana@example.com"},
		Subject:  "Twice",
		HtmlBody: "<p>x</p>",
		Attachments: []Attachment{
			{Filename: "notes.txt", ContentType: "text/plain", Content: []byte("attachment-body")},
		},
	}

	first, err := msg.Bytes()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := msg.Bytes()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i, raw := range [][]byte{first, second} {
		out := string(raw)
		if !strings.Contains(out, "multipart/mixed") {
			t.Errorf("serialization %d: missing multipart/mixed", i)
		}
		if !strings.Contains(out, `filename="notes.txt"`) {
			t.Errorf("serialization %d: missing attachment filename", i)
		}
		// base64("attachment-body")
		if !strings.Contains(out, "YXR0YWNobWVudC1ib2R5") {
			t.Errorf("serialization %d: missing attachment content", i)
		}
	}
}

func TestRecipients(t *testing.T) {
	t.Parallel()

	msg := &Email{
		To:  []string{"Ana <ana@example.com>"},
		Cc:  []string{"carol@example.com"},
		Bcc: []string{"audit@example.com"},
	}

	got := strings.Join(msg.Recipients(), ",")
	want := "ana@example.com,carol@example.com,audit@example.com"
	if got != want {
		t.Errorf("Recipients: got %q, want %q", got, want)
	}
}
