package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/api/option"

	"github.com/shineum/csv-mailer/internal/dispatch"
	"github.com/shineum/csv-mailer/internal/email"
	"github.com/shineum/csv-mailer/internal/provider"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := newWithOptions(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	return p
}

func testEmail() *email.Email {
	return &email.Email{
		To:       []string{"ana@example.com"},
		Bcc:      []string{"audit@example.com"},
		Subject:  "Hello Ana",
		HtmlBody: "<p>Hi Ana</p>",
	}
}

func TestSend_Success(t *testing.T) {
	t.Parallel()

	var gotRaw string
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method: got %s, want POST", r.Method)
		}
		if !strings.HasSuffix(r.URL.Path, "/users/me/messages/send") {
			t.Errorf("path: got %s, want suffix /users/me/messages/send", r.URL.Path)
		}

		var body struct {
			Raw string `json:"raw"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		gotRaw = body.Raw

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"18c0ffee","threadId":"18c0ffee"}`))
	})

	receipt, err := p.Send(context.Background(), testEmail())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.ID != "18c0ffee" {
		t.Errorf("receipt ID: got %q, want %q", receipt.ID, "18c0ffee")
	}

	decoded, err := base64.URLEncoding.DecodeString(gotRaw)
	if err != nil {
		t.Fatalf("raw payload is not URL-safe base64: %v", err)
	}
	msg := string(decoded)
	if !strings.Contains(msg, "Subject: Hello Ana") {
		t.Errorf("raw message missing subject:\n%s", msg)
	}
	if !strings.Contains(msg, "Bcc: audit@example.com") {
		t.Errorf("raw message missing Bcc header:\n%s", msg)
	}
}

func TestSend_RetryableStatus(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"code":429,"message":"Rate Limit Exceeded"}}`))
	})

	_, err := p.Send(context.Background(), testEmail())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !provider.IsTransient(err) {
		t.Errorf("429 should be transient: %v", err)
	}
	if provider.RetryAfter(err) != 7*time.Second {
		t.Errorf("RetryAfter: got %v, want 7s", provider.RetryAfter(err))
	}

	var sendErr *provider.SendError
	if !errors.As(err, &sendErr) || sendErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected SendError with status 429, got %v", err)
	}
}

func TestSend_QuotaForbiddenIsTransient(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"code":403,"message":"User-rate limit exceeded"}}`))
	})

	_, err := p.Send(context.Background(), testEmail())
	if !provider.IsTransient(err) {
		t.Errorf("403 should be transient: %v", err)
	}
}

func TestSend_PermanentStatus(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":400,"message":"Invalid To header"}}`))
	})

	_, err := p.Send(context.Background(), testEmail())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if provider.IsTransient(err) {
		t.Errorf("400 should not be transient: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls: got %d, want 1", calls.Load())
	}
}

func TestSend_DroppedConnectionNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Error("response writer does not support hijacking")
			return
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			t.Errorf("hijack failed: %v", err)
			return
		}
		conn.Close()
	})

	d := dispatch.New(p, dispatch.Options{MaxAttempts: 3, BaseDelay: time.Millisecond})
	_, err := d.Send(context.Background(), testEmail())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if provider.IsTransient(err) {
		t.Errorf("dropped connection should not be transient: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls: got %d, want 1", calls.Load())
	}
}

func TestName(t *testing.T) {
	t.Parallel()

	p := &Provider{}
	if p.Name() != "gmail" {
		t.Errorf("Name: got %q, want %q", p.Name(), "gmail")
	}
}
