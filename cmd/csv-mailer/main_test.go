package main

import (
	"errors"
	"flag"
	"strings"
	"testing"

	"github.com/shineum/csv-mailer/internal/config"
)

func TestParseFlags_Defaults(t *testing.T) {
	t.Parallel()

	opts, err := parseFlags([]string{"--csv", "people.csv", "--subject", "Hi {name}", "--html", "@body.html"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if opts.sender != "me" {
		t.Errorf("sender: got %q, want %q", opts.sender, "me")
	}
	if opts.columns.To != "email" || opts.columns.Cc != "cc" || opts.columns.Bcc != "bcc" || opts.columns.Attachment != "attachment" {
		t.Errorf("columns: got %+v", opts.columns)
	}
	if opts.limit != 0 || opts.dryRun || opts.continueOnError {
		t.Errorf("unexpected non-default options: %+v", opts)
	}
}

func TestParseFlags_Overrides(t *testing.T) {
	t.Parallel()

	opts, err := parseFlags([]string{
		"--csv", "people.csv",
		"--subject", "s",
		"--html", "h",
		"--col_to", "address",
		"--attach", "a.pdf,b.pdf",
		"--limit", "10",
		"--dry_run",
		"--provider", "SES",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if opts.columns.To != "address" {
		t.Errorf("columns.To: got %q, want %q", opts.columns.To, "address")
	}
	if opts.attach != "a.pdf,b.pdf" {
		t.Errorf("attach: got %q", opts.attach)
	}
	if opts.limit != 10 || !opts.dryRun {
		t.Errorf("limit/dry_run: got %d/%v", opts.limit, opts.dryRun)
	}

	cfg := &config.Config{Provider: config.ProviderGmail}
	applyFlags(cfg, opts)
	if cfg.Provider != config.ProviderSES {
		t.Errorf("Provider: got %q, want %q", cfg.Provider, config.ProviderSES)
	}
}

func TestParseFlags_MissingRequired(t *testing.T) {
	t.Parallel()

	_, err := parseFlags([]string{"--csv", "people.csv"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, name := range []string{"--subject", "--html"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q should mention %s", err.Error(), name)
		}
	}
}

func TestParseFlags_NegativeLimit(t *testing.T) {
	t.Parallel()

	_, err := parseFlags([]string{"--csv", "c", "--subject", "s", "--html", "h", "--limit", "-1"})
	if err == nil {
		t.Error("expected error for negative limit, got nil")
	}
}

func TestParseFlags_Help(t *testing.T) {
	t.Parallel()

	_, err := parseFlags([]string{"-h"})
	if !errors.Is(err, flag.ErrHelp) {
		t.Errorf("error: got %v, want flag.ErrHelp", err)
	}
}

func TestApplyFlags_GmailFiles(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Gmail.CredentialsFile = "credentials.json"
	cfg.Gmail.TokenFile = "token.json"

	applyFlags(cfg, &options{credentials: "/etc/creds.json"})

	if cfg.Gmail.CredentialsFile != "/etc/creds.json" {
		t.Errorf("CredentialsFile: got %q", cfg.Gmail.CredentialsFile)
	}
	if cfg.Gmail.TokenFile != "token.json" {
		t.Errorf("TokenFile: got %q, want unchanged", cfg.Gmail.TokenFile)
	}
}

func TestSelectProvider_Unknown(t *testing.T) {
	t.Parallel()

	_, err := selectProvider(t.Context(), &config.Config{Provider: "pigeon"})
	if err == nil {
		t.Error("expected error for unknown provider, got nil")
	}
}

func TestSelectProvider_Stdout(t *testing.T) {
	t.Parallel()

	p, err := selectProvider(t.Context(), &config.Config{Provider: config.ProviderStdout})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "stdout" {
		t.Errorf("Name(): got %q, want %q", p.Name(), "stdout")
	}
}
