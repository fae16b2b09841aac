// Package main is the entry point for the CSV mail-merge sender.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/shineum/csv-mailer/internal/batch"
	"github.com/shineum/csv-mailer/internal/config"
	"github.com/shineum/csv-mailer/internal/dispatch"
	"github.com/shineum/csv-mailer/internal/provider"
	"github.com/shineum/csv-mailer/internal/provider/gmail"
	"github.com/shineum/csv-mailer/internal/provider/graph"
	"github.com/shineum/csv-mailer/internal/provider/resend"
	"github.com/shineum/csv-mailer/internal/provider/ses"
	"github.com/shineum/csv-mailer/internal/provider/smtp"
	"github.com/shineum/csv-mailer/internal/provider/stdout"
	"github.com/shineum/csv-mailer/internal/recipients"
	"github.com/shineum/csv-mailer/internal/template"
)

// options holds the parsed command line.
type options struct {
	csvPath    string
	subject    string
	html       string
	text       string
	sender     string
	columns    recipients.Columns
	attach     string
	limit      int
	dryRun     bool
	configPath string

	provider        string
	continueOnError bool
	credentials     string
	token           string
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// Load configuration
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	applyFlags(cfg, opts)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	setupLogger(cfg.Logging.Level, cfg.Logging.Format)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		slog.Info("received signal, cancelling the in-flight send and remaining rows", "signal", sig)
		cancel()
	}()

	res, err := run(ctx, cfg, opts)
	if err != nil {
		slog.Error("mail merge failed",
			"error", err,
			"sent", res.Sent,
			"failed", res.Failed,
		)
		os.Exit(1)
	}

	if opts.dryRun {
		fmt.Printf("\nDone. Previewed %d message(s).\n", res.Previewed)
	} else {
		fmt.Printf("Done. Sent %d message(s).\n", res.Sent)
	}
}

func parseFlags(args []string) (*options, error) {
	fs := flag.NewFlagSet("csv-mailer", flag.ContinueOnError)
	cols := recipients.DefaultColumns()
	opts := &options{}

	fs.StringVar(&opts.csvPath, "csv", "", "path to the recipients CSV file (required)")
	fs.StringVar(&opts.subject, "subject", "", "subject template, or @path to read it from a file (required)")
	fs.StringVar(&opts.html, "html", "", "HTML body template, or @path; a .md file is rendered as Markdown (required)")
	fs.StringVar(&opts.text, "text", "", "plain-text body template, or @path")
	fs.StringVar(&opts.sender, "sender", "me", "From address; \"me\" uses the authenticated account")
	fs.StringVar(&opts.columns.To, "col_to", cols.To, "column holding the recipient address")
	fs.StringVar(&opts.columns.Cc, "col_cc", cols.Cc, "column holding Cc addresses")
	fs.StringVar(&opts.columns.Bcc, "col_bcc", cols.Bcc, "column holding Bcc addresses")
	fs.StringVar(&opts.columns.Attachment, "col_attach", cols.Attachment, "column holding per-row attachment paths")
	fs.StringVar(&opts.attach, "attach", "", "comma-separated attachment paths added to every message")
	fs.IntVar(&opts.limit, "limit", 0, "stop after this many messages (0 = no limit)")
	fs.BoolVar(&opts.dryRun, "dry_run", false, "print previews instead of sending")
	fs.StringVar(&opts.configPath, "config", "", "path to YAML configuration file (optional)")
	fs.StringVar(&opts.provider, "provider", "", "delivery provider: gmail, ses, graph, smtp, resend or stdout")
	fs.BoolVar(&opts.continueOnError, "continue_on_error", false, "log failed rows and keep going instead of aborting")
	fs.StringVar(&opts.credentials, "credentials", "", "Gmail OAuth client credentials file")
	fs.StringVar(&opts.token, "token", "", "Gmail token file")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	var missing []string
	if opts.csvPath == "" {
		missing = append(missing, "--csv")
	}
	if opts.subject == "" {
		missing = append(missing, "--subject")
	}
	if opts.html == "" {
		missing = append(missing, "--html")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required flags: %s", strings.Join(missing, ", "))
	}
	if opts.limit < 0 {
		return nil, errors.New("--limit must not be negative")
	}
	return opts, nil
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// applyFlags layers explicitly set flags over the loaded configuration.
func applyFlags(cfg *config.Config, opts *options) {
	if opts.provider != "" {
		cfg.Provider = strings.ToLower(opts.provider)
	}
	if opts.credentials != "" {
		cfg.Gmail.CredentialsFile = opts.credentials
	}
	if opts.token != "" {
		cfg.Gmail.TokenFile = opts.token
	}
}

// setupLogger configures the global slog logger on stderr, leaving stdout
// for previews and the final summary. Every record carries the run id.
func setupLogger(level, format string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(handler).With("run_id", uuid.NewString()))
}

// run wires the templates, the recipient reader and the delivery chain, then
// processes the CSV.
func run(ctx context.Context, cfg *config.Config, opts *options) (batch.Result, error) {
	templates, err := template.LoadSet(opts.subject, opts.html, opts.text)
	if err != nil {
		return batch.Result{}, fmt.Errorf("failed to load templates: %w", err)
	}

	reader, err := recipients.Open(opts.csvPath, opts.columns)
	if err != nil {
		return batch.Result{}, err
	}
	defer reader.Close()
	if !reader.HasRecipientColumn() {
		slog.Warn("csv has no recipient column, every row will be skipped", "column", opts.columns.To)
	}

	preview := stdout.New()

	var sender batch.Sender
	if !opts.dryRun {
		prov, err := selectProvider(ctx, cfg)
		if err != nil {
			return batch.Result{}, err
		}
		sender = dispatch.New(prov, dispatch.Options{
			MaxAttempts:   cfg.Send.MaxAttempts,
			BaseDelay:     cfg.Send.BaseDelay,
			MaxRetryAfter: cfg.Send.MaxRetryAfter,
		})
	}

	slog.Info("starting mail merge",
		"csv", opts.csvPath,
		"provider", cfg.Provider,
		"dry_run", opts.dryRun,
		"limit", opts.limit,
	)

	runner := batch.New(templates, sender, preview, batch.Options{
		Sender:            opts.sender,
		CommonAttachments: recipients.SplitList(opts.attach),
		Limit:             opts.limit,
		DryRun:            opts.dryRun,
		Pace:              cfg.Send.Pace,
		ContinueOnError:   opts.continueOnError,
	})

	res, err := runner.Run(ctx, reader)
	slog.Info("mail merge finished",
		"sent", res.Sent,
		"previewed", res.Previewed,
		"skipped", res.Skipped,
		"failed", res.Failed,
	)
	return res, err
}

// selectProvider builds the delivery backend named by the configuration.
func selectProvider(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	switch cfg.Provider {
	case config.ProviderGmail:
		slog.Info("using Gmail provider", "credentials", cfg.Gmail.CredentialsFile)
		auth := &gmail.Authenticator{
			CredentialsFile: cfg.Gmail.CredentialsFile,
			TokenFile:       cfg.Gmail.TokenFile,
		}
		client, err := auth.Client(ctx)
		if err != nil {
			return nil, fmt.Errorf("gmail authorization failed: %w", err)
		}
		return gmail.New(ctx, client)

	case config.ProviderSES:
		slog.Info("using AWS SES provider",
			"region", cfg.SES.Region,
			"sender", cfg.SES.Sender,
		)
		p, err := ses.New(ctx, ses.SESProviderConfig{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
			Sender:          cfg.SES.Sender,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SES provider: %w", err)
		}
		return p, nil

	case config.ProviderGraph:
		slog.Info("using Microsoft Graph provider", "sender", cfg.Graph.Sender)
		return graph.New(graph.GraphProviderConfig{
			TenantID:     cfg.Graph.TenantID,
			ClientID:     cfg.Graph.ClientID,
			ClientSecret: cfg.Graph.ClientSecret,
			Sender:       cfg.Graph.Sender,
		}), nil

	case config.ProviderSMTP:
		slog.Info("using SMTP provider",
			"host", cfg.SMTP.Host,
			"port", cfg.SMTP.Port,
		)
		return smtp.New(smtp.SMTPProviderConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			Sender:   cfg.SMTP.Sender,
		}), nil

	case config.ProviderResend:
		slog.Info("using Resend provider", "sender", cfg.Resend.Sender)
		return resend.New(resend.ResendProviderConfig{
			APIKey: cfg.Resend.APIKey,
			Sender: cfg.Resend.Sender,
		}), nil

	case config.ProviderStdout:
		slog.Info("using stdout provider")
		return stdout.New(), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
