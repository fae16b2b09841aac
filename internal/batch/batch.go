// Package batch drives the per-row loop: read a recipient row, render the
// templates, build the message, then preview or send it.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/shineum/csv-mailer/internal/dispatch"
	"github.com/shineum/csv-mailer/internal/email"
	"github.com/shineum/csv-mailer/internal/parser"
	"github.com/shineum/csv-mailer/internal/provider"
	"github.com/shineum/csv-mailer/internal/recipients"
	"github.com/shineum/csv-mailer/internal/template"
)

// DefaultPace is the delay after each successful send.
const DefaultPace = 200 * time.Millisecond

// RowSource yields recipient rows until io.EOF.
type RowSource interface {
	Next() (*recipients.Row, error)
}

// Sender delivers one built message; dispatch.Dispatcher satisfies it.
type Sender interface {
	Send(ctx context.Context, msg *email.Email) (provider.Receipt, error)
}

// Previewer prints the dry-run summary of a message.
type Previewer interface {
	Preview(row int, msg *email.Email) error
}

// Options configures a Runner.
type Options struct {
	// Sender overrides the From address; "" or "me" leaves it to the provider.
	Sender string

	// CommonAttachments are attached to every message, before the row's own.
	CommonAttachments []string

	// Limit stops the run after this many sent (or previewed) messages; 0
	// means no limit.
	Limit int

	DryRun bool

	// Pace is the delay after each successful send.
	Pace time.Duration

	// ContinueOnError logs a failed send and moves on instead of aborting.
	ContinueOnError bool
}

// Result counts the outcome of a run.
type Result struct {
	Sent      int
	Previewed int
	Skipped   int
	Failed    int
}

// processed is the count the limit applies to.
func (r Result) processed() int {
	return r.Sent + r.Previewed
}

// Runner processes rows sequentially.
type Runner struct {
	templates *template.Set
	sender    Sender
	previewer Previewer
	opts      Options

	// sleep waits out the pacing delay; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Runner. previewer is used only in dry-run mode and sender
// only otherwise.
func New(templates *template.Set, sender Sender, previewer Previewer, opts Options) *Runner {
	return &Runner{
		templates: templates,
		sender:    sender,
		previewer: previewer,
		opts:      opts,
		sleep:     dispatch.Sleep,
	}
}

// Run reads rows until the source is exhausted or the limit is reached. On
// a fatal error the counts so far are returned with it.
func (r *Runner) Run(ctx context.Context, rows RowSource) (Result, error) {
	var res Result

	for {
		if r.opts.Limit > 0 && res.processed() >= r.opts.Limit {
			slog.Info("row limit reached", "limit", r.opts.Limit)
			return res, nil
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		row, err := rows.Next()
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		if err != nil {
			return res, err
		}

		to := row.Recipient()
		if to == "" {
			slog.Warn("skipping row without recipient", "row", row.Number)
			res.Skipped++
			continue
		}

		msg, err := r.build(row, to)
		if err != nil {
			return res, fmt.Errorf("row %d: %w", row.Number, err)
		}

		if r.opts.DryRun {
			if err := r.preview(row.Number, msg); err != nil {
				return res, fmt.Errorf("row %d: %w", row.Number, err)
			}
			res.Previewed++
			continue
		}

		receipt, err := r.sender.Send(ctx, msg)
		if err != nil {
			if !r.opts.ContinueOnError || ctx.Err() != nil {
				return res, fmt.Errorf("row %d: %w", row.Number, err)
			}
			slog.Error("send failed, continuing",
				"row", row.Number,
				"to", to,
				"error", err,
			)
			res.Failed++
			continue
		}

		res.Sent++
		slog.Info("message sent",
			"row", row.Number,
			"to", to,
			"id", receipt.ID,
		)

		if err := r.sleep(ctx, r.opts.Pace); err != nil {
			return res, err
		}
	}
}

func (r *Runner) build(row *recipients.Row, to string) (*email.Email, error) {
	rendered, err := r.templates.Render(row.Fields)
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(r.opts.CommonAttachments))
	paths = append(paths, r.opts.CommonAttachments...)
	paths = append(paths, row.Attachments()...)

	return email.Build(email.BuildParams{
		To:              to,
		Cc:              row.Cc(),
		Bcc:             row.Bcc(),
		Sender:          r.opts.Sender,
		Subject:         rendered.Subject,
		HTML:            rendered.HTML,
		Text:            rendered.Text,
		AttachmentPaths: paths,
	})
}

// preview shows the message as its recipients would receive it, decoded
// from the serialized form.
func (r *Runner) preview(rowNum int, msg *email.Email) error {
	raw, err := msg.Bytes()
	if err != nil {
		return fmt.Errorf("failed to build message: %w", err)
	}
	wire, err := parser.Parse(raw)
	if err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}
	return r.previewer.Preview(rowNum, wire)
}
