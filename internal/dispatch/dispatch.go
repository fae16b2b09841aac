// Package dispatch submits built messages to a provider with bounded
// exponential-backoff retry on transient failures.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shineum/csv-mailer/internal/email"
	"github.com/shineum/csv-mailer/internal/provider"
)

const (
	// DefaultMaxAttempts is the total number of send attempts per message.
	DefaultMaxAttempts = 5

	// DefaultBaseDelay is the wait after the first transient failure.
	DefaultBaseDelay = 1 * time.Second

	// DefaultMaxRetryAfter bounds a server-requested retry delay.
	DefaultMaxRetryAfter = 1 * time.Minute
)

// Options configures a Dispatcher. Zero values select the defaults.
type Options struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxRetryAfter time.Duration
}

// Dispatcher sends messages through a provider, retrying transient failures.
type Dispatcher struct {
	provider    provider.Provider
	maxAttempts   int
	baseDelay     time.Duration
	maxRetryAfter time.Duration

	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Dispatcher for p.
func New(p provider.Provider, opts Options) *Dispatcher {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.MaxRetryAfter <= 0 {
		opts.MaxRetryAfter = DefaultMaxRetryAfter
	}
	return &Dispatcher{
		provider:    p,
		maxAttempts:   opts.MaxAttempts,
		baseDelay:     opts.BaseDelay,
		maxRetryAfter: opts.MaxRetryAfter,
		sleep:         sleepWithContext,
	}
}

// Send delivers msg. A transient failure is retried after BaseDelay, doubling
// on each further failure, up to MaxAttempts attempts in total. A
// non-transient failure is returned immediately; when attempts run out the
// last error is returned.
func (d *Dispatcher) Send(ctx context.Context, msg *email.Email) (provider.Receipt, error) {
	var lastErr error

	for attempt := 0; attempt < d.maxAttempts; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying send",
				"provider", d.provider.Name(),
				"attempt", attempt+1,
				"max_attempts", d.maxAttempts,
			)
		}

		receipt, err := d.provider.Send(ctx, msg)
		if err == nil {
			return receipt, nil
		}
		lastErr = err

		if !provider.IsTransient(err) {
			return provider.Receipt{}, err
		}
		if attempt == d.maxAttempts-1 {
			break
		}

		delay := d.retryDelay(err, attempt)
		slog.Warn("transient send failure, retrying",
			"provider", d.provider.Name(),
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)
		if err := d.sleep(ctx, delay); err != nil {
			return provider.Receipt{}, fmt.Errorf("context cancelled during retry wait: %w", err)
		}
	}

	return provider.Receipt{}, fmt.Errorf("%s send failed after %d attempts: %w", d.provider.Name(), d.maxAttempts, lastErr)
}

// retryDelay honours a server-requested delay, capped at maxRetryAfter,
// when it exceeds the backoff.
func (d *Dispatcher) retryDelay(err error, attempt int) time.Duration {
	delay := backoffDelay(d.baseDelay, attempt)
	after := min(provider.RetryAfter(err), d.maxRetryAfter)
	if after > delay {
		return after
	}
	return delay
}

// backoffDelay returns the exponential backoff delay for the given attempt number.
// Delays are: base, 2*base, 4*base, ...
func backoffDelay(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// sleepWithContext waits for the specified duration or until the context is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Sleep is the context-aware wait used for retry backoff and send pacing.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	return sleepWithContext(ctx, d)
}
