// Package retry implements the client session loop's retry invoker:
// an exponential-backoff-with-jitter wrapper around a fallible
// action, bounded by max tries and max elapsed time, built on
// github.com/cenkalti/backoff/v4.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/flwr-go/flower-node/internal/errs"
)

// Event is the payload passed to the observability callbacks.
type Event struct {
	Tries   int64
	Elapsed time.Duration
	Err     error // the error that triggered on_backoff / on_giveup; nil for on_success
	Wait    time.Duration
}

// Invoker runs a fallible action repeatedly until it succeeds or gives
// up. The zero value is not usable; build one with New.
type Invoker struct {
	newBackOff    func() backoff.BackOff
	recoverable   func(error) bool
	maxTries      uint64 // 0 means unbounded
	maxElapsed    time.Duration
	onBackoff     func(Event)
	onGiveUp      func(Event)
	onSuccess     func(Event)
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithWaitGenerator overrides the base-wait factory. The default is an
// exponential backoff with jitter: initial 1s, multiplier 1.5, max 30s,
// randomization factor 0.5 (set explicitly in New; the initial and max
// intervals differ from cenkalti/backoff/v4's own defaults).
func WithWaitGenerator(factory func() backoff.BackOff) Option {
	return func(i *Invoker) { i.newBackOff = factory }
}

// WithRecoverable overrides the predicate used to classify an error as
// recoverable (retryable) vs. terminal. Defaults to errs.Recoverable,
// i.e. errors.As(err, *errs.TransportRecoverable).
func WithRecoverable(pred func(error) bool) Option {
	return func(i *Invoker) { i.recoverable = pred }
}

// WithMaxTries bounds the number of attempts (0 = unbounded, the
// default). Attempt counting starts at 1.
func WithMaxTries(n uint64) Option {
	return func(i *Invoker) { i.maxTries = n }
}

// WithMaxElapsedTime bounds the total wall-clock time spent retrying
// (0 = unbounded, the default).
func WithMaxElapsedTime(d time.Duration) Option {
	return func(i *Invoker) { i.maxElapsed = d }
}

// WithOnBackoff sets the callback invoked before each retry sleep.
func WithOnBackoff(fn func(Event)) Option { return func(i *Invoker) { i.onBackoff = fn } }

// WithOnGiveUp sets the callback invoked when retrying is abandoned.
func WithOnGiveUp(fn func(Event)) Option { return func(i *Invoker) { i.onGiveUp = fn } }

// WithOnSuccess sets the callback invoked on success after >=2 tries.
func WithOnSuccess(fn func(Event)) Option { return func(i *Invoker) { i.onSuccess = fn } }

// New builds an Invoker with the given options.
func New(opts ...Option) *Invoker {
	i := &Invoker{
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 30 * time.Second
			b.Multiplier = 1.5
			b.RandomizationFactor = 0.5
			b.MaxElapsedTime = 0 // the Invoker enforces its own max-elapsed-time
			return b
		},
		recoverable: errs.Recoverable,
		onBackoff:   func(Event) {},
		onGiveUp:    func(Event) {},
		onSuccess:   func(Event) {},
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// Do runs action repeatedly until it returns nil, a non-recoverable
// error, or the invoker gives up. ctx cancellation aborts the current
// sleep and surfaces as a non-recoverable error.
func (i *Invoker) Do(ctx context.Context, action func(context.Context) error) error {
	b := i.newBackOff()
	if i.maxTries > 0 {
		b = backoff.WithMaxRetries(b, i.maxTries-1)
	}
	bctx := backoff.WithContext(b, ctx)

	start := time.Now()
	var tries int64
	var lastErr error

	op := func() error {
		tries++
		err := action(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !i.recoverable(err) {
			return backoff.Permanent(err)
		}

		if i.maxElapsed > 0 && time.Since(start) >= i.maxElapsed {
			return backoff.Permanent(err)
		}

		return err
	}

	notify := func(err error, wait time.Duration) {
		i.onBackoff(Event{Tries: tries, Elapsed: time.Since(start), Err: err, Wait: wait})
	}

	err := backoff.RetryNotify(op, bctx, notify)
	if err != nil {
		// RetryNotify unwraps backoff.Permanent before returning, so err
		// here is always the underlying action/context error.
		if ctx.Err() != nil && !i.recoverable(lastErr) {
			err = errs.NewTransportFatal("retry", ctx.Err())
		}
		i.onGiveUp(Event{Tries: tries, Elapsed: time.Since(start), Err: err})
		return err
	}

	if tries >= 2 {
		i.onSuccess(Event{Tries: tries, Elapsed: time.Since(start)})
	}
	return nil
}
