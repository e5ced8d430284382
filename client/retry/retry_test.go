package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flwr-go/flower-node/client/retry"
	"github.com/flwr-go/flower-node/internal/errs"
)

func fastBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxInterval = 2 * time.Millisecond
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	return b
}

func TestInvoker_SucceedsAfterRetries(t *testing.T) {
	var backoffs, successes int
	inv := retry.New(
		retry.WithWaitGenerator(fastBackOff),
		retry.WithOnBackoff(func(retry.Event) { backoffs++ }),
		retry.WithOnSuccess(func(retry.Event) { successes++ }),
	)

	attempt := 0
	err := inv.Do(context.Background(), func(context.Context) error {
		attempt++
		if attempt < 3 {
			return errs.NewTransportRecoverable("dial", errors.New("refused"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempt)
	assert.Equal(t, 2, backoffs)
	assert.Equal(t, 1, successes)
}

func TestInvoker_NonRecoverablePropagatesImmediately(t *testing.T) {
	inv := retry.New(retry.WithWaitGenerator(fastBackOff))

	attempt := 0
	sentinel := errors.New("config bad")
	err := inv.Do(context.Background(), func(context.Context) error {
		attempt++
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, attempt)
}

func TestInvoker_GivesUpAtMaxTries(t *testing.T) {
	var gaveUp bool
	inv := retry.New(
		retry.WithWaitGenerator(fastBackOff),
		retry.WithMaxTries(3),
		retry.WithOnGiveUp(func(retry.Event) { gaveUp = true }),
	)

	attempt := 0
	err := inv.Do(context.Background(), func(context.Context) error {
		attempt++
		return errs.NewTransportRecoverable("dial", errors.New("refused"))
	})
	assert.Error(t, err)
	assert.Equal(t, 3, attempt)
	assert.True(t, gaveUp)
}

func TestInvoker_CancellationAbortsSleep(t *testing.T) {
	inv := retry.New(retry.WithWaitGenerator(func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = time.Hour
		b.MaxElapsedTime = 0
		return b
	}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	err := inv.Do(ctx, func(context.Context) error {
		return errs.NewTransportRecoverable("dial", errors.New("refused"))
	})
	assert.Error(t, err)
}
