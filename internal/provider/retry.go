package provider

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/deepdive-ai/deepdive/internal/keyring"
	"github.com/deepdive-ai/deepdive/pkg/models"
	"github.com/rs/zerolog/log"
)

const (
	// attemptsPerKey multiplies the key count into the total retry budget.
	// Attempts are not one-per-key: after the pool is exhausted the rotation
	// wraps, so a key that failed transiently gets retried later in the same
	// operation.
	attemptsPerKey = 3

	// baseBackoff is the per-cycle 429 backoff unit. The delay grows once
	// every key has been tried (linear in cycle), not per attempt.
	baseBackoff = 2 * time.Second

	// retryAfterMargin is added on top of a machine-readable retry hint.
	retryAfterMargin = 500 * time.Millisecond
)

// attemptFunc performs one wire call with the drawn credential.
type attemptFunc func(ctx context.Context, key string) (*models.GenerationResult, error)

// retrier drives the shared retry engine for both executors.
type retrier struct {
	provider string
	rotator  *keyring.Rotator

	// sleep is replaceable in tests; the default honors context cancellation.
	sleep func(ctx context.Context, d time.Duration) error
}

func newRetrier(provider string, rotator *keyring.Rotator) *retrier {
	return &retrier{provider: provider, rotator: rotator, sleep: sleepCtx}
}

// do runs fn up to keyCount × attemptsPerKey times. On success it resets the
// rotator so the next independent operation starts from the first key.
func (r *retrier) do(ctx context.Context, fn attemptFunc) (*models.GenerationResult, error) {
	keyCount := r.rotator.Len()
	if keyCount == 0 {
		return nil, ErrNoCredentials
	}
	maxAttempts := keyCount * attemptsPerKey

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		key, ok := r.rotator.Next()
		if !ok {
			return nil, ErrNoCredentials
		}

		res, err := fn(ctx, key)
		if err == nil {
			r.rotator.Reset()
			return res, nil
		}
		lastErr = err

		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.Status == http.StatusTooManyRequests {
			cycle := (attempt-1)/keyCount + 1
			delay := time.Duration(cycle) * baseBackoff
			if hint, ok := httpErr.retryDelayHint(); ok {
				delay = hint + retryAfterMargin
			}
			log.Warn().
				Str("provider", r.provider).
				Int("attempt", attempt).
				Int("cycle", cycle).
				Dur("backoff", delay).
				Msg("Rate limited, backing off before next attempt")
			if err := r.sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue
		}

		// Non-429 failures move straight to the next key.
		log.Warn().
			Str("provider", r.provider).
			Int("attempt", attempt).
			Err(err).
			Msg("Attempt failed, rotating to next key")
	}

	return nil, &AllKeysExhaustedError{Attempts: maxAttempts, Last: lastErr}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
