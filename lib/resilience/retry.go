// Package resilience layers retry policy on top of the non-blocking
// pool. Acquisition fails fast with a pool-exhausted error by design;
// callers that would rather wait briefly than fail wrap their work in
// Retry, which backs off exponentially while the pool stays full.
//
// Only exhaustion is retried. Misuse errors and closed-pool errors are
// permanent, and any other error is assumed to be the operation's own
// and is returned as-is.
package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/smartpool-go/smartpool/lib/errors"
)

// RetryConfig bounds the backoff schedule.
type RetryConfig struct {
	// InitialInterval is the first wait between attempts.
	InitialInterval time.Duration
	// MaxInterval caps the wait between attempts.
	MaxInterval time.Duration
	// MaxElapsedTime is the total budget before giving up. Zero means
	// retry until the context is done.
	MaxElapsedTime time.Duration
}

// DefaultRetryConfig returns a schedule suited to waiting out a
// briefly full pool.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     250 * time.Millisecond,
		MaxElapsedTime:  2 * time.Second,
	}
}

// Retry runs op, retrying with exponential backoff for as long as it
// reports pool exhaustion. The last exhaustion error is returned when
// the budget or context runs out.
func Retry(ctx context.Context, cfg RetryConfig, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.MaxInterval = cfg.MaxInterval
	b.MaxElapsedTime = cfg.MaxElapsedTime

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		RetryAttemptsTotal.Inc()
		err := op()
		if err == nil {
			return nil
		}
		if errors.IsEmptyPool(err) {
			log.WithField("attempt", attempts).Debug("pool exhausted, backing off")
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(b, ctx))

	if err != nil && errors.IsEmptyPool(err) {
		RetryGiveUpsTotal.Inc()
		log.WithField("attempts", attempts).Warn("gave up waiting for pool capacity")
	}
	return err
}
