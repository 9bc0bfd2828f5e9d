package services

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/andrenbrandao/ledger/pkg/domain"
)

// RetryPolicy re-runs ledger calls that failed for infrastructural reasons. Business-rule
// errors and context errors are returned at once.
type RetryPolicy struct {
	MaxRetries uint64
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: 20 * time.Millisecond, MaxDelay: 500 * time.Millisecond}
}

// Do runs op until it succeeds, fails permanently, or the retries run out. Exhausted retries are
// reported as domain.ErrLedgerUnavailable wrapping the last failure.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.MaxElapsedTime = 0

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := op()
		if err != nil && !domain.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, p.MaxRetries), ctx))

	if err == nil || !domain.IsRetryable(err) {
		return err
	}
	return fmt.Errorf("%w after %d attempts: %w", domain.ErrLedgerUnavailable, attempts, err)
}
