// Package retry wraps calls to remote services in a bounded exponential
// backoff policy.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	log "github.com/tuannvm/ado-ai/internal/logging"
)

// Policy describes how many times an operation is attempted and how long to
// wait between attempts. Waits are expressed in multiples of Unit so tests
// can run the production schedule on a millisecond clock.
type Policy struct {
	Attempts uint
	Initial  float64
	Max      float64
	Unit     time.Duration
}

// Default is three attempts waiting 2 then 4 seconds, capped at 10.
func Default() Policy {
	return Policy{Attempts: 3, Initial: 2, Max: 10, Unit: time.Second}
}

// WithAttempts returns a copy of p with the attempt count set from a
// configured retry budget. A budget of zero still runs the operation once.
func (p Policy) WithAttempts(n int) Policy {
	if n < 1 {
		n = 1
	}
	p.Attempts = uint(n)
	return p
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     time.Duration(p.Initial * float64(p.Unit)),
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         time.Duration(p.Max * float64(p.Unit)),
	}
}

// Do runs op until it succeeds, returns an error retryable rejects, or the
// attempt budget is spent. The final error is returned unchanged.
func Do[T any](ctx context.Context, p Policy, name string, retryable func(error) bool, op func(context.Context) (T, error)) (T, error) {
	attempt := 0
	res, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := op(ctx)
		if err != nil && !retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(p.Attempts),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			log.Warnf("%s failed (attempt %d/%d), retrying in %s: %v", name, attempt, p.Attempts, wait, err)
		}),
	)

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	return res, err
}
