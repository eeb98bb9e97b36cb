package dbsync

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type RetryOptions struct {
	MaxRetries uint64
	// Timeout of each attempt, no timeout if zero
	Timeout time.Duration
}

// Retry retries with back off, errors wrapped with backoff.Permanent are returned right away
func Retry(ctx context.Context, options RetryOptions, f func(context.Context) error) error {
	start := time.Now()
	retries := 0
	b := backoff.WithContext(backoff.WithMaxRetries(IndefiniteExponentialBackOff(), options.MaxRetries), ctx)
	err := backoff.RetryNotify(func() (err error) {
		debug.SetPanicOnFault(true)
		defer func() {
			if r := recover(); r != nil {
				logrus.WithContext(ctx).Warnf("panic in query, retrying: %v", r)
				err = errors.Errorf("panic in query, retrying: %v", r)
			}
		}()

		attemptCtx := ctx
		if options.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, options.Timeout)
			defer cancel()
		}

		return f(attemptCtx)
	}, b, func(err error, duration time.Duration) {
		retries++
		logrus.WithContext(ctx).WithError(err).Debugf("retrying in %v", duration)
	})
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, "failed after %d retries and total duration of %v", retries, time.Since(start))
}

func IndefiniteExponentialBackOff() *backoff.ExponentialBackOff {
	exponentialBackOff := backoff.NewExponentialBackOff()
	exponentialBackOff.MaxInterval = 5 * time.Minute
	exponentialBackOff.MaxElapsedTime = 0
	return exponentialBackOff
}
