// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package drive

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ManuGH/ytvault/internal/log"
	"github.com/ManuGH/ytvault/internal/metrics"
)

// maxGetRetries bounds re-attempts of idempotent reads. Mutations go
// through do() and are never retried.
const maxGetRetries = 2

func getBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 0
	return backoff.WithMaxRetries(bo, maxGetRetries)
}

// retryGet runs an idempotent read with rate limiting, retrying
// transient failures (5xx, 429, network) with jittered exponential
// backoff. Permanent failures and 404s return immediately.
func (c *Client) retryGet(ctx context.Context, op string, fn func() error) error {
	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		err := fn()
		switch {
		case err == nil:
			metrics.DriveCall(op, "success")
			return nil
		case isNotFound(err):
			metrics.DriveCall(op, "not_found")
			return backoff.Permanent(err)
		case isTransient(err):
			metrics.DriveCall(op, "error")
			return err
		default:
			metrics.DriveCall(op, "error")
			return backoff.Permanent(err)
		}
	}
	notify := func(err error, wait time.Duration) {
		metrics.DriveRetry()
		c.logger.Debug().Err(err).Str("op", op).Dur("wait", wait).
			Str(log.FieldEvent, "drive.retry").Msg("retrying transient drive error")
	}
	err := backoff.RetryNotify(operation, backoff.WithContext(getBackOff(), ctx), notify)
	return mapError(err)
}
