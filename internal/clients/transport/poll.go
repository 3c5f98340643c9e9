package transport

import (
	"context"
	"time"

	"variations/internal/providers"
)

// Poll calls check every interval until it reports done, fails with a
// non-retryable error, or timeout elapses. Retryable check errors are
// treated as "not ready yet".
func Poll(ctx context.Context, interval, timeout time.Duration, check func(ctx context.Context) (bool, error)) error {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	var last error
	for {
		select {
		case <-ctx.Done():
			return providers.FromTransport(ctx.Err())
		case <-deadline.C:
			e := providers.Errorf(providers.KindTimeout, "generation did not complete within %s", timeout)
			if last != nil {
				e.Cause = last
			}
			return e
		case <-time.After(interval):
		}

		done, err := check(ctx)
		if err != nil {
			if pe := providers.AsError(err); !pe.Retryable {
				return pe
			}
			last = err
			continue
		}
		if done {
			return nil
		}
	}
}
