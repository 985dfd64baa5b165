package reflection

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when a poll does not finish within its budget.
var ErrTimeout = errors.New("poll timed out")

// CheckFunc reports (value, true, nil) once the awaited condition holds.
// Errors are treated as transient.
type CheckFunc[T any] func(ctx context.Context) (T, bool, error)

// Poll runs check every interval until it reports done, timeout elapses, or
// ctx is cancelled. Transient check errors do not stop the loop; the last one
// is attached to ErrTimeout.
func Poll[T any](ctx context.Context, interval, timeout time.Duration, check CheckFunc[T]) (T, error) {
	var zero T
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-deadline.C:
			if lastErr != nil {
				return zero, fmt.Errorf("%w after %s (last error: %v)", ErrTimeout, timeout, lastErr)
			}
			return zero, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		case <-ticker.C:
			value, done, err := check(ctx)
			if err != nil {
				lastErr = err
				continue
			}
			if done {
				return value, nil
			}
		}
	}
}
