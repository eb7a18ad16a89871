package transport

import (
	"context"
	"fmt"
	"time"
)

// WithTimeout runs op in its own goroutine and waits at most timeout for
// it. When the wait gives up, op keeps running to completion in the
// background; op receives a context that is never cancelled so a transfer
// is never cut mid-way.
func WithTimeout(ctx context.Context, timeout time.Duration, op func(context.Context) error) error {
	done := make(chan error, 1)
	opCtx := context.WithoutCancel(ctx)
	go func() {
		done <- op(opCtx)
	}()

	if timeout <= 0 {
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("%w after %s", ErrTimeout, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
