package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TimeoutConfig returns the configured per-request timeout.
func (e *Engine) TimeoutConfig() time.Duration {
	return e.cfg.RequestTimeout()
}

// ExecuteWithTimeout runs op and abandons it after timeout, returning a
// TIMEOUT Violation. timeout <= 0 selects the configured request timeout;
// if that is zero too, op runs without a deadline.
//
// op receives a context that is cancelled on timeout and should return
// promptly once it is. Cancellation of the parent context is returned as-is.
func (e *Engine) ExecuteWithTimeout(ctx context.Context, timeout time.Duration, op func(context.Context) (any, error)) (any, error) {
	if timeout <= 0 {
		timeout = e.cfg.RequestTimeout()
	}
	if timeout <= 0 {
		return op(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := op(callCtx)
		done <- outcome{value: v, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, timeoutViolation(timeout)
		}
		return out.value, out.err
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, timeoutViolation(timeout)
	}
}

func timeoutViolation(timeout time.Duration) *Violation {
	return NewViolation(RuleTimeout, fmt.Sprintf("operation exceeded %s timeout", timeout), SeverityError)
}
