package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is the cause attached when WithTimeout gives up on fn.
var ErrTimeout = errors.New("operation timed out")

// WithTimeout bounds fn to limit. fn runs on its own goroutine so a call that
// ignores ctx still returns control on time; its late result is discarded.
// A non-positive limit runs fn inline.
func WithTimeout(ctx context.Context, limit time.Duration, op string, fn func(context.Context) error) error {
	if limit <= 0 {
		return fn(ctx)
	}
	cause := fmt.Errorf("%s: %w after %v", op, ErrTimeout, limit)
	bounded, cancel := context.WithTimeoutCause(ctx, limit, cause)
	defer cancel()

	result := make(chan error, 1)
	go func() { result <- fn(bounded) }()

	var err error
	select {
	case err = <-result:
		if err == nil || bounded.Err() == nil {
			return err
		}
	case <-bounded.Done():
	}
	if perr := ctx.Err(); perr != nil {
		return fmt.Errorf("%s: %w", op, perr)
	}
	return fmt.Errorf("%w: %w", context.Cause(bounded), context.DeadlineExceeded)
}
