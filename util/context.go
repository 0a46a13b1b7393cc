package util

import (
	"context"
	"time"
)

// CtxWithTimeout runs fn with a child context that expires after dur.
// A nil ctx is replaced with [context.Background].
func CtxWithTimeout(ctx context.Context, dur time.Duration, fn func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	timeoutCtx, cancelTimeout := context.WithTimeout(ctx, dur)
	defer cancelTimeout()

	return fn(timeoutCtx)
}

// Detached returns a context that keeps the values of ctx but is never canceled with it.
// Used for cleanup that must outlive the caller's deadline.
func Detached(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}

	return context.WithoutCancel(ctx)
}
