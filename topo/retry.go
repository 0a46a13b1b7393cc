package topo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/x/mongo/driver"
	"go.mongodb.org/mongo-driver/v2/x/mongo/driver/topology"

	"github.com/percona/percona-shadowwrite-mongodb/errors"
)

const (
	DefaultRetryInterval = 5 * time.Second
	DefaultMaxRetries    = 3
)

// transientCodes are server error codes worth retrying.
//
//nolint:gochecknoglobals
var transientCodes = []int{
	6,     // HostUnreachable
	7,     // HostNotFound
	89,    // NetworkTimeout
	91,    // ShutdownInProgress
	189,   // PrimarySteppedDown
	9001,  // SocketException
	10107, // NotWritablePrimary
	11600, // InterruptedAtShutdown
	11602, // InterruptedDueToReplStateChange
	13435, // NotPrimaryNoSecondaryOk
}

// IsTransient reports whether err is a network error or a server error that may succeed on retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if mongo.IsNetworkError(err) {
		return true
	}

	var le mongo.LabeledError
	if errors.As(err, &le) {
		if le.HasErrorLabel("RetryableWriteError") || le.HasErrorLabel("TransientTransactionError") {
			return true
		}
	}

	var se mongo.ServerError
	if errors.As(err, &se) {
		for _, code := range transientCodes {
			if se.HasErrorCode(code) {
				return true
			}
		}
	}

	return false
}

// notPrimaryCodes are returned before the server executes a write.
//
//nolint:gochecknoglobals
var notPrimaryCodes = []int{
	10107, // NotWritablePrimary
	13435, // NotPrimaryNoSecondaryOk
	13436, // NotPrimaryOrSecondary
}

// IsNotApplied reports whether err proves that the write did not reach the server
// or was refused before execution. Such a write is safe to send again whatever it does.
// A network error is not enough: the server may have applied the write and lost the reply.
func IsNotApplied(err error) bool {
	if err == nil {
		return false
	}

	var sse topology.ServerSelectionError
	if errors.As(err, &sse) {
		return true
	}

	var le mongo.LabeledError
	if errors.As(err, &le) && le.HasErrorLabel(driver.NoWritesPerformed) {
		return true
	}

	var se mongo.ServerError
	if errors.As(err, &se) {
		for _, code := range notPrimaryCodes {
			if se.HasErrorCode(code) {
				return true
			}
		}
	}

	return false
}

// RunWithRetry calls fn up to maxRetries times while it fails with a transient error.
// A non-transient error is returned as is. Waiting between attempts stops on ctx cancellation.
func RunWithRetry(
	ctx context.Context,
	fn func(context.Context) error,
	interval time.Duration,
	maxRetries int,
) error {
	return RunWithRetryIf(ctx, fn, IsTransient, interval, maxRetries)
}

// RunWithRetryIf is [RunWithRetry] with the retryable errors chosen by retryable.
func RunWithRetryIf(
	ctx context.Context,
	fn func(context.Context) error,
	retryable func(error) bool,
	interval time.Duration,
	maxRetries int,
) error {
	var err error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}

		if !retryable(err) {
			return err
		}

		if attempt == maxRetries {
			break
		}

		t := time.NewTimer(interval)

		select {
		case <-ctx.Done():
			t.Stop()

			return errors.Wrap(err, "retry canceled")
		case <-t.C:
		}
	}

	return errors.Wrapf(err, "failed after %d attempts", maxRetries)
}
