package shadow

import (
	"fmt"
	"strings"
	"time"

	"github.com/percona/percona-shadowwrite-mongodb/capture"
	"github.com/percona/percona-shadowwrite-mongodb/config"
	"github.com/percona/percona-shadowwrite-mongodb/errors"
	"github.com/percona/percona-shadowwrite-mongodb/topo"
)

var (
	// ErrInvalidArguments is returned by [Manager.Initialize] for an empty target list,
	// a list without enabled target or an invalid target.
	ErrInvalidArguments = errors.New("invalid arguments")
	// ErrAlreadyInitialized is returned by [Manager.Initialize] unless the manager is uninitialized.
	ErrAlreadyInitialized = errors.New("already initialized")
)

// ConnectionError is the failure to open one target.
type ConnectionError struct {
	Target config.Target
	Cause  error
}

func (e *ConnectionError) Error() string {
	return "connect " + topo.Redact(e.Target.URI) + ": " + e.Cause.Error()
}

func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// ConnectionFailure aggregates every failed connection attempt of an initialization.
type ConnectionFailure struct {
	Errors []*ConnectionError
}

func (e *ConnectionFailure) Error() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "%d connection(s) failed", len(e.Errors))

	for _, ce := range e.Errors {
		sb.WriteString("; ")
		sb.WriteString(ce.Error())
	}

	return sb.String()
}

func (e *ConnectionFailure) Unwrap() []error {
	rv := make([]error, len(e.Errors))
	for i, ce := range e.Errors {
		rv[i] = ce
	}

	return rv
}

// TimeoutError is returned when a connection attempt exceeds its timeout.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("connection timed out after %s", e.Timeout)
}

// DispatchFailure is the failure to replay a write on a secondary.
// It is reported to the [Observer] and logged; it never reaches the primary write path.
type DispatchFailure struct {
	Secondary string
	Write     *capture.Write
	Cause     error
}

func (e *DispatchFailure) Error() string {
	return "dispatch " + e.Write.String() + " to " + e.Secondary + ": " + e.Cause.Error()
}

func (e *DispatchFailure) Unwrap() error {
	return e.Cause
}
