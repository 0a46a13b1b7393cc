package config

import (
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/percona/percona-shadowwrite-mongodb/errors"
)

// ParseMaxWriteSize parses a byte size string. Empty string and "0" mean unlimited and return 0.
func ParseMaxWriteSize(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}

	sizeBytes, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid max-write-size value: %s", value)
	}

	limit, _ := humanize.ParseBytes(MaxWriteSizeLimit)
	if sizeBytes > limit {
		return 0, errors.Errorf("max-write-size must be at most %s, got %s",
			humanize.IBytes(limit), humanize.IBytes(sizeBytes))
	}

	return int64(min(sizeBytes, math.MaxInt64)), nil //nolint:gosec
}

// MaxWriteSizeBytes returns the max write size in bytes. 0 means unlimited.
// An invalid value is treated as unlimited; [Validate] reports it.
func (c *Config) MaxWriteSizeBytes() int64 {
	n, _ := ParseMaxWriteSize(c.Dispatch.MaxWriteSize)

	return n
}

// ConnectTimeoutOrDefault returns the connect timeout or [DefaultConnectTimeout] if unset.
func (c *Config) ConnectTimeoutOrDefault() time.Duration {
	if c.ConnectTimeout > 0 {
		return c.ConnectTimeout
	}

	return DefaultConnectTimeout
}

// DispatchTimeoutOrDefault returns the dispatch timeout or [DefaultDispatchTimeout] if unset.
func (c *Config) DispatchTimeoutOrDefault() time.Duration {
	if c.Dispatch.Timeout > 0 {
		return c.Dispatch.Timeout
	}

	return DefaultDispatchTimeout
}

// DispatchQueueSizeOrDefault returns the queue size or [DefaultDispatchQueueSize] if unset.
func (c *Config) DispatchQueueSizeOrDefault() int {
	if c.Dispatch.QueueSize > 0 {
		return c.Dispatch.QueueSize
	}

	return DefaultDispatchQueueSize
}

// DispatchMaxRetriesOrDefault returns the retry attempts or [DefaultDispatchMaxRetries] if unset.
func (c *Config) DispatchMaxRetriesOrDefault() int {
	if c.Dispatch.MaxRetries > 0 {
		return c.Dispatch.MaxRetries
	}

	return DefaultDispatchMaxRetries
}
