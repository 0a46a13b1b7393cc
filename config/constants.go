package config

import (
	"time"
)

// DefaultServerPort is the default port of the status HTTP server.
const DefaultServerPort = 2243

// EnvPrefix is the prefix of the environment variables read by [Load].
const EnvPrefix = "PSWM"

const (
	// DefaultConnectTimeout bounds a single connection attempt, handshake included.
	DefaultConnectTimeout = 15 * time.Second
	// DisconnectTimeout bounds closing a connection.
	DisconnectTimeout = 5 * time.Second

	// DefaultDispatchTimeout bounds the replay of one write on one secondary.
	DefaultDispatchTimeout = 30 * time.Second
	// DefaultDispatchQueueSize is the number of writes buffered per secondary.
	DefaultDispatchQueueSize = 4096
	// DefaultDispatchMaxRetries is the number of attempts for a transient replay failure.
	DefaultDispatchMaxRetries = 3
	// DispatchRetryInterval is the pause between replay attempts.
	DispatchRetryInterval = 500 * time.Millisecond
)

const (
	// MaxDispatchQueueSize caps the per-secondary buffer.
	MaxDispatchQueueSize = 1 << 20
	// MaxWriteSizeLimit is the largest accepted value of max-write-size.
	MaxWriteSizeLimit = "1GiB"
)
