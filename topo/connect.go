package topo

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cast"
	"go.mongodb.org/mongo-driver/v2/event"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/percona/percona-shadowwrite-mongodb/errors"
	"github.com/percona/percona-shadowwrite-mongodb/log"
	"github.com/percona/percona-shadowwrite-mongodb/util"
)

// DefaultAppName is reported to the server unless the URI or the options set one.
const DefaultAppName = "pswm"

// disconnectTimeout bounds the cleanup of a client that failed the initial ping.
const disconnectTimeout = 5 * time.Second

// Client option keys accepted in a target options map.
const (
	OptAppName                = "appName"
	OptMaxPoolSize            = "maxPoolSize"
	OptMinPoolSize            = "minPoolSize"
	OptCompressors            = "compressors"
	OptServerSelectionTimeout = "serverSelectionTimeout"
	OptConnectTimeout         = "connectTimeout"
	OptTimeout                = "timeout"
	OptReplicaSet             = "replicaSet"
	OptDirectConnection       = "directConnection"
	OptRetryWrites            = "retryWrites"

	// OptDatabase is not a client setting. It names the database that replayed writes
	// are redirected into, see [TargetDatabase].
	OptDatabase = "database"
)

//nolint:gochecknoglobals
var clientOptionKeys = []string{
	OptAppName,
	OptMaxPoolSize,
	OptMinPoolSize,
	OptCompressors,
	OptServerSelectionTimeout,
	OptConnectTimeout,
	OptTimeout,
	OptReplicaSet,
	OptDirectConnection,
	OptRetryWrites,
	OptDatabase,
}

// ClientOptionKeys returns the option keys understood by [ApplyClientOptions].
func ClientOptionKeys() []string {
	return slices.Clone(clientOptionKeys)
}

// CanonicalOptionKey returns the known option key matching key case-insensitively.
func CanonicalOptionKey(key string) (string, bool) {
	for _, known := range clientOptionKeys {
		if strings.EqualFold(key, known) {
			return known, true
		}
	}

	return "", false
}

// ApplyClientOptions sets the driver client options named in m. Keys are matched
// case-insensitively. Durations accept a Go duration string or a number of milliseconds.
func ApplyClientOptions(opts *options.ClientOptions, m map[string]any) error {
	for key, val := range m {
		canonical, ok := CanonicalOptionKey(key)
		if !ok {
			return errors.Errorf("%s: unsupported client option", key)
		}

		err := applyClientOption(opts, canonical, val)
		if err != nil {
			return errors.Wrap(err, key)
		}
	}

	return nil
}

func applyClientOption(opts *options.ClientOptions, key string, val any) error {
	switch key {
	case OptAppName:
		s, err := cast.ToStringE(val)
		if err != nil {
			return err //nolint:wrapcheck
		}

		opts.SetAppName(s)

	case OptMaxPoolSize, OptMinPoolSize:
		n, err := cast.ToUint64E(val)
		if err != nil {
			return err //nolint:wrapcheck
		}

		if key == OptMaxPoolSize {
			opts.SetMaxPoolSize(n)
		} else {
			opts.SetMinPoolSize(n)
		}

	case OptCompressors:
		compressors, err := toStringSlice(val)
		if err != nil {
			return err
		}

		opts.SetCompressors(compressors)

	case OptServerSelectionTimeout, OptConnectTimeout, OptTimeout:
		d, err := toDuration(val)
		if err != nil {
			return err
		}

		switch key {
		case OptServerSelectionTimeout:
			opts.SetServerSelectionTimeout(d)
		case OptConnectTimeout:
			opts.SetConnectTimeout(d)
		default:
			opts.SetTimeout(d)
		}

	case OptReplicaSet:
		s, err := cast.ToStringE(val)
		if err != nil {
			return err //nolint:wrapcheck
		}

		opts.SetReplicaSet(s)

	case OptDatabase:
		// read by TargetDatabase

	case OptDirectConnection, OptRetryWrites:
		b, err := cast.ToBoolE(val)
		if err != nil {
			return err //nolint:wrapcheck
		}

		if key == OptDirectConnection {
			opts.SetDirect(b)
		} else {
			opts.SetRetryWrites(b)
		}

	default:
		return errors.New("unsupported client option")
	}

	return nil
}

func toDuration(val any) (time.Duration, error) {
	switch val.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		ms, err := cast.ToInt64E(val)
		if err != nil {
			return 0, err //nolint:wrapcheck
		}

		return time.Duration(ms) * time.Millisecond, nil
	}

	d, err := cast.ToDurationE(val)
	if err != nil {
		return 0, err //nolint:wrapcheck
	}

	return d, nil
}

func toStringSlice(val any) ([]string, error) {
	if s, ok := val.(string); ok {
		parts := strings.Split(s, ",")
		rv := make([]string, 0, len(parts))

		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				rv = append(rv, p)
			}
		}

		return rv, nil
	}

	rv, err := cast.ToStringSliceE(val)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	return rv, nil
}

type connectConfig struct {
	monitor *event.CommandMonitor
	options map[string]any
}

// ConnectOption customizes [Connect].
type ConnectOption func(*connectConfig)

// WithMonitor installs a command monitor on the client.
func WithMonitor(m *event.CommandMonitor) ConnectOption {
	return func(c *connectConfig) {
		c.monitor = m
	}
}

// WithClientOptions applies a target options map. See [ApplyClientOptions].
func WithClientOptions(m map[string]any) ConnectOption {
	return func(c *connectConfig) {
		c.options = m
	}
}

// Connect creates a client for uri and pings the primary.
// The client is disconnected if the ping fails.
func Connect(ctx context.Context, uri string, opts ...ConnectOption) (*mongo.Client, error) {
	if uri == "" {
		return nil, errors.New("invalid MongoDB URI")
	}

	var cfg connectConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	clientOpts := options.Client().SetAppName(DefaultAppName).ApplyURI(uri)

	err := ApplyClientOptions(clientOpts, cfg.options)
	if err != nil {
		return nil, errors.Wrap(err, "client options")
	}

	if cfg.monitor != nil {
		clientOpts.SetMonitor(cfg.monitor)
	}

	lg := log.Ctx(ctx).With(log.String("uri", Redact(uri)))

	client, err := mongo.Connect(clientOpts)
	if err != nil {
		return nil, errors.Wrap(err, "connect")
	}

	err = client.Ping(ctx, readpref.Primary())
	if err != nil {
		disconnectErr := util.CtxWithTimeout(util.Detached(ctx), disconnectTimeout, client.Disconnect)
		if disconnectErr != nil {
			lg.Error(disconnectErr, "Disconnect after failed ping")
		}

		return nil, errors.Wrap(err, "ping")
	}

	lg.Debug("Connected")

	return client, nil
}

// TargetDatabase returns the database named by the [OptDatabase] target option.
// An empty result means writes keep the database of the primary. The database path
// of a connection string is never used for this: it is also the default authSource.
func TargetDatabase(m map[string]any) (string, error) {
	for key, val := range m {
		if !strings.EqualFold(key, OptDatabase) {
			continue
		}

		name, err := cast.ToStringE(val)
		if err != nil {
			return "", errors.Wrap(err, OptDatabase)
		}

		switch {
		case name == "":
			return "", errors.New(OptDatabase + ": empty name")
		case strings.ContainsAny(name, "/\\. \"$\x00"):
			return "", errors.Errorf("%s: invalid name %q", OptDatabase, name)
		case slices.Contains(systemDatabases, name):
			return "", errors.Errorf("%s: %q is a system database", OptDatabase, name)
		}

		return name, nil
	}

	return "", nil
}

//nolint:gochecknoglobals
var systemDatabases = []string{"admin", "local", "config"}

// Redact hides the password part of a connection string.
func Redact(uri string) string {
	schemeEnd := strings.Index(uri, "://")
	if schemeEnd == -1 {
		return uri
	}

	rest := uri[schemeEnd+3:]

	hostEnd := strings.IndexAny(rest, "/?")
	if hostEnd == -1 {
		hostEnd = len(rest)
	}

	at := strings.LastIndex(rest[:hostEnd], "@")
	if at == -1 {
		return uri
	}

	user, _, hasPassword := strings.Cut(rest[:at], ":")
	if !hasPassword {
		return uri
	}

	return uri[:schemeEnd+3] + user + ":xxxxx" + rest[at:]
}
