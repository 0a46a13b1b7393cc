// Package config provides configuration management for PSWM using Viper.
package config

import (
	"maps"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/percona/percona-shadowwrite-mongodb/errors"
)

// Target describes one connection to open. Targets are declarative and never mutated
// once submitted.
type Target struct {
	// URI is the MongoDB connection string.
	URI string `mapstructure:"uri" json:"uri" validate:"required,mongouri"`
	// Options are driver client options (see topo.ClientOptionKeys) plus "database",
	// which redirects every replayed write into the named database.
	Options map[string]any `mapstructure:"options" json:"options,omitempty" validate:"omitempty,clientoptions"`
	// Enabled targets are opened. Defaults to true in config files.
	Enabled bool `mapstructure:"enabled" json:"enabled"`
	// Primary marks the target preferred for reads.
	Primary bool `mapstructure:"primary" json:"primary,omitempty"`
}

// Config holds all PSWM configuration.
type Config struct {
	Port int `mapstructure:"port"`

	// Primary is the connection string of the primary cluster.
	Primary string `mapstructure:"primary"`
	// Secondaries is a shorthand list of enabled secondary URIs without options.
	Secondaries []string `mapstructure:"secondaries"`
	// Targets is the full secondary target list, usually from the config file.
	Targets []Target `mapstructure:"targets"`

	ConnectTimeout time.Duration `mapstructure:"connect-timeout"`

	Log LogConfig `mapstructure:",squash"`

	Dispatch DispatchConfig `mapstructure:",squash"`

	Filter FilterConfig `mapstructure:",squash"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level   string `mapstructure:"log-level"`
	JSON    bool   `mapstructure:"log-json"`
	NoColor bool   `mapstructure:"log-no-color"`
}

// DispatchConfig holds the fan-out configuration.
type DispatchConfig struct {
	// Timeout bounds the replay of one write on one secondary.
	Timeout time.Duration `mapstructure:"dispatch-timeout"`
	// QueueSize is the number of writes buffered per secondary. A write is dropped
	// for a secondary whose queue is full.
	QueueSize int `mapstructure:"dispatch-queue-size"`
	// MaxRetries is the number of attempts for a transient replay failure.
	MaxRetries int `mapstructure:"dispatch-max-retries"`
	// MaxWriteSize skips writes larger than the value (e.g., "16MiB"). Empty or "0" means unlimited.
	MaxWriteSize string `mapstructure:"max-write-size" validate:"omitempty,bytesize,bytesizemax=1GiB"`
}

// FilterConfig selects the replicated namespaces.
type FilterConfig struct {
	IncludeNamespaces []string `mapstructure:"include-namespaces"`
	ExcludeNamespaces []string `mapstructure:"exclude-namespaces"`
}

// SecondaryTargets returns the configured targets followed by the shorthand secondaries.
func (c *Config) SecondaryTargets() []Target {
	rv := slices.Clone(c.Targets)

	for _, uri := range c.Secondaries {
		uri = strings.TrimSpace(uri)
		if uri != "" {
			rv = append(rv, Target{URI: uri, Enabled: true})
		}
	}

	return rv
}

// Load initializes Viper and returns the Config. The result is not validated; see [Validate].
func Load(cmd *cobra.Command) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if cmd.PersistentFlags() != nil {
		_ = v.BindPFlags(cmd.PersistentFlags())
	}

	if cmd.Flags() != nil {
		_ = v.BindPFlags(cmd.Flags())
	}

	bindEnvVars(v)

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)

		err := v.ReadInConfig()
		if err != nil {
			return nil, errors.Wrapf(err, "read config file %q", path)
		}
	}

	var cfg Config

	err := v.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			targetDefaultsHook,
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	))
	if err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", DefaultServerPort)
	v.SetDefault("connect-timeout", DefaultConnectTimeout)
	v.SetDefault("dispatch-timeout", DefaultDispatchTimeout)
	v.SetDefault("dispatch-queue-size", DefaultDispatchQueueSize)
	v.SetDefault("dispatch-max-retries", DefaultDispatchMaxRetries)
	v.SetDefault("log-level", "info")
}

func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("config", "PSWM_CONFIG")
	_ = v.BindEnv("port", "PSWM_PORT")

	_ = v.BindEnv("primary", "PSWM_PRIMARY_URI", "PSWM_PRIMARY")
	_ = v.BindEnv("secondaries", "PSWM_SECONDARY_URIS", "PSWM_SECONDARIES")

	_ = v.BindEnv("log-level", "PSWM_LOG_LEVEL")
	_ = v.BindEnv("log-json", "PSWM_LOG_JSON")
	_ = v.BindEnv("log-no-color", "PSWM_LOG_NO_COLOR", "PSWM_NO_COLOR")

	_ = v.BindEnv("connect-timeout", "PSWM_CONNECT_TIMEOUT")
	_ = v.BindEnv("dispatch-timeout", "PSWM_DISPATCH_TIMEOUT")
	_ = v.BindEnv("dispatch-queue-size", "PSWM_DISPATCH_QUEUE_SIZE")
	_ = v.BindEnv("dispatch-max-retries", "PSWM_DISPATCH_MAX_RETRIES")
	_ = v.BindEnv("max-write-size", "PSWM_MAX_WRITE_SIZE")

	_ = v.BindEnv("include-namespaces", "PSWM_INCLUDE_NAMESPACES")
	_ = v.BindEnv("exclude-namespaces", "PSWM_EXCLUDE_NAMESPACES")
}

// targetDefaultsHook enables a target whose "enabled" key is absent.
func targetDefaultsHook(_, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeFor[Target]() {
		return data, nil
	}

	m, ok := data.(map[string]any)
	if !ok {
		return data, nil
	}

	for key := range m {
		if strings.EqualFold(key, "enabled") {
			return data, nil
		}
	}

	rv := maps.Clone(m)
	rv["enabled"] = true

	return rv, nil
}
