package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/percona/percona-shadowwrite-mongodb/config"
)

func newCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()

	cmd := &cobra.Command{Use: "pswm-test"}
	cmd.PersistentFlags().String("config", "", "")
	cmd.PersistentFlags().String("log-level", "info", "")
	cmd.Flags().String("primary", "", "")
	cmd.Flags().StringSlice("secondaries", nil, "")
	cmd.Flags().Duration("connect-timeout", config.DefaultConnectTimeout, "")
	cmd.Flags().String("max-write-size", "", "")
	cmd.Flags().StringSlice("exclude-namespaces", nil, "")

	require.NoError(t, cmd.ParseFlags(args))

	return cmd
}

func optionValue(opts map[string]any, key string) any {
	for k, v := range opts {
		if strings.EqualFold(k, key) {
			return v
		}
	}

	return nil
}

func TestLoad_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load(newCommand(t))
	require.NoError(t, err)

	assert.Equal(t, config.DefaultServerPort, cfg.Port)
	assert.Equal(t, config.DefaultConnectTimeout, cfg.ConnectTimeout)
	assert.Equal(t, config.DefaultDispatchTimeout, cfg.Dispatch.Timeout)
	assert.Equal(t, config.DefaultDispatchQueueSize, cfg.Dispatch.QueueSize)
	assert.Equal(t, config.DefaultDispatchMaxRetries, cfg.Dispatch.MaxRetries)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.SecondaryTargets())
}

func TestLoad_Flags(t *testing.T) {
	t.Parallel()

	cmd := newCommand(t,
		"--primary", "mongodb://primary:27017",
		"--secondaries", "mongodb://s1:27017,mongodb://s2:27017",
		"--connect-timeout", "3s",
		"--max-write-size", "16MiB",
		"--exclude-namespaces", "admin.*,app.sessions",
	)

	cfg, err := config.Load(cmd)
	require.NoError(t, err)

	assert.Equal(t, "mongodb://primary:27017", cfg.Primary)
	assert.Equal(t, 3*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, int64(16*humanize.MiByte), cfg.MaxWriteSizeBytes())
	assert.Equal(t, []string{"admin.*", "app.sessions"}, cfg.Filter.ExcludeNamespaces)

	targets := cfg.SecondaryTargets()
	require.Len(t, targets, 2)
	assert.Equal(t, config.Target{URI: "mongodb://s1:27017", Enabled: true}, targets[0])
	assert.Equal(t, config.Target{URI: "mongodb://s2:27017", Enabled: true}, targets[1])

	require.NoError(t, config.Validate(cfg))
}

func TestLoad_ConfigFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "pswm.yaml")
	content := `
primary: mongodb://primary:27017
dispatch-queue-size: 128
targets:
  - uri: mongodb://s1:27017/shadow
    primary: true
    options:
      appName: shadow-1
      maxPoolSize: 10
  - uri: mongodb://s2:27017
    enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := config.Load(newCommand(t, "--config", path, "--secondaries", "mongodb://s3:27017"))
	require.NoError(t, err)

	assert.Equal(t, 128, cfg.Dispatch.QueueSize)

	targets := cfg.SecondaryTargets()
	require.Len(t, targets, 3)

	assert.Equal(t, "mongodb://s1:27017/shadow", targets[0].URI)
	assert.True(t, targets[0].Enabled, "enabled defaults to true")
	assert.True(t, targets[0].Primary)
	assert.Equal(t, "shadow-1", optionValue(targets[0].Options, "appName"))
	assert.EqualValues(t, 10, optionValue(targets[0].Options, "maxPoolSize"))

	assert.False(t, targets[1].Enabled)
	assert.Equal(t, "mongodb://s3:27017", targets[2].URI)

	require.NoError(t, config.Validate(cfg))
}

func TestLoad_MissingConfigFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load(newCommand(t, "--config", filepath.Join(t.TempDir(), "missing.yaml")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestParseMaxWriteSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value   string
		want    int64
		wantErr string
	}{
		{value: "", want: 0},
		{value: "0", want: 0},
		{value: "16MiB", want: 16 * humanize.MiByte},
		{value: "100MB", want: 100 * humanize.MByte},
		{value: "1GiB", want: humanize.GiByte},
		{value: "2GiB", wantErr: "max-write-size must be at most"},
		{value: "abc", wantErr: "invalid max-write-size value"},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Parallel()

			got, err := config.ParseMaxWriteSize(tt.value)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfig_OrDefault(t *testing.T) {
	t.Parallel()

	var cfg config.Config

	assert.Equal(t, config.DefaultConnectTimeout, cfg.ConnectTimeoutOrDefault())
	assert.Equal(t, config.DefaultDispatchTimeout, cfg.DispatchTimeoutOrDefault())
	assert.Equal(t, config.DefaultDispatchQueueSize, cfg.DispatchQueueSizeOrDefault())
	assert.Equal(t, config.DefaultDispatchMaxRetries, cfg.DispatchMaxRetriesOrDefault())

	cfg.ConnectTimeout = time.Second
	cfg.Dispatch.QueueSize = 8
	assert.Equal(t, time.Second, cfg.ConnectTimeoutOrDefault())
	assert.Equal(t, 8, cfg.DispatchQueueSizeOrDefault())
}
