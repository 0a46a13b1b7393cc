package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/percona/percona-shadowwrite-mongodb/config"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() *config.Config {
		return &config.Config{
			Port:        8080,
			Primary:     "mongodb://primary:27017",
			Secondaries: []string{"mongodb://shadow:27017"},
		}
	}

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr string
	}{
		{
			name:   "valid config",
			modify: func(*config.Config) {},
		},
		{
			name:   "port zero uses default",
			modify: func(c *config.Config) { c.Port = 0 },
		},
		{
			name:   "port at upper bound",
			modify: func(c *config.Config) { c.Port = 65535 },
		},
		{
			name:    "port below range",
			modify:  func(c *config.Config) { c.Port = 1024 },
			wantErr: "port value is outside the supported range",
		},
		{
			name:    "port above range",
			modify:  func(c *config.Config) { c.Port = 65536 },
			wantErr: "port value is outside the supported range",
		},
		{
			name:   "primary is optional",
			modify: func(c *config.Config) { c.Primary = "" },
		},
		{
			name:    "no secondaries",
			modify:  func(c *config.Config) { c.Secondaries = nil },
			wantErr: "no secondary targets",
		},
		{
			name: "all targets disabled",
			modify: func(c *config.Config) {
				c.Secondaries = nil
				c.Targets = []config.Target{{URI: "mongodb://s1:27017"}}
			},
			wantErr: "no enabled target",
		},
		{
			name:    "invalid secondary URI",
			modify:  func(c *config.Config) { c.Secondaries = []string{"http://shadow"} },
			wantErr: "must be a valid MongoDB connection string",
		},
		{
			name:    "invalid primary URI",
			modify:  func(c *config.Config) { c.Primary = "primary:27017" },
			wantErr: "primary",
		},
		{
			name:    "primary equals secondary",
			modify:  func(c *config.Config) { c.Secondaries = []string{c.Primary} },
			wantErr: "primary URI and a secondary URI are identical",
		},
		{
			name: "unsupported client option",
			modify: func(c *config.Config) {
				c.Targets = []config.Target{{
					URI:     "mongodb://s1:27017",
					Enabled: true,
					Options: map[string]any{"tlsInsecure": true},
				}}
			},
			wantErr: "unsupported client options",
		},
		{
			name: "client option keys are case insensitive",
			modify: func(c *config.Config) {
				c.Targets = []config.Target{{
					URI:     "mongodb://s1:27017",
					Enabled: true,
					Options: map[string]any{"maxpoolsize": 5, "AppName": "x"},
				}}
			},
		},
		{
			name:    "negative queue size",
			modify:  func(c *config.Config) { c.Dispatch.QueueSize = -1 },
			wantErr: "dispatch-queue-size must be within",
		},
		{
			name:    "negative dispatch timeout",
			modify:  func(c *config.Config) { c.Dispatch.Timeout = -1 },
			wantErr: "dispatch-timeout must not be negative",
		},
		{
			name:    "invalid max write size",
			modify:  func(c *config.Config) { c.Dispatch.MaxWriteSize = "lots" },
			wantErr: "max-write-size: must be a valid byte size",
		},
		{
			name:    "max write size above limit",
			modify:  func(c *config.Config) { c.Dispatch.MaxWriteSize = "2GiB" },
			wantErr: "max-write-size: must be at most 1GiB",
		},
		{
			name:    "invalid namespace filter",
			modify:  func(c *config.Config) { c.Filter.IncludeNamespaces = []string{".coll"} },
			wantErr: "include-namespaces",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateTargets(t *testing.T) {
	t.Parallel()

	require.Error(t, config.ValidateTargets(nil))

	err := config.ValidateTargets([]config.Target{
		{URI: "mongodb://a:27017", Enabled: true},
		{URI: "", Enabled: false},
	})
	require.Error(t, err, "disabled targets are validated too")
	assert.Contains(t, err.Error(), "target #1")

	require.NoError(t, config.ValidateTargets([]config.Target{
		{URI: "mongodb://a:27017", Enabled: true},
		{URI: "mongodb://user:pass@b:27017,c:27017/db?replicaSet=rs0", Enabled: false},
	}))
}
