package validate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/percona/percona-shadowwrite-mongodb/validate"
)

type sample struct {
	URI     string         `mapstructure:"uri" validate:"required,mongouri"`
	Options map[string]any `mapstructure:"options" validate:"omitempty,clientoptions"`
	Size    string         `mapstructure:"size" validate:"omitempty,bytesize,bytesizemax=1GiB"`
}

func TestStruct(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		value   sample
		wantErr string
	}{
		{
			name:  "valid",
			value: sample{URI: "mongodb://localhost:27017", Size: "16MiB"},
		},
		{
			name:  "replica set with credentials",
			value: sample{URI: "mongodb://u:p@a:27017,b:27017/db?replicaSet=rs0&authSource=admin"},
		},
		{
			name:    "missing uri",
			value:   sample{},
			wantErr: "uri: is required",
		},
		{
			name:    "wrong scheme",
			value:   sample{URI: "postgres://localhost"},
			wantErr: "uri: must be a valid MongoDB connection string",
		},
		{
			name:  "supported options",
			value: sample{URI: "mongodb://a", Options: map[string]any{"maxPoolSize": 4, "appname": "x"}},
		},
		{
			name:    "unsupported option",
			value:   sample{URI: "mongodb://a", Options: map[string]any{"tlsInsecure": true}},
			wantErr: "options: contains unsupported client options",
		},
		{
			name:  "redirect database",
			value: sample{URI: "mongodb://a", Options: map[string]any{"database": "shadow"}},
		},
		{
			name:    "redirect into admin",
			value:   sample{URI: "mongodb://a", Options: map[string]any{"database": "admin"}},
			wantErr: "options: contains unsupported client options or an invalid database",
		},
		{
			name:  "zero size",
			value: sample{URI: "mongodb://a", Size: "0"},
		},
		{
			name:    "invalid size",
			value:   sample{URI: "mongodb://a", Size: "big"},
			wantErr: "size: must be a valid byte size",
		},
		{
			name:    "size above limit",
			value:   sample{URI: "mongodb://a", Size: "2GiB"},
			wantErr: "size: must be at most 1GiB",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := validate.Struct(tt.value)
			if tt.wantErr == "" {
				require.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidationErrors(t *testing.T) {
	t.Parallel()

	err := validate.Struct(sample{URI: "", Size: "big"})
	require.Error(t, err)

	var errs validate.ValidationErrors
	require.ErrorAs(t, err, &errs)
	require.Len(t, errs, 2)
	assert.Equal(t, "uri", errs[0].Field)
	assert.Equal(t, "size", errs[1].Field)
	assert.Equal(t, "uri: is required; size: must be a valid byte size (e.g., '100MB', '1GiB')", err.Error())
}

type wrapper struct {
	Inner sample `mapstructure:"inner"`
}

func TestNestedFieldPath(t *testing.T) {
	t.Parallel()

	err := validate.Struct(wrapper{Inner: sample{URI: "mongodb://a", Size: "big"}})
	require.Error(t, err)

	var errs validate.ValidationErrors
	require.ErrorAs(t, err, &errs)
	assert.Equal(t, []string{"inner.size"}, errs.Fields())
}
