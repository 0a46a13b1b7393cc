package util_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/percona/percona-shadowwrite-mongodb/util"
)

func TestCtxWithTimeout(t *testing.T) {
	t.Parallel()

	err := util.CtxWithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()

		return ctx.Err()
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	//nolint:staticcheck
	err = util.CtxWithTimeout(nil, time.Second, func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		assert.True(t, ok)

		return nil
	})
	require.NoError(t, err)
}

type ctxKey struct{}

func TestDetached(t *testing.T) {
	t.Parallel()

	parent, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "v"))
	cancel()

	ctx := util.Detached(parent)
	require.NoError(t, ctx.Err())
	assert.Equal(t, "v", ctx.Value(ctxKey{}))
}
