package metrics //nolint:testpackage

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	require.NotPanics(t, func() { Init(reg) })

	IncWritesSettled()

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}

	assert.Contains(t, names, metricNamespace+"_writes_settled_total")
}

func TestObserveDispatch(t *testing.T) { //nolint:paralleltest
	const secondary = "metrics-test:27017"

	ObserveDispatch(secondary, 10*time.Millisecond, nil)
	ObserveDispatch(secondary, 20*time.Millisecond, errors.New("boom"))
	ObserveDispatch(secondary, 30*time.Millisecond, nil)

	assert.InDelta(t, 2, testutil.ToFloat64(dispatchTotal.WithLabelValues(secondary, "ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(dispatchTotal.WithLabelValues(secondary, "error")), 0)

	IncWritesDropped(secondary)
	SetDispatchQueueSize(secondary, 7)
	assert.InDelta(t, 7, testutil.ToFloat64(dispatchQueueSize.WithLabelValues(secondary)), 0)

	DeleteSecondary(secondary)
	assert.Equal(t, 0, testutil.CollectAndCount(dispatchQueueSize, metricNamespace+"_dispatch_queue_size"))
	assert.Equal(t, 0, testutil.CollectAndCount(dispatchTotal, metricNamespace+"_dispatch_total"))
}
