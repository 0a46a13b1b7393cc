package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const metricNamespace = "percona_shadowwrite_mongodb"

// Capture metrics.
var (
	//nolint:gochecknoglobals
	writesCapturedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "writes_captured_total",
		Help:      "Total number of writes captured on the primary.",
		Namespace: metricNamespace,
	}, []string{"kind"})

	//nolint:gochecknoglobals
	writesSkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "writes_skipped_total",
		Help:      "Total number of captured writes not replicated.",
		Namespace: metricNamespace,
	}, []string{"reason"})

	//nolint:gochecknoglobals
	writesSettledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name:      "writes_settled_total",
		Help:      "Total number of writes finished on every secondary.",
		Namespace: metricNamespace,
	})
)

// Dispatch metrics.
var (
	//nolint:gochecknoglobals
	writesDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "writes_dropped_total",
		Help:      "Total number of writes dropped because a secondary queue was full.",
		Namespace: metricNamespace,
	}, []string{"secondary"})

	//nolint:gochecknoglobals
	dispatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "dispatch_total",
		Help:      "Total number of writes dispatched to secondaries by result.",
		Namespace: metricNamespace,
	}, []string{"secondary", "result"})

	//nolint:gochecknoglobals
	dispatchDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:      "dispatch_duration_seconds",
		Help:      "Duration of a write replay on a secondary in seconds.",
		Namespace: metricNamespace,
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"secondary"})

	//nolint:gochecknoglobals
	dispatchQueueSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:      "dispatch_queue_size",
		Help:      "Number of writes waiting in a secondary queue.",
		Namespace: metricNamespace,
	}, []string{"secondary"})
)

// Connection metrics.
var (
	//nolint:gochecknoglobals
	secondariesConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name:      "secondaries_connected",
		Help:      "Number of open secondary connections.",
		Namespace: metricNamespace,
	})

	//nolint:gochecknoglobals
	connectionErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name:      "connection_errors_total",
		Help:      "Total number of failed secondary connection attempts.",
		Namespace: metricNamespace,
	})
)

// Init initializes and registers the metrics.
func Init(reg prometheus.Registerer) {
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{
		Namespace: metricNamespace,
	}))

	reg.MustRegister(
		writesCapturedTotal,
		writesSkippedTotal,
		writesSettledTotal,

		writesDroppedTotal,
		dispatchTotal,
		dispatchDurationSeconds,
		dispatchQueueSize,

		secondariesConnected,
		connectionErrorsTotal,
	)
}

// IncWritesCaptured increments the captured writes counter for the kind.
func IncWritesCaptured(kind string) {
	writesCapturedTotal.WithLabelValues(kind).Inc()
}

// IncWritesSkipped increments the counter of writes not replicated for the reason.
func IncWritesSkipped(reason string) {
	writesSkippedTotal.WithLabelValues(reason).Inc()
}

// IncWritesSettled increments the settled writes counter.
func IncWritesSettled() {
	writesSettledTotal.Inc()
}

// IncWritesDropped increments the dropped writes counter of a secondary.
func IncWritesDropped(secondary string) {
	writesDroppedTotal.WithLabelValues(secondary).Inc()
}

// ObserveDispatch records the result and duration of one write replay.
func ObserveDispatch(secondary string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}

	dispatchTotal.WithLabelValues(secondary, result).Inc()
	dispatchDurationSeconds.WithLabelValues(secondary).Observe(d.Seconds())
}

// SetDispatchQueueSize sets the current size of a secondary queue.
func SetDispatchQueueSize(secondary string, v int) {
	dispatchQueueSize.WithLabelValues(secondary).Set(float64(v))
}

// SetSecondariesConnected sets the open secondary connections gauge.
func SetSecondariesConnected(v int) {
	secondariesConnected.Set(float64(v))
}

// AddConnectionErrors increments the failed connection attempts counter.
func AddConnectionErrors(v int) {
	connectionErrorsTotal.Add(float64(v))
}

// DeleteSecondary removes the per-secondary series of a closed connection.
func DeleteSecondary(secondary string) {
	writesDroppedTotal.DeleteLabelValues(secondary)
	dispatchDurationSeconds.DeleteLabelValues(secondary)
	dispatchQueueSize.DeleteLabelValues(secondary)
	dispatchTotal.DeletePartialMatch(prometheus.Labels{"secondary": secondary})
}
