package shadow

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/percona/percona-shadowwrite-mongodb/capture"
	"github.com/percona/percona-shadowwrite-mongodb/errors"
	"github.com/percona/percona-shadowwrite-mongodb/log"
	"github.com/percona/percona-shadowwrite-mongodb/metrics"
	"github.com/percona/percona-shadowwrite-mongodb/topo"
	"github.com/percona/percona-shadowwrite-mongodb/util"
)

// envelope is a write shared by all dispatchers of one fan-out.
type envelope struct {
	write   *capture.Write
	pending atomic.Int32
	settle  func(*capture.Write)
}

// done marks the write as finished for one secondary. The last call settles it.
func (e *envelope) done() {
	if e.pending.Add(-1) == 0 {
		e.settle(e.write)
	}
}

// job is either a write or a flush barrier.
type job struct {
	env     *envelope
	barrier chan struct{}
}

// dispatcher replays writes on one secondary in the order they were captured.
type dispatcher struct {
	handle *Handle
	queue  chan *job

	timeout       time.Duration
	maxRetries    int
	retryInterval time.Duration
	observer      Observer

	mu     sync.RWMutex
	closed bool

	applied atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

func newDispatcher(h *Handle, opts *Options) *dispatcher {
	return &dispatcher{
		handle:        h,
		queue:         make(chan *job, opts.QueueSize),
		timeout:       opts.DispatchTimeout,
		maxRetries:    opts.MaxRetries,
		retryInterval: opts.RetryInterval,
		observer:      opts.Observer,
	}
}

// enqueue queues env without blocking. It returns false if the queue is full or closed.
func (d *dispatcher) enqueue(env *envelope) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return false
	}

	select {
	case d.queue <- &job{env: env}:
		metrics.SetDispatchQueueSize(d.handle.Name(), len(d.queue))

		return true
	default:
		return false
	}
}

// enqueueBarrier queues a barrier that is closed once every write queued before it is done.
// It returns false if the queue is closed.
func (d *dispatcher) enqueueBarrier(ctx context.Context, barrier chan struct{}) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return false, nil
	}

	select {
	case d.queue <- &job{barrier: barrier}:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// close stops accepting jobs. run returns once the queue is drained.
func (d *dispatcher) close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.closed {
		d.closed = true
		close(d.queue)
	}
}

// drop reports a write that was not queued.
func (d *dispatcher) drop(env *envelope) {
	d.dropped.Add(1)
	metrics.IncWritesDropped(d.handle.Name())
	d.notify(func() { d.observer.WriteDropped(d.handle, env.write) })
	env.done()
}

// run applies queued writes until the queue is closed. Once ctx is canceled
// the remaining writes are dropped.
func (d *dispatcher) run(ctx context.Context) {
	lg := log.New("shadow:dispatch").With(log.String("secondary", d.handle.Name()))
	lg.Debug("Dispatcher started")

	for j := range d.queue {
		metrics.SetDispatchQueueSize(d.handle.Name(), len(d.queue))

		if j.barrier != nil {
			close(j.barrier)

			continue
		}

		if ctx.Err() != nil {
			d.drop(j.env)

			continue
		}

		d.dispatch(ctx, lg, j.env)
	}

	lg.Debug("Dispatcher stopped")
}

func (d *dispatcher) dispatch(ctx context.Context, lg log.Logger, env *envelope) {
	w := env.write
	startedAt := time.Now()

	err := d.apply(ctx, w)
	elapsed := time.Since(startedAt)

	if err != nil {
		d.failed.Add(1)
		err = &DispatchFailure{Secondary: d.handle.Name(), Write: w, Cause: err}
		lg.With(log.NS(w.Database, w.Collection), log.Elapsed(elapsed)).
			Error(err, "Dispatch failed")
	} else {
		d.applied.Add(1)
		lg.With(log.NS(w.Database, w.Collection), log.Elapsed(elapsed)).
			Tracef("Applied %s", w.Kind)
	}

	metrics.ObserveDispatch(d.handle.Name(), elapsed, err)
	d.notify(func() { d.observer.DispatchDone(d.handle, w, err, elapsed) })
	env.done()
}

func (d *dispatcher) apply(ctx context.Context, w *capture.Write) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()

	coll := d.handle.conn.Collection(d.handle.database(w), w.Collection)

	// a lost reply may hide an applied write, so only repeatable writes retry on it
	retryable := topo.IsTransient
	if !w.Idempotent() {
		retryable = topo.IsNotApplied
	}

	return util.CtxWithTimeout(ctx, d.timeout, func(ctx context.Context) error {
		return topo.RunWithRetryIf(ctx, func(ctx context.Context) error {
			return coll.Apply(ctx, w)
		}, retryable, d.retryInterval, d.maxRetries)
	})
}

// notify calls the observer. A panic in the observer is logged and ignored.
func (d *dispatcher) notify(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.New("shadow:dispatch").Errorf(errors.Errorf("%v", r), "Observer panicked")
		}
	}()

	fn()
}

// SecondaryStats are the dispatch counters of one secondary.
type SecondaryStats struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Primary   bool   `json:"primary,omitempty"`
	Applied   int64  `json:"applied"`
	Failed    int64  `json:"failed"`
	Dropped   int64  `json:"dropped"`
	QueueSize int    `json:"queueSize"`
}

func (d *dispatcher) stats() SecondaryStats {
	return SecondaryStats{
		ID:        d.handle.ID,
		Name:      d.handle.Name(),
		Primary:   d.handle.Target.Primary,
		Applied:   d.applied.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
		QueueSize: len(d.queue),
	}
}
