package shadow

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/percona/percona-shadowwrite-mongodb/capture"
	"github.com/percona/percona-shadowwrite-mongodb/config"
	"github.com/percona/percona-shadowwrite-mongodb/errors"
	"github.com/percona/percona-shadowwrite-mongodb/log"
	"github.com/percona/percona-shadowwrite-mongodb/metrics"
	"github.com/percona/percona-shadowwrite-mongodb/sel"
	"github.com/percona/percona-shadowwrite-mongodb/util"
)

// State is the lifecycle state of a [Manager].
type State string

const (
	// StateUninitialized is the initial state. A failed Initialize keeps it.
	StateUninitialized State = "uninitialized"
	// StateActive means secondaries are connected and writes are replicated.
	StateActive State = "active"
	// StateTerminated is final. A terminated manager cannot be initialized again.
	StateTerminated State = "terminated"
)

// Options configures a [Manager]. Zero values use the defaults of the config package.
type Options struct {
	// Opener opens secondaries. Defaults to [MongoOpener].
	Opener Opener
	// ConnectTimeout bounds each connection attempt.
	ConnectTimeout time.Duration
	// DispatchTimeout bounds the replay of one write on one secondary, retries included.
	DispatchTimeout time.Duration
	// QueueSize is the number of writes buffered per secondary.
	QueueSize int
	// MaxRetries is the number of attempts for a transient replay failure.
	MaxRetries int
	// RetryInterval is the pause between attempts.
	RetryInterval time.Duration
	// MaxWriteSize skips larger writes. 0 means unlimited.
	MaxWriteSize int64

	IncludeNamespaces []string
	ExcludeNamespaces []string

	// Observer receives dispatch outcomes. Defaults to [NopObserver].
	Observer Observer
}

// OptionsFromConfig maps a validated configuration to manager options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ConnectTimeout:    cfg.ConnectTimeoutOrDefault(),
		DispatchTimeout:   cfg.DispatchTimeoutOrDefault(),
		QueueSize:         cfg.DispatchQueueSizeOrDefault(),
		MaxRetries:        cfg.DispatchMaxRetriesOrDefault(),
		RetryInterval:     config.DispatchRetryInterval,
		MaxWriteSize:      cfg.MaxWriteSizeBytes(),
		IncludeNamespaces: cfg.Filter.IncludeNamespaces,
		ExcludeNamespaces: cfg.Filter.ExcludeNamespaces,
	}
}

func (o *Options) setDefaults() {
	if o.Opener == nil {
		o.Opener = MongoOpener{}
	}

	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = config.DefaultConnectTimeout
	}

	if o.DispatchTimeout <= 0 {
		o.DispatchTimeout = config.DefaultDispatchTimeout
	}

	if o.QueueSize <= 0 {
		o.QueueSize = config.DefaultDispatchQueueSize
	}

	if o.MaxRetries <= 0 {
		o.MaxRetries = config.DefaultDispatchMaxRetries
	}

	if o.RetryInterval <= 0 {
		o.RetryInterval = config.DispatchRetryInterval
	}

	if o.Observer == nil {
		o.Observer = NopObserver{}
	}
}

// Manager connects secondaries and replicates the writes captured by a [capture.Tap] to them.
type Manager struct {
	tap    *capture.Tap
	opts   Options
	pool   *Pool
	filter sel.NSFilter

	// lifecycleMu serializes Initialize and Terminate.
	lifecycleMu sync.Mutex

	// mu guards the fields below.
	mu          sync.RWMutex
	state       State
	handles     []*Handle
	dispatchers []*dispatcher
	sub         *capture.Subscription
	errored     bool
	connErrors  []*ConnectionError
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	captured atomic.Int64
	skipped  atomic.Int64
	settled  atomic.Int64
}

// New creates an uninitialized manager bound to tap.
func New(tap *capture.Tap, opts Options) *Manager {
	if tap == nil {
		tap = capture.NewTap()
	}

	opts.setDefaults()

	return &Manager{
		tap:    tap,
		opts:   opts,
		pool:   NewPool(opts.Opener, opts.ConnectTimeout),
		filter: sel.MakeFilter(opts.IncludeNamespaces, opts.ExcludeNamespaces),
		state:  StateUninitialized,
	}
}

// Tap returns the tap the manager subscribes to.
func (m *Manager) Tap() *capture.Tap {
	return m.tap
}

// Initialize opens every enabled target concurrently. If any connection fails,
// the opened ones are closed, the manager stays uninitialized and a [*ConnectionFailure]
// listing every failure is returned. On success it subscribes to the tap.
func (m *Manager) Initialize(ctx context.Context, targets []config.Target) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if state := m.State(); state != StateUninitialized {
		return errors.Errorf("%w: %s", ErrAlreadyInitialized, state)
	}

	err := config.ValidateTargets(targets)
	if err != nil {
		return errors.Errorf("%w: %w", ErrInvalidArguments, err)
	}

	lg := log.New("shadow")
	startedAt := time.Now()

	handles, failures := m.pool.OpenAll(ctx, targets)
	if len(failures) != 0 {
		closeErr := m.pool.CloseAll(util.Detached(ctx), handles)
		if closeErr != nil {
			lg.Error(closeErr, "Close connections after failed initialization")
		}

		m.mu.Lock()
		m.errored = true
		m.connErrors = failures
		m.mu.Unlock()

		return &ConnectionFailure{Errors: failures}
	}

	dispatchCtx, cancel := context.WithCancel(util.Detached(ctx))

	dispatchers := make([]*dispatcher, len(handles))
	for i, h := range handles {
		dispatchers[i] = newDispatcher(h, &m.opts)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range dispatchers {
		m.wg.Add(1)

		go func() {
			defer m.wg.Done()

			d.run(dispatchCtx)
		}()
	}

	m.handles = handles
	m.dispatchers = dispatchers
	m.cancel = cancel
	m.errored = false
	m.connErrors = nil
	m.sub = m.tap.Subscribe(func(w *capture.Write) {
		m.fanOut(dispatchers, w)
	})
	m.state = StateActive

	metrics.SetSecondariesConnected(len(handles))

	lg.With(log.Elapsed(time.Since(startedAt))).
		Infof("Replicating to %d secondaries", len(handles))

	return nil
}

// Terminate stops replication: it unsubscribes, drains the queues and closes every secondary.
// Draining stops when ctx is done; the writes still queued are dropped and the ctx error is
// returned. Terminate is a no-op unless the manager is active.
func (m *Manager) Terminate(ctx context.Context) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	m.mu.RLock()
	state := m.state
	sub := m.sub
	handles := m.handles
	dispatchers := m.dispatchers
	cancel := m.cancel
	m.mu.RUnlock()

	if state != StateActive {
		return nil
	}

	lg := log.New("shadow")
	startedAt := time.Now()

	sub.Unsubscribe()

	for _, d := range dispatchers {
		d.close()
	}

	drained := make(chan struct{})

	go func() {
		m.wg.Wait()
		close(drained)
	}()

	var drainErr error

	select {
	case <-drained:
	case <-ctx.Done():
		drainErr = errors.Wrap(ctx.Err(), "drain")
		lg.Warn("Drain interrupted. Dropping queued writes")
		cancel()
		<-drained
	}

	cancel()

	err := m.pool.CloseAll(util.Detached(ctx), handles)
	if err != nil {
		lg.Error(err, "Close secondaries")
	}

	for _, h := range handles {
		metrics.DeleteSecondary(h.Name())
	}

	metrics.SetSecondariesConnected(0)

	m.mu.Lock()
	m.state = StateTerminated
	m.handles = nil
	m.dispatchers = nil
	m.sub = nil
	m.cancel = nil
	m.mu.Unlock()

	lg.With(log.Elapsed(time.Since(startedAt))).Info("Terminated")

	return drainErr
}

// fanOut queues w on every dispatcher without blocking.
func (m *Manager) fanOut(dispatchers []*dispatcher, w *capture.Write) {
	m.captured.Add(1)

	if !m.filter(w.Database, w.Collection) {
		m.skipped.Add(1)
		metrics.IncWritesSkipped("namespace")

		return
	}

	if limit := m.opts.MaxWriteSize; limit > 0 {
		if size := w.Size(); int64(size) > limit {
			m.skipped.Add(1)
			metrics.IncWritesSkipped("size")
			log.New("shadow").With(log.NS(w.Database, w.Collection)).
				Warnf("Skipped %s of %s (limit %s)",
					w.Kind, humanize.IBytes(uint64(size)), humanize.IBytes(uint64(limit)))

			return
		}
	}

	env := &envelope{write: w, settle: m.settle}
	env.pending.Store(int32(len(dispatchers))) //nolint:gosec

	for _, d := range dispatchers {
		if !d.enqueue(env) {
			log.New("shadow").With(log.NS(w.Database, w.Collection)).
				Warnf("Dropped %s for %s: queue is full", w.Kind, d.handle.Name())
			d.drop(env)
		}
	}
}

func (m *Manager) settle(w *capture.Write) {
	m.settled.Add(1)
	metrics.IncWritesSettled()

	defer func() {
		if r := recover(); r != nil {
			log.New("shadow").Errorf(errors.Errorf("%v", r), "Observer panicked")
		}
	}()

	m.opts.Observer.WriteSettled(w)
}

// Flush waits until every write captured before the call is done on every secondary.
// It returns immediately unless the manager is active.
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.RLock()
	state := m.state
	dispatchers := m.dispatchers
	m.mu.RUnlock()

	if state != StateActive {
		return nil
	}

	barriers := make([]chan struct{}, 0, len(dispatchers))

	for _, d := range dispatchers {
		barrier := make(chan struct{})

		queued, err := d.enqueueBarrier(ctx, barrier)
		if err != nil {
			return errors.Wrap(err, "flush")
		}

		if queued {
			barriers = append(barriers, barrier)
		}
	}

	for _, barrier := range barriers {
		select {
		case <-barrier:
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "flush")
		}
	}

	return nil
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.state
}

// Secondaries returns the open secondaries in target order.
func (m *Manager) Secondaries() []*Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]*Handle(nil), m.handles...)
}

// Reader returns the secondary to read from: the one flagged primary, else the first.
// It returns nil unless the manager is active.
func (m *Manager) Reader() *Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.state != StateActive || len(m.handles) == 0 {
		return nil
	}

	for _, h := range m.handles {
		if h.Target.Primary {
			return h
		}
	}

	return m.handles[0]
}

// Errored reports whether the last Initialize failed to connect.
func (m *Manager) Errored() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.errored
}

// ConnectionErrors returns the failures of the last Initialize.
func (m *Manager) ConnectionErrors() []*ConnectionError {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]*ConnectionError(nil), m.connErrors...)
}

// Subscription returns the tap subscription. It is nil unless the manager is active.
func (m *Manager) Subscription() *capture.Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.sub
}

// Status is a snapshot of the manager.
type Status struct {
	State            State            `json:"state"`
	Errored          bool             `json:"errored,omitempty"`
	ConnectionErrors []string         `json:"connectionErrors,omitempty"`
	Secondaries      []SecondaryStats `json:"secondaries,omitempty"`

	Captured int64 `json:"captured"`
	Skipped  int64 `json:"skipped"`
	Settled  int64 `json:"settled"`
}

// Status returns a snapshot of the manager.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Status{
		State:    m.state,
		Errored:  m.errored,
		Captured: m.captured.Load(),
		Skipped:  m.skipped.Load(),
		Settled:  m.settled.Load(),
	}

	for _, ce := range m.connErrors {
		s.ConnectionErrors = append(s.ConnectionErrors, ce.Error())
	}

	for _, d := range m.dispatchers {
		s.Secondaries = append(s.Secondaries, d.stats())
	}

	return s
}
