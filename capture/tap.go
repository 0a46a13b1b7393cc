package capture

import (
	"context"
	"slices"
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/event"

	"github.com/percona/percona-shadowwrite-mongodb/errors"
	"github.com/percona/percona-shadowwrite-mongodb/log"
	"github.com/percona/percona-shadowwrite-mongodb/metrics"
)

// Handler receives captured writes. It is called synchronously on the primary write path
// and must not block.
type Handler func(w *Write)

// Subscription is the registration of a [Handler] on a [Tap].
type Subscription struct {
	tap     *Tap
	handler Handler
	once    sync.Once
}

// Unsubscribe detaches the handler. No write is delivered to it once Unsubscribe returns.
// It is idempotent and a no-op if the subscription was replaced.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.tap.unsubscribe(s)
	})
}

// Active reports whether the subscription still receives writes.
func (s *Subscription) Active() bool {
	s.tap.lock.RLock()
	defer s.tap.lock.RUnlock()

	return s.tap.sub == s
}

type requestKey struct {
	connID    string
	requestID int64
}

type pendingCommand struct {
	db   string
	name string
	cmd  bson.Raw
}

// Tap observes the command stream of a primary client and delivers write operations
// to at most one subscriber.
type Tap struct {
	lock sync.RWMutex
	sub  *Subscription

	pendingLock sync.Mutex
	pending     map[requestKey]pendingCommand
}

// NewTap creates a Tap without subscriber.
func NewTap() *Tap {
	return &Tap{
		pending: make(map[requestKey]pendingCommand),
	}
}

// Monitor returns a command monitor to install on the primary client.
func (t *Tap) Monitor() *event.CommandMonitor {
	return t.Wrap(nil)
}

// Wrap returns a command monitor that feeds the tap and then calls next.
func (t *Tap) Wrap(next *event.CommandMonitor) *event.CommandMonitor {
	return &event.CommandMonitor{
		Started: func(ctx context.Context, evt *event.CommandStartedEvent) {
			t.started(evt)

			if next != nil && next.Started != nil {
				next.Started(ctx, evt)
			}
		},
		Succeeded: func(ctx context.Context, evt *event.CommandSucceededEvent) {
			t.succeeded(evt)

			if next != nil && next.Succeeded != nil {
				next.Succeeded(ctx, evt)
			}
		},
		Failed: func(ctx context.Context, evt *event.CommandFailedEvent) {
			t.failed(evt)

			if next != nil && next.Failed != nil {
				next.Failed(ctx, evt)
			}
		},
	}
}

// Subscribe registers h as the only handler. A previous subscription is replaced
// and its Unsubscribe becomes a no-op.
func (t *Tap) Subscribe(h Handler) *Subscription {
	s := &Subscription{tap: t, handler: h}

	t.lock.Lock()
	replaced := t.sub != nil
	t.sub = s
	t.lock.Unlock()

	if replaced {
		log.New("capture").Warn("Write subscriber replaced")
	}

	return s
}

func (t *Tap) unsubscribe(s *Subscription) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.sub != s {
		return
	}

	t.sub = nil

	t.pendingLock.Lock()
	clear(t.pending)
	t.pendingLock.Unlock()
}

// Publish delivers writes issued outside the driver command path.
// Invalid writes are logged and skipped.
func (t *Tap) Publish(writes ...*Write) {
	valid := writes[:0:0]

	for _, w := range writes {
		err := w.Validate()
		if err != nil {
			log.New("capture").Error(err, "Publish: invalid write")

			continue
		}

		valid = append(valid, w)
	}

	t.deliver(valid)
}

func (t *Tap) hasSubscriber() bool {
	t.lock.RLock()
	defer t.lock.RUnlock()

	return t.sub != nil
}

func (t *Tap) started(evt *event.CommandStartedEvent) {
	if !IsWriteCommand(evt.CommandName) || !t.hasSubscriber() {
		return
	}

	// the driver may reuse the command buffer after the callback returns
	cmd := bson.Raw(slices.Clone(evt.Command))

	t.pendingLock.Lock()
	t.pending[requestKey{evt.ConnectionID, evt.RequestID}] = pendingCommand{
		db:   evt.DatabaseName,
		name: evt.CommandName,
		cmd:  cmd,
	}
	t.pendingLock.Unlock()
}

func (t *Tap) succeeded(evt *event.CommandSucceededEvent) {
	if !IsWriteCommand(evt.CommandName) {
		return
	}

	pc, ok := t.take(evt.ConnectionID, evt.RequestID)
	if !ok {
		return
	}

	writes, err := Decode(pc.db, pc.name, pc.cmd, evt.Reply)
	if err != nil {
		log.New("capture").With(log.String("cmd", pc.name)).Error(err, "Decode write command")

		return
	}

	t.deliver(writes)
}

func (t *Tap) failed(evt *event.CommandFailedEvent) {
	if !IsWriteCommand(evt.CommandName) {
		return
	}

	t.take(evt.ConnectionID, evt.RequestID)
}

func (t *Tap) take(connID string, requestID int64) (pendingCommand, bool) {
	key := requestKey{connID, requestID}

	t.pendingLock.Lock()
	defer t.pendingLock.Unlock()

	pc, ok := t.pending[key]
	if ok {
		delete(t.pending, key)
	}

	return pc, ok
}

// deliver calls the subscriber while holding the read lock so that Unsubscribe
// waits for in-progress deliveries.
func (t *Tap) deliver(writes []*Write) {
	if len(writes) == 0 {
		return
	}

	t.lock.RLock()
	defer t.lock.RUnlock()

	if t.sub == nil {
		return
	}

	for _, w := range writes {
		metrics.IncWritesCaptured(string(w.Kind))
		t.safeCall(t.sub.handler, w)
	}
}

func (t *Tap) safeCall(h Handler, w *Write) {
	defer func() {
		if r := recover(); r != nil {
			log.New("capture").Error(errors.Errorf("panic: %v", r), "Write handler: "+w.String())
		}
	}()

	h(w)
}
