package shadow

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/percona/percona-shadowwrite-mongodb/capture"
	"github.com/percona/percona-shadowwrite-mongodb/config"
	"github.com/percona/percona-shadowwrite-mongodb/errors"
)

// appliedWrite is a write recorded by a fake collection.
type appliedWrite struct {
	db    string
	coll  string
	write *capture.Write
}

// fakeConn records applied writes in memory.
type fakeConn struct {
	uri string

	mu      sync.Mutex
	applied []appliedWrite

	// applyErr fails every write.
	applyErr error
	// refusals fail the next writes, one per call, without applying them.
	refusals []error
	// lostReplies apply the next writes, one per call, and then fail them.
	lostReplies []error
	// gate, when set, blocks Apply until it is closed or ctx is done.
	gate chan struct{}
	// started receives a value when Apply is entered.
	started chan struct{}

	// closeErr fails Close after marking the connection closed.
	closeErr error
	closed   atomic.Bool
}

func (c *fakeConn) Collection(db, coll string) Collection {
	return &fakeCollection{conn: c, db: db, coll: coll}
}

func (c *fakeConn) Close(context.Context) error {
	c.closed.Store(true)

	return c.closeErr
}

func (c *fakeConn) writes() []appliedWrite {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]appliedWrite(nil), c.applied...)
}

type fakeCollection struct {
	conn *fakeConn
	db   string
	coll string
}

func (c *fakeCollection) Apply(ctx context.Context, w *capture.Write) error {
	if c.conn.started != nil {
		select {
		case c.conn.started <- struct{}{}:
		default:
		}
	}

	if c.conn.gate != nil {
		select {
		case <-c.conn.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if c.conn.applyErr != nil {
		return c.conn.applyErr
	}

	c.conn.mu.Lock()
	defer c.conn.mu.Unlock()

	if len(c.conn.refusals) != 0 {
		err := c.conn.refusals[0]
		c.conn.refusals = c.conn.refusals[1:]

		return err
	}

	c.conn.applied = append(c.conn.applied, appliedWrite{db: c.db, coll: c.coll, write: w})

	if len(c.conn.lostReplies) != 0 {
		err := c.conn.lostReplies[0]
		c.conn.lostReplies = c.conn.lostReplies[1:]

		return err
	}

	return nil
}

// fakeOpener opens fake connections keyed by URI.
type fakeOpener struct {
	mu    sync.Mutex
	conns map[string]*fakeConn
	// fail makes Open return the error for the URI.
	fail map[string]error
	// hang makes Open ignore ctx and return after the duration.
	hang map[string]time.Duration
	// setup customizes a connection before it is returned.
	setup func(*fakeConn)

	opened atomic.Int32
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{
		conns: make(map[string]*fakeConn),
		fail:  make(map[string]error),
		hang:  make(map[string]time.Duration),
	}
}

func (o *fakeOpener) Open(ctx context.Context, t config.Target) (Conn, error) {
	o.opened.Add(1)

	o.mu.Lock()
	failErr := o.fail[t.URI]
	hang := o.hang[t.URI]
	o.mu.Unlock()

	if hang > 0 {
		time.Sleep(hang)
	} else if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if failErr != nil {
		return nil, failErr
	}

	conn := &fakeConn{uri: t.URI}
	if o.setup != nil {
		o.setup(conn)
	}

	o.mu.Lock()
	o.conns[t.URI] = conn
	o.mu.Unlock()

	return conn, nil
}

func (o *fakeOpener) conn(uri string) *fakeConn {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.conns[uri]
}

// recordingObserver collects dispatch outcomes.
type recordingObserver struct {
	mu       sync.Mutex
	done     []error
	dropped  []string
	settled  []*capture.Write
	failures []*DispatchFailure
}

func (r *recordingObserver) DispatchDone(_ *Handle, _ *capture.Write, err error, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.done = append(r.done, err)

	if f, ok := errors.AsType[*DispatchFailure](err); ok {
		r.failures = append(r.failures, f)
	}
}

func (r *recordingObserver) WriteDropped(h *Handle, _ *capture.Write) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.dropped = append(r.dropped, h.Name())
}

func (r *recordingObserver) WriteSettled(w *capture.Write) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.settled = append(r.settled, w)
}

func (r *recordingObserver) counts() (int, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.done), len(r.dropped), len(r.settled)
}

func target(uri string) config.Target {
	return config.Target{URI: uri, Enabled: true}
}

func insertWrite(db, coll string, id int) *capture.Write {
	return &capture.Write{
		Database:   db,
		Collection: coll,
		Kind:       capture.InsertOne,
		Args:       []any{bson.D{{Key: "_id", Value: id}}},
	}
}
