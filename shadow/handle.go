package shadow

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/percona/percona-shadowwrite-mongodb/capture"
	"github.com/percona/percona-shadowwrite-mongodb/config"
	"github.com/percona/percona-shadowwrite-mongodb/topo"
)

// Handle is an open connection to one target.
type Handle struct {
	// ID is unique per opened connection.
	ID     string
	Target config.Target

	name string
	// redirect is the database all writes are replayed into. Empty keeps the write's database.
	redirect string
	conn     Conn

	closeOnce sync.Once
	closeErr  error
}

// newHandle wraps an open connection. Targets are validated before they are opened,
// so an invalid redirect database is ignored here.
func newHandle(t config.Target, conn Conn) *Handle {
	redirect, _ := topo.TargetDatabase(t.Options)

	return &Handle{
		ID:       uuid.NewString(),
		Target:   t,
		name:     topo.Redact(t.URI),
		redirect: redirect,
		conn:     conn,
	}
}

// Name is the connection string with the password hidden.
func (h *Handle) Name() string {
	return h.name
}

// Conn returns the underlying connection.
func (h *Handle) Conn() Conn {
	return h.conn
}

// database returns the database a write is replayed into. Only the database
// target option redirects writes.
func (h *Handle) database(w *capture.Write) string {
	if h.redirect != "" {
		return h.redirect
	}

	return w.Database
}

// Close disconnects. Only the first call does the work.
func (h *Handle) Close(ctx context.Context) error {
	h.closeOnce.Do(func() {
		h.closeErr = h.conn.Close(ctx)
	})

	return h.closeErr
}
