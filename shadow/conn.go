package shadow

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/percona/percona-shadowwrite-mongodb/capture"
	"github.com/percona/percona-shadowwrite-mongodb/config"
	"github.com/percona/percona-shadowwrite-mongodb/topo"
)

// Conn is an open connection to a secondary.
type Conn interface {
	// Collection resolves a collection handle.
	Collection(db, coll string) Collection
	// Close disconnects.
	Close(ctx context.Context) error
}

// Collection replays captured writes.
type Collection interface {
	Apply(ctx context.Context, w *capture.Write) error
}

// Opener opens connections to targets. Implementations must honor ctx cancellation.
type Opener interface {
	Open(ctx context.Context, t config.Target) (Conn, error)
}

// OpenerFunc adapts a function to [Opener].
type OpenerFunc func(ctx context.Context, t config.Target) (Conn, error)

func (f OpenerFunc) Open(ctx context.Context, t config.Target) (Conn, error) {
	return f(ctx, t)
}

// MongoOpener opens connections with the MongoDB driver.
type MongoOpener struct{}

func (MongoOpener) Open(ctx context.Context, t config.Target) (Conn, error) {
	client, err := topo.Connect(ctx, t.URI, topo.WithClientOptions(t.Options))
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	return &mongoConn{client: client}, nil
}

type mongoConn struct {
	client *mongo.Client
}

func (c *mongoConn) Collection(db, coll string) Collection {
	return mongoCollection{c.client.Database(db).Collection(coll)}
}

func (c *mongoConn) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx) //nolint:wrapcheck
}

type mongoCollection struct {
	coll *mongo.Collection
}

func (c mongoCollection) Apply(ctx context.Context, w *capture.Write) error {
	return topo.ApplyWrite(ctx, c.coll, w)
}
