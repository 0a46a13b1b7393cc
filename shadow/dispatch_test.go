package shadow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/percona/percona-shadowwrite-mongodb/capture"
	"github.com/percona/percona-shadowwrite-mongodb/config"
)

func incWrite(db, coll string, id int) *capture.Write {
	return &capture.Write{
		Database:   db,
		Collection: coll,
		Kind:       capture.UpdateOne,
		Args:       []any{bson.D{{Key: "_id", Value: id}}, bson.D{{Key: "$inc", Value: bson.D{{Key: "n", Value: 1}}}}},
	}
}

func TestDispatcher_Retry(t *testing.T) {
	t.Parallel()

	lostReply := mongo.CommandError{Message: "connection reset", Labels: []string{"NetworkError"}}
	notPrimary := mongo.CommandError{Code: 10107, Message: "not primary"}

	tests := []struct {
		name        string
		write       *capture.Write
		refusals    []error
		lostReplies []error
		wantApplied int
		wantFailed  int64
	}{
		{
			name:        "update is not repeated after a lost reply",
			write:       incWrite("app", "counters", 1),
			lostReplies: []error{lostReply},
			wantApplied: 1,
			wantFailed:  1,
		},
		{
			name:        "insert with _id is repeated after a lost reply",
			write:       insertWrite("app", "users", 1),
			lostReplies: []error{lostReply},
			wantApplied: 2,
		},
		{
			name:        "update is repeated when it was refused",
			write:       incWrite("app", "counters", 1),
			refusals:    []error{notPrimary, notPrimary},
			wantApplied: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			opener := newFakeOpener()
			opener.setup = func(c *fakeConn) {
				c.refusals = tt.refusals
				c.lostReplies = tt.lostReplies
			}

			m, obs := newTestManager(t, opener, func(o *Options) {
				o.MaxRetries = 3
			})
			require.NoError(t, m.Initialize(context.Background(), []config.Target{target(uriA)}))

			m.Tap().Publish(tt.write)
			require.NoError(t, m.Flush(context.Background()))

			assert.Len(t, opener.conn(uriA).writes(), tt.wantApplied)

			status := m.Status()
			require.Len(t, status.Secondaries, 1)
			assert.Equal(t, tt.wantFailed, status.Secondaries[0].Failed)

			done, dropped, settled := obs.counts()
			assert.Equal(t, 1, done)
			assert.Zero(t, dropped)
			assert.Equal(t, 1, settled)
		})
	}
}
