package topo

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/percona/percona-shadowwrite-mongodb/errors"
)

// ServerVersion returns the server version reported by buildInfo.
func ServerVersion(ctx context.Context, m *mongo.Client) (string, error) {
	var res struct {
		Version string `bson:"version"`
	}

	err := m.Database("admin").RunCommand(ctx, bson.D{{Key: "buildInfo", Value: 1}}).Decode(&res)
	if err != nil {
		return "", errors.Wrap(err, "buildInfo")
	}

	return res.Version, nil
}
