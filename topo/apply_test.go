//go:build integration

package topo_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/percona/percona-shadowwrite-mongodb/capture"
	"github.com/percona/percona-shadowwrite-mongodb/topo"
)

const testDB = "pswm_test_apply"

//nolint:gochecknoglobals
var mongoURI string

func TestMain(m *testing.M) {
	ctx := context.Background()

	mongoVersion := os.Getenv("MONGO_VERSION")
	if mongoVersion == "" {
		mongoVersion = "8.0"
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:" + mongoVersion,
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start mongod: %v\n", err)
		os.Exit(1)
	}

	endpoint, err := container.PortEndpoint(ctx, "27017/tcp", "mongodb")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get endpoint: %v\n", err)
		_ = container.Terminate(ctx)
		os.Exit(1)
	}

	mongoURI = endpoint + "/?directConnection=true"

	code := m.Run()

	_ = container.Terminate(ctx)

	os.Exit(code)
}

func connect(t *testing.T) *mongo.Client {
	t.Helper()

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()

	client, err := topo.Connect(ctx, mongoURI, topo.WithClientOptions(map[string]any{
		topo.OptServerSelectionTimeout: "5s",
	}))
	require.NoError(t, err, "MongoDB connection should succeed")

	t.Cleanup(func() {
		_ = client.Disconnect(context.Background())
	})

	return client
}

func docs(t *testing.T, coll *mongo.Collection) []bson.M {
	t.Helper()

	cur, err := coll.Find(t.Context(), bson.D{}, nil)
	require.NoError(t, err)

	var rv []bson.M
	require.NoError(t, cur.All(t.Context(), &rv))

	return rv
}

func TestServerVersion(t *testing.T) {
	t.Parallel()

	client := connect(t)

	ver, err := topo.ServerVersion(t.Context(), client)
	require.NoError(t, err)
	assert.NotEmpty(t, ver)
}

func TestApplyWrite_InsertIsIdempotent(t *testing.T) {
	t.Parallel()

	coll := connect(t).Database(testDB).Collection("insert_idempotent")
	_ = coll.Drop(t.Context())

	w := &capture.Write{
		Database:   testDB,
		Collection: coll.Name(),
		Kind:       capture.InsertMany,
		Args:       []any{bson.D{{"_id", 1}, {"v", "a"}}, bson.D{{"_id", 2}, {"v", "b"}}},
	}

	require.NoError(t, topo.ApplyWrite(t.Context(), coll, w))
	require.NoError(t, topo.ApplyWrite(t.Context(), coll, w))

	assert.Len(t, docs(t, coll), 2)
}

func TestApplyWrite_Sequence(t *testing.T) {
	t.Parallel()

	coll := connect(t).Database(testDB).Collection("sequence")
	_ = coll.Drop(t.Context())

	upsert := true
	writes := []*capture.Write{
		{Kind: capture.InsertOne, Args: []any{bson.D{{"_id", 1}, {"n", 1}}}},
		{Kind: capture.InsertOne, Args: []any{bson.D{{"_id", 2}, {"n", 2}}}},
		{Kind: capture.UpdateOne, Args: []any{bson.D{{"_id", 1}}, bson.D{{"$inc", bson.D{{"n", 10}}}}}},
		{Kind: capture.UpdateMany, Args: []any{bson.D{}, bson.D{{"$set", bson.D{{"seen", true}}}}}},
		{Kind: capture.ReplaceOne, Args: []any{bson.D{{"_id", 2}}, bson.D{{"n", 20}}}},
		{
			Kind:    capture.FindOneAndUpdate,
			Args:    []any{bson.D{{"_id", 3}}, bson.D{{"$set", bson.D{{"n", 3}}}}},
			Options: capture.WriteOptions{Upsert: &upsert},
		},
		{Kind: capture.FindOneAndDelete, Args: []any{bson.D{{"_id", 404}}}},
		{Kind: capture.DeleteOne, Args: []any{bson.D{{"_id", 2}}}},
	}

	for _, w := range writes {
		w.Database = testDB
		w.Collection = coll.Name()

		require.NoError(t, topo.ApplyWrite(t.Context(), coll, w), w.String())
	}

	var one bson.M
	require.NoError(t, coll.FindOne(t.Context(), bson.D{{"_id", 1}}).Decode(&one))
	assert.EqualValues(t, 11, one["n"])
	assert.Equal(t, true, one["seen"])

	n, err := coll.CountDocuments(t.Context(), bson.D{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n) // _id 1 and upserted _id 3
}

func TestApplyWrite_Invalid(t *testing.T) {
	t.Parallel()

	coll := connect(t).Database(testDB).Collection("invalid")

	err := topo.ApplyWrite(t.Context(), coll, &capture.Write{
		Database:   testDB,
		Collection: coll.Name(),
		Kind:       capture.UpdateOne,
		Args:       []any{bson.D{}},
	})
	assert.Error(t, err)
}
