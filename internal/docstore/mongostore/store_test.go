package mongostore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"firehouse/internal/docstore"
	"firehouse/internal/ecode"
)

var posts = docstore.Join("swallow", "test", "posts")

func TestBuildFilterWithCursor(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	q := docstore.From(posts).Where("category", "cat").OrderBy("timestamp_create", docstore.Descending).
		StartAfter(&docstore.Snapshot{ID: "abc", Data: docstore.Data{"timestamp_create": at}})

	filter := buildFilter(q)
	conds := filter["$and"].(bson.A)
	require.Len(t, conds, 4)
	assert.Equal(t, bson.M{"collection": string(posts)}, conds[0])
	assert.Equal(t, bson.M{"data.category": "cat"}, conds[1])
	assert.Equal(t, bson.M{"data.timestamp_create": bson.M{"$exists": true}}, conds[2])
	assert.Equal(t, bson.M{"$or": bson.A{
		bson.M{"data.timestamp_create": bson.M{"$lt": at}},
		bson.M{"data.timestamp_create": at, "doc_id": bson.M{"$lt": "abc"}},
	}}, conds[3])
}

func TestBuildSort(t *testing.T) {
	q := docstore.From(posts).OrderBy("timestamp_create", docstore.Descending)
	assert.Equal(t, bson.D{{Key: "data.timestamp_create", Value: -1}, {Key: "doc_id", Value: -1}}, buildSort(q))
	assert.Equal(t, bson.D{{Key: "doc_id", Value: 1}}, buildSort(docstore.From(posts)))
}

func TestSetFields(t *testing.T) {
	assert.Equal(t, bson.M{"data.title": "x", "data.delete": true}, setFields(docstore.Data{"title": "x", "delete": true}))
}

func TestFromBSON(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := record{Path: string(posts.Child("p1")), DocID: "p1", Data: bson.M{
		"timestamp_create": primitive.NewDateTimeFromTime(at),
		"tags":             primitive.A{"a", primitive.NewDateTimeFromTime(at)},
		"meta":             primitive.M{"k": "v"},
	}}

	snap := rec.snapshot()
	assert.Equal(t, "p1", snap.ID)
	assert.Equal(t, at, snap.Data["timestamp_create"])
	assert.Equal(t, []any{"a", at}, snap.Data["tags"])
	assert.Equal(t, map[string]any{"k": "v"}, snap.Data["meta"])
}

func TestClockIsStrictlyIncreasing(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 123456789, time.UTC)
	s := &Store{now: func() time.Time { return fixed }}

	a, b := s.clock(), s.clock()
	assert.Equal(t, fixed.Truncate(time.Millisecond), a)
	assert.Equal(t, a.Add(time.Millisecond), b)
}

// Runs against a live server when FIREHOUSE_MONGO_URI is set.
func TestIntegration(t *testing.T) {
	uri := os.Getenv("FIREHOUSE_MONGO_URI")
	if uri == "" {
		t.Skip("FIREHOUSE_MONGO_URI not set")
	}
	ctx := context.Background()
	client, s, err := Connect(ctx, uri, "firehouse_test_"+time.Now().Format("150405"))
	require.NoError(t, err)
	defer func() {
		_ = s.coll.Database().Drop(ctx)
		_ = client.Disconnect(ctx)
	}()

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := s.Add(ctx, posts, docstore.Data{"category": "cat", "n": i, "timestamp_create": docstore.ServerTimestamp})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	q := docstore.From(posts).Where("category", "cat").OrderBy("timestamp_create", docstore.Descending).Limit(3)
	page1, err := s.Query(ctx, q)
	require.NoError(t, err)
	require.Len(t, page1, 3)
	assert.Equal(t, ids[4], page1[0].ID)

	page2, err := s.Query(ctx, docstore.From(posts).Where("category", "cat").
		OrderBy("timestamp_create", docstore.Descending).StartAfter(page1[2]).Limit(3))
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Equal(t, ids[0], page2[1].ID)

	require.NoError(t, s.Update(ctx, posts.Child(ids[0]), docstore.Data{"title": "x"}))
	snap, err := s.Get(ctx, posts.Child(ids[0]))
	require.NoError(t, err)
	assert.Equal(t, "x", snap.Data["title"])
	assert.Equal(t, "cat", snap.Data["category"])

	err = s.Update(ctx, posts.Child("missing"), docstore.Data{"title": "x"})
	assert.True(t, ecode.Is(err, ecode.NotFound))

	missing, err := s.Get(ctx, posts.Child("missing"))
	require.NoError(t, err)
	assert.Nil(t, missing)
}
