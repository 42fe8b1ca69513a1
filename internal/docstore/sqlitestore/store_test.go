package sqlitestore

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firehouse/internal/db"
	"firehouse/internal/docstore"
	"firehouse/internal/ecode"
)

var posts = docstore.Join("swallow", "test", "posts")

func newStore(t *testing.T) *Store {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "docs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, db.Migrate(context.Background(), conn))
	return New(conn)
}

func TestGetMissing(t *testing.T) {
	s := newStore(t)
	snap, err := s.Get(context.Background(), posts.Child("nope"))
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestAddGetUpdate(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return fixed })

	id, err := s.Add(ctx, posts, docstore.Data{
		"category":         "cat",
		"title":            "I am cat",
		"timestamp_create": docstore.ServerTimestamp,
	})
	require.NoError(t, err)
	require.Len(t, id, 20)

	snap, err := s.Get(ctx, posts.Child(id))
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, id, snap.ID)
	assert.Equal(t, "I am cat", snap.Data["title"])

	var decoded struct {
		Created time.Time `json:"timestamp_create"`
	}
	require.NoError(t, snap.DataTo(&decoded))
	assert.True(t, fixed.Equal(decoded.Created))

	require.NoError(t, s.Update(ctx, posts.Child(id), docstore.Data{"title": "changed", "delete": true}))
	snap, err = s.Get(ctx, posts.Child(id))
	require.NoError(t, err)
	assert.Equal(t, "changed", snap.Data["title"])
	assert.Equal(t, "cat", snap.Data["category"], "update must merge, not replace")
	assert.Equal(t, true, snap.Data["delete"])
}

func TestUpdateMissing(t *testing.T) {
	s := newStore(t)
	err := s.Update(context.Background(), posts.Child("nope"), docstore.Data{"title": "x"})
	assert.True(t, ecode.Is(err, ecode.NotFound))
}

func TestSetOverwrites(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	doc := docstore.Join("swallow", "test", "users", "u1")

	require.NoError(t, s.Set(ctx, doc, docstore.Data{"email": "a@b.c", "mobile": "1"}))
	require.NoError(t, s.Set(ctx, doc, docstore.Data{"email": "a@b.c"}))

	snap, err := s.Get(ctx, doc)
	require.NoError(t, err)
	assert.NotContains(t, snap.Data, "mobile")
}

func TestPathValidation(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, posts)
	assert.True(t, ecode.Is(err, ecode.InvalidArgument))
	_, err = s.Add(ctx, posts.Child("x"), docstore.Data{})
	assert.True(t, ecode.Is(err, ecode.InvalidArgument))
}

func TestQueryOrderFilterAndStartAfter(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.SetClock(func() time.Time {
		tick++
		// 9 and 10 seconds would sort wrongly as variable width strings.
		return base.Add(time.Duration(tick) * 999 * time.Millisecond)
	})

	for i := 0; i < 12; i++ {
		category := "even"
		if i%2 == 1 {
			category = "odd"
		}
		_, err := s.Add(ctx, posts, docstore.Data{
			"category":         category,
			"n":                i,
			"timestamp_create": docstore.ServerTimestamp,
		})
		require.NoError(t, err)
	}
	_, err := s.Add(ctx, posts, docstore.Data{"category": "even", "n": 99})
	require.NoError(t, err, "documents without the order field are skipped")

	q := docstore.From(posts).Where("category", "even").OrderBy("timestamp_create", docstore.Descending).Limit(4)
	page1, err := s.Query(ctx, q)
	require.NoError(t, err)
	require.Len(t, page1, 4)
	assert.Equal(t, []float64{10, 8, 6, 4}, numbers(page1))

	q = docstore.From(posts).Where("category", "even").OrderBy("timestamp_create", docstore.Descending).
		StartAfter(page1[len(page1)-1]).Limit(4)
	page2, err := s.Query(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 0}, numbers(page2))

	asc, err := s.Query(ctx, docstore.From(posts).Where("category", "odd").OrderBy("timestamp_create", docstore.Ascending))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 3, 5, 7, 9, 11}, numbers(asc))
}

func TestQueryStartAfterDecodedTime(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var created []time.Time
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		created = append(created, at)
		s.SetClock(func() time.Time { return at })
		_, err := s.Add(ctx, posts, docstore.Data{"n": i, "timestamp_create": docstore.ServerTimestamp})
		require.NoError(t, err)
	}
	all, err := s.Query(ctx, docstore.From(posts).OrderBy("timestamp_create", docstore.Descending))
	require.NoError(t, err)
	require.Len(t, all, 3)

	// A cursor rebuilt from a token carries a time.Time, not the stored string.
	after := &docstore.Snapshot{ID: all[0].ID, Data: docstore.Data{"timestamp_create": created[2]}}
	rest, err := s.Query(ctx, docstore.From(posts).OrderBy("timestamp_create", docstore.Descending).StartAfter(after))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0}, numbers(rest))
}

func TestQueryBoolFilter(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	for i, deleted := range []bool{true, false, true} {
		_, err := s.Add(ctx, posts, docstore.Data{"delete": deleted, "n": i})
		require.NoError(t, err)
	}
	got, err := s.Query(ctx, docstore.From(posts).Where("delete", true))
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestBuildQuery(t *testing.T) {
	q := docstore.From(posts).Where("category", "cat").OrderBy("timestamp_create", docstore.Descending).
		StartAfter(&docstore.Snapshot{ID: "abc", Data: docstore.Data{"timestamp_create": "t"}}).Limit(3)
	stmt, args := buildQuery(q)

	assert.Contains(t, stmt, "id < ?")
	assert.Contains(t, stmt, "ORDER BY json_extract(data, ?) DESC, id DESC")
	assert.Equal(t, 3, args[len(args)-1])
	assert.Equal(t, fmt.Sprint(posts), args[0])
}

func numbers(snaps []*docstore.Snapshot) []float64 {
	out := make([]float64, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, s.Data["n"].(float64))
	}
	return out
}
