package pgstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firehouse/internal/docstore"
	"firehouse/internal/ecode"
)

var posts = docstore.Join("swallow", "my-domain", "posts")

func TestBuildQuery(t *testing.T) {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	q := docstore.From(posts).Where("category", "cat").Where("delete", false).
		OrderBy("timestamp_create", docstore.Descending).
		StartAfter(&docstore.Snapshot{ID: "abc", Data: docstore.Data{"timestamp_create": created}}).
		Limit(3)
	stmt, args := buildQuery(q)

	assert.Equal(t, `SELECT path, id, data FROM documents WHERE collection = $1`+
		` AND data->'category' = $2::jsonb AND data->'delete' = $3::jsonb`+
		` AND data->'timestamp_create' IS NOT NULL`+
		` AND (data->'timestamp_create' < $4::jsonb OR (data->'timestamp_create' = $4::jsonb AND id < $5))`+
		` ORDER BY data->'timestamp_create' DESC, id DESC LIMIT $6`, stmt)
	assert.Equal(t, []any{string(posts), `"cat"`, `false`, `"2024-05-01T10:00:00.000000000Z"`, "abc", 3}, args)
}

func TestBuildQueryAscendingNoOrder(t *testing.T) {
	stmt, args := buildQuery(docstore.From(posts))
	assert.Equal(t, `SELECT path, id, data FROM documents WHERE collection = $1 ORDER BY id ASC`, stmt)
	assert.Len(t, args, 1)
}

func TestEncodeTimes(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 5, time.FixedZone("x", 3600))
	raw, err := encode(docstore.Data{"t": at, "u": (*time.Time)(nil), "s": "v"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"t":"2024-05-01T09:00:00.000000005Z","u":null,"s":"v"}`, raw)
}

// Runs against a live server when FIREHOUSE_POSTGRES_DSN is set.
func TestIntegration(t *testing.T) {
	dsn := os.Getenv("FIREHOUSE_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("FIREHOUSE_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := Connect(ctx, dsn)
	require.NoError(t, err)
	defer s.Close()

	col := docstore.Join("swallow", "it-"+time.Now().Format("150405.000000"), "posts")
	var ids []string
	for i := 0; i < 5; i++ {
		id, err := s.Add(ctx, col, docstore.Data{"category": "cat", "n": i, "timestamp_create": docstore.ServerTimestamp})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	page1, err := s.Query(ctx, docstore.From(col).Where("category", "cat").OrderBy("timestamp_create", docstore.Descending).Limit(3))
	require.NoError(t, err)
	require.Len(t, page1, 3)
	assert.Equal(t, ids[4], page1[0].ID)

	page2, err := s.Query(ctx, docstore.From(col).Where("category", "cat").
		OrderBy("timestamp_create", docstore.Descending).StartAfter(page1[2]).Limit(3))
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Equal(t, ids[0], page2[1].ID)

	require.NoError(t, s.Update(ctx, col.Child(ids[0]), docstore.Data{"title": "x"}))
	snap, err := s.Get(ctx, col.Child(ids[0]))
	require.NoError(t, err)
	assert.Equal(t, "x", snap.Data["title"])
	assert.Equal(t, "cat", snap.Data["category"])

	err = s.Update(ctx, col.Child("missing"), docstore.Data{"title": "x"})
	assert.True(t, ecode.Is(err, ecode.NotFound))
}
