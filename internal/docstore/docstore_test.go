package docstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firehouse/internal/ecode"
)

func TestPath(t *testing.T) {
	col := Join("swallow", "my-domain", "posts")
	doc := col.Child("abc")

	assert.True(t, col.IsCollection())
	assert.False(t, col.IsDocument())
	assert.True(t, doc.IsDocument())
	assert.Equal(t, "abc", doc.ID())
	assert.Equal(t, col, doc.Parent())
	assert.False(t, Path("a//b").IsDocument())
	assert.False(t, Path("").IsCollection())
	assert.True(t, ecode.Is(CheckDocument(col), ecode.InvalidArgument))
}

func TestResolveServerTimestamp(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))
	in := Data{"title": "x", "timestamp_create": ServerTimestamp}

	out := Resolve(in, now)
	assert.Equal(t, now.UTC(), out["timestamp_create"])
	assert.Equal(t, "x", out["title"])
	assert.Equal(t, ServerTimestamp, in["timestamp_create"], "input must stay untouched")
}

func TestNewID(t *testing.T) {
	a, err := NewID()
	require.NoError(t, err)
	b, err := NewID()
	require.NoError(t, err)
	assert.Len(t, a, 20)
	assert.NotEqual(t, a, b)
}

func TestQueryValidate(t *testing.T) {
	col := Join("root", "d", "posts")

	assert.NoError(t, From(col).Where("category", "cat").OrderBy("timestamp_create", Descending).Limit(5).Validate())
	assert.Error(t, From(col.Child("x")).Validate())
	assert.Error(t, From(col).Where("cat'egory", 1).Validate())
	assert.Error(t, From(col).StartAfter(&Snapshot{ID: "a"}).Validate())
	assert.Error(t, From(col).OrderBy("t", Ascending).StartAfter(&Snapshot{ID: "a", Data: Data{}}).Validate())
	assert.Error(t, From(col).Limit(-1).Validate())

	value, id, ok := From(col).OrderBy("t", Ascending).StartAfter(&Snapshot{ID: "a", Data: Data{"t": 3}}).AfterKey()
	assert.True(t, ok)
	assert.Equal(t, 3, value)
	assert.Equal(t, "a", id)
}

type fakeStore struct {
	docs    map[Path]Data
	updates int
}

func (f *fakeStore) Get(_ context.Context, doc Path) (*Snapshot, error) {
	if d, ok := f.docs[doc]; ok {
		return &Snapshot{ID: doc.ID(), Path: doc, Data: d}, nil
	}
	return nil, nil
}

func (f *fakeStore) Set(_ context.Context, doc Path, data Data) error {
	f.docs[doc] = data
	return nil
}

func (f *fakeStore) Update(_ context.Context, doc Path, data Data) error {
	if _, ok := f.docs[doc]; !ok {
		return ecode.New(ecode.NotFound, "no document")
	}
	f.updates++
	for k, v := range data {
		f.docs[doc][k] = v
	}
	return nil
}

func (f *fakeStore) Add(_ context.Context, col Path, data Data) (string, error) {
	f.docs[col.Child("new")] = data
	return "new", nil
}

func (f *fakeStore) Query(context.Context, *Query) ([]*Snapshot, error) {
	return nil, nil
}

type recordingPolicy struct {
	last *Request
	deny bool
}

func (p *recordingPolicy) Allow(_ context.Context, req *Request) error {
	p.last = req
	if p.deny {
		return ecode.New(ecode.PermissionDenied, "denied")
	}
	return nil
}

type staticVerifier map[string]string

func (v staticVerifier) Verify(_ context.Context, token string) (string, error) {
	if uid, ok := v[token]; ok {
		return uid, nil
	}
	return "", errors.New("bad token")
}

func TestGuardPassesCallerAndExisting(t *testing.T) {
	doc := Join("r", "d", "posts", "p1")
	store := &fakeStore{docs: map[Path]Data{doc: {"uid": "alice"}}}
	policy := &recordingPolicy{}
	g := NewGuard(store, policy, staticVerifier{"tok": "alice"})

	ctx := WithToken(context.Background(), "tok")
	require.NoError(t, g.Update(ctx, doc, Data{"title": "x"}))
	assert.Equal(t, OpUpdate, policy.last.Op)
	assert.Equal(t, "alice", policy.last.Auth)
	assert.Equal(t, "alice", policy.last.Existing["uid"])
	assert.Equal(t, "x", store.docs[doc]["title"])

	require.NoError(t, g.Update(WithToken(context.Background(), "forged"), doc, Data{"title": "y"}))
	assert.Empty(t, policy.last.Auth, "unknown tokens count as anonymous")
}

func TestGuardDenial(t *testing.T) {
	doc := Join("r", "d", "posts", "p1")
	store := &fakeStore{docs: map[Path]Data{doc: {"uid": "alice"}}}
	g := NewGuard(store, &recordingPolicy{deny: true}, staticVerifier{})

	err := g.Update(context.Background(), doc, Data{"title": "x"})
	assert.True(t, ecode.Is(err, ecode.PermissionDenied))
	assert.Zero(t, store.updates)

	_, err = g.Add(context.Background(), doc.Parent(), Data{})
	assert.True(t, ecode.Is(err, ecode.PermissionDenied))

	err = g.Set(context.Background(), doc, Data{})
	assert.True(t, ecode.Is(err, ecode.PermissionDenied))
}

func TestGuardUpdateMissingDocument(t *testing.T) {
	policy := &recordingPolicy{}
	g := NewGuard(&fakeStore{docs: map[Path]Data{}}, policy, nil)

	err := g.Update(context.Background(), Join("r", "d", "posts", "nope"), Data{"title": "x"})
	assert.True(t, ecode.Is(err, ecode.NotFound))
	assert.Nil(t, policy.last)
}

func TestSnapshotDataTo(t *testing.T) {
	snap := &Snapshot{ID: "p1", Path: "r/d/posts/p1", Data: Data{"title": "hi", "delete": true}}
	var v struct {
		Title  string `json:"title"`
		Delete bool   `json:"delete"`
	}
	require.NoError(t, snap.DataTo(&v))
	assert.Equal(t, "hi", v.Title)
	assert.True(t, v.Delete)
}

func TestToData(t *testing.T) {
	data, err := ToData(struct {
		Name   string `json:"name,omitempty"`
		Mobile string `json:"mobile,omitempty"`
	}{Mobile: "12345"})
	require.NoError(t, err)
	assert.Equal(t, Data{"mobile": "12345"}, data)
}
