package docstore

import (
	"context"
)

type Op string

const (
	OpCreate Op = "create"
	OpSet    Op = "set"
	OpUpdate Op = "update"
)

// Request describes a write for a Policy to judge.
type Request struct {
	Op Op
	// Path is the document path, or the collection path for OpCreate.
	Path Path
	// Auth is the caller's uid, empty when anonymous.
	Auth     string
	Existing Data
	Incoming Data
}

// Policy decides whether a write may proceed. A denial is returned as an
// error and reaches the caller unchanged.
type Policy interface {
	Allow(ctx context.Context, req *Request) error
}

// Verifier resolves an ID token to the uid it was issued for.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

type tokenKey struct{}

// WithToken attaches the caller's ID token to ctx.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFrom returns the ID token attached to ctx.
func TokenFrom(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey{}).(string)
	return token
}

// Guard puts a Policy in front of a Store, the way a hosted document
// database evaluates its security rules before touching data. Reads and
// queries pass straight through.
type Guard struct {
	store    Store
	policy   Policy
	verifier Verifier
}

var _ Store = (*Guard)(nil)

func NewGuard(store Store, policy Policy, verifier Verifier) *Guard {
	return &Guard{store: store, policy: policy, verifier: verifier}
}

// caller returns the uid behind the token in ctx. Bad or revoked tokens
// count as anonymous.
func (g *Guard) caller(ctx context.Context) string {
	token := TokenFrom(ctx)
	if token == "" || g.verifier == nil {
		return ""
	}
	uid, err := g.verifier.Verify(ctx, token)
	if err != nil {
		return ""
	}
	return uid
}

func (g *Guard) Get(ctx context.Context, doc Path) (*Snapshot, error) {
	return g.store.Get(ctx, doc)
}

func (g *Guard) Query(ctx context.Context, q *Query) ([]*Snapshot, error) {
	return g.store.Query(ctx, q)
}

func (g *Guard) Set(ctx context.Context, doc Path, data Data) error {
	existing, err := g.existing(ctx, doc)
	if err != nil {
		return err
	}
	req := &Request{Op: OpSet, Path: doc, Auth: g.caller(ctx), Existing: existing, Incoming: data}
	if err := g.policy.Allow(ctx, req); err != nil {
		return err
	}
	return g.store.Set(ctx, doc, data)
}

func (g *Guard) Update(ctx context.Context, doc Path, data Data) error {
	existing, err := g.existing(ctx, doc)
	if err != nil {
		return err
	}
	if existing == nil {
		// Let the backend report the missing document.
		return g.store.Update(ctx, doc, data)
	}
	req := &Request{Op: OpUpdate, Path: doc, Auth: g.caller(ctx), Existing: existing, Incoming: data}
	if err := g.policy.Allow(ctx, req); err != nil {
		return err
	}
	return g.store.Update(ctx, doc, data)
}

func (g *Guard) Add(ctx context.Context, col Path, data Data) (string, error) {
	req := &Request{Op: OpCreate, Path: col, Auth: g.caller(ctx), Incoming: data}
	if err := g.policy.Allow(ctx, req); err != nil {
		return "", err
	}
	return g.store.Add(ctx, col, data)
}

func (g *Guard) existing(ctx context.Context, doc Path) (Data, error) {
	if err := CheckDocument(doc); err != nil {
		return nil, err
	}
	snap, err := g.store.Get(ctx, doc)
	if err != nil || snap == nil {
		return nil, err
	}
	return snap.Data, nil
}
