// Package forum is the post catalog: create, read, update and soft-delete
// posts under <partition>/posts, and page through a category newest first.
package forum

import (
	"context"
	"fmt"
	"sync"

	"firehouse/internal/docstore"
	"firehouse/internal/ecode"
	"firehouse/internal/logging"
	"firehouse/internal/models"
	"firehouse/internal/paging"
	"firehouse/internal/rules"
)

const (
	fieldCategory        = "category"
	fieldTimestampCreate = "timestamp_create"
	fieldTimestampUpdate = "timestamp_update"
)

// Authorizer marks a context with the caller's credentials. *auth.Manager
// implements it.
type Authorizer interface {
	Authorize(ctx context.Context) context.Context
}

type anonymous struct{}

func (anonymous) Authorize(ctx context.Context) context.Context { return ctx }

type Options struct {
	// PageSize is the limit used when a query sets none.
	PageSize int
	// LegacyListUID makes List overwrite each post's UID with its document
	// id, as older clients expect.
	LegacyListUID bool
}

// cursor is the last post of the latest page, bound to the category it
// was read from. A nil *cursor is the empty state.
type cursor struct {
	category string
	last     *docstore.Snapshot
}

// Catalog keeps one List cursor; concurrent List calls on the same
// Catalog run one at a time. Everything else is stateless.
type Catalog struct {
	store docstore.Store
	posts docstore.Path
	auth  Authorizer
	opts  Options
	log   *logging.Logger

	mu     sync.Mutex
	cursor *cursor
}

func NewCatalog(store docstore.Store, partition docstore.Path, auth Authorizer, opts Options, log *logging.Logger) *Catalog {
	if auth == nil {
		auth = anonymous{}
	}
	if opts.PageSize <= 0 {
		opts.PageSize = models.DefaultPageSize
	}
	return &Catalog{
		store: store,
		posts: partition.Child(rules.PostsCollection),
		auth:  auth,
		opts:  opts,
		log:   log,
	}
}

// Create adds the post with a server creation timestamp and returns it as
// stored. The store decides whether the caller may post as draft.UID.
func (c *Catalog) Create(ctx context.Context, draft *models.PostCreate) (*models.Post, error) {
	if draft == nil {
		return nil, ecode.New(ecode.EmptyInput, "Post object is empty.")
	}
	data, err := docstore.ToData(draft)
	if err != nil {
		return nil, fmt.Errorf("encode post: %w", err)
	}
	data[fieldTimestampCreate] = docstore.ServerTimestamp

	id, err := c.store.Add(c.auth.Authorize(ctx), c.posts, data)
	if err != nil {
		return nil, err
	}
	c.log.Debug(ctx, "post created", "id", id, "category", draft.Category)
	return c.Get(ctx, id)
}

// Get returns the post, or nil when there is none.
func (c *Catalog) Get(ctx context.Context, id string) (*models.Post, error) {
	if id == "" {
		return nil, ecode.New(ecode.IDEmpty, "Document ID must be provided to get a post.")
	}
	snap, err := c.store.Get(ctx, c.posts.Child(id))
	if err != nil || snap == nil {
		return nil, err
	}
	return toPost(snap)
}

// Update merges the set fields of partial, stamps the update time and
// returns the post as stored afterwards.
func (c *Catalog) Update(ctx context.Context, id string, partial *models.PostUpdate) (*models.Post, error) {
	if id == "" {
		return nil, ecode.New(ecode.IDEmpty, "Document ID must be provided to update a post.")
	}
	if partial == nil {
		return nil, ecode.New(ecode.EmptyInput, "Post object is empty.")
	}
	data, err := docstore.ToData(partial)
	if err != nil {
		return nil, fmt.Errorf("encode post: %w", err)
	}
	data[fieldTimestampUpdate] = docstore.ServerTimestamp

	if err := c.store.Update(c.auth.Authorize(ctx), c.posts.Child(id), data); err != nil {
		return nil, err
	}
	return c.Get(ctx, id)
}

// Delete blanks the post and flags it deleted. The document stays.
func (c *Catalog) Delete(ctx context.Context, id string) (*models.Post, error) {
	placeholder, deleted := models.PostDeleted, true
	return c.Update(ctx, id, &models.PostUpdate{
		Title:   &placeholder,
		Content: &placeholder,
		Delete:  &deleted,
	})
}

// List returns the next page of q.Category, continuing from the previous
// List call when it asked for the same category and starting over
// otherwise. A page past the end is empty and leaves the cursor where it
// was.
func (c *Catalog) List(ctx context.Context, q models.PostQuery) (*paging.Result[*models.Post], error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cursor != nil && c.cursor.category != q.Category {
		c.cursor = nil
	}
	var after *docstore.Snapshot
	if c.cursor != nil {
		after = c.cursor.last
	}

	res, last, err := c.fetch(ctx, q, after)
	if err != nil {
		return nil, err
	}
	if last != nil {
		c.cursor = &cursor{category: q.Category, last: last}
	}
	return res, nil
}

// Page is List without instance state: the caller passes back the
// NextCursor of the previous page, or "" for the first one.
func (c *Catalog) Page(ctx context.Context, q models.PostQuery, token string) (*paging.Result[*models.Post], error) {
	var after *docstore.Snapshot
	if token != "" {
		cur, err := paging.DecodeCursor(token)
		if err != nil {
			return nil, ecode.New(ecode.InvalidCursor, "Cursor is malformed.")
		}
		if cur.Category != q.Category {
			return nil, ecode.Newf(ecode.InvalidCursor, "Cursor belongs to category %q.", cur.Category)
		}
		after = &docstore.Snapshot{
			ID:   cur.ID,
			Path: c.posts.Child(cur.ID),
			Data: docstore.Data{fieldTimestampCreate: cur.CreatedAt},
		}
	}
	res, _, err := c.fetch(ctx, q, after)
	return res, err
}

// ResetCursor makes the next List start from the newest post.
func (c *Catalog) ResetCursor() {
	c.mu.Lock()
	c.cursor = nil
	c.mu.Unlock()
}

func (c *Catalog) fetch(ctx context.Context, q models.PostQuery, after *docstore.Snapshot) (*paging.Result[*models.Post], *docstore.Snapshot, error) {
	limit := paging.NormalizeLimit(q.Limit, c.opts.PageSize, 0)
	query := docstore.From(c.posts).
		Where(fieldCategory, q.Category).
		OrderBy(fieldTimestampCreate, docstore.Descending).
		StartAfter(after).
		Limit(limit + 1)

	snaps, err := c.store.Query(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	page, more := paging.Page(snaps, limit)

	res := &paging.Result[*models.Post]{Items: make([]*models.Post, 0, len(page)), HasNextPage: more}
	for _, snap := range page {
		post, err := toPost(snap)
		if err != nil {
			return nil, nil, err
		}
		if c.opts.LegacyListUID {
			post.UID = snap.ID
		}
		res.Items = append(res.Items, post)
	}
	c.log.Debug(ctx, "posts listed", "category", q.Category, "count", len(res.Items), "more", more)

	if len(page) == 0 {
		return res, nil, nil
	}
	last := page[len(page)-1]
	if more {
		tail := res.Items[len(res.Items)-1]
		res.NextCursor = paging.EncodeCursor(paging.Cursor{
			Category:  q.Category,
			CreatedAt: tail.TimestampCreate,
			ID:        last.ID,
		})
	}
	return res, last, nil
}

func toPost(snap *docstore.Snapshot) (*models.Post, error) {
	post := &models.Post{}
	if err := snap.DataTo(post); err != nil {
		return nil, err
	}
	post.ID = snap.ID
	return post, nil
}
