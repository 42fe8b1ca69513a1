// Package pgstore keeps documents as JSONB rows in PostgreSQL.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"firehouse/internal/docstore"
	"firehouse/internal/ecode"
)

// timeLayout is fixed width so that jsonb string order is time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		path TEXT PRIMARY KEY,
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		data JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS documents_collection ON documents (collection, id)`,
}

type Store struct {
	pool *pgxpool.Pool

	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

var _ docstore.Store = (*Store)(nil)

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// Connect opens a pool on dsn, pings it and creates the documents table.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Nanosecond)
	}
	s.last = t
	return t
}

func encodeValue(v any) any {
	switch x := v.(type) {
	case time.Time:
		return x.UTC().Format(timeLayout)
	case *time.Time:
		if x == nil {
			return nil
		}
		return x.UTC().Format(timeLayout)
	default:
		return v
	}
}

func encode(data docstore.Data) (string, error) {
	out := make(docstore.Data, len(data))
	for k, v := range data {
		out[k] = encodeValue(v)
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", ecode.Newf(ecode.InvalidArgument, "document is not serialisable: %v", err)
	}
	return string(b), nil
}

// jsonValue renders a filter or cursor value as a jsonb literal.
func jsonValue(v any) string {
	b, _ := json.Marshal(encodeValue(v))
	return string(b)
}

func (s *Store) Get(ctx context.Context, doc docstore.Path) (*docstore.Snapshot, error) {
	if err := docstore.CheckDocument(doc); err != nil {
		return nil, err
	}
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM documents WHERE path = $1`, string(doc)).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("get %s: %w", doc, err)
	}
	var data docstore.Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("corrupt document %s: %w", doc, err)
	}
	return &docstore.Snapshot{ID: doc.ID(), Path: doc, Data: data}, nil
}

func (s *Store) Set(ctx context.Context, doc docstore.Path, data docstore.Data) error {
	if err := docstore.CheckDocument(doc); err != nil {
		return err
	}
	raw, err := encode(docstore.Resolve(data, s.clock()))
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO documents (path, collection, id, data)
		VALUES ($1, $2, $3, $4::jsonb)
		ON CONFLICT (path) DO UPDATE SET data = excluded.data, updated_at = now()`,
		string(doc), string(doc.Parent()), doc.ID(), raw)
	if err != nil {
		return fmt.Errorf("set %s: %w", doc, err)
	}
	return nil
}

// Update merges top-level fields in one statement.
func (s *Store) Update(ctx context.Context, doc docstore.Path, data docstore.Data) error {
	if err := docstore.CheckDocument(doc); err != nil {
		return err
	}
	raw, err := encode(docstore.Resolve(data, s.clock()))
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `UPDATE documents SET data = data || $1::jsonb, updated_at = now() WHERE path = $2`,
		raw, string(doc))
	if err != nil {
		return fmt.Errorf("update %s: %w", doc, err)
	}
	if tag.RowsAffected() == 0 {
		return ecode.Newf(ecode.NotFound, "no document to update: %s", doc)
	}
	return nil
}

func (s *Store) Add(ctx context.Context, col docstore.Path, data docstore.Data) (string, error) {
	if err := docstore.CheckCollection(col); err != nil {
		return "", err
	}
	id, err := docstore.NewID()
	if err != nil {
		return "", err
	}
	raw, err := encode(docstore.Resolve(data, s.clock()))
	if err != nil {
		return "", err
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO documents (path, collection, id, data) VALUES ($1, $2, $3, $4::jsonb)`,
		string(col.Child(id)), string(col), id, raw)
	if err != nil {
		return "", fmt.Errorf("add to %s: %w", col, err)
	}
	return id, nil
}

func (s *Store) Query(ctx context.Context, q *docstore.Query) ([]*docstore.Snapshot, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	stmt, args := buildQuery(q)
	rows, err := s.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	defer rows.Close()

	var out []*docstore.Snapshot
	for rows.Next() {
		var path, id string
		var raw []byte
		if err := rows.Scan(&path, &id, &raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", q.Collection, err)
		}
		var data docstore.Data
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("corrupt document %s: %w", path, err)
		}
		out = append(out, &docstore.Snapshot{ID: id, Path: docstore.Path(path), Data: data})
	}
	return out, rows.Err()
}

// field renders data->'name'. Query.Validate limits names to identifier
// characters, so they can be inlined.
func field(name string) string {
	return "data->'" + name + "'"
}

func buildQuery(q *docstore.Query) (string, []any) {
	var sb strings.Builder
	args := []any{string(q.Collection)}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	sb.WriteString(`SELECT path, id, data FROM documents WHERE collection = $1`)

	for _, f := range q.Filters {
		sb.WriteString(` AND ` + field(f.Field) + ` = ` + arg(jsonValue(f.Value)) + `::jsonb`)
	}

	dir, cmp := "ASC", ">"
	if q.Direction == docstore.Descending {
		dir, cmp = "DESC", "<"
	}

	if q.OrderField != "" {
		f := field(q.OrderField)
		sb.WriteString(` AND ` + f + ` IS NOT NULL`)
		if value, id, ok := q.AfterKey(); ok {
			v := arg(jsonValue(value))
			sb.WriteString(` AND (` + f + ` ` + cmp + ` ` + v + `::jsonb OR (` + f + ` = ` + v + `::jsonb AND id ` + cmp + ` ` + arg(id) + `))`)
		}
		sb.WriteString(` ORDER BY ` + f + ` ` + dir + `, id ` + dir)
	} else {
		sb.WriteString(` ORDER BY id ` + dir)
	}

	if q.Size > 0 {
		sb.WriteString(` LIMIT ` + arg(q.Size))
	}
	return sb.String(), args
}
