// Package sqlitestore keeps documents as JSON rows in sqlite.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"firehouse/internal/docstore"
	"firehouse/internal/ecode"
)

// timeLayout is fixed width so that string order is time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type Store struct {
	db *sql.DB

	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

var _ docstore.Store = (*Store)(nil)

// New expects db to be migrated already.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// SetClock replaces the time source used for server timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// clock returns strictly increasing times so that server timestamps never tie.
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

// sqlValue converts a filter or cursor value to what json_extract yields.
func sqlValue(v any) any {
	v = encodeValue(v)
	if b, ok := v.(bool); ok {
		if b {
			return 1
		}
		return 0
	}
	return v
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

func decode(raw string) (docstore.Data, error) {
	var data docstore.Data
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("corrupt document: %w", err)
	}
	return data, nil
}

func jsonPath(field string) string {
	return "$." + field
}

func (s *Store) Get(ctx context.Context, doc docstore.Path) (*docstore.Snapshot, error) {
	if err := docstore.CheckDocument(doc); err != nil {
		return nil, err
	}
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM documents WHERE path = ?`, string(doc)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("get %s: %w", doc, err)
	}
	data, err := decode(raw)
	if err != nil {
		return nil, err
	}
	return &docstore.Snapshot{ID: doc.ID(), Path: doc, Data: data}, nil
}

func (s *Store) Set(ctx context.Context, doc docstore.Path, data docstore.Data) error {
	if err := docstore.CheckDocument(doc); err != nil {
		return err
	}
	now := s.clock()
	raw, err := encode(docstore.Resolve(data, now))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO documents(path,collection,id,data,created_at,updated_at)
		VALUES(?,?,?,?,?,?)
		ON CONFLICT(path) DO UPDATE SET data=excluded.data, updated_at=excluded.updated_at`,
		string(doc), string(doc.Parent()), doc.ID(), raw, now, now)
	if err != nil {
		return fmt.Errorf("set %s: %w", doc, err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, doc docstore.Path, data docstore.Data) error {
	if err := docstore.CheckDocument(doc); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT data FROM documents WHERE path = ?`, string(doc)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ecode.Newf(ecode.NotFound, "no document to update: %s", doc)
	} else if err != nil {
		return fmt.Errorf("update %s: %w", doc, err)
	}
	current, err := decode(raw)
	if err != nil {
		return err
	}
	now := s.clock()
	for k, v := range docstore.Resolve(data, now) {
		current[k] = v
	}
	merged, err := encode(current)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE documents SET data = ?, updated_at = ? WHERE path = ?`,
		merged, now, string(doc)); err != nil {
		return fmt.Errorf("update %s: %w", doc, err)
	}
	return tx.Commit()
}

func (s *Store) Add(ctx context.Context, col docstore.Path, data docstore.Data) (string, error) {
	if err := docstore.CheckCollection(col); err != nil {
		return "", err
	}
	id, err := docstore.NewID()
	if err != nil {
		return "", err
	}
	doc := col.Child(id)
	now := s.clock()
	raw, err := encode(docstore.Resolve(data, now))
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO documents(path,collection,id,data,created_at,updated_at) VALUES(?,?,?,?,?,?)`,
		string(doc), string(col), id, raw, now, now)
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
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	defer rows.Close()

	var out []*docstore.Snapshot
	for rows.Next() {
		var path, id, raw string
		if err := rows.Scan(&path, &id, &raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", q.Collection, err)
		}
		data, err := decode(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, &docstore.Snapshot{ID: id, Path: docstore.Path(path), Data: data})
	}
	return out, rows.Err()
}

func buildQuery(q *docstore.Query) (string, []any) {
	var sb strings.Builder
	args := []any{string(q.Collection)}
	sb.WriteString(`SELECT path, id, data FROM documents WHERE collection = ?`)

	for _, f := range q.Filters {
		sb.WriteString(` AND json_extract(data, ?) = ?`)
		args = append(args, jsonPath(f.Field), sqlValue(f.Value))
	}

	dir, cmp := "ASC", ">"
	if q.Direction == docstore.Descending {
		dir, cmp = "DESC", "<"
	}

	if q.OrderField != "" {
		field := jsonPath(q.OrderField)
		sb.WriteString(` AND json_extract(data, ?) IS NOT NULL`)
		args = append(args, field)
		if value, id, ok := q.AfterKey(); ok {
			v := sqlValue(value)
			sb.WriteString(` AND (json_extract(data, ?) ` + cmp + ` ? OR (json_extract(data, ?) = ? AND id ` + cmp + ` ?))`)
			args = append(args, field, v, field, v, id)
		}
		sb.WriteString(` ORDER BY json_extract(data, ?) ` + dir + `, id ` + dir)
		args = append(args, field)
	} else {
		sb.WriteString(` ORDER BY id ` + dir)
	}

	if q.Size > 0 {
		sb.WriteString(` LIMIT ?`)
		args = append(args, q.Size)
	}
	return sb.String(), args
}
