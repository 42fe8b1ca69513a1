// Package docstore is the document database interface the session manager
// and the post catalog talk to.
//
// Documents live at slash-separated paths such as
// "swallow/my-domain/posts/<id>": collection paths have an odd number of
// segments, document paths an even number. Writes may carry the
// ServerTimestamp sentinel, which the backend replaces with its own clock.
package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"firehouse/internal/ecode"
)

const idAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// Data is the field map of a document.
type Data = map[string]any

// FieldValue is a write-time sentinel.
type FieldValue int

// ServerTimestamp is replaced by the backend's current time on write.
const ServerTimestamp FieldValue = 1

// Store is a document database.
//
// Get returns (nil, nil) for a missing document. Update fails with
// ecode.NotFound when the document does not exist.
type Store interface {
	Get(ctx context.Context, doc Path) (*Snapshot, error)
	Set(ctx context.Context, doc Path, data Data) error
	Update(ctx context.Context, doc Path, data Data) error
	Add(ctx context.Context, col Path, data Data) (string, error)
	Query(ctx context.Context, q *Query) ([]*Snapshot, error)
}

// Snapshot is a document as read from the store.
type Snapshot struct {
	ID   string
	Path Path
	Data Data
}

// DataTo decodes the snapshot fields into v, a pointer to a struct with
// json tags.
func (s *Snapshot) DataTo(v any) error {
	b, err := json.Marshal(s.Data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", s.Path, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", s.Path, err)
	}
	return nil
}

// ToData converts a struct with json tags to a field map. Fields left out
// by omitempty are not written.
func ToData(v any) (Data, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var data Data
	if err := json.Unmarshal(b, &data); err != nil {
		return nil, err
	}
	if data == nil {
		data = Data{}
	}
	return data, nil
}

// Path addresses a collection or a document.
type Path string

// Join builds a path from segments.
func Join(segments ...string) Path {
	return Path(strings.Join(segments, "/"))
}

// Child appends segments to p.
func (p Path) Child(segments ...string) Path {
	return Join(append([]string{string(p)}, segments...)...)
}

func (p Path) Segments() []string {
	return strings.Split(string(p), "/")
}

// ID is the last segment.
func (p Path) ID() string {
	s := p.Segments()
	return s[len(s)-1]
}

// Parent drops the last segment.
func (p Path) Parent() Path {
	i := strings.LastIndex(string(p), "/")
	if i < 0 {
		return ""
	}
	return p[:i]
}

func (p Path) IsDocument() bool {
	return p.valid() && len(p.Segments())%2 == 0
}

func (p Path) IsCollection() bool {
	return p.valid() && len(p.Segments())%2 == 1
}

func (p Path) valid() bool {
	if p == "" {
		return false
	}
	for _, s := range p.Segments() {
		if s == "" {
			return false
		}
	}
	return true
}

// CheckDocument returns an invalid-argument error unless p addresses a document.
func CheckDocument(p Path) error {
	if !p.IsDocument() {
		return ecode.Newf(ecode.InvalidArgument, "%q is not a document path", p)
	}
	return nil
}

// CheckCollection returns an invalid-argument error unless p addresses a collection.
func CheckCollection(p Path) error {
	if !p.IsCollection() {
		return ecode.Newf(ecode.InvalidArgument, "%q is not a collection path", p)
	}
	return nil
}

// NewID returns a fresh 20 character document id.
func NewID() (string, error) {
	return gonanoid.Generate(idAlphabet, 20)
}

// Resolve returns a copy of data with sentinels replaced.
func Resolve(data Data, now time.Time) Data {
	out := make(Data, len(data))
	for k, v := range data {
		if v == ServerTimestamp {
			v = now.UTC()
		}
		out[k] = v
	}
	return out
}
