package docstore

import (
	"regexp"

	"firehouse/internal/ecode"
)

type Direction int

const (
	Ascending Direction = iota
	Descending
)

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Filter is an equality condition on a top-level field.
type Filter struct {
	Field string
	Value any
}

// Query selects documents of one collection. Build it with From:
//
//	From(col).Where("category", "cat").OrderBy("timestamp_create", Descending).Limit(10)
//
// Documents are ordered by OrderField and then by document id in the same
// direction, so StartAfter is stable across equal order values. Documents
// that lack the order field are left out.
type Query struct {
	Collection Path
	Filters    []Filter
	OrderField string
	Direction  Direction
	After      *Snapshot
	Size       int
}

func From(col Path) *Query {
	return &Query{Collection: col}
}

func (q *Query) Where(field string, value any) *Query {
	q.Filters = append(q.Filters, Filter{Field: field, Value: value})
	return q
}

func (q *Query) OrderBy(field string, dir Direction) *Query {
	q.OrderField = field
	q.Direction = dir
	return q
}

// StartAfter resumes after snap. A nil snap is ignored.
func (q *Query) StartAfter(snap *Snapshot) *Query {
	q.After = snap
	return q
}

// Limit caps the result size; zero means no cap.
func (q *Query) Limit(n int) *Query {
	q.Size = n
	return q
}

// AfterKey returns the order value and id of the StartAfter document.
func (q *Query) AfterKey() (value any, id string, ok bool) {
	if q.After == nil {
		return nil, "", false
	}
	return q.After.Data[q.OrderField], q.After.ID, true
}

// Validate rejects queries no backend can run.
func (q *Query) Validate() error {
	if err := CheckCollection(q.Collection); err != nil {
		return err
	}
	for _, f := range q.Filters {
		if !fieldName.MatchString(f.Field) {
			return ecode.Newf(ecode.InvalidArgument, "bad filter field %q", f.Field)
		}
	}
	if q.OrderField != "" && !fieldName.MatchString(q.OrderField) {
		return ecode.Newf(ecode.InvalidArgument, "bad order field %q", q.OrderField)
	}
	if q.After != nil {
		if q.OrderField == "" {
			return ecode.New(ecode.InvalidArgument, "start after needs an order field")
		}
		if _, ok := q.After.Data[q.OrderField]; !ok {
			return ecode.Newf(ecode.InvalidArgument, "start after document has no %q", q.OrderField)
		}
	}
	if q.Size < 0 {
		return ecode.New(ecode.InvalidArgument, "negative limit")
	}
	return nil
}
