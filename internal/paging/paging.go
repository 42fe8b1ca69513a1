// Package paging holds keyset pagination results and the opaque cursor
// token handed to callers between pages.
package paging

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"
)

// ErrInvalidCursor is returned for tokens that do not decode.
var ErrInvalidCursor = errors.New("invalid cursor")

// Result holds one page.
type Result[T any] struct {
	Items       []T    `json:"items"`
	NextCursor  string `json:"next,omitempty"`
	HasNextPage bool   `json:"has_next"`
}

// Cursor identifies the last item of a page within a category.
type Cursor struct {
	Category  string    `json:"c"`
	CreatedAt time.Time `json:"t"`
	ID        string    `json:"i"`
}

// NormalizeLimit falls back to def for non-positive limits and caps at max.
func NormalizeLimit(limit, def, max int) int {
	if limit <= 0 {
		limit = def
	}
	if max > 0 && limit > max {
		limit = max
	}
	return limit
}

// EncodeCursor encodes c to a URL-safe token.
func EncodeCursor(c Cursor) string {
	b, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeCursor decodes a token produced by EncodeCursor.
func DecodeCursor(token string) (Cursor, error) {
	var c Cursor
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return c, ErrInvalidCursor
	}
	if err := json.Unmarshal(b, &c); err != nil || c.ID == "" {
		return Cursor{}, ErrInvalidCursor
	}
	return c, nil
}

// Page trims items fetched with limit+1 down to limit and reports whether
// more remain.
func Page[T any](items []T, limit int) (page []T, hasMore bool) {
	if len(items) > limit {
		return items[:limit], true
	}
	if items == nil {
		items = make([]T, 0)
	}
	return items, false
}
