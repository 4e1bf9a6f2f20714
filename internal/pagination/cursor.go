// Package pagination implements keyset cursors for newest-first listings.
//
// A cursor names the last item of a page by (timestamp, ID). The next page
// holds the items strictly older than that position.
package pagination

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidCursor is returned for cursors that were not produced by Encode.
var ErrInvalidCursor = errors.New("pagination: invalid cursor")

// Cursor is a decoded position in a listing.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Encode returns the opaque, URL-safe cursor for (createdAt, id).
func Encode(createdAt time.Time, id string) string {
	raw := strconv.FormatInt(createdAt.UnixNano(), 10) + "|" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode parses a cursor. Empty input means "first page" and yields nil.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	nanos, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return nil, ErrInvalidCursor
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{CreatedAt: time.Unix(0, n).UTC(), ID: id}, nil
}

// Page is one slice of a listing.
type Page[T any] struct {
	Items      []T
	NextCursor string
	HasMore    bool
}

// Paginate trims items, fetched with limit+1, to limit and sets the cursor
// for the following page when there is one. key extracts the ordering
// position of an item.
func Paginate[T any](items []T, limit int, key func(T) (time.Time, string)) Page[T] {
	if limit <= 0 || len(items) <= limit {
		return Page[T]{Items: items}
	}
	items = items[:limit]
	at, id := key(items[len(items)-1])
	return Page[T]{Items: items, NextCursor: Encode(at, id), HasMore: true}
}
