// Package docstore defines the hierarchical document store the remote
// adapter is written against, and its implementations.
//
// Paths alternate collection and document segments:
// users/u1/conversations/c1/messages/m1. Document data is a JSON object;
// stores normalise it through encoding/json so numbers read back as
// float64 regardless of backend.
package docstore

import (
	"context"
	"time"
)

// Document is one stored document.
type Document struct {
	Path string         `json:"path"`
	Data map[string]any `json:"data"`
}

// ID returns the last path segment.
func (d Document) ID() string {
	return DocID(d.Path)
}

// Direction 排序方向
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Filter is an equality filter on a top-level field.
type Filter struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

// Cursor resumes a query after the document with this order-by value and id.
type Cursor struct {
	Value any    `json:"value"`
	ID    string `json:"id"`
}

// Query lists documents of one collection.
//
// With OrderBy set, documents lacking the field are excluded and ties are
// broken by document id in the same direction. Without OrderBy documents
// come back in id order.
type Query struct {
	Collection string    `json:"collection"`
	Filters    []Filter  `json:"filters,omitempty"`
	OrderBy    string    `json:"orderBy,omitempty"`
	Direction  Direction `json:"direction,omitempty"`
	Limit      int       `json:"limit,omitempty"`
	StartAfter *Cursor   `json:"startAfter,omitempty"`
}

// CountQuery counts documents without reading them.
//
// Either Collection is set, or Group names a collection id and every
// collection with that id whose path starts with Prefix is counted.
type CountQuery struct {
	Collection string   `json:"collection,omitempty"`
	Group      string   `json:"group,omitempty"`
	Prefix     string   `json:"prefix,omitempty"`
	Filters    []Filter `json:"filters,omitempty"`
}

// WriteBatch collects writes committed atomically.
type WriteBatch interface {
	Set(path string, data map[string]any)
	Delete(path string)
	Len() int
	Commit(ctx context.Context) error
}

// DocumentStore 文档存储接口
type DocumentStore interface {
	// Get returns a NOT_FOUND error when the document is absent.
	Get(ctx context.Context, path string) (*Document, error)
	// Set creates or replaces a document.
	Set(ctx context.Context, path string, data map[string]any) error
	// Delete removes one document; nested collections are untouched.
	Delete(ctx context.Context, path string) error
	Query(ctx context.Context, q Query) ([]Document, error)
	Count(ctx context.Context, q CountQuery) (int64, error)
	// ListCollections returns the ids of collections directly under a
	// document, or the top-level collections for docPath "".
	ListCollections(ctx context.Context, docPath string) ([]string, error)
	Batch() WriteBatch
	// MaxBatchSize is the most writes one batch may hold.
	MaxBatchSize() int
	Close() error
}

// Change is a committed write observed by a watcher.
type Change struct {
	Path    string         `json:"path"`
	Data    map[string]any `json:"data,omitempty"`
	Deleted bool           `json:"deleted,omitempty"`
	At      time.Time      `json:"at"`
}

// Watcher is implemented by stores that can stream changes under a path
// prefix. Watch blocks until ctx is done or the stream fails.
type Watcher interface {
	Watch(ctx context.Context, prefix string, fn func(Change)) error
}

// DefaultMaxBatchSize matches the common document database limit.
const DefaultMaxBatchSize = 500
