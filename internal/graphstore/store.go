package graphstore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
)

var (
	// ErrNotFound is returned by Get for a missing document.
	ErrNotFound = errors.New("document not found")

	// ErrInvalidInput is returned for documents without a key or with a
	// body that is not a JSON object.
	ErrInvalidInput = errors.New("invalid document")

	// ErrNotImplemented is returned for DSN schemes with no backend.
	ErrNotImplemented = errors.New("not implemented")
)

// Document is one stored vertex or edge. From and To are set for edges.
type Document struct {
	Key  string          `json:"_key"`
	From string          `json:"_from,omitempty"`
	To   string          `json:"_to,omitempty"`
	Data json.RawMessage `json:"data"`
}

// Result tallies the effect of a write.
type Result struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Ignored int `json:"ignored"`
}

// Total returns the number of documents processed.
func (r Result) Total() int {
	return r.Created + r.Updated + r.Ignored
}

// Add accumulates other into r.
func (r *Result) Add(other Result) {
	r.Created += other.Created
	r.Updated += other.Updated
	r.Ignored += other.Ignored
}

// Store is the target document store.
type Store interface {
	// Upsert inserts or replaces docs in collection. The whole batch fails
	// on any transport or validation error.
	Upsert(ctx context.Context, collection string, docs []Document) (Result, error)

	// Exists reports whether collection holds a document with key.
	Exists(ctx context.Context, collection, key string) (bool, error)

	// ImportStream upserts newline-delimited JSON documents from r.
	ImportStream(ctx context.Context, collection string, r io.Reader) (Result, error)

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// Reader is implemented by backends that can read documents back.
type Reader interface {
	Get(ctx context.Context, collection, key string) (Document, error)
	Count(ctx context.Context, collection string) (int, error)
}
