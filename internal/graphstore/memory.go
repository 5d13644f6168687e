package graphstore

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// MemoryStore keeps documents in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	colls  map[string]map[string]prepared
	closed bool

	// upserts counts Upsert calls per collection.
	upserts map[string]int
}

var (
	_ Store  = (*MemoryStore)(nil)
	_ Reader = (*MemoryStore)(nil)
)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		colls:   make(map[string]map[string]prepared),
		upserts: make(map[string]int),
	}
}

// Upsert implements Store.
func (m *MemoryStore) Upsert(ctx context.Context, collection string, docs []Document) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	batch := make([]prepared, 0, len(docs))
	for _, d := range docs {
		p, err := prepare(collection, d)
		if err != nil {
			return Result{}, fmt.Errorf("upsert %s: %w", collection, err)
		}
		batch = append(batch, p)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Result{}, fmt.Errorf("upsert %s: store closed", collection)
	}
	m.upserts[collection]++
	coll := m.colls[collection]
	if coll == nil {
		coll = make(map[string]prepared)
		m.colls[collection] = coll
	}

	var res Result
	for _, p := range batch {
		stored, existing := coll[p.Key]
		next, changed, err := resolve(p, existing, stored.fingerprint, stored.deleted)
		if err != nil {
			return res, fmt.Errorf("upsert %s: %w", collection, err)
		}
		switch {
		case !existing:
			res.Created++
		case changed:
			res.Updated++
		default:
			res.Ignored++
			continue
		}
		coll[p.Key] = next
	}
	return res, nil
}

// Exists implements Store.
func (m *MemoryStore) Exists(ctx context.Context, collection, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.colls[collection][key]
	return ok, nil
}

// ImportStream implements Store.
func (m *MemoryStore) ImportStream(ctx context.Context, collection string, r io.Reader) (Result, error) {
	return importViaUpsert(ctx, m, collection, r)
}

// Ping implements Store.
func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return fmt.Errorf("ping: store closed")
	}
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Get implements Reader.
func (m *MemoryStore) Get(ctx context.Context, collection, key string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.colls[collection][key]
	if !ok {
		return Document{}, fmt.Errorf("get %s/%s: %w", collection, key, ErrNotFound)
	}
	return p.Document, nil
}

// Count implements Reader.
func (m *MemoryStore) Count(ctx context.Context, collection string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.colls[collection]), nil
}

// Keys returns the sorted keys stored in collection.
func (m *MemoryStore) Keys(collection string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.colls[collection]))
	for k := range m.colls[collection] {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Collections returns the sorted names of non-empty collections.
func (m *MemoryStore) Collections() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.colls))
	for c, docs := range m.colls {
		if len(docs) > 0 {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

// Snapshot returns a copy of every stored document keyed by
// "collection/key", with bodies in canonical form.
func (m *MemoryStore) Snapshot() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string)
	for c, docs := range m.colls {
		for k, p := range docs {
			out[c+"/"+k] = string(p.Data)
		}
	}
	return out
}

// UpsertCalls returns how many Upsert calls collection has received.
func (m *MemoryStore) UpsertCalls(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.upserts[collection]
}

// Dump renders every stored document as one "collection/key<TAB>body" line,
// sorted, for golden-file comparison.
func (m *MemoryStore) Dump() []byte {
	snap := m.Snapshot()
	handles := make([]string, 0, len(snap))
	for h := range snap {
		handles = append(handles, h)
	}
	sort.Strings(handles)
	var b strings.Builder
	for _, h := range handles {
		b.WriteString(h)
		b.WriteByte('\t')
		b.WriteString(snap[h])
		b.WriteByte('\n')
	}
	return []byte(b.String())
}
