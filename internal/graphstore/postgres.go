package graphstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS graph_documents (
    collection  TEXT NOT NULL,
    doc_key     TEXT NOT NULL,
    from_handle TEXT,
    to_handle   TEXT,
    body        JSONB NOT NULL,
    fingerprint TEXT NOT NULL,
    deleted     BOOLEAN NOT NULL DEFAULT FALSE,
    revision    BIGINT NOT NULL DEFAULT 1,
    PRIMARY KEY (collection, doc_key)
);
CREATE INDEX IF NOT EXISTS idx_graph_documents_from ON graph_documents(from_handle) WHERE from_handle IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_graph_documents_to ON graph_documents(to_handle) WHERE to_handle IS NOT NULL;
`

// PostgresStore stores documents in PostgreSQL. The table is created on
// first use.
type PostgresStore struct {
	pool *pgxpool.Pool

	readyOnce sync.Once
	readyErr  error
}

var (
	_ Store  = (*PostgresStore)(nil)
	_ Reader = (*PostgresStore)(nil)
)

// NewPool creates a pgx connection pool and checks it with a ping.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) ensureReady(ctx context.Context) error {
	s.readyOnce.Do(func() {
		if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
			s.readyErr = fmt.Errorf("create schema: %w", err)
		}
	})
	return s.readyErr
}

// Upsert implements Store. Rows are locked with FOR UPDATE so concurrent
// workers see each other's deleted flag.
func (s *PostgresStore) Upsert(ctx context.Context, collection string, docs []Document) (Result, error) {
	if err := s.ensureReady(ctx); err != nil {
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

	var res Result
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		res = Result{}
		for _, p := range batch {
			var (
				storedFingerprint string
				storedDeleted     bool
				existing          = true
			)
			err := tx.QueryRow(ctx,
				`SELECT fingerprint, deleted FROM graph_documents WHERE collection = $1 AND doc_key = $2 FOR UPDATE`,
				collection, p.Key,
			).Scan(&storedFingerprint, &storedDeleted)
			if errors.Is(err, pgx.ErrNoRows) {
				existing = false
			} else if err != nil {
				return fmt.Errorf("%s/%s: %w", collection, p.Key, err)
			}

			next, changed, err := resolve(p, existing, storedFingerprint, storedDeleted)
			if err != nil {
				return fmt.Errorf("%s/%s: %w", collection, p.Key, err)
			}
			if existing && !changed {
				res.Ignored++
				continue
			}

			_, err = tx.Exec(ctx, `
				INSERT INTO graph_documents
				(collection, doc_key, from_handle, to_handle, body, fingerprint, deleted)
				VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7)
				ON CONFLICT (collection, doc_key) DO UPDATE SET
					from_handle = EXCLUDED.from_handle,
					to_handle = EXCLUDED.to_handle,
					body = EXCLUDED.body,
					fingerprint = EXCLUDED.fingerprint,
					deleted = EXCLUDED.deleted,
					revision = graph_documents.revision + 1
			`,
				collection, next.Key, next.From, next.To, string(next.Data), next.fingerprint, next.deleted,
			)
			if err != nil {
				return fmt.Errorf("%s/%s: %w", collection, p.Key, err)
			}
			if existing {
				res.Updated++
			} else {
				res.Created++
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("upsert %s: %w", collection, err)
	}
	return res, nil
}

// Exists implements Store.
func (s *PostgresStore) Exists(ctx context.Context, collection, key string) (bool, error) {
	if err := s.ensureReady(ctx); err != nil {
		return false, err
	}
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM graph_documents WHERE collection = $1 AND doc_key = $2)`,
		collection, key,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("exists %s/%s: %w", collection, key, err)
	}
	return exists, nil
}

// ImportStream implements Store.
func (s *PostgresStore) ImportStream(ctx context.Context, collection string, r io.Reader) (Result, error) {
	return importViaUpsert(ctx, s, collection, r)
}

// Ping implements Store.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Get implements Reader.
func (s *PostgresStore) Get(ctx context.Context, collection, key string) (Document, error) {
	if err := s.ensureReady(ctx); err != nil {
		return Document{}, err
	}
	var (
		doc      Document
		from, to *string
		body     string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT doc_key, from_handle, to_handle, body::text FROM graph_documents WHERE collection = $1 AND doc_key = $2`,
		collection, key,
	).Scan(&doc.Key, &from, &to, &body)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, fmt.Errorf("get %s/%s: %w", collection, key, ErrNotFound)
	}
	if err != nil {
		return Document{}, fmt.Errorf("get %s/%s: %w", collection, key, err)
	}
	if from != nil {
		doc.From = *from
	}
	if to != nil {
		doc.To = *to
	}
	doc.Data = []byte(body)
	return doc, nil
}

// Count implements Reader.
func (s *PostgresStore) Count(ctx context.Context, collection string) (int, error) {
	if err := s.ensureReady(ctx); err != nil {
		return 0, err
	}
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM graph_documents WHERE collection = $1`, collection,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	return n, nil
}
