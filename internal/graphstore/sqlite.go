package graphstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"io"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - initial documents table
// 1 - revision column for change counting on existing databases
const currentSchemaVersion = 1

// SQLiteStore stores documents in a local SQLite database.
// Uses WAL mode so status reads do not block the writer.
type SQLiteStore struct {
	db *sql.DB
}

var (
	_ Store  = (*SQLiteStore)(nil)
	_ Reader = (*SQLiteStore)(nil)
)

// OpenSQLite creates or opens a SQLite database at path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//
// Safe to call on an existing database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the revision column to databases created before it
// existed. New databases already have it from schema.sql.
func migrateToV1(db *sql.DB) error {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('documents') WHERE name = 'revision'`).Scan(&n)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := db.Exec(`ALTER TABLE documents ADD COLUMN revision INTEGER NOT NULL DEFAULT 1`); err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *SQLiteStore) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// Upsert writes docs in one transaction. A document identical to the stored
// copy is left untouched and counted as ignored.
func (s *SQLiteStore) Upsert(ctx context.Context, collection string, docs []Document) (Result, error) {
	batch := make([]prepared, 0, len(docs))
	for _, d := range docs {
		p, err := prepare(collection, d)
		if err != nil {
			return Result{}, fmt.Errorf("upsert %s: %w", collection, err)
		}
		batch = append(batch, p)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, fmt.Errorf("upsert %s: begin: %w", collection, err)
	}
	defer tx.Rollback()

	var res Result
	for _, p := range batch {
		var (
			storedFingerprint string
			storedDeleted     bool
			existing          = true
		)
		err := tx.QueryRowContext(ctx,
			`SELECT fingerprint, deleted FROM documents WHERE collection = ? AND doc_key = ?`,
			collection, p.Key,
		).Scan(&storedFingerprint, &storedDeleted)
		if errors.Is(err, sql.ErrNoRows) {
			existing = false
		} else if err != nil {
			return Result{}, fmt.Errorf("upsert %s/%s: %w", collection, p.Key, err)
		}

		next, changed, err := resolve(p, existing, storedFingerprint, storedDeleted)
		if err != nil {
			return Result{}, fmt.Errorf("upsert %s/%s: %w", collection, p.Key, err)
		}
		if existing && !changed {
			res.Ignored++
			continue
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents
			(collection, doc_key, from_handle, to_handle, body, fingerprint, deleted)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(collection, doc_key) DO UPDATE SET
				from_handle = excluded.from_handle,
				to_handle = excluded.to_handle,
				body = excluded.body,
				fingerprint = excluded.fingerprint,
				deleted = excluded.deleted,
				revision = documents.revision + 1
		`,
			collection,
			next.Key,
			nullString(next.From),
			nullString(next.To),
			string(next.Data),
			next.fingerprint,
			next.deleted,
		)
		if err != nil {
			return Result{}, fmt.Errorf("upsert %s/%s: %w", collection, p.Key, err)
		}
		if existing {
			res.Updated++
		} else {
			res.Created++
		}
	}

	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("upsert %s: commit: %w", collection, err)
	}
	return res, nil
}

// Exists implements Store.
func (s *SQLiteStore) Exists(ctx context.Context, collection, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM documents WHERE collection = ? AND doc_key = ?`,
		collection, key,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists %s/%s: %w", collection, key, err)
	}
	return true, nil
}

// ImportStream implements Store.
func (s *SQLiteStore) ImportStream(ctx context.Context, collection string, r io.Reader) (Result, error) {
	return importViaUpsert(ctx, s, collection, r)
}

// Ping implements Store.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Get implements Reader.
func (s *SQLiteStore) Get(ctx context.Context, collection, key string) (Document, error) {
	var (
		doc      Document
		from, to sql.NullString
		body     string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT doc_key, from_handle, to_handle, body FROM documents WHERE collection = ? AND doc_key = ?`,
		collection, key,
	).Scan(&doc.Key, &from, &to, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("get %s/%s: %w", collection, key, ErrNotFound)
	}
	if err != nil {
		return Document{}, fmt.Errorf("get %s/%s: %w", collection, key, err)
	}
	doc.From = from.String
	doc.To = to.String
	doc.Data = []byte(body)
	return doc, nil
}

// Count implements Reader.
func (s *SQLiteStore) Count(ctx context.Context, collection string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE collection = ?`, collection,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	return n, nil
}

// Revision returns how many times a document has been written with a
// changed body. Used for testing idempotence.
func (s *SQLiteStore) Revision(ctx context.Context, collection, key string) (int, error) {
	var rev int
	err := s.db.QueryRowContext(ctx,
		`SELECT revision FROM documents WHERE collection = ? AND doc_key = ?`,
		collection, key,
	).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("revision %s/%s: %w", collection, key, ErrNotFound)
	}
	return rev, err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
