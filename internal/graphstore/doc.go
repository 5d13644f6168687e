// Package graphstore writes graph documents to a document store.
//
// Every backend implements Store with insert-or-update semantics keyed by
// (collection, _key). Writes are idempotent: re-sending an identical
// document is reported as ignored, a changed document as updated.
//
// # Backends
//
//   - memory://            in-process maps, for tests and dry runs
//   - sqlite:///path.db    local SQLite file (WAL mode)
//   - postgres://...       PostgreSQL via pgx
//   - http(s)://...        relation engine HTTP API (PUT /api/documents)
//
// # Deleted flag
//
// A document whose stored body has "deleted": true keeps that value when a
// later write carries "deleted": false. Object versions are immutable apart
// from this flag, and the flag only ever moves from false to true. The HTTP
// backend cannot enforce this; the relation engine owns the stored state.
//
// # Fingerprints
//
// Bodies are stored in RFC 8785 canonical form. The fingerprint is the hex
// SHA-256 of that form, so classification into created, updated and ignored
// does not depend on key order or whitespace in the incoming JSON.
package graphstore
