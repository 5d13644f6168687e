// Package backfill materializes whole workspaces into the graph store.
//
// A run resolves its target containers (explicit ids, an id range, or every
// workspace owned by a set of users), then for each container:
//
//  1. writes the workspace vertex, its owner and its permission edges
//  2. pages through every live object version and fetches details in
//     batches, building documents for each batch
//  3. pages through deleted versions and writes them with deleted=true
//  4. flushes the sink so errors are tagged with the container they
//     belong to
//
// # Failure isolation
//
// No single failure aborts a run. A failed page ends that container's
// listing (the continuation cursor is unknown past the failure) and its
// deleted pass is skipped, so a container whose listing fails contributes
// exactly one error. A failed detail batch or flush is recorded and the
// scan continues with the next batch. Every error carries the container id
// and stage it happened in.
//
// Runs share nothing in memory: each has its own sink, so concurrent runs
// and event workers meet only at the store, through idempotent upserts.
package backfill
