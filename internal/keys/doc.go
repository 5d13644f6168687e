// Package keys derives the stable document keys used for every vertex and
// edge written to the graph store.
//
// Keys are pure functions of source identifiers. Re-deriving a key for the
// same workspace entity always yields the same string, which is what makes
// every write an idempotent upsert.
//
// Key formats:
//
//	container       "41347"
//	object          "41347:5"
//	object version  "41347:5:1"
//	method version  "narrative:3.10.0:run_app"
//
// The workspace itself addresses versions as "41347/5/1" (a UPA). The slash
// is reserved by the graph store for "collection/key" document handles, so
// keys use Delimiter instead. Anything that splits a key back into its parts
// must go through Parse.
//
// Edge keys are content-addressed: SHA-256 over a domain prefix, a null byte
// separator, and the edge collection plus both endpoints.
package keys
