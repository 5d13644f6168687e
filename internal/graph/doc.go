// Package graph turns workspace entities into graph documents.
//
// Every function here is pure: given the same container metadata and object
// details it returns the same documents with the same keys. Documents are
// always full replacements of the entity they describe, never partial field
// updates, so re-deriving after a redelivered or reordered event converges
// to the same stored state.
//
// Vertex collections:
//
//	wsfull_workspace        one per workspace
//	wsfull_object           unversioned object slot, key "ws:obj"
//	wsfull_object_version   one saved version, key "ws:obj:ver"
//	wsfull_object_hash      content checksum shared across versions
//	wsfull_method_version   module + commit + method that produced a version
//	wsfull_user             workspace users
//
// Edge collections carry "_from" and "_to" as "collection/key" handles and
// a content-addressed "_key" derived from both endpoints.
package graph
