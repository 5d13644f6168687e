// Package harness runs sync scenarios: a fake workspace, a sequence of
// backfills and change events, and assertions on the resulting graph.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: delete_is_sticky
//	description: "An undelete event does not clear the deleted flag"
//	run_id: run-1
//	workspace:
//	  containers:
//	    - id: 10
//	      owner: someuser
//	      permissions: { someuser: a }
//	      generate: 3
//	      objects:
//	        - { id: 4, name: reads, checksum: 0e8d1a5090be7c4e9ccf6d37c09d0eab }
//	  failures:
//	    - { op: list, wsid: 11, message: "connection reset" }
//	steps:
//	  - backfill: { containers: [10] }
//	    expect: { outcome: success, objects: 4 }
//	  - event: { wsid: 10, objid: 2, evtype: OBJECT_DELETE_STATE_CHANGE }
//	    expect: { outcome: success }
//	  - raw: "not json"
//	    expect: { outcome: fatal, errors: [MALFORMED] }
//	assertions:
//	  - type: document
//	    collection: wsfull_object
//	    key: "10:2"
//	    expect: { deleted: true }
//	  - type: edge
//	    collection: wsfull_ws_contains_obj
//	    from: wsfull_workspace/10
//	    to: wsfull_object/10:2
//	  - type: collection_count
//	    collection: wsfull_object_version
//	    count: 4
//
// # Assertion Types
//
//   - document: the document exists and its body contains expect (subset match)
//   - no_document: the document does not exist
//   - edge: an edge between from and to exists, optionally matching expect
//   - collection_count: the collection holds exactly count documents
//
// # Deterministic Testing
//
// Every run starts from an empty in-memory store with a fixed run id, so
// the store dump compares byte-for-byte against a golden file.
package harness
