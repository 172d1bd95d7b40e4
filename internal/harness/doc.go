// Package harness provides declarative conformance tests for the sync
// engine.
//
// Scenarios are YAML files that seed local, remote, and queue state,
// drive the engine through sync cycles, connectivity changes, and clock
// advances, and assert on the final state:
//
//	name: offline_queue_replay
//	description: "Queued actions replay once connectivity returns"
//	offline: true
//	local:
//	  - kind: job
//	    dirty: true
//	    record: { id: job-9, ... }
//	queue:
//	  - entity: job
//	    action: update
//	    payload: { id: job-q, ... }
//	steps:
//	  - sync: bidirectional
//	  - online: true
//	  - sync: bidirectional
//	assertions:
//	  - type: queue_pending
//	    count: 0
//	  - type: remote_has
//	    kind: job
//	    id: job-q
//
// Every run uses a real SQLite store in a temp directory, fake remote
// collaborators, and a deterministic clock, so runs are reproducible and
// final-state snapshots can be compared against golden files
// (testdata/golden, regenerate with -update).
package harness
