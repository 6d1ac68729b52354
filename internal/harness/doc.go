// Package harness runs conformance scenarios against the compute-unit
// engine.
//
// A scenario publishes the modules of a CUE manifest, spawns its
// processes, runs a list of steps and then checks assertions over the
// resulting trace and the engine's final state. Every run uses a fresh
// ledger, seeded wallets, a logical clock and numbered flow tokens, so the
// same scenario always produces the same ledger ids and the same trace.
//
// # Scenario Format
//
//	name: counter_basic
//	description: "Counter boots from its spawn data and adds"
//	flow_token: counter
//	manifest: |
//	  module: counter: builtin: "counter"
//	  process: total: { module: "counter", on_boot: "Data", data: "10" }
//	steps:
//	  - message: total
//	    as: add5
//	    tags: { Action: Add, Plus: "5" }
//	    expect: { output: "15" }
//	  - dryrun: total
//	    tags: { Action: Get }
//	    expect: { output: "15" }
//	assertions:
//	  - type: final_state
//	    process: total
//	    expect: { height: 1, hash_chain: true }
//
// Tag values and data may reference any alias as ${alias}: processes by
// manifest name or "as", messages by "as" or "<process>#<n>", uploads by
// their name, and module ids by module manifest name.
//
// # Step Types
//
//   - message: sign and send a message, then drain its effects
//   - dryrun: evaluate a message without committing anything
//   - assign: order an existing message into another process
//   - spawn: spawn another instance of a manifest process
//   - upload, attest, avail: post content and its availability markers
//   - resume: clear a process halt
//
// # Assertion Types
//
//   - trace_contains: an event matches kind, process, message and output
//   - trace_order: labelled events ("kind:alias") appear in order
//   - trace_count: exactly N events match
//   - final_state: height, results, epochs, halted and hash_chain of a process
//   - result: the stored output or error of a message in a process
//   - ledger_count: the number of transactions carrying a set of tags
//
// # Traces
//
// Trace events name ids by alias. Effects the engine dispatched on its own
// appear as result events (and spawn events for spawned children), found by
// walking the ledger committed by each step. Aliases for ids a scenario
// never named are invented in order of appearance: "msg-1", "proc-2".
package harness
