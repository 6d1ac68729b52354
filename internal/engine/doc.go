// Package engine implements the aosim compute unit.
//
// The engine spawns processes, orders messages into them and dispatches the
// effects their hosts produce.
//
// ORDERING:
//
// Every assignment advances the process hash chain,
// hash' = SHA256(hash || messageID), opens a new epoch and posts a signed
// Assignment item carrying the new head. The chain is seeded with the
// process id, so the head is determined by the ordered message ids alone.
// Within one process, execution order is exactly assignment order.
//
// PROPAGATION:
//
// Each top-level call (Spawn, Message, Assign) owns a FIFO work queue.
// Outbound messages, spawns and assignments a host produces are queued in
// that order and drained breadth-first before the call returns. Two bounds
// apply per call:
//   - a (process, message) pair runs at most once (CycleDetector)
//   - at most WithMaxSteps effects are dispatched (the call's effect budget)
//
// A failed effect is logged and never undoes the message that caused it.
//
// CONCURRENCY:
//
// Work on one process id is serialized by a per-process mutex that also
// guards the lazily created host handle. Cron timers are the only source
// of background calls; they take the same mutex.
//
// ERRORS:
//
// Unknown processes and messages yield empty results, not errors. A host
// Error is recorded on the message output. A capability halt from the drive
// is returned to the caller and halts the process until Resume.
package engine
