// Package store provides the SQLite-backed ledger for aosim.
//
// The ledger is append-only:
//   - Blocks: one per posted bundle, heights strictly increasing from 1
//   - Transactions: the signed items committed in each block
//   - Tags: ordered name/value pairs per transaction (names may repeat)
//
// Mutable simulator state lives in a category-keyed kv table:
//   - env: process state (ir.Process)
//   - msgs: message bodies and output records (ir.MessageRecord)
//   - wasms: module bytecode and format (Module)
//   - blockmap: transaction id to block height
//
// # Critical Patterns
//
// Height Atomicity
//   - PostBundle reads the current height and appends the next block inside
//     one SQL transaction; the single connection serializes posts
//
// Deterministic Query Results
//   - Filter queries always ORDER BY height ASC, position ASC, id ASC
//   - Tag lists are returned in their stored order
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
