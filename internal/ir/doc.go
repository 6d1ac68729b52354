// Package ir provides the canonical data model shared by every aosim package.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import ir; ir imports nothing internal, which keeps it
// the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Tags are ordered and may repeat. Lookups return the FIRST match.
//   - Stored items are immutable once posted; helpers always return copies.
//   - Message, Output and Environment use the wire field names consumed by
//     hosted processes ("Block-Height", "Messages", ...), not snake_case.
//   - Identity is content-addressed: ids and the hash chain are computed in
//     hash.go from canonical JSON (canonical.go).
package ir
