// Package queryir provides the filter intermediate representation used to
// search committed ledger transactions.
//
// ARCHITECTURE:
//
//	[admissibility / gateway JSON] -> [Filter] -> [querysql] -> SQLite
//
// A Filter is a conjunction of predicates over transaction fields and tags.
// It is the only query surface the engine and WeaveDrive use; backends never
// see hand-written SQL.
//
// SEALED INTERFACE:
//
// Predicate is sealed with a marker method. Only types in this package
// implement it, which keeps backend type switches exhaustive:
//
//	switch p := pred.(type) {
//	case OwnerIn:
//	case HeightAtMost:
//	case TagEquals:
//	case IDIn:
//	case TargetEquals:
//	case And:
//	}
//
// Predicates:
//   - OwnerIn: transaction owner is one of a set (empty set matches nothing)
//   - HeightAtMost: committed at or below a block height
//   - TagEquals: carries a tag with exactly this name and value
//   - IDIn: transaction id is one of a set
//   - TargetEquals: transaction target equals a value
//   - And: all predicates hold (empty And is always true)
//
// Results are always ordered by (height, position, id) so repeated queries
// over the same ledger return identical lists.
package queryir
