package queryir

// Predicate represents a filter condition over ledger transactions.
//
// This is a sealed interface - only types in this package implement it.
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// Filter selects committed transactions.
//
// Semantics:
//
//	SELECT id FROM transactions WHERE <where> ORDER BY height, position, id LIMIT <limit>
//
// A nil Where matches every transaction. Limit <= 0 means unlimited.
type Filter struct {
	Where Predicate
	Limit int
}

// OwnerIn matches transactions whose owner address is in Owners.
// An empty set matches nothing.
type OwnerIn struct {
	Owners []string
}

func (OwnerIn) predicateNode() {}

// HeightAtMost matches transactions committed at or below Height.
type HeightAtMost struct {
	Height int64
}

func (HeightAtMost) predicateNode() {}

// TagEquals matches transactions carrying a tag with exactly Name and Value.
// Repeated tag names are all considered, not just the first.
type TagEquals struct {
	Name  string
	Value string
}

func (TagEquals) predicateNode() {}

// IDIn matches transactions whose id is in IDs.
// An empty set matches nothing.
type IDIn struct {
	IDs []string
}

func (IDIn) predicateNode() {}

// TargetEquals matches transactions addressed to Target.
type TargetEquals struct {
	Target string
}

func (TargetEquals) predicateNode() {}

// And represents a conjunction of predicates (all must be true).
// Empty Predicates means "always true".
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// All is shorthand for And{Predicates: preds}.
func All(preds ...Predicate) And {
	return And{Predicates: preds}
}

// Tags expands name/value pairs into TagEquals predicates.
func Tags(pairs ...string) []Predicate {
	preds := make([]Predicate, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		preds = append(preds, TagEquals{Name: pairs[i], Value: pairs[i+1]})
	}
	return preds
}
