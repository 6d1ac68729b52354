package queryir

import "fmt"

// ValidationResult reports problems found in a filter.
//
// Errors make a filter unusable. Warnings describe filters that are legal
// but almost certainly not what the caller meant (they match nothing).
type ValidationResult struct {
	Errors   []string
	Warnings []string
}

// Valid reports whether the filter can be compiled.
func (r ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// Validate checks a filter without executing it.
// Validate is a pure function with no side effects.
func Validate(f Filter) ValidationResult {
	v := &validator{}
	if f.Limit < 0 {
		v.addError("negative limit %d", f.Limit)
	}
	v.validatePredicate(f.Where)
	return ValidationResult{Errors: v.errors, Warnings: v.warnings}
}

type validator struct {
	errors   []string
	warnings []string
}

func (v *validator) addError(format string, args ...any) {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
}

func (v *validator) addWarning(format string, args ...any) {
	v.warnings = append(v.warnings, fmt.Sprintf(format, args...))
}

// validatePredicate recursively validates a predicate node.
func (v *validator) validatePredicate(p Predicate) {
	if p == nil {
		return
	}

	switch pred := p.(type) {
	case OwnerIn:
		if len(pred.Owners) == 0 {
			v.addWarning("empty owner set matches nothing")
		}
	case HeightAtMost:
		if pred.Height < 0 {
			v.addWarning("height ceiling %d is below genesis", pred.Height)
		}
	case TagEquals:
		if pred.Name == "" {
			v.addError("tag predicate with empty name")
		}
	case IDIn:
		if len(pred.IDs) == 0 {
			v.addWarning("empty id set matches nothing")
		}
	case TargetEquals:
	case And:
		for _, sub := range pred.Predicates {
			v.validatePredicate(sub)
		}
	default:
		v.addError("unknown predicate type: %T", p)
	}
}
