package compiler

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/aosim/internal/ir"
)

//go:embed schema.cue
var schemaSource string

// NativePrefix is the format prefix of built-in Go programs.
const NativePrefix = "native/"

// schema compiles the manifest constraints in the context of v, so the
// definitions can be unified with it.
func schema(v cue.Value, def string) (cue.Value, error) {
	s := v.Context().CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := s.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("manifest schema: %w", err)
	}
	return s.LookupPath(cue.MakePath(cue.Def(def))), nil
}

// CompileModule parses a CUE value into a ModuleSpec.
//
// The value should be the module struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`module: counter: { builtin: "counter" }`)
//	spec, err := CompileModule(v.LookupPath(cue.ParsePath("module.counter")))
//
// The struct is unified with the #Module schema first: unknown fields,
// an unsupported availability type or a malformed limit fail compilation
// and defaults fill in what the manifest leaves out.
func CompileModule(v cue.Value) (*ir.ModuleSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	def, err := schema(v, "Module")
	if err != nil {
		return nil, err
	}
	u := def.Unify(v)
	if err := u.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &ir.ModuleSpec{Name: label(v)}
	fields := []struct {
		name string
		dst  *string
	}{
		{"format", &spec.Format},
		{"builtin", &spec.Builtin},
		{"source", &spec.Source},
		{"extension", &spec.Extension},
		{"availability", &spec.Availability},
		{"memory_limit", &spec.MemoryLimit},
		{"compute_limit", &spec.ComputeLimit},
	}
	for _, f := range fields {
		if *f.dst, err = stringField(u, f.name); err != nil {
			return nil, err
		}
	}

	switch {
	case spec.Format == "" && spec.Builtin != "":
		spec.Format = NativePrefix + spec.Builtin
	case spec.Format == "":
		return nil, &CompileError{
			Field:   "format",
			Message: "format or builtin is required",
			Pos:     v.Pos(),
		}
	}

	if spec.Tags, err = parseTags(u.LookupPath(cue.ParsePath("tags"))); err != nil {
		return nil, err
	}
	return spec, nil
}

// label returns the last selector of the value's path, the manifest name.
func label(v cue.Value) string {
	sels := v.Path().Selectors()
	if len(sels) == 0 {
		return ""
	}
	return sels[len(sels)-1].String()
}

// stringField reads an optional string field, resolving defaults. An
// unset optional field reads as "".
func stringField(v cue.Value, name string) (string, error) {
	f := v.LookupPath(cue.ParsePath(name))
	if !f.Exists() {
		return "", nil
	}
	if d, ok := f.Default(); ok {
		f = d
	}
	if !f.IsConcrete() {
		return "", nil
	}
	s, err := f.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

// parseTags converts a tags struct into ordered tags. A list value
// repeats its name once per element, in order.
func parseTags(v cue.Value) (ir.Tags, error) {
	if !v.Exists() {
		return nil, nil
	}
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var tags ir.Tags
	for iter.Next() {
		name, val := iter.Label(), iter.Value()
		if s, err := val.String(); err == nil {
			tags = append(tags, ir.Tag{Name: name, Value: s})
			continue
		}
		list, err := val.List()
		if err != nil {
			return nil, &CompileError{
				Field:   "tags." + name,
				Message: "tag value must be a string or a list of strings",
				Pos:     val.Pos(),
			}
		}
		for list.Next() {
			s, err := list.Value().String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			tags = append(tags, ir.Tag{Name: name, Value: s})
		}
	}
	return tags, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
