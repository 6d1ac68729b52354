package compiler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/aosim/internal/ir"
)

// Validation error codes (E100-E199)
const (
	// General validation errors (E100)
	ErrUnsupportedIRType = "E100" // unsupported IR type for validation

	// ModuleSpec errors (E101-E109)
	ErrModuleFormat       = "E101" // missing or unsupported module format
	ErrModuleSource       = "E102" // wasm module without a bytecode source
	ErrModuleBuiltin      = "E103" // builtin does not match a native format
	ErrModuleAvailability = "E104" // unknown availability type
	ErrDuplicateName      = "E105" // duplicate module or process name
	ErrModuleLimit        = "E106" // malformed memory or compute limit

	// ProcessSpec errors (E110-E119)
	ErrProcessModule   = "E110" // process without a module
	ErrUnknownModule   = "E111" // process names a module not in the set
	ErrCronInterval    = "E112" // malformed cron interval
	ErrCronTagsNoTimer = "E113" // cron tags without an interval
	ErrReservedTag     = "E114" // tag the engine stamps itself
)

// ValidationError represents a manifest validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

var (
	memoryLimitPattern  = regexp.MustCompile(`^[0-9]+-(b|kb|mb|gb)$`)
	computeLimitPattern = regexp.MustCompile(`^[0-9]+$`)
	cronPattern         = regexp.MustCompile(`^[1-9][0-9]*-(millisecond|second|minute|hour|day|month|year)s?$`)
)

// reservedProcessTags are stamped by the engine on every spawn and are
// stripped or overridden when a manifest sets them.
var reservedProcessTags = map[string]bool{
	"Module":    true,
	"Scheduler": true,
	"Type":      true,
}

// Validate validates compiled IR against manifest rules.
// Returns all errors found (does not fail-fast).
// Supports ModuleSpec and ProcessSpec types.
func Validate(v any) []ValidationError {
	switch spec := v.(type) {
	case *ir.ModuleSpec:
		return validateModuleSpec(spec)
	case ir.ModuleSpec:
		return validateModuleSpec(&spec)
	case *ir.ProcessSpec:
		return validateProcessSpec(spec)
	case ir.ProcessSpec:
		return validateProcessSpec(&spec)
	default:
		return []ValidationError{{
			Field:   "type",
			Message: fmt.Sprintf("unsupported IR type: %T", v),
			Code:    ErrUnsupportedIRType,
		}}
	}
}

func validateModuleSpec(spec *ir.ModuleSpec) []ValidationError {
	var errs []ValidationError

	native := strings.HasPrefix(spec.Format, NativePrefix)
	wasm := strings.HasPrefix(spec.Format, "wasm32-") || strings.HasPrefix(spec.Format, "wasm64-")

	// E101: format must select a host
	if !native && !wasm {
		errs = append(errs, ValidationError{
			Field:   "format",
			Message: fmt.Sprintf("unsupported format %q, want native/<program>, wasm32-* or wasm64-*", spec.Format),
			Code:    ErrModuleFormat,
		})
	}
	if native && strings.TrimPrefix(spec.Format, NativePrefix) == "" {
		errs = append(errs, ValidationError{
			Field:   "format",
			Message: "native format names no program",
			Code:    ErrModuleFormat,
		})
	}

	// E102: wasm bytecode comes from a file
	if wasm && strings.TrimSpace(spec.Source) == "" {
		errs = append(errs, ValidationError{
			Field:   "source",
			Message: "wasm modules require a source file",
			Code:    ErrModuleSource,
		})
	}

	// E103: builtin only makes sense for the native host
	if spec.Builtin != "" && spec.Format != NativePrefix+spec.Builtin {
		errs = append(errs, ValidationError{
			Field:   "builtin",
			Message: fmt.Sprintf("builtin %q conflicts with format %q", spec.Builtin, spec.Format),
			Code:    ErrModuleBuiltin,
		})
	}

	// E104: availability type
	switch spec.Availability {
	case "", "Assignments", "Individual", "Library":
	default:
		errs = append(errs, ValidationError{
			Field:   "availability",
			Message: fmt.Sprintf("unknown availability type %q", spec.Availability),
			Code:    ErrModuleAvailability,
		})
	}

	// E106: limits
	if spec.MemoryLimit != "" && !memoryLimitPattern.MatchString(spec.MemoryLimit) {
		errs = append(errs, ValidationError{
			Field:   "memory_limit",
			Message: fmt.Sprintf("malformed memory limit %q", spec.MemoryLimit),
			Code:    ErrModuleLimit,
		})
	}
	if spec.ComputeLimit != "" && !computeLimitPattern.MatchString(spec.ComputeLimit) {
		errs = append(errs, ValidationError{
			Field:   "compute_limit",
			Message: fmt.Sprintf("malformed compute limit %q", spec.ComputeLimit),
			Code:    ErrModuleLimit,
		})
	}

	return errs
}

func validateProcessSpec(spec *ir.ProcessSpec) []ValidationError {
	var errs []ValidationError

	// E110: module required
	if strings.TrimSpace(spec.Module) == "" {
		errs = append(errs, ValidationError{
			Field:   "module",
			Message: "module is required",
			Code:    ErrProcessModule,
		})
	}

	// E112: cron interval
	if spec.CronInterval != "" && !cronPattern.MatchString(strings.ToLower(spec.CronInterval)) {
		errs = append(errs, ValidationError{
			Field:   "cron.interval",
			Message: fmt.Sprintf("malformed cron interval %q, want <n>-<unit>", spec.CronInterval),
			Code:    ErrCronInterval,
		})
	}

	// E113: cron tags need a timer
	if spec.CronInterval == "" && len(spec.CronTags) > 0 {
		errs = append(errs, ValidationError{
			Field:   "cron.tags",
			Message: "cron tags set without an interval",
			Code:    ErrCronTagsNoTimer,
		})
	}

	// E114: reserved tags
	for i, t := range spec.Tags {
		if reservedProcessTags[t.Name] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("tags[%d]", i),
				Message: fmt.Sprintf("tag %q is set by the engine", t.Name),
				Code:    ErrReservedTag,
			})
		}
	}

	return errs
}

// ValidateSet validates a manifest set as a whole: each spec on its own,
// plus unique names and module references that resolve within the set.
func ValidateSet(modules []ir.ModuleSpec, processes []ir.ProcessSpec) []ValidationError {
	var errs []ValidationError

	moduleNames := make(map[string]bool, len(modules))
	for i := range modules {
		m := &modules[i]
		for _, e := range validateModuleSpec(m) {
			e.Field = fmt.Sprintf("module.%s.%s", m.Name, e.Field)
			errs = append(errs, e)
		}
		// E105: duplicate module name
		if moduleNames[m.Name] {
			errs = append(errs, ValidationError{
				Field:   "module." + m.Name,
				Message: fmt.Sprintf("duplicate module name: %q", m.Name),
				Code:    ErrDuplicateName,
			})
		}
		moduleNames[m.Name] = true
	}

	processNames := make(map[string]bool, len(processes))
	for i := range processes {
		p := &processes[i]
		for _, e := range validateProcessSpec(p) {
			e.Field = fmt.Sprintf("process.%s.%s", p.Name, e.Field)
			errs = append(errs, e)
		}
		if processNames[p.Name] {
			errs = append(errs, ValidationError{
				Field:   "process." + p.Name,
				Message: fmt.Sprintf("duplicate process name: %q", p.Name),
				Code:    ErrDuplicateName,
			})
		}
		processNames[p.Name] = true

		// E111: module must be in the set
		if p.Module != "" && !moduleNames[p.Module] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("process.%s.module", p.Name),
				Message: fmt.Sprintf("unknown module %q", p.Module),
				Code:    ErrUnknownModule,
			})
		}
	}

	return errs
}
