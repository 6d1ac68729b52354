package compiler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/aosim/internal/ir"
)

// LoadMode controls how errors are handled during manifest loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// Manifest is a compiled manifest set: the modules to publish and the
// processes to spawn from them, in declaration order.
type Manifest struct {
	Modules   []ir.ModuleSpec
	Processes []ir.ProcessSpec
	CUEValue  cue.Value // The raw CUE value for additional processing
	FileCount int       // Number of CUE files found
}

// Module returns the module spec named name.
func (m *Manifest) Module(name string) (*ir.ModuleSpec, bool) {
	for i := range m.Modules {
		if m.Modules[i].Name == name {
			return &m.Modules[i], true
		}
	}
	return nil, false
}

// Process returns the process spec named name.
func (m *Manifest) Process(name string) (*ir.ProcessSpec, bool) {
	for i := range m.Processes {
		if m.Processes[i].Name == name {
			return &m.Processes[i], true
		}
	}
	return nil, false
}

// LoadError represents an error that occurred during manifest loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Load error codes, shared by every command that reads manifests.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeWriteFailed = "E007" // File write error
)

// LoadDir loads and compiles the CUE manifests of a directory.
// If mode is LoadModeFailFast, returns on first error.
// If mode is LoadModeCollectAll, collects all errors.
func LoadDir(dir string, mode LoadMode) (*Manifest, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("manifest directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing manifest directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	m, errs := CompileManifest(value, mode)
	m.FileCount = len(cueFiles)
	return m, errs
}

// LoadSource compiles manifest CUE held in memory. Scenario files embed
// their manifests this way.
func LoadSource(filename, src string, mode LoadMode) (*Manifest, []error) {
	value := cuecontext.New().CompileString(src, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}
	return CompileManifest(value, mode)
}

// CompileManifest compiles the module and process structs of a built
// CUE value and validates them as a set.
func CompileManifest(value cue.Value, mode LoadMode) (*Manifest, []error) {
	var errs []error
	m := &Manifest{CUEValue: value}

	// fail records err and reports whether loading should stop.
	fail := func(err error) bool {
		errs = append(errs, err)
		return mode == LoadModeFailFast
	}

	if modules := value.LookupPath(cue.ParsePath("module")); modules.Exists() {
		iter, err := modules.Fields()
		if err != nil {
			if fail(&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating modules: %v", err)}) {
				return m, errs
			}
		} else {
			for iter.Next() {
				spec, err := CompileModule(iter.Value())
				if err != nil {
					if fail(convertCompileError(err, "module."+iter.Label())) {
						return m, errs
					}
					continue
				}
				m.Modules = append(m.Modules, *spec)
			}
		}
	}

	if processes := value.LookupPath(cue.ParsePath("process")); processes.Exists() {
		iter, err := processes.Fields()
		if err != nil {
			if fail(&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating processes: %v", err)}) {
				return m, errs
			}
		} else {
			for iter.Next() {
				spec, err := CompileProcess(iter.Value())
				if err != nil {
					if fail(convertCompileError(err, "process."+iter.Label())) {
						return m, errs
					}
					continue
				}
				m.Processes = append(m.Processes, *spec)
			}
		}
	}

	if len(m.Modules) == 0 && len(m.Processes) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: "no modules or processes found in manifests"})
		return m, errs
	}

	for _, verr := range ValidateSet(m.Modules, m.Processes) {
		if fail(verr) {
			return m, errs
		}
	}
	return m, errs
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, context string) *LoadError {
	var compileErr *CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: fmt.Sprintf("%s: %s", context, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}

// MapFieldToErrorCode maps a compiler error field to a validation code.
func MapFieldToErrorCode(field string) string {
	switch field {
	case "format":
		return ErrModuleFormat
	case "source":
		return ErrModuleSource
	case "builtin":
		return ErrModuleBuiltin
	case "availability":
		return ErrModuleAvailability
	case "memory_limit", "compute_limit":
		return ErrModuleLimit
	case "module":
		return ErrProcessModule
	case "cron", "cron.interval":
		return ErrCronInterval
	default:
		return ErrCodeGeneric
	}
}
