package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/aosim/internal/compiler"
	"github.com/roach88/aosim/internal/ir"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool                       `json:"valid"`
	Modules   int                        `json:"modules"`
	Processes int                        `json:"processes"`
	Errors    []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <manifest-dir>",
		Short: "Validate CUE manifests without publishing",
		Long: `Check the CUE module and process manifests of a directory against
the manifest schema and against each other: formats, availability types,
resource limits, cron intervals and module references. Every error is
reported, not just the first.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	manifest, errs := compiler.LoadDir(dir, compiler.LoadModeCollectAll)
	if manifest == nil {
		return manifestError(f, errs[0])
	}
	f.VerboseLog("Found %d CUE file(s) in %s", manifest.FileCount, dir)

	result := ValidationResult{
		Valid:     len(errs) == 0,
		Modules:   len(manifest.Modules),
		Processes: len(manifest.Processes),
	}
	for _, err := range errs {
		result.Errors = append(result.Errors, toValidationError(err))
	}

	if result.Valid {
		return f.Emit(result, func(w io.Writer) {
			fmt.Fprintf(w, "✓ All manifests valid (%d module(s), %d process(es))\n", result.Modules, result.Processes)
		})
	}

	msg := fmt.Sprintf("validation failed with %d error(s)", len(result.Errors))
	if f.JSON() {
		first := result.Errors[0]
		if err := f.encode(CLIResponse{
			Status: "error",
			Data:   result,
			Error:  &CLIError{Code: first.Code, Message: first.Message},
		}); err != nil {
			return err
		}
		return NewExitError(ExitFailure, msg)
	}

	fmt.Fprintln(f.Writer, "✗ Validation failed")
	fmt.Fprintln(f.Writer)
	for _, e := range result.Errors {
		if e.Line > 0 {
			fmt.Fprintf(f.Writer, "line %d\n", e.Line)
		}
		fmt.Fprintf(f.Writer, "  %s: %s\n\n", e.Code, e.Message)
	}
	return NewExitError(ExitFailure, msg)
}

// toValidationError flattens a load or validation error into the form the
// validate command reports.
func toValidationError(err error) compiler.ValidationError {
	var verr compiler.ValidationError
	if errors.As(err, &verr) {
		return verr
	}
	var loadErr *compiler.LoadError
	if errors.As(err, &loadErr) {
		line := 0
		if loadErr.Pos.IsValid() {
			line = loadErr.Pos.Line()
		}
		return compiler.ValidationError{Field: "load", Message: loadErr.Message, Code: loadErr.Code, Line: line}
	}
	return compiler.ValidationError{Field: "load", Message: err.Error(), Code: compiler.ErrCodeGeneric}
}

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string
}

// CompilationResult is the compiled manifest set.
type CompilationResult struct {
	Modules   []ir.ModuleSpec  `json:"modules"`
	Processes []ir.ProcessSpec `json:"processes"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <manifest-dir>",
		Short: "Compile CUE manifests to module and process specs",
		Long: `Compile the CUE manifests of a directory with schema defaults
applied and print the resulting module and process specs as JSON.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")
	return cmd
}

func runCompile(opts *CompileOptions, dir string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	manifest, errs := compiler.LoadDir(dir, compiler.LoadModeCollectAll)
	if len(errs) > 0 {
		for _, err := range errs[1:] {
			f.VerboseLog("%v", err)
		}
		return manifestError(f, errs[0])
	}

	result := CompilationResult{
		Modules:   nonNil(manifest.Modules),
		Processes: nonNil(manifest.Processes),
	}
	if opts.Output != "" {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return f.Usage(compiler.ErrCodeWriteFailed, err.Error())
		}
		if err := os.WriteFile(opts.Output, data, 0o644); err != nil {
			return f.Usage(compiler.ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err))
		}
	}

	return f.Emit(result, func(w io.Writer) {
		fmt.Fprintln(w, "✓ Compilation successful")
		for _, m := range result.Modules {
			fmt.Fprintf(w, "  module  %s (%s)\n", m.Name, m.Format)
		}
		for _, p := range result.Processes {
			fmt.Fprintf(w, "  process %s on %s\n", p.Name, p.Module)
		}
		if opts.Output != "" {
			fmt.Fprintf(w, "Output written to %s\n", opts.Output)
		}
	})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
