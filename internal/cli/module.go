package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/aosim/internal/compiler"
)

// PublishOptions holds flags for module publish.
type PublishOptions struct {
	*RootOptions
	Spawn        bool
	SchedulerURL string
}

// NamedID pairs a manifest name with the ledger id it was given.
type NamedID struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// PublishResult lists what module publish put on the ledger.
type PublishResult struct {
	SchedulerLocation string    `json:"scheduler_location,omitempty"`
	Modules           []NamedID `json:"modules"`
	Processes         []NamedID `json:"processes,omitempty"`
}

// NewModuleCommand creates the module command group.
func NewModuleCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "module",
		Short: "Publish modules from CUE manifests",
	}
	cmd.AddCommand(newModulePublishCommand(rootOpts))
	return cmd
}

func newModulePublishCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PublishOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "publish <manifest-dir>",
		Short: "Publish every module of a manifest directory",
		Long: `Compile the CUE manifests of a directory and publish each module
as a ledger item. With --spawn, every process the manifests declare is
spawned on the module it names. With --scheduler-url, the scheduler unit
first announces that URL in a Scheduler-Location item, once per URL.

Examples:
  aosim module publish ./manifests
  aosim module publish ./manifests --spawn --format json
  aosim module publish ./manifests --scheduler-url http://localhost:8734`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Spawn, "spawn", false, "spawn the declared processes")
	cmd.Flags().StringVar(&opts.SchedulerURL, "scheduler-url", "", "announce the scheduler unit at this URL")
	return cmd
}

func runPublish(opts *PublishOptions, dir string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()

	manifest, errs := compiler.LoadDir(dir, compiler.LoadModeFailFast)
	if len(errs) > 0 {
		return manifestError(f, errs[0])
	}
	f.VerboseLog("Loaded %d module(s) and %d process(es) from %s", len(manifest.Modules), len(manifest.Processes), dir)

	s, err := openSession(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	result := PublishResult{}
	if opts.SchedulerURL != "" {
		id, err := s.engine.PostSchedulerLocation(ctx, opts.SchedulerURL)
		if err != nil {
			return f.Fail("failed to announce scheduler location", err)
		}
		result.SchedulerLocation = id
	}
	ids := make(map[string]string, len(manifest.Modules))
	for i := range manifest.Modules {
		spec := &manifest.Modules[i]
		id, err := s.engine.PublishManifest(ctx, spec, dir, s.signer)
		if err != nil {
			return f.Fail("failed to publish module "+spec.Name, err)
		}
		ids[spec.Name] = id
		result.Modules = append(result.Modules, NamedID{Name: spec.Name, ID: id})
	}

	if opts.Spawn {
		for i := range manifest.Processes {
			spec := &manifest.Processes[i]
			pid, err := s.engine.SpawnManifest(ctx, spec, ids[spec.Module], s.signer)
			if err != nil {
				return f.Fail("failed to spawn process "+spec.Name, err)
			}
			result.Processes = append(result.Processes, NamedID{Name: spec.Name, ID: pid})
		}
	}

	return f.Emit(result, func(w io.Writer) {
		if result.SchedulerLocation != "" {
			fmt.Fprintf(w, "scheduler %-14s %s\n", opts.SchedulerURL, result.SchedulerLocation)
		}
		for _, m := range result.Modules {
			fmt.Fprintf(w, "module  %-16s %s\n", m.Name, m.ID)
		}
		for _, p := range result.Processes {
			fmt.Fprintf(w, "process %-16s %s\n", p.Name, p.ID)
		}
	})
}

// manifestError reports a manifest load failure with its compiler code.
func manifestError(f *OutputFormatter, err error) error {
	code := compiler.ErrCodeGeneric
	var loadErr *compiler.LoadError
	var verr compiler.ValidationError
	switch {
	case errors.As(err, &loadErr):
		code = loadErr.Code
	case errors.As(err, &verr):
		code = verr.Code
	}
	_ = f.Error(code, err.Error(), nil)
	return WrapExitError(ExitCommandError, "failed to load manifests", err)
}
