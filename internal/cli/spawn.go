package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/aosim/internal/engine"
)

// SpawnOptions holds flags for the spawn command.
type SpawnOptions struct {
	*RootOptions
	Tags      []string
	Data      string
	Scheduler string
}

// SpawnResult is the output of the spawn command.
type SpawnResult struct {
	Process string `json:"process"`
	Module  string `json:"module"`
	Output  string `json:"output,omitempty"`
}

// NewSpawnCommand creates the spawn command.
func NewSpawnCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SpawnOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "spawn <module-id>",
		Short: "Spawn a process from a published module",
		Long: `Spawn a process on a published module. The spawn item carries the
given tags and data; an On-Boot tag runs the boot message before the
process accepts messages.

Examples:
  aosim spawn <module-id> --tag On-Boot=Data --data 10
  aosim spawn <module-id> --tag Cron-Interval=5-seconds --tag Cron-Tag-Action=Tick`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSpawn(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Tags, "tag", "t", nil, "spawn tag as Name=Value (repeatable)")
	cmd.Flags().StringVar(&opts.Data, "data", "", "spawn data")
	cmd.Flags().StringVar(&opts.Scheduler, "scheduler", "", "scheduler address (default: the local scheduler)")
	return cmd
}

func runSpawn(opts *SpawnOptions, module string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()

	tags, err := parseTags(opts.Tags)
	if err != nil {
		return f.Usage(CodeConfig, err.Error())
	}

	s, err := openSession(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	scheduler := opts.Scheduler
	if scheduler == "" {
		scheduler = s.engine.Scheduler()
	}
	pid, err := s.engine.Spawn(ctx, engine.SpawnRequest{
		Module:    module,
		Scheduler: scheduler,
		Tags:      tags,
		Data:      opts.Data,
		Signer:    s.signer,
	})
	if err != nil {
		return f.Fail("failed to spawn", err)
	}

	result := SpawnResult{Process: pid, Module: module}
	if out, err := s.engine.Result(ctx, pid, pid); err == nil && out != nil {
		result.Output = out.Output
	}
	return f.Emit(result, func(w io.Writer) {
		fmt.Fprintln(w, pid)
		if result.Output != "" {
			fmt.Fprintf(w, "boot: %s\n", result.Output)
		}
	})
}
