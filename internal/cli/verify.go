package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/aosim/internal/engine"
)

// VerifyEntry is the hash-chain check of one process.
type VerifyEntry struct {
	Process string `json:"process"`
	Valid   bool   `json:"valid"`
	Error   string `json:"error,omitempty"`
}

// VerifyResult is the output of the verify command.
type VerifyResult struct {
	Processes []VerifyEntry `json:"processes"`
	Valid     int           `json:"valid"`
	Invalid   int           `json:"invalid"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify [process-id...]",
		Short: "Recompute process hash chains from the ledger",
		Long: `Walk the assignments of each process on the ledger, fold their
message ids into a hash chain and compare it with every recorded
Hash-Chain tag and the process's current hash. With no arguments every
process on the ledger is checked.

Exit codes:
  0 - All hash chains verified
  1 - At least one chain does not match
  2 - Command error`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runVerify(opts *RootOptions, pids []string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)
	ctx := cmd.Context()

	s, err := openSession(ctx, opts)
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	if len(pids) == 0 {
		if pids, err = s.engine.Processes(ctx); err != nil {
			return f.Fail("failed to list processes", err)
		}
	}

	result := VerifyResult{Processes: make([]VerifyEntry, 0, len(pids))}
	for _, pid := range pids {
		f.VerboseLog("Verifying %s", pid)
		entry := VerifyEntry{Process: pid, Valid: true}
		if err := s.engine.VerifyHashChain(ctx, pid); err != nil {
			if !engine.IsHashMismatch(err) && !engine.IsNotFound(err) {
				return f.Fail("failed to verify "+pid, err)
			}
			entry.Valid = false
			entry.Error = err.Error()
			result.Invalid++
		} else {
			result.Valid++
		}
		result.Processes = append(result.Processes, entry)
	}

	if err := f.Emit(result, func(w io.Writer) {
		for _, e := range result.Processes {
			if e.Valid {
				fmt.Fprintf(w, "✓ %s\n", e.Process)
			} else {
				fmt.Fprintf(w, "✗ %s: %s\n", e.Process, e.Error)
			}
		}
		fmt.Fprintf(w, "\n%d verified, %d mismatched\n", result.Valid, result.Invalid)
	}); err != nil {
		return err
	}
	if result.Invalid > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d hash chain(s) do not match", result.Invalid))
	}
	return nil
}

// NewResumeCommand creates the resume command.
func NewResumeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume <process-id>",
		Short: "Clear the halt of a process",
		Long: `Clear a halted process so it accepts assignments again. A process
halts when a WeaveDrive read is refused; attest the content first, then
resume.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResume(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runResume(opts *RootOptions, pid string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)
	ctx := cmd.Context()

	s, err := openSession(ctx, opts)
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	if err := s.engine.Resume(ctx, pid); err != nil {
		return f.Fail("resume failed", err)
	}
	return f.Emit(map[string]string{"process": pid, "status": "resumed"}, func(w io.Writer) {
		fmt.Fprintf(w, "✓ %s resumed\n", pid)
	})
}
