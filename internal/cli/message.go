package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/aosim/internal/engine"
	"github.com/roach88/aosim/internal/ir"
)

// MessageOptions holds flags shared by message and dryrun.
type MessageOptions struct {
	*RootOptions
	Tags []string
	Data string
	From string
}

// MessageResult is the output of message, assign and dryrun.
type MessageResult struct {
	Process string     `json:"process"`
	Message string     `json:"message,omitempty"`
	Result  *ir.Output `json:"result,omitempty"`
}

func (r MessageResult) text(w io.Writer) {
	if r.Message != "" {
		fmt.Fprintln(w, r.Message)
	}
	writeOutput(w, r.Result)
}

// writeOutput renders an output record for a terminal.
func writeOutput(w io.Writer, out *ir.Output) {
	if out == nil {
		fmt.Fprintln(w, "(no result)")
		return
	}
	if out.Error != "" {
		fmt.Fprintf(w, "error: %s\n", out.Error)
	} else {
		fmt.Fprintf(w, "output: %s\n", out.Output)
	}
	for _, m := range out.Messages {
		fmt.Fprintf(w, "  -> message %s %v\n", m.Target, m.Tags.Map())
	}
	for _, sp := range out.Spawns {
		fmt.Fprintf(w, "  -> spawn %v\n", sp.Tags.Map())
	}
	for _, a := range out.Assignments {
		fmt.Fprintf(w, "  -> assign %s to %v\n", a.Message, a.Processes)
	}
}

func addMessageFlags(cmd *cobra.Command, opts *MessageOptions) {
	cmd.Flags().StringArrayVarP(&opts.Tags, "tag", "t", nil, "message tag as Name=Value (repeatable)")
	cmd.Flags().StringVar(&opts.Data, "data", "", "message data")
	cmd.Flags().StringVar(&opts.From, "from", "", "sender address seen by the process")
}

// NewMessageCommand creates the message command.
func NewMessageCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MessageOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "message <process-id>",
		Short: "Send a message to a process",
		Long: `Sign a message for a process, order it through the scheduler and
execute it. Outbound messages, spawns and assignments the process emits
are dispatched before the command returns.

Examples:
  aosim message <pid> --tag Action=Add --tag Plus=5
  aosim message <pid> --tag Action=Echo --data hello --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMessage(opts, args[0], cmd)
		},
	}
	addMessageFlags(cmd, opts)
	return cmd
}

func runMessage(opts *MessageOptions, pid string, cmd *cobra.Command) error {
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

	mid, err := s.engine.Message(ctx, engine.MessageRequest{
		Process: pid,
		Tags:    tags,
		Data:    opts.Data,
		Signer:  s.signer,
		From:    opts.From,
	})
	if err != nil {
		return f.Fail("message failed", err)
	}
	if mid == "" {
		return f.Usage(CodeNotFound, fmt.Sprintf("process %s not found", pid))
	}
	return emitResult(ctx, f, s, pid, mid)
}

// emitResult writes the committed result of mid on pid. A reported
// execution error is printed and exits 1.
func emitResult(ctx context.Context, f *OutputFormatter, s *session, pid, mid string) error {
	out, err := s.engine.Result(ctx, pid, mid)
	if err != nil {
		return f.Fail("failed to read result", err)
	}
	result := MessageResult{Process: pid, Message: mid, Result: out}
	if err := f.Emit(result, result.text); err != nil {
		return err
	}
	if execErr := engine.ErrorOf(pid, mid, out); execErr != nil {
		return WrapExitError(ExitFailure, "process reported an error", execErr)
	}
	return nil
}

// NewAssignCommand creates the assign command.
func NewAssignCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assign <process-id> <message-id>",
		Short: "Order an existing message into another process",
		Long: `Assign a message already on the ledger to a process. The process
executes it as if it had been sent there, and the assignment is recorded
under the process's hash chain.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAssign(rootOpts, args[0], args[1], cmd)
		},
	}
	return cmd
}

func runAssign(opts *RootOptions, pid, mid string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)
	ctx := cmd.Context()

	s, err := openSession(ctx, opts)
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	got, err := s.engine.Assign(ctx, engine.AssignRequest{Process: pid, Message: mid})
	if err != nil {
		return f.Fail("assign failed", err)
	}
	if got == "" {
		return f.Usage(CodeNotFound, fmt.Sprintf("process %s or message %s not found", pid, mid))
	}
	return emitResult(ctx, f, s, pid, got)
}

// NewDryRunCommand creates the dryrun command.
func NewDryRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MessageOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dryrun <process-id>",
		Short: "Evaluate a message without committing it",
		Long: `Run a message against the current memory of a process. Nothing is
posted to the ledger and the process state is unchanged; effects are
printed, not dispatched.

Examples:
  aosim dryrun <pid> --tag Action=Get`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDryRun(opts, args[0], cmd)
		},
	}
	addMessageFlags(cmd, opts)
	return cmd
}

func runDryRun(opts *MessageOptions, pid string, cmd *cobra.Command) error {
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

	req := engine.DryRunRequest{
		Process: pid,
		Tags:    tags,
		Data:    opts.Data,
		Signer:  s.signer,
		Owner:   opts.From,
	}
	out, err := s.engine.DryRun(ctx, req)
	if err != nil {
		return f.Fail("dryrun failed", err)
	}
	if out == nil {
		return f.Usage(CodeNotFound, fmt.Sprintf("process %s not found", pid))
	}
	result := MessageResult{Process: pid, Result: out}
	if err := f.Emit(result, result.text); err != nil {
		return err
	}
	if execErr := engine.ErrorOf(pid, "dryrun", out); execErr != nil {
		return WrapExitError(ExitFailure, "process reported an error", execErr)
	}
	return nil
}
