package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/aosim/internal/engine"
)

// ResultsOptions holds flags for the results command.
type ResultsOptions struct {
	*RootOptions
	From  string
	To    string
	Sort  string
	Limit int
}

// ResultsPage is the output of the results command.
type ResultsPage struct {
	Process string              `json:"process"`
	Edges   []engine.ResultEdge `json:"edges"`
}

// NewResultsCommand creates the results command.
func NewResultsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResultsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "results <process-id>",
		Short: "Page over the results of a process",
		Long: `List the outputs of the messages a process executed, in assignment
order. --from and --to are inclusive message-id cursors.

Examples:
  aosim results <pid>
  aosim results <pid> --sort desc --limit 5
  aosim results <pid> --from <mid> --to <mid> --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResults(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.From, "from", "", "first message id of the page")
	cmd.Flags().StringVar(&opts.To, "to", "", "last message id of the page")
	cmd.Flags().StringVar(&opts.Sort, "sort", "asc", "sort order (asc|desc)")
	cmd.Flags().IntVar(&opts.Limit, "limit", engine.DefaultResultsLimit, "page size")
	return cmd
}

func runResults(opts *ResultsOptions, pid string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()

	sort, err := engine.ParseSortOrder(opts.Sort)
	if err != nil {
		return f.Fail("invalid --sort", err)
	}

	s, err := openSession(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	edges, err := s.engine.Results(ctx, pid, engine.ResultsQuery{
		From:  opts.From,
		To:    opts.To,
		Sort:  sort,
		Limit: opts.Limit,
	})
	if err != nil {
		return f.Fail("failed to read results", err)
	}

	page := ResultsPage{Process: pid, Edges: edges}
	return f.Emit(page, func(w io.Writer) {
		if len(edges) == 0 {
			fmt.Fprintln(w, "No results.")
			return
		}
		for _, e := range edges {
			fmt.Fprintf(w, "%s\n", e.Cursor)
			writeOutput(w, e.Node)
		}
	})
}

// NewResultCommand creates the result command.
func NewResultCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "result <process-id> <message-id>",
		Short: "Read the output a process produced for one message",
		Long: `Read one committed result. The spawn id of a process returns its
boot output.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResult(rootOpts, args[0], args[1], cmd)
		},
	}
	return cmd
}

func runResult(opts *RootOptions, pid, mid string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)
	ctx := cmd.Context()

	s, err := openSession(ctx, opts)
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	out, err := s.engine.Result(ctx, pid, mid)
	if err != nil {
		return f.Fail("failed to read result", err)
	}
	if out == nil {
		return f.Usage(CodeNotFound, fmt.Sprintf("no result for message %s on process %s", mid, pid))
	}
	result := MessageResult{Process: pid, Message: mid, Result: out}
	return f.Emit(result, result.text)
}
