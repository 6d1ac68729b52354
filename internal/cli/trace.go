package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/aosim/internal/ir"
	"github.com/roach88/aosim/internal/queryir"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Limit int
}

// TraceEntry is one assignment in a process's history.
type TraceEntry struct {
	Epoch     int64      `json:"epoch"`
	Height    int64      `json:"height"`
	Message   string     `json:"message"`
	HashChain string     `json:"hash_chain"`
	From      string     `json:"from,omitempty"`
	PushedFor string     `json:"pushed_for,omitempty"`
	Cron      bool       `json:"cron,omitempty"`
	Result    *ir.Output `json:"result,omitempty"`
}

// TraceStats summarizes a process.
type TraceStats struct {
	Assignments int    `json:"assignments"`
	Results     int    `json:"results"`
	Height      int64  `json:"height"`
	Halted      string `json:"halted,omitempty"`
}

// TraceResult is the output of the trace command.
type TraceResult struct {
	Process  string       `json:"process"`
	Hash     string       `json:"hash"`
	Timeline []TraceEntry `json:"timeline"`
	Stats    TraceStats   `json:"stats"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace <process-id>",
		Short: "Show the assignment history of a process",
		Long: `Walk the ledger's assignments for a process in order.

Each entry shows the epoch and block height of the assignment, the hash
chain after it, who sent the message, which message it was pushed for when
another process produced it, and the committed result.

Examples:
  aosim trace <pid>
  aosim trace <pid> --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, args[0], cmd)
		},
	}
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of assignments (0 for all)")
	return cmd
}

func runTrace(opts *TraceOptions, pid string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()

	s, err := openSession(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	p, err := s.engine.Process(ctx, pid)
	if err != nil {
		return f.Fail("failed to load process", err)
	}
	if p == nil {
		return f.Usage(CodeNotFound, fmt.Sprintf("process %s not found", pid))
	}

	txs, err := s.store.Query(ctx, queryir.Filter{
		Where: queryir.All(queryir.Tags("Type", ir.TypeAssignment, "Process", pid)...),
		Limit: opts.Limit,
	})
	if err != nil {
		return f.Fail("failed to query assignments", err)
	}

	result := TraceResult{
		Process:  pid,
		Hash:     p.Hash,
		Timeline: make([]TraceEntry, 0, len(txs)),
		Stats: TraceStats{
			Assignments: len(txs),
			Results:     len(p.Results),
			Height:      p.Height,
			Halted:      p.Halted,
		},
	}
	for _, tx := range txs {
		epoch, _ := strconv.ParseInt(tx.Tags.Value("Epoch"), 10, 64)
		entry := TraceEntry{
			Epoch:     epoch,
			Height:    tx.Height,
			Message:   tx.Tags.Value("Message"),
			HashChain: tx.Tags.Value("Hash-Chain"),
		}
		rec, err := s.engine.MessageRecord(ctx, entry.Message)
		if err != nil {
			return f.Fail("failed to load message", err)
		}
		if rec != nil {
			entry.From = rec.From
			if entry.From == "" {
				entry.From = rec.Owner
			}
			entry.PushedFor = rec.PushedFor
			entry.Cron = rec.Cron
		}
		if entry.Result, err = s.engine.Result(ctx, pid, entry.Message); err != nil {
			return f.Fail("failed to read result", err)
		}
		result.Timeline = append(result.Timeline, entry)
	}

	return f.Emit(result, func(w io.Writer) { writeTrace(w, result) })
}

func writeTrace(w io.Writer, r TraceResult) {
	fmt.Fprintf(w, "Process: %s\n", r.Process)
	fmt.Fprintf(w, "Hash:    %s\n", r.Hash)
	if r.Stats.Halted != "" {
		fmt.Fprintf(w, "Halted:  %s\n", r.Stats.Halted)
	}
	fmt.Fprintln(w)

	if len(r.Timeline) == 0 {
		fmt.Fprintln(w, "No assignments.")
	}
	for _, e := range r.Timeline {
		fmt.Fprintf(w, "[epoch %d @ %d] %s\n", e.Epoch, e.Height, e.Message)
		if e.From != "" {
			fmt.Fprintf(w, "  from: %s\n", e.From)
		}
		if e.PushedFor != "" {
			fmt.Fprintf(w, "  pushed for: %s\n", e.PushedFor)
		}
		if e.Cron {
			fmt.Fprintln(w, "  cron tick")
		}
		switch {
		case e.Result == nil:
			fmt.Fprintln(w, "  (not executed)")
		case e.Result.Error != "":
			fmt.Fprintf(w, "  error: %s\n", e.Result.Error)
		default:
			fmt.Fprintf(w, "  output: %s\n", e.Result.Output)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Stats: %d assignment(s), %d result(s), height %d\n",
		r.Stats.Assignments, r.Stats.Results, r.Stats.Height)
}
