package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	// Duration stops the run after it elapses. Zero runs until a signal.
	Duration time.Duration
}

// RunEntry reports the cron activity of one process during a run.
type RunEntry struct {
	Process string `json:"process"`
	Span    int64  `json:"span_ms"`
	Ticks   int    `json:"ticks"`
}

// RunResult is the output of the run command.
type RunResult struct {
	Processes []RunEntry `json:"processes"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run [process-id...]",
		Short: "Run the cron timers of processes",
		Long: `Start the cron timer of each process and keep sending its cron
messages until interrupted. With no arguments every process on the ledger
that was spawned with a Cron-Interval is monitored.

Examples:
  aosim run
  aosim run <pid> --for 1m`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCron(opts, args, cmd)
		},
	}
	cmd.Flags().DurationVar(&opts.Duration, "for", 0, "stop after this long (default: until interrupted)")
	return cmd
}

func runCron(opts *RunOptions, pids []string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if opts.Duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	s, err := openSession(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	explicit := len(pids) > 0
	if !explicit {
		if pids, err = s.engine.Processes(ctx); err != nil {
			s.Close(context.Background())
			return f.Fail("failed to list processes", err)
		}
	}

	result := RunResult{Processes: []RunEntry{}}
	before := make(map[string]int)
	for _, pid := range pids {
		p, err := s.engine.Process(ctx, pid)
		if err != nil {
			s.Close(context.Background())
			return f.Fail("failed to load process", err)
		}
		if p == nil || p.Span <= 0 {
			if explicit {
				s.Close(context.Background())
				return f.Usage(CodeConfig, fmt.Sprintf("process %s has no cron interval", pid))
			}
			continue
		}
		if _, err := s.engine.Monitor(ctx, pid, s.signer); err != nil {
			s.Close(context.Background())
			return f.Fail("failed to monitor "+pid, err)
		}
		before[pid] = len(p.Results)
		result.Processes = append(result.Processes, RunEntry{Process: pid, Span: p.Span})
	}

	if len(result.Processes) == 0 {
		s.Close(context.Background())
		return f.Emit(result, func(w io.Writer) { fmt.Fprintln(w, "No cron processes to run.") })
	}

	slog.Info("cron running", "processes", len(result.Processes), "db", opts.Database)
	f.VerboseLog("Monitoring %d process(es). Press Ctrl-C to stop.", len(result.Processes))
	<-ctx.Done()

	// Engine.Close waits for running ticks, so the counts below are final.
	shutdown := context.Background()
	if err := s.engine.Close(shutdown); err != nil {
		slog.Error("error stopping engine", "error", err)
	}
	for i, e := range result.Processes {
		p, err := s.engine.Process(shutdown, e.Process)
		if err == nil && p != nil {
			result.Processes[i].Ticks = len(p.Results) - before[e.Process]
		}
	}
	if err := s.closeAll(); err != nil {
		slog.Error("error closing ledger", "error", err)
	}
	slog.Info("cron stopped")

	return f.Emit(result, func(w io.Writer) {
		for _, e := range result.Processes {
			fmt.Fprintf(w, "%s: %d tick(s) every %dms\n", e.Process, e.Ticks, e.Span)
		}
	})
}
