package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Database is the SQLite ledger the engine commands read and write.
	Database string
	// Wallet is a key file; messages, spawns and uploads are signed with
	// it. Without one the engine's messenger unit signs.
	Wallet string
	// Gateway is a comma-separated endpoint list. When set, WeaveDrive
	// reads go to these gateways instead of the local ledger.
	Gateway string
	// CacheDir holds the on-disk cache of gateway reads.
	CacheDir string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// DefaultDatabase is the ledger path used when --db is not given.
const DefaultDatabase = "aosim.db"

// NewRootCommand creates the root command for the aosim CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "aosim",
		Short: "aosim - actor computation simulator",
		Long: `A local simulator of a hyper-parallel actor computer.

Processes are spawned from published modules, receive signed messages
through a scheduler that orders them on a local ledger, and run
deterministically against their own memory. Results, cron timers and
WeaveDrive reads of ledger data all work offline against one SQLite file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			configureLogging(opts, cmd)
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVar(&opts.Database, "db", DefaultDatabase, "path to the SQLite ledger")
	flags.StringVar(&opts.Wallet, "wallet", "", "wallet key file used to sign")
	flags.StringVar(&opts.Gateway, "gateway", "", "comma-separated gateway URLs for WeaveDrive reads")
	flags.StringVar(&opts.CacheDir, "cache-dir", "", "directory for the gateway read cache")

	cmd.AddCommand(
		NewModuleCommand(opts),
		NewSpawnCommand(opts),
		NewMessageCommand(opts),
		NewAssignCommand(opts),
		NewDryRunCommand(opts),
		NewResultsCommand(opts),
		NewResultCommand(opts),
		NewUploadCommand(opts),
		NewAttestCommand(opts),
		NewTraceCommand(opts),
		NewVerifyCommand(opts),
		NewResumeCommand(opts),
		NewRunCommand(opts),
		NewTestCommand(opts),
		NewValidateCommand(opts),
		NewCompileCommand(opts),
		NewWalletCommand(opts),
	)
	return cmd
}

// configureLogging installs the default slog handler. Logs go to stderr so
// JSON output on stdout stays parseable.
func configureLogging(opts *RootOptions, cmd *cobra.Command) {
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}
