package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/aosim/internal/bundle"
)

// WalletInfo is the output of the wallet commands.
type WalletInfo struct {
	Path      string `json:"path"`
	Address   string `json:"address"`
	PublicKey string `json:"public_key"`
}

// NewWalletCommand creates the wallet command group.
func NewWalletCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Create and inspect signing wallets",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:           "new <path>",
			Short:         "Generate a wallet key file",
			Args:          cobra.ExactArgs(1),
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runWalletNew(rootOpts, args[0], cmd)
			},
		},
		&cobra.Command{
			Use:           "address [path]",
			Short:         "Print the address of a wallet (default: --wallet)",
			Args:          cobra.MaximumNArgs(1),
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				path := rootOpts.Wallet
				if len(args) == 1 {
					path = args[0]
				}
				return runWalletAddress(rootOpts, path, cmd)
			},
		},
	)
	return cmd
}

func runWalletNew(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	if _, err := os.Stat(path); err == nil {
		return f.Usage(CodeConfig, fmt.Sprintf("wallet %s already exists", path))
	}
	w, err := bundle.GenerateWallet()
	if err != nil {
		return f.Fail("failed to generate wallet", err)
	}
	if err := bundle.SaveWallet(path, w); err != nil {
		return f.Fail("failed to save wallet", err)
	}
	return emitWallet(f, path, w)
}

func runWalletAddress(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	if path == "" {
		return f.Usage(CodeConfig, "no wallet given: pass a path or --wallet")
	}
	w, err := bundle.LoadWallet(path)
	if err != nil {
		return f.Fail("failed to load wallet", err)
	}
	return emitWallet(f, path, w)
}

func emitWallet(f *OutputFormatter, path string, w *bundle.Wallet) error {
	info := WalletInfo{Path: path, Address: w.Address(), PublicKey: w.PublicKey()}
	return f.Emit(info, func(out io.Writer) { fmt.Fprintln(out, info.Address) })
}
