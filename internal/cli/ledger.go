package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// UploadOptions holds flags for the upload command.
type UploadOptions struct {
	*RootOptions
	Tags []string
}

// LedgerItem is the output of commands that post one ledger item.
type LedgerItem struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// NewUploadCommand creates the upload command.
func NewUploadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UploadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Post a file's contents as a ledger item",
		Long: `Post raw data to the ledger so processes can read it through
WeaveDrive. Use - to read standard input.

Examples:
  aosim upload ./book.txt --tag Content-Type=text/plain
  echo hello | aosim upload -`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(opts, args[0], cmd)
		},
	}
	cmd.Flags().StringArrayVarP(&opts.Tags, "tag", "t", nil, "item tag as Name=Value (repeatable)")
	return cmd
}

func runUpload(opts *UploadOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()

	tags, err := parseTags(opts.Tags)
	if err != nil {
		return f.Usage(CodeConfig, err.Error())
	}
	var data []byte
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return f.Usage(CodeNotFound, fmt.Sprintf("failed to read %s: %v", path, err))
	}

	s, err := openSession(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	id, err := s.engine.Upload(ctx, data, tags, s.signer)
	if err != nil {
		return f.Fail("upload failed", err)
	}
	item := LedgerItem{ID: id, Kind: "upload"}
	return f.Emit(item, func(w io.Writer) { fmt.Fprintln(w, id) })
}

// AttestOptions holds flags for the attest command.
type AttestOptions struct {
	*RootOptions
	Avail  bool
	Signed bool
}

// NewAttestCommand creates the attest command.
func NewAttestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AttestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "attest <item-id>",
		Short: "Attest a ledger item so processes may read it",
		Long: `Post an attestation for an item. Processes whose module restricts
WeaveDrive reads to attested content can read it once a scheduler they
trust has attested it. --avail posts an availability marker instead.

By default the local scheduler signs; --signed uses the --wallet key.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAttest(opts, args[0], cmd)
		},
	}
	cmd.Flags().BoolVar(&opts.Avail, "avail", false, "post an availability marker instead of an attestation")
	cmd.Flags().BoolVar(&opts.Signed, "signed", false, "sign with the --wallet key instead of the scheduler")
	return cmd
}

func runAttest(opts *AttestOptions, id string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()

	if opts.Signed && opts.Wallet == "" {
		return f.Usage(CodeConfig, "--signed requires --wallet")
	}

	s, err := openSession(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	signer := s.signer
	if !opts.Signed {
		signer = nil
	}
	post, kind := s.engine.Attest, "attestation"
	if opts.Avail {
		post, kind = s.engine.Avail, "available"
	}
	marker, err := post(ctx, id, signer)
	if err != nil {
		return f.Fail("failed to post "+kind, err)
	}
	item := LedgerItem{ID: marker, Kind: kind}
	return f.Emit(item, func(w io.Writer) { fmt.Fprintln(w, marker) })
}
