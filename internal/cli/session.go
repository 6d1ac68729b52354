package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/roach88/aosim/internal/bundle"
	"github.com/roach88/aosim/internal/engine"
	"github.com/roach88/aosim/internal/ir"
	"github.com/roach88/aosim/internal/store"
	"github.com/roach88/aosim/internal/weavedrive"
)

// session is one command's view of the ledger: the store, an engine over
// it and the signer chosen by --wallet.
type session struct {
	store   *store.Store
	engine  *engine.Engine
	signer  bundle.Signer
	closers []func() error
}

// openSession opens the ledger and builds an engine over it. The caller
// must Close the session.
func openSession(ctx context.Context, opts *RootOptions, extra ...engine.Option) (*session, error) {
	s := &session{}

	if opts.Wallet != "" {
		w, err := bundle.LoadWallet(opts.Wallet)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load wallet", err)
		}
		s.signer = w
	}

	engineOpts := []engine.Option{engine.WithLogger(slog.Default())}
	if opts.Gateway != "" {
		src, err := openRemoteSource(opts)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to configure gateway", err)
		}
		s.closers = append(s.closers, src.Close)
		engineOpts = append(engineOpts, engine.WithDriveSource(src))
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		s.closeAll()
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	s.store = st
	s.closers = append(s.closers, st.Close)
	s.engine = engine.New(st, append(engineOpts, extra...)...)
	return s, nil
}

// openRemoteSource builds the gateway-backed drive source, with a disk
// cache when --cache-dir is set.
func openRemoteSource(opts *RootOptions) (*weavedrive.RemoteSource, error) {
	endpoints := weavedrive.ParseEndpoints(opts.Gateway)
	fetcher, err := weavedrive.NewFetcher(endpoints, weavedrive.WithFetchLogger(slog.Default()))
	if err != nil {
		return nil, err
	}
	remoteOpts := []weavedrive.RemoteOption{weavedrive.WithRemoteLogger(slog.Default())}
	if opts.CacheDir != "" {
		if err := os.MkdirAll(opts.CacheDir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
		cache, err := weavedrive.OpenDiskCache(opts.CacheDir)
		if err != nil {
			return nil, err
		}
		remoteOpts = append(remoteOpts, weavedrive.WithDiskCache(cache))
	}
	return weavedrive.NewRemoteSource(fetcher, remoteOpts...), nil
}

// Close stops the engine and releases the ledger and caches.
func (s *session) Close(ctx context.Context) error {
	var errs []error
	if s.engine != nil {
		errs = append(errs, s.engine.Close(ctx))
	}
	errs = append(errs, s.closeAll())
	return errors.Join(errs...)
}

func (s *session) closeAll() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}

// parseTags turns repeated Name=Value flags into ordered tags. Names may
// repeat.
func parseTags(pairs []string) (ir.Tags, error) {
	tags := make(ir.Tags, 0, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid tag %q: want Name=Value", p)
		}
		tags = append(tags, ir.Tag{Name: name, Value: value})
	}
	return tags, nil
}
