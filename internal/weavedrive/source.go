package weavedrive

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/aosim/internal/ir"
	"github.com/roach88/aosim/internal/queryir"
	"github.com/roach88/aosim/internal/store"
)

// Source supplies drive content. Missing content is reported with an error
// wrapping ErrNotFound.
type Source interface {
	TxHeader(ctx context.Context, id string) (*ir.Transaction, error)
	Block(ctx context.Context, height int64) (*ir.Block, error)
	DataSize(ctx context.Context, id string) (int64, error)
	DataRange(ctx context.Context, id string, offset, length int64) ([]byte, error)
	Query(ctx context.Context, f queryir.Filter) ([]ir.Transaction, error)
}

// LedgerSource reads content straight from the local ledger.
type LedgerSource struct {
	store *store.Store
}

// NewLedgerSource wraps a ledger store.
func NewLedgerSource(s *store.Store) *LedgerSource {
	return &LedgerSource{store: s}
}

func (l *LedgerSource) TxHeader(ctx context.Context, id string) (*ir.Transaction, error) {
	tx, err := l.store.TxHeader(ctx, id)
	return tx, notFound(err)
}

func (l *LedgerSource) Block(ctx context.Context, height int64) (*ir.Block, error) {
	b, err := l.store.Block(ctx, height)
	return b, notFound(err)
}

func (l *LedgerSource) DataSize(ctx context.Context, id string) (int64, error) {
	n, err := l.store.DataSize(ctx, id)
	return n, notFound(err)
}

func (l *LedgerSource) DataRange(ctx context.Context, id string, offset, length int64) ([]byte, error) {
	data, err := l.store.DataRange(ctx, id, offset, length)
	return data, notFound(err)
}

func (l *LedgerSource) Query(ctx context.Context, f queryir.Filter) ([]ir.Transaction, error) {
	return l.store.Query(ctx, f)
}

func notFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
