package store

import (
	"context"
	"errors"
	"fmt"
)

// Walk visits every committed transaction header in ledger order, from
// height from (inclusive) to the current head. Returning a non-nil error
// from fn stops the walk and returns that error.
//
// Used by the CLI and the engine to rebuild indexes and audit hash chains.
func (s *Store) Walk(ctx context.Context, from int64, fn func(height int64, txID string) error) error {
	head, err := s.Height(ctx)
	if err != nil {
		return fmt.Errorf("walk: %w", err)
	}
	if from < 1 {
		from = 1
	}

	for h := from; h <= head; h++ {
		block, err := s.Block(ctx, h)
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("walk: gap at height %d", h)
		}
		if err != nil {
			return fmt.Errorf("walk: %w", err)
		}
		for _, id := range block.Txs {
			if err := fn(h, id); err != nil {
				return err
			}
		}
	}
	return nil
}

// BlockHeight returns the height recorded for a transaction in the blockmap.
func (s *Store) BlockHeight(ctx context.Context, txID string) (int64, bool, error) {
	var height int64
	ok, err := s.Get(ctx, CategoryBlockmap, txID, &height)
	return height, ok, err
}
