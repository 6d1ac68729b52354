package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/roach88/aosim/internal/ir"
)

// Set stores v as JSON under category/key, replacing any previous value.
// Transactions are immutable and can only be written through PostBundle.
func (s *Store) Set(ctx context.Context, category Category, key string, v any) error {
	if !category.Valid() {
		return fmt.Errorf("set: unknown category %q", category)
	}
	if category == CategoryTxs {
		return fmt.Errorf("set: %s is written through PostBundle", category)
	}

	value, err := marshalValue(v)
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", category, key, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kv (category, key, value)
		VALUES (?, ?, ?)
		ON CONFLICT(category, key) DO UPDATE SET value = excluded.value
	`, string(category), key, value)
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", category, key, err)
	}
	return nil
}

// PutModule stores module bytecode under the module item id.
func (s *Store) PutModule(ctx context.Context, id string, m Module) error {
	return s.Set(ctx, CategoryWasms, id, m)
}

// PostBundle commits items as one new block and returns it.
// The height increases by exactly one per call regardless of item count.
// Reading the current head and appending the block happen in one SQL
// transaction so concurrent posts never share a height.
func (s *Store) PostBundle(ctx context.Context, timestamp int64, items ...ir.DataItem) (*ir.Block, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("post bundle: empty bundle")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("post bundle: begin tx: %w", err)
	}
	defer tx.Rollback()

	var height int64
	var previous string
	err = tx.QueryRowContext(ctx, `
		SELECT height, id FROM blocks ORDER BY height DESC LIMIT 1
	`).Scan(&height, &previous)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("post bundle: read head: %w", err)
	}
	height++

	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	block := &ir.Block{
		ID:        ir.BlockID(height, previous, ids),
		Height:    height,
		Timestamp: timestamp,
		Previous:  previous,
		Txs:       ids,
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO blocks (height, id, timestamp, previous) VALUES (?, ?, ?, ?)
	`, block.Height, block.ID, block.Timestamp, block.Previous); err != nil {
		return nil, fmt.Errorf("post bundle: insert block %d: %w", height, err)
	}

	for pos, item := range items {
		if err := insertItem(ctx, tx, item, height, pos); err != nil {
			return nil, fmt.Errorf("post bundle: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("post bundle: commit: %w", err)
	}
	return block, nil
}

func insertItem(ctx context.Context, tx *sql.Tx, item ir.DataItem, height int64, pos int) error {
	envelope, err := marshalValue(item)
	if err != nil {
		return fmt.Errorf("item %s: %w", item.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO transactions
		(id, owner, owner_key, target, anchor, signature, data, data_size, item, block_height, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		item.ID,
		item.Owner,
		item.OwnerKey,
		item.Target,
		item.Anchor,
		item.Signature,
		item.Data,
		len(item.Data),
		envelope,
		height,
		pos,
	); err != nil {
		return fmt.Errorf("insert transaction %s: %w", item.ID, err)
	}

	for idx, tag := range item.Tags {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tags (tx_id, idx, name, value) VALUES (?, ?, ?, ?)
		`, item.ID, idx, tag.Name, tag.Value); err != nil {
			return fmt.Errorf("insert tag %d of %s: %w", idx, item.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO kv (category, key, value)
		VALUES (?, ?, ?)
		ON CONFLICT(category, key) DO UPDATE SET value = excluded.value
	`, string(CategoryBlockmap), item.ID, []byte(strconv.FormatInt(height, 10))); err != nil {
		return fmt.Errorf("record blockmap for %s: %w", item.ID, err)
	}
	return nil
}
