package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/aosim/internal/ir"
	"github.com/roach88/aosim/internal/queryir"
	"github.com/roach88/aosim/internal/querysql"
)

// Get loads the value stored under category/key into dst.
// Returns false (and leaves dst untouched) when nothing is stored.
// For CategoryTxs, dst receives the committed transaction.
func (s *Store) Get(ctx context.Context, category Category, key string, dst any) (bool, error) {
	if !category.Valid() {
		return false, fmt.Errorf("get: unknown category %q", category)
	}

	if category == CategoryTxs {
		tx, err := s.Tx(ctx, key)
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if p, ok := dst.(*ir.Transaction); ok {
			*p = *tx
			return true, nil
		}
		value, err := marshalValue(tx)
		if err != nil {
			return false, fmt.Errorf("get %s/%s: %w", category, key, err)
		}
		return true, unmarshalValue(value, dst)
	}

	var value []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM kv WHERE category = ? AND key = ?
	`, string(category), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s/%s: %w", category, key, err)
	}

	if err := unmarshalValue(value, dst); err != nil {
		return false, fmt.Errorf("get %s/%s: %w", category, key, err)
	}
	return true, nil
}

// Keys lists the keys stored in a kv category in byte order.
func (s *Store) Keys(ctx context.Context, category Category) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key FROM kv WHERE category = ? ORDER BY key COLLATE BINARY ASC
	`, string(category))
	if err != nil {
		return nil, fmt.Errorf("keys %s: %w", category, err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("keys %s: scan: %w", category, err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("keys %s: iterate: %w", category, err)
	}
	return keys, nil
}

// Module loads stored module bytecode.
func (s *Store) Module(ctx context.Context, id string) (*Module, bool, error) {
	var m Module
	ok, err := s.Get(ctx, CategoryWasms, id, &m)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &m, true, nil
}

// Height returns the current ledger height (0 before the first bundle).
func (s *Store) Height(ctx context.Context) (int64, error) {
	var height int64
	if err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(height), 0) FROM blocks
	`).Scan(&height); err != nil {
		return 0, fmt.Errorf("height: %w", err)
	}
	return height, nil
}

// Tx returns a committed transaction including its data.
// Returns ErrNotFound if the id is unknown.
func (s *Store) Tx(ctx context.Context, id string) (*ir.Transaction, error) {
	return s.loadTx(ctx, id, true)
}

// TxHeader returns a committed transaction without loading its data.
func (s *Store) TxHeader(ctx context.Context, id string) (*ir.Transaction, error) {
	return s.loadTx(ctx, id, false)
}

func (s *Store) loadTx(ctx context.Context, id string, withData bool) (*ir.Transaction, error) {
	dataCol := "NULL"
	if withData {
		dataCol = "t.data"
	}

	var tx ir.Transaction
	var data, item []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT t.id, t.owner, t.owner_key, t.target, t.anchor, t.signature,
		       `+dataCol+`, t.data_size, t.item, t.block_height, b.id, b.timestamp
		FROM transactions t
		JOIN blocks b ON b.height = t.block_height
		WHERE t.id = ?
	`, id).Scan(
		&tx.ID, &tx.Owner, &tx.OwnerKey, &tx.Target, &tx.Anchor, &tx.Signature,
		&data, &tx.DataSize, &item, &tx.Height, &tx.Block, &tx.Timestamp,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tx %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("tx %s: %w", id, err)
	}
	tx.Data = data
	tx.Item = item

	tags, err := s.readTags(ctx, id)
	if err != nil {
		return nil, err
	}
	tx.Tags = tags
	return &tx, nil
}

// readTags returns the tags of a transaction in stored order.
func (s *Store) readTags(ctx context.Context, id string) (ir.Tags, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, value FROM tags WHERE tx_id = ? ORDER BY idx ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("tags of %s: %w", id, err)
	}
	defer rows.Close()

	tags := ir.Tags{}
	for rows.Next() {
		var tag ir.Tag
		if err := rows.Scan(&tag.Name, &tag.Value); err != nil {
			return nil, fmt.Errorf("tags of %s: scan: %w", id, err)
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tags of %s: iterate: %w", id, err)
	}
	return tags, nil
}

// Data returns the full payload of a transaction.
func (s *Store) Data(ctx context.Context, id string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM transactions WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("data %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("data %s: %w", id, err)
	}
	return data, nil
}

// DataRange returns up to length bytes of a payload starting at offset.
// Reads past the end return fewer bytes (possibly none).
func (s *Store) DataRange(ctx context.Context, id string, offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 {
		return nil, fmt.Errorf("data range %s: negative offset or length", id)
	}
	var data []byte
	// substr on a BLOB counts bytes, 1-based.
	err := s.db.QueryRowContext(ctx, `
		SELECT substr(data, ?, ?) FROM transactions WHERE id = ?
	`, offset+1, length, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("data range %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("data range %s: %w", id, err)
	}
	return data, nil
}

// DataSize returns the payload length of a transaction.
func (s *Store) DataSize(ctx context.Context, id string) (int64, error) {
	var size int64
	err := s.db.QueryRowContext(ctx, `SELECT data_size FROM transactions WHERE id = ?`, id).Scan(&size)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("data size %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("data size %s: %w", id, err)
	}
	return size, nil
}

// Block returns the block at height with its ordered transaction ids.
func (s *Store) Block(ctx context.Context, height int64) (*ir.Block, error) {
	var b ir.Block
	err := s.db.QueryRowContext(ctx, `
		SELECT height, id, timestamp, previous FROM blocks WHERE height = ?
	`, height).Scan(&b.Height, &b.ID, &b.Timestamp, &b.Previous)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("block %d: %w", height, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("block %d: %w", height, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM transactions WHERE block_height = ? ORDER BY position ASC
	`, height)
	if err != nil {
		return nil, fmt.Errorf("block %d txs: %w", height, err)
	}
	defer rows.Close()

	b.Txs = []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("block %d txs: scan: %w", height, err)
		}
		b.Txs = append(b.Txs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("block %d txs: iterate: %w", height, err)
	}
	return &b, nil
}

// Query returns the headers of transactions matching f, in ledger order.
// Data is not loaded; use Data or DataRange for payloads.
func (s *Store) Query(ctx context.Context, f queryir.Filter) ([]ir.Transaction, error) {
	result := queryir.Validate(f)
	if !result.Valid() {
		return nil, fmt.Errorf("query: invalid filter: %v", result.Errors)
	}
	for _, w := range result.Warnings {
		slog.Debug("query filter warning", "warning", w)
	}

	sqlText, params, err := querysql.NewSQLCompiler().Compile(f)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlText, params...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("query: scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("query: iterate: %w", err)
	}
	rows.Close()

	// Rows must be closed before loading headers: the pool holds one connection.
	txs := make([]ir.Transaction, 0, len(ids))
	for _, id := range ids {
		tx, err := s.TxHeader(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
		txs = append(txs, *tx)
	}
	return txs, nil
}
