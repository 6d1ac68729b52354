package weavedrive

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/aosim/internal/ir"
	"github.com/roach88/aosim/internal/queryir"
	"github.com/roach88/aosim/internal/store"
	"github.com/roach88/aosim/internal/vm"
)

var _ vm.Drive = (*Drive)(nil)

// memSource serves fixed content and counts range fetches.
type memSource struct {
	data    map[string][]byte
	fetches int
	ranges  [][2]int64
}

func newMemSource(data map[string][]byte) *memSource {
	return &memSource{data: data}
}

func (m *memSource) TxHeader(_ context.Context, id string) (*ir.Transaction, error) {
	d, ok := m.data[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &ir.Transaction{ID: id, Owner: "addr", OwnerKey: "key", DataSize: int64(len(d)), Height: 1}, nil
}

func (m *memSource) Block(_ context.Context, height int64) (*ir.Block, error) {
	if height != 1 {
		return nil, fmt.Errorf("%w: block %d", ErrNotFound, height)
	}
	return &ir.Block{ID: "b1", Height: 1, Timestamp: 1700000000000, Txs: []string{}}, nil
}

func (m *memSource) DataSize(_ context.Context, id string) (int64, error) {
	d, ok := m.data[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return int64(len(d)), nil
}

func (m *memSource) DataRange(_ context.Context, id string, offset, length int64) ([]byte, error) {
	m.fetches++
	m.ranges = append(m.ranges, [2]int64{offset, length})
	d := m.data[id]
	if offset >= int64(len(d)) {
		return []byte{}, nil
	}
	end := min(offset+length, int64(len(d)))
	return append([]byte(nil), d[offset:end]...), nil
}

func (m *memSource) Query(_ context.Context, f queryir.Filter) ([]ir.Transaction, error) {
	return nil, nil
}

// testDrive opens a drive in test mode over data.
func testDrive(data map[string][]byte) (*Drive, *memSource) {
	src := newMemSource(data)
	return New(src, Subject{ProcessID: "p"}, WithTestMode()), src
}

// createTestStore opens a ledger in a temporary directory.
func createTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// postItem commits one unsigned item in its own block.
func postItem(t *testing.T, s *store.Store, id, owner string, tags ir.Tags, data string) int64 {
	t.Helper()
	b, err := s.PostBundle(context.Background(), 1700000000000, ir.DataItem{
		ID:        id,
		Owner:     owner,
		OwnerKey:  "key-" + owner,
		Tags:      tags,
		Data:      []byte(data),
		Signature: "sig-" + id,
	})
	require.NoError(t, err)
	return b.Height
}
