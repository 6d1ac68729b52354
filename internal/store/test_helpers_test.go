package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/aosim/internal/ir"
)

// createTestStore creates a new temporary store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestItem creates an unsigned item with minimal required fields.
// The store never verifies signatures.
func createTestItem(id, owner string, tags ir.Tags, data string) ir.DataItem {
	return ir.DataItem{
		ID:        id,
		Owner:     owner,
		OwnerKey:  "key-" + owner,
		Tags:      tags,
		Data:      []byte(data),
		Signature: "sig-" + id,
	}
}

// post commits one bundle and fails the test on error.
func post(t *testing.T, s *Store, items ...ir.DataItem) *ir.Block {
	t.Helper()
	block, err := s.PostBundle(context.Background(), 1700000000000, items...)
	if err != nil {
		t.Fatalf("PostBundle() failed: %v", err)
	}
	return block
}
