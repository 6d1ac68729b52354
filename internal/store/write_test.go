package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/aosim/internal/ir"
)

func TestPostBundle_HeightIncrementsByOne(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	b1 := post(t, s, createTestItem("a", "o", nil, ""))
	b2 := post(t, s,
		createTestItem("b", "o", nil, ""),
		createTestItem("c", "o", nil, ""),
	)

	assert.Equal(t, int64(1), b1.Height)
	assert.Equal(t, int64(2), b2.Height)
	assert.Equal(t, "", b1.Previous)
	assert.Equal(t, b1.ID, b2.Previous)
	assert.Equal(t, []string{"b", "c"}, b2.Txs)

	height, err := s.Height(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), height)
}

func TestPostBundle_EmptyBundle(t *testing.T) {
	s := createTestStore(t)
	_, err := s.PostBundle(context.Background(), 0)
	assert.Error(t, err)
}

func TestPostBundle_DuplicateIDRollsBack(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	post(t, s, createTestItem("a", "o", nil, ""))
	_, err := s.PostBundle(ctx, 0, createTestItem("a", "o", nil, ""))
	require.Error(t, err)

	height, err := s.Height(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), height, "failed bundle must not consume a height")
}

func TestPostBundle_ConcurrentPostsGetDistinctHeights(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	const n = 20
	heights := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := s.PostBundle(ctx, 0, createTestItem(fmt.Sprintf("tx-%d", i), "o", nil, ""))
			if assert.NoError(t, err) {
				heights <- b.Height
			}
		}(i)
	}
	wg.Wait()
	close(heights)

	seen := map[int64]bool{}
	for h := range heights {
		assert.False(t, seen[h], "height %d assigned twice", h)
		seen[h] = true
	}
	assert.Len(t, seen, n)
}

func TestPostBundle_RecordsBlockmap(t *testing.T) {
	s := createTestStore(t)
	post(t, s, createTestItem("a", "o", nil, ""))
	post(t, s, createTestItem("b", "o", nil, ""))

	h, ok, err := s.BlockHeight(context.Background(), "b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), h)
}

func TestSetGet_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	proc := ir.Process{ID: "p", Hash: "p", Epochs: [][]string{{"m1"}}, Results: []string{"m1"}, Memory: []byte{1, 2}}
	require.NoError(t, s.Set(ctx, CategoryEnv, "p", proc))

	var got ir.Process
	ok, err := s.Get(ctx, CategoryEnv, "p", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, proc, got)

	// overwrite
	proc.Height = 3
	require.NoError(t, s.Set(ctx, CategoryEnv, "p", proc))
	ok, err = s.Get(ctx, CategoryEnv, "p", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), got.Height)
}

func TestSetGet_Missing(t *testing.T) {
	s := createTestStore(t)
	var got ir.Process
	ok, err := s.Get(context.Background(), CategoryEnv, "nope", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSet_RejectsTxsAndUnknownCategory(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	assert.Error(t, s.Set(ctx, CategoryTxs, "x", 1))
	assert.Error(t, s.Set(ctx, Category("bogus"), "x", 1))
	_, err := s.Get(ctx, Category("bogus"), "x", new(int))
	assert.Error(t, err)
}

func TestPutModule(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutModule(ctx, "mod", Module{Format: "native/counter", Bytecode: []byte("counter")}))

	m, ok, err := s.Module(ctx, "mod")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "native/counter", m.Format)
	assert.Equal(t, []byte("counter"), m.Bytecode)

	_, ok, err = s.Module(ctx, "other")
	require.NoError(t, err)
	assert.False(t, ok)
}
