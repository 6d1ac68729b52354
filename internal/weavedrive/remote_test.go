package weavedrive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/aosim/internal/ir"
	"github.com/roach88/aosim/internal/queryir"
)

// fakeGateway serves one transaction the way the gateway does.
type fakeGateway struct {
	txHits    atomic.Int32
	content   []byte
	ignoreRng bool
}

func (g *fakeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/tx/abc":
		g.txHits.Add(1)
		json.NewEncoder(w).Encode(TxDocument{ID: "abc", Owner: ir.Encoding.EncodeToString([]byte("pub")), DataSize: "10", Tags: ir.T("A", "1")})
	case r.URL.Path == "/block/height/1":
		json.NewEncoder(w).Encode(ir.Block{ID: "b1", Height: 1, Txs: []string{"abc"}})
	case r.URL.Path == "/query":
		var req queryir.Request
		json.NewDecoder(r.Body).Decode(&req)
		var nodes []QueryNode
		if len(req.Owners) > 0 && req.Owners[0] == "sched" {
			nodes = append(nodes, QueryNode{TxDocument: TxDocument{ID: "att", Owner: "k", DataSize: "0"}, Block: "b1", Height: 1})
		}
		json.NewEncoder(w).Encode(nodes)
	case r.URL.Path == "/abc":
		w.Header().Set("Content-Length", strconv.Itoa(len(g.content)))
		if r.Method == http.MethodHead {
			return
		}
		rng := r.Header.Get("Range")
		if rng == "" || g.ignoreRng {
			w.Write(g.content)
			return
		}
		var from, to int
		fmt.Sscanf(strings.TrimPrefix(rng, "bytes="), "%d-%d", &from, &to)
		if from >= len(g.content) {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		to = min(to, len(g.content)-1)
		w.Header().Set("Content-Length", strconv.Itoa(to-from+1))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(g.content[from : to+1])
	default:
		http.NotFound(w, r)
	}
}

func newRemote(t *testing.T, g *fakeGateway, opts ...RemoteOption) *RemoteSource {
	t.Helper()
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)
	f, err := NewFetcher([]string{srv.URL})
	require.NoError(t, err)
	recordSleeps(f)
	r := NewRemoteSource(f, opts...)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRemoteSource_TxHeaderIsCached(t *testing.T) {
	g := &fakeGateway{}
	r := newRemote(t, g)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		tx, err := r.TxHeader(ctx, "abc")
		require.NoError(t, err)
		assert.Equal(t, "abc", tx.ID)
		assert.Equal(t, int64(10), tx.DataSize)
		assert.Equal(t, ir.AddressFromKey([]byte("pub")), tx.Owner)
	}
	assert.Equal(t, int32(1), g.txHits.Load())

	_, err := r.TxHeader(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemoteSource_DiskCacheSurvivesRestart(t *testing.T) {
	disk, err := OpenMemDiskCache()
	require.NoError(t, err)
	defer disk.Close()

	g := &fakeGateway{}
	srv := httptest.NewServer(g)
	defer srv.Close()
	f, err := NewFetcher([]string{srv.URL})
	require.NoError(t, err)

	first := NewRemoteSource(f, WithDiskCache(disk))
	_, err = first.TxHeader(context.Background(), "abc")
	require.NoError(t, err)

	// A new source has an empty memory cache but shares the disk.
	second := NewRemoteSource(f, WithDiskCache(disk))
	_, err = second.TxHeader(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, int32(1), g.txHits.Load())
}

func TestRemoteSource_Block(t *testing.T) {
	r := newRemote(t, &fakeGateway{})
	b, err := r.Block(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"abc"}, b.Txs)
}

func TestRemoteSource_DataRange(t *testing.T) {
	for _, ignore := range []bool{false, true} {
		t.Run(fmt.Sprintf("ignoreRange=%v", ignore), func(t *testing.T) {
			r := newRemote(t, &fakeGateway{content: []byte("0123456789"), ignoreRng: ignore})
			ctx := context.Background()

			size, err := r.DataSize(ctx, "abc")
			require.NoError(t, err)
			assert.Equal(t, int64(10), size)

			got, err := r.DataRange(ctx, "abc", 2, 3)
			require.NoError(t, err)
			assert.Equal(t, "234", string(got))

			got, err = r.DataRange(ctx, "abc", 8, 100)
			require.NoError(t, err)
			assert.Equal(t, "89", string(got))

			got, err = r.DataRange(ctx, "abc", 20, 5)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestRemoteSource_DataMissing(t *testing.T) {
	r := newRemote(t, &fakeGateway{})
	_, err := r.DataSize(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.DataRange(context.Background(), "nope", 0, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemoteSource_DrivesAdmission(t *testing.T) {
	r := newRemote(t, &fakeGateway{content: []byte("0123456789")})
	ctx := context.Background()

	d := New(r, subject(""))
	fd, err := d.Open(ctx, "data/abc")
	require.NoError(t, err)
	got, err := d.Read(ctx, fd, 4)
	require.NoError(t, err)
	assert.Equal(t, "0123", string(got))

	d = New(r, Subject{ProcessTags: ir.T("Scheduler", "other", "Extension", "WeaveDrive")})
	_, err = d.Open(ctx, "data/abc")
	assert.ErrorIs(t, err, ErrNotAdmissible)
}
