package weavedrive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/aosim/internal/ir"
	"github.com/roach88/aosim/internal/metrics"
	"github.com/roach88/aosim/internal/queryir"
)

// DefaultDocTTL is how long header documents stay in memory.
const DefaultDocTTL = 10 * time.Minute

// QueryNode is one result of a gateway query: a header document plus the
// block it was committed in.
type QueryNode struct {
	TxDocument
	Block  string `json:"block"`
	Height int64  `json:"height"`
}

// RemoteSource reads content from gateway endpoints.
//
// Header documents are immutable once committed, so they are cached in
// memory and, when configured, on disk. Concurrent requests for the same
// document share one fetch.
type RemoteSource struct {
	fetcher *Fetcher
	docs    *ttlcache.Cache[string, []byte]
	disk    *DiskCache
	group   singleflight.Group
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// RemoteOption configures a RemoteSource.
type RemoteOption func(*RemoteSource)

// WithDiskCache persists header documents in c.
func WithDiskCache(c *DiskCache) RemoteOption {
	return func(r *RemoteSource) {
		r.disk = c
	}
}

// WithRemoteMetrics records cache lookups.
func WithRemoteMetrics(m *metrics.Metrics) RemoteOption {
	return func(r *RemoteSource) {
		r.metrics = m
	}
}

// WithRemoteLogger sets the source logger.
func WithRemoteLogger(l *slog.Logger) RemoteOption {
	return func(r *RemoteSource) {
		r.logger = l
	}
}

// NewRemoteSource creates a source over f.
func NewRemoteSource(f *Fetcher, opts ...RemoteOption) *RemoteSource {
	r := &RemoteSource{
		fetcher: f,
		docs: ttlcache.New[string, []byte](
			ttlcache.WithTTL[string, []byte](DefaultDocTTL),
			ttlcache.WithCapacity[string, []byte](4096),
		),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// document returns the header document at path.
func (r *RemoteSource) document(ctx context.Context, path string) ([]byte, error) {
	if item := r.docs.Get(path); item != nil {
		r.metrics.ObserveCache("docs", true)
		return item.Value(), nil
	}
	r.metrics.ObserveCache("docs", false)

	v, err, _ := r.group.Do(path, func() (interface{}, error) {
		if r.disk != nil {
			data, ok, err := r.disk.Get(path)
			if err != nil {
				r.logger.Warn("disk cache read failed", "path", path, "error", err)
			}
			r.metrics.ObserveCache("disk", ok)
			if ok {
				r.docs.Set(path, data, ttlcache.DefaultTTL)
				return data, nil
			}
		}

		resp, err := r.fetcher.GetWithRetry(ctx, path)
		if err != nil {
			return nil, err
		}
		r.docs.Set(path, resp.Body, ttlcache.DefaultTTL)
		if r.disk != nil {
			if err := r.disk.Put(path, resp.Body); err != nil {
				r.logger.Warn("disk cache write failed", "path", path, "error", err)
			}
		}
		return resp.Body, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (r *RemoteSource) TxHeader(ctx context.Context, id string) (*ir.Transaction, error) {
	data, err := r.document(ctx, "/tx/"+id)
	if err != nil {
		return nil, err
	}
	var doc TxDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode tx %s: %w", id, err)
	}
	return doc.Transaction()
}

func (r *RemoteSource) Block(ctx context.Context, height int64) (*ir.Block, error) {
	data, err := r.document(ctx, "/block/height/"+strconv.FormatInt(height, 10))
	if err != nil {
		return nil, err
	}
	var b ir.Block
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode block %d: %w", height, err)
	}
	return &b, nil
}

func (r *RemoteSource) DataSize(ctx context.Context, id string) (int64, error) {
	resp, err := r.fetcher.Do(ctx, http.MethodHead, "/"+id, nil, nil)
	if err != nil {
		return 0, err
	}
	if err := statusErr(resp, id); err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("size of %s: %w", id, err)
	}
	return n, nil
}

func (r *RemoteSource) DataRange(ctx context.Context, id string, offset, length int64) ([]byte, error) {
	if length <= 0 {
		return []byte{}, nil
	}
	header := http.Header{}
	header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
	resp, err := r.fetcher.Do(ctx, http.MethodGet, "/"+id, header, nil)
	if err != nil {
		return nil, err
	}
	if resp.Status == http.StatusRequestedRangeNotSatisfiable {
		return []byte{}, nil
	}
	if err := statusErr(resp, id); err != nil {
		return nil, err
	}
	if resp.Status == http.StatusPartialContent {
		return resp.Body, nil
	}
	// Endpoint ignored the range.
	body := resp.Body
	if offset >= int64(len(body)) {
		return []byte{}, nil
	}
	end := offset + length
	if end > int64(len(body)) {
		end = int64(len(body))
	}
	return body[offset:end], nil
}

func (r *RemoteSource) Query(ctx context.Context, f queryir.Filter) ([]ir.Transaction, error) {
	req, err := queryir.NewRequest(f)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	resp, err := r.fetcher.Do(ctx, http.MethodPost, "/query", header, body)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, fmt.Errorf("query: status %d from %s", resp.Status, resp.Endpoint)
	}

	var nodes []QueryNode
	if err := json.Unmarshal(resp.Body, &nodes); err != nil {
		return nil, fmt.Errorf("decode query result: %w", err)
	}
	txs := make([]ir.Transaction, 0, len(nodes))
	for _, n := range nodes {
		tx, err := n.Transaction()
		if err != nil {
			return nil, err
		}
		tx.Block, tx.Height = n.Block, n.Height
		txs = append(txs, *tx)
	}
	return txs, nil
}

// Close releases the disk cache, if any.
func (r *RemoteSource) Close() error {
	r.docs.DeleteAll()
	if r.disk != nil {
		return r.disk.Close()
	}
	return nil
}

func statusErr(resp *Response, id string) error {
	switch {
	case resp.OK():
		return nil
	case resp.Status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	default:
		return fmt.Errorf("fetch %s: status %d from %s", id, resp.Status, resp.Endpoint)
	}
}
