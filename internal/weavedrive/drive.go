// Package weavedrive exposes ledger content to a process as files.
//
// Paths live in four namespaces:
//
//	data/<id>     raw content, gated by CheckAdmissible and read through a
//	              per-file read-ahead cache
//	tx/<id>       transaction header document
//	tx2/<id>      data item header document
//	block/<h>     block header by height
//
// A Drive belongs to exactly one process. Opening a path that is already
// open returns the same descriptor.
package weavedrive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/roach88/aosim/internal/metrics"
	"github.com/roach88/aosim/internal/queryir"
)

// Path namespaces.
const (
	KindData  = "data"
	KindTx    = "tx"
	KindTx2   = "tx2"
	KindBlock = "block"
)

// firstFD is the first descriptor handed out; lower values are reserved.
const firstFD = 3

type file struct {
	path string
	kind string
	id   string
	pos  int64
	size int64
	// contents holds header documents, which are read whole.
	contents []byte
	cache    readAhead
}

// Drive is the virtual filesystem of one process.
type Drive struct {
	src      Source
	subject  Subject
	testMode bool
	height   func(ctx context.Context) (int64, error)
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu     sync.Mutex
	files  map[int]*file
	byPath map[string]int
	nextFD int
}

// Option configures a Drive.
type Option func(*Drive)

// WithTestMode admits all content without attestation checks.
func WithTestMode() Option {
	return func(d *Drive) {
		d.testMode = true
	}
}

// WithHeight supplies the ledger height used by admission checks when the
// context carries no block height.
func WithHeight(fn func(ctx context.Context) (int64, error)) Option {
	return func(d *Drive) {
		d.height = fn
	}
}

// WithLogger sets the drive logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Drive) {
		d.logger = l
	}
}

// WithMetrics records drive activity.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Drive) {
		d.metrics = m
	}
}

// New creates a drive serving subject from src.
func New(src Source, subject Subject, opts ...Option) *Drive {
	d := &Drive{
		src:     src,
		subject: subject,
		logger:  slog.Default(),
		files:   make(map[int]*file),
		byPath:  make(map[string]int),
		nextFD:  firstFD,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SplitPath parses "kind/id", with or without a leading slash.
func SplitPath(path string) (kind, id string, err error) {
	kind, id, ok := strings.Cut(strings.TrimPrefix(path, "/"), "/")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", "", fmt.Errorf("%w: %q", ErrBadPath, path)
	}
	switch kind {
	case KindData, KindTx, KindTx2, KindBlock:
		return kind, id, nil
	}
	return "", "", fmt.Errorf("%w: %q", ErrBadPath, path)
}

// Open opens path and returns its descriptor.
func (d *Drive) Open(ctx context.Context, path string) (int, error) {
	kind, id, err := SplitPath(path)
	if err != nil {
		return 0, err
	}
	key := kind + "/" + id

	d.mu.Lock()
	defer d.mu.Unlock()
	if fd, ok := d.byPath[key]; ok {
		return fd, nil
	}

	f := &file{path: key, kind: kind, id: id}
	switch kind {
	case KindData:
		ok, err := d.CheckAdmissible(ctx, id)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrNotAdmissible, id)
		}
		if f.size, err = d.src.DataSize(ctx, id); err != nil {
			return 0, fmt.Errorf("open %s: %w", key, err)
		}
	default:
		if f.contents, err = d.header(ctx, kind, id); err != nil {
			return 0, fmt.Errorf("open %s: %w", key, err)
		}
		f.size = int64(len(f.contents))
	}

	fd := d.nextFD
	d.nextFD++
	d.files[fd] = f
	d.byPath[key] = fd
	d.logger.Debug("drive opened file", "process", d.subject.ProcessID, "path", key, "fd", fd, "size", f.size)
	return fd, nil
}

func (d *Drive) header(ctx context.Context, kind, id string) ([]byte, error) {
	switch kind {
	case KindTx:
		tx, err := d.src.TxHeader(ctx, id)
		if err != nil {
			return nil, err
		}
		return encodeTxDocument(tx)
	case KindTx2:
		txs, err := d.src.Query(ctx, queryir.Filter{Where: queryir.IDIn{IDs: []string{id}}, Limit: 1})
		if err != nil {
			return nil, err
		}
		if len(txs) == 0 {
			return nil, fmt.Errorf("%w: no results for %s", ErrNotFound, id)
		}
		block, err := d.src.Block(ctx, txs[0].Height)
		if err != nil {
			return nil, err
		}
		return encodeItemNode(&txs[0], block)
	case KindBlock:
		h, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: block height %q", ErrBadPath, id)
		}
		b, err := d.src.Block(ctx, h)
		if err != nil {
			return nil, err
		}
		return encodeBlock(b)
	}
	return nil, fmt.Errorf("%w: %s", ErrBadPath, kind)
}

// Read returns up to n bytes from the current position. An empty result
// means end of file.
func (d *Drive) Read(ctx context.Context, fd int, n int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.files[fd]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrBadDescriptor, fd)
	}
	if n <= 0 || f.pos >= f.size {
		return []byte{}, nil
	}

	var out []byte
	if f.kind != KindData {
		end := min(f.pos+int64(n), f.size)
		out = append(out, f.contents[f.pos:end]...)
		f.pos = end
	} else {
		var err error
		if out, err = d.readData(ctx, f, n); err != nil {
			return nil, err
		}
	}
	d.metrics.AddDriveBytes(len(out))
	return out, nil
}

// readData drains the read-ahead cache, then fetches at least CacheSize
// bytes and keeps what the caller did not ask for.
func (d *Drive) readData(ctx context.Context, f *file, n int) ([]byte, error) {
	cached := f.cache.take(f.pos, n)
	d.metrics.ObserveCache("readahead", len(cached) > 0)
	out := append([]byte(nil), cached...)
	f.pos += int64(len(cached))
	f.cache.mark(f.pos)

	remaining := n - len(cached)
	if remaining == 0 || f.pos >= f.size {
		return out, nil
	}

	want := int64(max(remaining, CacheSize))
	to := min(f.size, f.pos+want)
	fetched, err := d.src.DataRange(ctx, f.id, f.pos, to-f.pos)
	if err != nil {
		return nil, fmt.Errorf("read %s at %d: %w", f.path, f.pos, err)
	}

	w := min(len(fetched), remaining)
	out = append(out, fetched[:w]...)
	f.pos += int64(w)
	if w == remaining {
		f.cache.add(fetched[w:])
	}
	f.cache.mark(f.pos)
	return out, nil
}

// Seek moves the position of fd. The new position is clamped to [0, size].
func (d *Drive) Seek(_ context.Context, fd int, offset int64, whence int) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.files[fd]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrBadDescriptor, fd)
	}

	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = f.pos + offset
	case io.SeekEnd:
		pos = f.size + offset
	default:
		return 0, fmt.Errorf("weavedrive: invalid whence %d", whence)
	}
	f.pos = max(0, min(pos, f.size))
	return f.pos, nil
}

// Close releases fd. The next Open of its path fetches again.
func (d *Drive) Close(_ context.Context, fd int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.files[fd]
	if !ok {
		return fmt.Errorf("%w: %d", ErrBadDescriptor, fd)
	}
	delete(d.files, fd)
	delete(d.byPath, f.path)
	return nil
}

// Reset rewinds fd and drops its read-ahead cache.
func (d *Drive) Reset(_ context.Context, fd int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.files[fd]
	if !ok {
		return fmt.Errorf("%w: %d", ErrBadDescriptor, fd)
	}
	f.pos = 0
	f.cache.reset()
	return nil
}

// Size returns the size of the file open at fd.
func (d *Drive) Size(fd int) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.files[fd]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrBadDescriptor, fd)
	}
	return f.size, nil
}
