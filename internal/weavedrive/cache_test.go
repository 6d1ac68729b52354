package weavedrive

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func TestReadAhead_TakeAndAdd(t *testing.T) {
	var c readAhead
	c.add([]byte("abc"), []byte("def"))
	assert.Equal(t, "ab", string(c.take(0, 2)))
	assert.Equal(t, "cdef", string(c.take(0, 10)))
	assert.Empty(t, c.take(0, 1))
}

func TestReadAhead_CappedAtCacheSize(t *testing.T) {
	var c readAhead
	c.add(make([]byte, CacheSize-10), []byte("0123456789abcdef"))
	assert.Equal(t, CacheSize, c.len())
	tail := c.take(0, CacheSize)
	assert.Equal(t, "0123456789", string(tail[CacheSize-10:]))
}

func TestReadAhead_PositionMismatchInvalidates(t *testing.T) {
	var c readAhead
	c.add([]byte("abc"))
	c.mark(5)
	assert.Empty(t, c.take(7, 2))
	assert.Equal(t, 0, c.len())
}

func TestDrive_ReadAheadServesFollowingReads(t *testing.T) {
	content := pattern(100 * 1024)
	d, src := testDrive(map[string][]byte{"big": content})
	ctx := context.Background()

	fd, err := d.Open(ctx, "data/big")
	require.NoError(t, err)

	first, err := d.Read(ctx, fd, 100)
	require.NoError(t, err)
	second, err := d.Read(ctx, fd, 100)
	require.NoError(t, err)

	assert.Equal(t, content[:100], first)
	assert.Equal(t, content[100:200], second)
	assert.Equal(t, 1, src.fetches, "second read is served from read-ahead")
	assert.Equal(t, [2]int64{0, CacheSize}, src.ranges[0])
}

func TestDrive_SplitReadMatchesSingleRead(t *testing.T) {
	content := pattern(CacheSize)
	ctx := context.Background()

	whole, _ := testDrive(map[string][]byte{"x": content})
	fd, err := whole.Open(ctx, "data/x")
	require.NoError(t, err)
	all, err := whole.Read(ctx, fd, CacheSize)
	require.NoError(t, err)

	split, _ := testDrive(map[string][]byte{"x": content})
	fd, err = split.Open(ctx, "data/x")
	require.NoError(t, err)
	a, err := split.Read(ctx, fd, 1000)
	require.NoError(t, err)
	b, err := split.Read(ctx, fd, CacheSize-1000)
	require.NoError(t, err)

	assert.Equal(t, all, append(a, b...))
}

func TestDrive_SeekInvalidatesReadAhead(t *testing.T) {
	content := pattern(64 * 1024)
	d, src := testDrive(map[string][]byte{"x": content})
	ctx := context.Background()

	fd, err := d.Open(ctx, "data/x")
	require.NoError(t, err)
	_, err = d.Read(ctx, fd, 10)
	require.NoError(t, err)

	_, err = d.Seek(ctx, fd, 5000, io.SeekStart)
	require.NoError(t, err)
	got, err := d.Read(ctx, fd, 10)
	require.NoError(t, err)

	assert.Equal(t, content[5000:5010], got)
	assert.Equal(t, 2, src.fetches, "read after seek fetches again")
	assert.Equal(t, int64(5000), src.ranges[1][0])
}

func TestDrive_ReadPastEnd(t *testing.T) {
	d, _ := testDrive(map[string][]byte{"x": []byte("short")})
	ctx := context.Background()

	fd, err := d.Open(ctx, "data/x")
	require.NoError(t, err)
	got, err := d.Read(ctx, fd, 100)
	require.NoError(t, err)
	assert.Equal(t, "short", string(got))

	got, err = d.Read(ctx, fd, 100)
	require.NoError(t, err)
	assert.Empty(t, got)
}

// Any sequence of reads, interleaved with seeks, returns exactly the bytes
// at the positions read.
func TestDrive_ReadsMatchContentProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	content := pattern(3*CacheSize + 123)

	properties.Property("reads return content at position", prop.ForAll(
		func(sizes []int, seeks []int) bool {
			d, _ := testDrive(map[string][]byte{"x": content})
			ctx := context.Background()
			fd, err := d.Open(ctx, "data/x")
			if err != nil {
				return false
			}
			var pos int64
			for i, n := range sizes {
				if i < len(seeks) && seeks[i]%3 == 0 {
					pos, err = d.Seek(ctx, fd, int64(seeks[i]), io.SeekStart)
					if err != nil {
						return false
					}
				}
				got, err := d.Read(ctx, fd, n)
				if err != nil {
					return false
				}
				end := min(pos+int64(n), int64(len(content)))
				if !bytes.Equal(got, content[pos:end]) {
					return false
				}
				pos = end
			}
			return true
		},
		gen.SliceOf(gen.IntRange(1, 2*CacheSize)),
		gen.SliceOf(gen.IntRange(0, len(content))),
	))

	properties.TestingRun(t)
}
