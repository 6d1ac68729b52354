package weavedrive

// CacheSize bounds the read-ahead cache of each open data file.
const CacheSize = 32 * 1024

// readAhead holds bytes fetched past the end of the last read. It is valid
// only while the file position still equals the position the last read
// ended at.
type readAhead struct {
	buf     []byte
	lastPos int64
}

// take returns up to n cached bytes for a read starting at pos. A position
// mismatch means the file was seeked, and the cache is dropped.
func (c *readAhead) take(pos int64, n int) []byte {
	if pos != c.lastPos {
		c.buf = nil
		return nil
	}
	if n > len(c.buf) {
		n = len(c.buf)
	}
	out := c.buf[:n:n]
	c.buf = c.buf[n:]
	return out
}

// add appends chunks after the cached bytes, keeping at most CacheSize.
func (c *readAhead) add(chunks ...[]byte) {
	for _, chunk := range chunks {
		room := CacheSize - len(c.buf)
		if room <= 0 {
			return
		}
		if len(chunk) > room {
			chunk = chunk[:room]
		}
		c.buf = append(c.buf, chunk...)
	}
}

// mark records where the last read ended.
func (c *readAhead) mark(pos int64) {
	c.lastPos = pos
}

func (c *readAhead) reset() {
	c.buf = nil
	c.lastPos = 0
}

func (c *readAhead) len() int {
	return len(c.buf)
}
