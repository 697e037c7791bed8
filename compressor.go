package servefs

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/singleflight"

	"github.com/silvermint/servefs/fsys"
)

// compressor materializes encoded variants for backends that store
// identity bytes only. Variants are cached by path, mod time, and
// coding, and concurrent requests for the same variant are deduplicated
// so a resource is compressed at most once.
//
// Backends are immutable snapshots, so cached variants never go stale;
// the cache is bounded by the backend's entry count times the number of
// codings.
type compressor struct {
	group singleflight.Group

	mu    sync.RWMutex
	cache map[string]cachedVariant
}

// cachedVariant remembers the encode outcome. A variant that did not
// shrink the resource is remembered too, so it is not recompressed on
// every request.
type cachedVariant struct {
	data    []byte
	smaller bool
}

func newCompressor() *compressor {
	return &compressor{cache: make(map[string]cachedVariant)}
}

// variant returns the encoded bytes for entry, compressing on first
// use. smaller is false when the encoding did not reduce size and the
// caller should serve identity instead.
func (c *compressor) variant(backend fsys.FileSystem, entry *fsys.Entry, enc fsys.Encoding) (data []byte, smaller bool, err error) {
	key := fmt.Sprintf("%s\x00%d\x00%d", entry.Path, entry.ModTime.Unix(), enc)

	c.mu.RLock()
	v, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return v.data, v.smaller, nil
	}

	result, err, _ := c.group.Do(key, func() (any, error) {
		c.mu.RLock()
		v, ok := c.cache[key]
		c.mu.RUnlock()
		if ok {
			return v, nil
		}

		v, err := c.encode(backend, entry, enc)
		if err != nil {
			return cachedVariant{}, err
		}
		c.mu.Lock()
		c.cache[key] = v
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		return nil, false, err
	}
	v = result.(cachedVariant) //nolint:errcheck // type assertion always succeeds when err is nil
	return v.data, v.smaller, nil
}

// encode reads the identity bytes and compresses them.
func (c *compressor) encode(backend fsys.FileSystem, entry *fsys.Entry, enc fsys.Encoding) (cachedVariant, error) {
	content, err := backend.Open(entry, fsys.EncodingIdentity)
	if err != nil {
		return cachedVariant{}, err
	}
	defer content.Close()

	raw, err := io.ReadAll(io.NewSectionReader(content, 0, content.Size()))
	if err != nil {
		return cachedVariant{}, err
	}

	var buf bytes.Buffer
	switch enc {
	case fsys.EncodingGzip:
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(raw); err != nil {
			return cachedVariant{}, err
		}
		if err := zw.Close(); err != nil {
			return cachedVariant{}, err
		}
	case fsys.EncodingDeflate:
		fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return cachedVariant{}, err
		}
		if _, err := fw.Write(raw); err != nil {
			return cachedVariant{}, err
		}
		if err := fw.Close(); err != nil {
			return cachedVariant{}, err
		}
	default:
		return cachedVariant{}, fmt.Errorf("unsupported encoding %d", enc)
	}

	if buf.Len() >= len(raw) {
		return cachedVariant{smaller: false}, nil
	}
	return cachedVariant{data: buf.Bytes(), smaller: true}, nil
}

// memContent adapts a materialized variant to fsys.Content.
type memContent struct {
	r *bytes.Reader
}

func newMemContent(data []byte) *memContent {
	return &memContent{r: bytes.NewReader(data)}
}

func (c *memContent) ReadAt(p []byte, off int64) (int, error) {
	return c.r.ReadAt(p, off)
}

func (c *memContent) Size() int64 {
	return c.r.Size()
}

func (c *memContent) Close() error {
	return nil
}

// Interface compliance.
var _ fsys.Content = (*memContent)(nil)
