package pack

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"sort"
	"time"

	"github.com/silvermint/servefs/fsys"
)

// Version is the current package format version. Load refuses packages
// written with any other version.
const Version = 1

var magic = [4]byte{'S', 'F', 'P', '1'}

// headerLen is the fixed byte length of the package header.
const headerLen = 4 + 2 + 4 + 8 + 8 + sha256.Size

// variantLen is the encoded byte length of one variant triple.
const variantLen = 1 + 8 + 8

// Variant tags as stored on the wire.
const (
	tagIdentity = uint8(fsys.EncodingIdentity)
	tagGzip     = uint8(fsys.EncodingGzip)
	tagDeflate  = uint8(fsys.EncodingDeflate)
)

// Sentinel errors.
var (
	// ErrMalformed is returned by Load when the package bytes cannot be
	// trusted. It is fatal at backend-construction time.
	ErrMalformed = errors.New("pack: malformed package")

	// ErrTooManyFiles is returned by Create when the file count exceeds
	// the configured limit.
	ErrTooManyFiles = errors.New("pack: too many files")
)

// variant locates one coding of an entry inside the data section.
type variant struct {
	enc    fsys.Encoding
	off    int64
	length int64
}

// record is one decoded index entry.
type record struct {
	path     string
	size     int64
	modTime  time.Time
	variants []variant
}

// Package is a loaded archive. It is read-only and safe to share by
// reference across concurrent requests.
type Package struct {
	records []record       // sorted by path
	byPath  map[string]int // path → records index
	data    []byte
}

// loadConfig holds configuration for Load.
type loadConfig struct {
	skipChecksum bool
}

// LoadOption configures Load.
type LoadOption func(*loadConfig)

// LoadWithoutChecksum skips verification of the data-section checksum.
// Use only when the package bytes come from storage that is already
// integrity-checked; a corrupted data section will otherwise be served.
func LoadWithoutChecksum() LoadOption {
	return func(cfg *loadConfig) {
		cfg.skipChecksum = true
	}
}

// Load parses a package blob.
//
// The provided data is retained by the package; callers must not modify
// it after calling Load. Any structural defect fails the load with an
// error wrapping ErrMalformed.
func Load(data []byte, opts ...LoadOption) (*Package, error) {
	cfg := loadConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	if len(data) < headerLen {
		return nil, fmt.Errorf("%w: truncated header (%d bytes)", ErrMalformed, len(data))
	}
	if !bytes.Equal(data[:4], magic[:]) {
		return nil, fmt.Errorf("%w: bad magic", ErrMalformed)
	}
	version := binary.BigEndian.Uint16(data[4:6])
	if version != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformed, version)
	}
	entryCount := binary.BigEndian.Uint32(data[6:10])
	indexLen := binary.BigEndian.Uint64(data[10:18])
	dataLen := binary.BigEndian.Uint64(data[18:26])
	dataHash := data[26:headerLen]

	rest := uint64(len(data) - headerLen)
	if indexLen > rest || dataLen != rest-indexLen {
		return nil, fmt.Errorf("%w: section lengths do not match blob size", ErrMalformed)
	}
	index := data[headerLen : headerLen+int(indexLen)]
	section := data[headerLen+int(indexLen):]

	if !cfg.skipChecksum {
		sum := sha256.Sum256(section)
		if !bytes.Equal(sum[:], dataHash) {
			return nil, fmt.Errorf("%w: data checksum mismatch", ErrMalformed)
		}
	}

	records, err := parseIndex(index, entryCount, dataLen)
	if err != nil {
		return nil, err
	}

	byPath := make(map[string]int, len(records))
	for i := range records {
		byPath[records[i].path] = i
	}

	return &Package{
		records: records,
		byPath:  byPath,
		data:    section,
	}, nil
}

// OpenFile reads a package file into memory and loads it.
func OpenFile(path string, opts ...LoadOption) (*Package, error) {
	data, err := os.ReadFile(path) //nolint:gosec // user-provided path is intentional
	if err != nil {
		return nil, fmt.Errorf("read package file: %w", err)
	}
	return Load(data, opts...)
}

// Len returns the number of entries in the package.
func (p *Package) Len() int {
	return len(p.records)
}

// Paths returns all entry paths in sorted order.
func (p *Package) Paths() []string {
	paths := make([]string, len(p.records))
	for i := range p.records {
		paths[i] = p.records[i].path
	}
	return paths
}

// searchPrefix returns the index of the first record whose path is not
// less than prefix.
func (p *Package) searchPrefix(prefix string) int {
	return sort.Search(len(p.records), func(i int) bool {
		return p.records[i].path >= prefix
	})
}

// parseIndex decodes and validates the index section.
func parseIndex(index []byte, entryCount uint32, dataLen uint64) ([]record, error) {
	cur := cursor{buf: index}
	records := make([]record, 0, entryCount)
	prev := ""

	for i := uint32(0); i < entryCount; i++ {
		rec, err := parseRecord(&cur, dataLen)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrMalformed, i, err)
		}
		if rec.path <= prev {
			return nil, fmt.Errorf("%w: entry %d: paths not sorted or not unique", ErrMalformed, i)
		}
		prev = rec.path
		records = append(records, rec)
	}
	if cur.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing index bytes", ErrMalformed, cur.remaining())
	}
	return records, nil
}

// parseRecord decodes one index record and validates its bounds.
func parseRecord(cur *cursor, dataLen uint64) (record, error) {
	pathLen, err := cur.u16()
	if err != nil {
		return record{}, err
	}
	pathBytes, err := cur.bytes(int(pathLen))
	if err != nil {
		return record{}, err
	}
	path := string(pathBytes)
	if path == "." || !fs.ValidPath(path) {
		return record{}, fmt.Errorf("invalid path %q", path)
	}

	size, err := cur.u64()
	if err != nil {
		return record{}, err
	}
	if size > math.MaxInt64 {
		return record{}, fmt.Errorf("size overflow")
	}
	modTime, err := cur.i64()
	if err != nil {
		return record{}, err
	}
	variantCount, err := cur.u8()
	if err != nil {
		return record{}, err
	}
	if variantCount == 0 {
		return record{}, fmt.Errorf("no variants")
	}

	variants := make([]variant, 0, variantCount)
	seen := [3]bool{}
	for v := uint8(0); v < variantCount; v++ {
		tag, err := cur.u8()
		if err != nil {
			return record{}, err
		}
		if tag > tagDeflate {
			return record{}, fmt.Errorf("unknown variant tag %d", tag)
		}
		if seen[tag] {
			return record{}, fmt.Errorf("duplicate variant tag %d", tag)
		}
		seen[tag] = true

		off, err := cur.u64()
		if err != nil {
			return record{}, err
		}
		length, err := cur.u64()
		if err != nil {
			return record{}, err
		}
		if off > dataLen || length > dataLen-off {
			return record{}, fmt.Errorf("variant %d outside data section", tag)
		}
		if tag == tagIdentity && length != size {
			return record{}, fmt.Errorf("identity variant length %d != size %d", length, size)
		}
		variants = append(variants, variant{
			enc:    fsys.Encoding(tag),
			off:    int64(off),    //nolint:gosec // bounded by dataLen check above
			length: int64(length), //nolint:gosec // bounded by dataLen check above
		})
	}
	if !seen[tagIdentity] {
		return record{}, fmt.Errorf("missing identity variant")
	}

	return record{
		path:     path,
		size:     int64(size), //nolint:gosec // overflow checked above
		modTime:  time.Unix(modTime, 0).UTC(),
		variants: variants,
	}, nil
}

// cursor is a bounds-checked reader over the index bytes.
type cursor struct {
	buf []byte
	off int
}

func (c *cursor) remaining() int {
	return len(c.buf) - c.off
}

func (c *cursor) bytes(n int) ([]byte, error) {
	if c.remaining() < n {
		return nil, fmt.Errorf("truncated index")
	}
	b := c.buf[c.off : c.off+n]
	c.off += n
	return b, nil
}

func (c *cursor) u8() (uint8, error) {
	b, err := c.bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *cursor) u16() (uint16, error) {
	b, err := c.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (c *cursor) u64() (uint64, error) {
	b, err := c.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (c *cursor) i64() (int64, error) {
	v, err := c.u64()
	return int64(v), err //nolint:gosec // two's-complement round trip is intentional
}
