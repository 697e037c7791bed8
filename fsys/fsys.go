// Package fsys defines the backend abstraction the serving engine reads
// from: a FileSystem answers path lookups with immutable Entry metadata
// and random-access content in one of the entry's available codings.
//
// Two implementations ship with the module: Local (a directory tree on
// disk, see local.go) and pack.FS (a package file built offline, see the
// pack package). Additional backends implement the same three-method
// contract.
package fsys

import (
	"errors"
	"io"
	"time"
)

// Encoding identifies a content coding of an entry's bytes.
type Encoding uint8

const (
	EncodingIdentity Encoding = iota
	EncodingGzip
	EncodingDeflate
)

// String returns the content-coding token used in HTTP headers.
func (e Encoding) String() string {
	switch e {
	case EncodingIdentity:
		return "identity"
	case EncodingGzip:
		return "gzip"
	case EncodingDeflate:
		return "deflate"
	default:
		return "unknown"
	}
}

// Sentinel errors returned by FileSystem implementations.
var (
	// ErrNotDir is returned by ReadDir when the path names a file.
	ErrNotDir = errors.New("fsys: not a directory")

	// ErrNoVariant is returned by Open when the entry has no stored
	// variant for the requested encoding.
	ErrNoVariant = errors.New("fsys: encoding variant not available")
)

// Entry describes one servable resource.
//
// Entries are read-only snapshots taken when the backend resolves them;
// they remain valid for the lifetime of the backend.
type Entry struct {
	// Path is the normalized slash-separated path relative to the
	// backend root (e.g. "css/site.css"). It contains no "." or ".."
	// elements.
	Path string

	// Size is the identity (uncompressed) size in bytes.
	Size int64

	// ModTime is the last-modified time, truncated to whole seconds to
	// match HTTP date granularity.
	ModTime time.Time

	// MimeType is derived from the path's extension.
	MimeType string

	// Encodings lists precomputed codings stored by the backend beyond
	// identity, which is always available.
	Encodings []Encoding
}

// HasEncoding reports whether the backend stores a variant for enc.
// The identity coding is always present.
func (e *Entry) HasEncoding(enc Encoding) bool {
	if enc == EncodingIdentity {
		return true
	}
	for _, have := range e.Encodings {
		if have == enc {
			return true
		}
	}
	return false
}

// Content provides random access to an entry's bytes in one coding.
//
// Close must be called on every acquisition, including when a request is
// canceled mid-stream, so backends can release file handles promptly.
type Content interface {
	io.ReaderAt
	io.Closer

	// Size returns the total byte length of this coding of the entry.
	Size() int64
}

// DirEntry is one immediate child of a directory.
type DirEntry struct {
	Name  string
	IsDir bool
}

// FileSystem answers path queries against a read-only collection of
// entries. Implementations must be safe for concurrent use; entries and
// content are never mutated during serving.
//
// Lookup returns fs.ErrNotExist (wrapped) for unknown paths, for paths
// that escape the backend root, and for directories. It never exposes a
// distinct error for out-of-root probes. ReadDir returns children ordered
// by name.
type FileSystem interface {
	Lookup(name string) (*Entry, error)
	Open(e *Entry, enc Encoding) (Content, error)
	ReadDir(name string) ([]DirEntry, error)
}
