package fsys

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Local serves entries from a directory tree on disk.
//
// All lookups go through an os.Root, so symlinks and path tricks cannot
// escape the served directory; an escaping probe fails the same way a
// missing file does. Entries are resolved lazily per lookup; mod times
// are truncated to whole seconds to match HTTP date granularity.
//
// Local stores identity bytes only. Encoded variants, when wanted, are
// produced by the serving engine.
type Local struct {
	root *os.Root
}

// NewLocal opens dir as the serving root.
func NewLocal(dir string) (*Local, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, err
	}
	return &Local{root: root}, nil
}

// Close releases the root directory handle.
func (l *Local) Close() error {
	return l.root.Close()
}

// Lookup implements FileSystem. Directories and irregular files resolve
// to fs.ErrNotExist; so does anything outside the root.
func (l *Local) Lookup(name string) (*Entry, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "lookup", Path: name, Err: fs.ErrNotExist}
	}
	info, err := l.root.Stat(filepath.FromSlash(name))
	if err != nil || !info.Mode().IsRegular() {
		return nil, &fs.PathError{Op: "lookup", Path: name, Err: fs.ErrNotExist}
	}
	return &Entry{
		Path:     name,
		Size:     info.Size(),
		ModTime:  info.ModTime().Truncate(time.Second),
		MimeType: TypeByPath(name),
	}, nil
}

// Open implements FileSystem. Only the identity coding is stored.
func (l *Local) Open(e *Entry, enc Encoding) (Content, error) {
	if enc != EncodingIdentity {
		return nil, ErrNoVariant
	}
	f, err := l.root.Open(filepath.FromSlash(e.Path))
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &fileContent{f: f, size: info.Size()}, nil
}

// ReadDir implements FileSystem. Children are ordered by name.
func (l *Local) ReadDir(name string) ([]DirEntry, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
	}
	info, err := l.root.Stat(filepath.FromSlash(name))
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
	}
	if !info.IsDir() {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: ErrNotDir}
	}

	children, err := fs.ReadDir(l.root.FS(), name)
	if err != nil {
		return nil, err
	}
	entries := make([]DirEntry, 0, len(children))
	for _, child := range children {
		entries = append(entries, DirEntry{Name: child.Name(), IsDir: child.IsDir()})
	}
	return entries, nil
}

// fileContent wraps *os.File to implement Content.
// os.File has ReadAt but not Size, so the size is cached at open time.
type fileContent struct {
	f    *os.File
	size int64
}

func (c *fileContent) ReadAt(p []byte, off int64) (int, error) {
	return c.f.ReadAt(p, off)
}

func (c *fileContent) Size() int64 {
	return c.size
}

func (c *fileContent) Close() error {
	return c.f.Close()
}

// Interface compliance.
var (
	_ FileSystem = (*Local)(nil)
	_ Content    = (*fileContent)(nil)
)
