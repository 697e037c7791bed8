package pack

import (
	"bytes"
	"io/fs"
	"sort"
	"strings"

	"github.com/silvermint/servefs/fsys"
)

// FS serves entries out of a loaded Package. It implements
// fsys.FileSystem.
//
// Lookups are index probes; Open returns a view into the data section
// with no copying. Directories are synthesized from file paths; the
// format does not store them explicitly.
type FS struct {
	pkg *Package
}

// NewFS wraps a loaded package as a serving backend.
func NewFS(pkg *Package) *FS {
	return &FS{pkg: pkg}
}

// Lookup implements fsys.FileSystem.
func (f *FS) Lookup(name string) (*fsys.Entry, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "lookup", Path: name, Err: fs.ErrNotExist}
	}
	i, ok := f.pkg.byPath[name]
	if !ok {
		return nil, &fs.PathError{Op: "lookup", Path: name, Err: fs.ErrNotExist}
	}
	rec := &f.pkg.records[i]

	var encodings []fsys.Encoding
	for _, v := range rec.variants {
		if v.enc != fsys.EncodingIdentity {
			encodings = append(encodings, v.enc)
		}
	}
	return &fsys.Entry{
		Path:      name,
		Size:      rec.size,
		ModTime:   rec.modTime,
		MimeType:  fsys.TypeByPath(name),
		Encodings: encodings,
	}, nil
}

// Open implements fsys.FileSystem. The returned content aliases the
// package's data section and never needs decompression: identity bytes
// are always stored, and compressed variants are served as-is under
// their own coding.
func (f *FS) Open(e *fsys.Entry, enc fsys.Encoding) (fsys.Content, error) {
	i, ok := f.pkg.byPath[e.Path]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: e.Path, Err: fs.ErrNotExist}
	}
	for _, v := range f.pkg.records[i].variants {
		if v.enc == enc {
			return &bytesContent{r: bytes.NewReader(f.pkg.data[v.off : v.off+v.length])}, nil
		}
	}
	return nil, fsys.ErrNoVariant
}

// ReadDir implements fsys.FileSystem. Children are synthesized from the
// sorted index via a prefix scan and returned ordered by name.
func (f *FS) ReadDir(name string) ([]fsys.DirEntry, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
	}
	prefix := ""
	if name != "." {
		if _, ok := f.pkg.byPath[name]; ok {
			return nil, &fs.PathError{Op: "readdir", Path: name, Err: fsys.ErrNotDir}
		}
		prefix = name + "/"
	}

	var entries []fsys.DirEntry
	last := ""
	for i := f.pkg.searchPrefix(prefix); i < len(f.pkg.records); i++ {
		path := f.pkg.records[i].path
		if !strings.HasPrefix(path, prefix) {
			break
		}
		child := path[len(prefix):]
		isDir := false
		if j := strings.IndexByte(child, '/'); j >= 0 {
			child, isDir = child[:j], true
		}
		// Identical child names are adjacent in the sorted index.
		if child == last {
			continue
		}
		last = child
		entries = append(entries, fsys.DirEntry{Name: child, IsDir: isDir})
	}
	if len(entries) == 0 && name != "." {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// bytesContent adapts a bytes.Reader over the data section to
// fsys.Content.
type bytesContent struct {
	r *bytes.Reader
}

func (c *bytesContent) ReadAt(p []byte, off int64) (int, error) {
	return c.r.ReadAt(p, off)
}

func (c *bytesContent) Size() int64 {
	return c.r.Size()
}

func (c *bytesContent) Close() error {
	return nil
}

// Interface compliance.
var (
	_ fsys.FileSystem = (*FS)(nil)
	_ fsys.Content    = (*bytesContent)(nil)
)
