package pack

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"

	"github.com/silvermint/servefs/fsys"
)

// DefaultMaxFiles is the default limit used when no CreateWithMaxFiles
// option is set.
const DefaultMaxFiles = 200_000

// SkipFunc returns true when a file should be stored uncompressed.
// It is called once per file and should be inexpensive.
type SkipFunc func(path string, size int64) bool

// DefaultSkipCompression returns a SkipFunc that skips small files and
// known already-compressed extensions.
func DefaultSkipCompression(minSize int64) SkipFunc {
	return func(p string, size int64) bool {
		if minSize > 0 && size < minSize {
			return true
		}
		ext := strings.ToLower(path.Ext(p))
		_, ok := skipCompressionExts[ext]
		return ok
	}
}

var skipCompressionExts = map[string]struct{}{
	".7z":    {},
	".avif":  {},
	".br":    {},
	".bz2":   {},
	".gif":   {},
	".gz":    {},
	".jpeg":  {},
	".jpg":   {},
	".mp3":   {},
	".mp4":   {},
	".ogg":   {},
	".pdf":   {},
	".png":   {},
	".webm":  {},
	".webp":  {},
	".woff":  {},
	".woff2": {},
	".xz":    {},
	".zip":   {},
	".zst":   {},
}

// createConfig holds configuration for package creation.
type createConfig struct {
	encodings   []fsys.Encoding
	allVariants bool
	maxFiles    int
	skip        []SkipFunc
	logger      *slog.Logger
}

// CreateOption configures package creation.
type CreateOption func(*createConfig)

// CreateWithEncodings sets which compressed variants to precompute.
// The default is gzip and deflate. Identity is always stored.
func CreateWithEncodings(encs ...fsys.Encoding) CreateOption {
	return func(cfg *createConfig) {
		cfg.encodings = encs
	}
}

// CreateWithAllVariants stores compressed variants even when they are
// not smaller than the identity bytes. The default keeps a variant only
// when it reduces size.
func CreateWithAllVariants() CreateOption {
	return func(cfg *createConfig) {
		cfg.allVariants = true
	}
}

// CreateWithMaxFiles limits the number of files included in the package.
// Zero uses DefaultMaxFiles. Negative means no limit.
func CreateWithMaxFiles(n int) CreateOption {
	return func(cfg *createConfig) {
		cfg.maxFiles = n
	}
}

// CreateWithSkipCompression adds predicates that decide to store a file
// uncompressed. If any predicate returns true, compression is skipped
// for that file. These run once per file, so keep them cheap.
func CreateWithSkipCompression(fns ...SkipFunc) CreateOption {
	return func(cfg *createConfig) {
		cfg.skip = append(cfg.skip, fns...)
	}
}

// CreateWithLogger sets the logger used during creation.
func CreateWithLogger(l *slog.Logger) CreateOption {
	return func(cfg *createConfig) {
		cfg.logger = l
	}
}

// Create builds a package from the contents of dir and writes it to w.
//
// Create walks dir recursively, including all regular files; symlinks
// and empty directories are skipped. Entry metadata and variant bytes
// are collected in memory first, then the index and data section are
// emitted in one forward pass with precomputed offsets, so memory use
// scales with the total size of the bundled files.
//
// The context cancels a long-running walk.
func Create(ctx context.Context, dir string, w io.Writer, opts ...CreateOption) error {
	cfg := createConfig{
		encodings: []fsys.Encoding{fsys.EncodingGzip, fsys.EncodingDeflate},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	root, err := os.OpenRoot(dir)
	if err != nil {
		return err
	}
	defer root.Close()

	b := &builder{cfg: cfg}
	b.log().Info("creating package", "dir", dir)

	entries, err := b.collect(ctx, root)
	if err != nil {
		return err
	}
	return b.emit(w, entries)
}

// builder holds state for package creation.
type builder struct {
	cfg createConfig
}

// log returns the logger, falling back to a discard logger if nil.
func (b *builder) log() *slog.Logger {
	if b.cfg.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return b.cfg.logger
}

// builderVariant is one coding of a file's bytes awaiting emission.
type builderVariant struct {
	enc  fsys.Encoding
	data []byte
}

// builderEntry is one file's metadata and variants awaiting emission.
type builderEntry struct {
	path     string
	size     int64
	modTime  int64 // unix seconds
	variants []builderVariant
}

// collect walks the tree, reading and compressing every regular file.
func (b *builder) collect(ctx context.Context, root *os.Root) ([]builderEntry, error) {
	maxFiles := b.cfg.maxFiles
	if maxFiles == 0 {
		maxFiles = DefaultMaxFiles
	}

	var entries []builderEntry
	err := fs.WalkDir(root.FS(), ".", func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			b.log().Debug("skipped irregular file", "path", p)
			return nil
		}
		if maxFiles > 0 && len(entries) >= maxFiles {
			return ErrTooManyFiles
		}

		entry, err := b.readEntry(root, p)
		if err != nil {
			return err
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}

	// WalkDir visits names in per-directory lexical order, which is not
	// byte order over full slash paths. Prefix scans require the latter.
	sort.Slice(entries, func(i, j int) bool { return entries[i].path < entries[j].path })
	return entries, nil
}

// readEntry reads one file and prepares its variants.
func (b *builder) readEntry(root *os.Root, p string) (builderEntry, error) {
	info, err := fs.Stat(root.FS(), p)
	if err != nil {
		return builderEntry{}, err
	}
	raw, err := fs.ReadFile(root.FS(), p)
	if err != nil {
		return builderEntry{}, err
	}

	variants := []builderVariant{{enc: fsys.EncodingIdentity, data: raw}}
	if !b.shouldSkip(p, info.Size()) {
		for _, enc := range b.cfg.encodings {
			if enc == fsys.EncodingIdentity {
				continue
			}
			compressed, err := encode(enc, raw)
			if err != nil {
				return builderEntry{}, fmt.Errorf("compress %s: %w", p, err)
			}
			if b.cfg.allVariants || len(compressed) < len(raw) {
				variants = append(variants, builderVariant{enc: enc, data: compressed})
			} else {
				b.log().Debug("variant not smaller, dropped", "path", p, "encoding", enc.String())
			}
		}
	}

	return builderEntry{
		path:     p,
		size:     info.Size(),
		modTime:  info.ModTime().Unix(),
		variants: variants,
	}, nil
}

// shouldSkip checks if any predicate wants the file stored uncompressed.
func (b *builder) shouldSkip(p string, size int64) bool {
	for _, fn := range b.cfg.skip {
		if fn != nil && fn(p, size) {
			return true
		}
	}
	return false
}

// encode compresses raw with the given coding.
func encode(enc fsys.Encoding, raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	switch enc {
	case fsys.EncodingGzip:
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(raw); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
	case fsys.EncodingDeflate:
		fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write(raw); err != nil {
			return nil, err
		}
		if err := fw.Close(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported encoding %d", enc)
	}
	return buf.Bytes(), nil
}

// emit writes the header, index, and data section. Offsets are assigned
// from the already-known variant sizes; nothing is backpatched.
func (b *builder) emit(w io.Writer, entries []builderEntry) error {
	var indexLen, dataLen uint64
	hasher := sha256.New()
	for i := range entries {
		e := &entries[i]
		indexLen += 2 + uint64(len(e.path)) + 8 + 8 + 1 + uint64(len(e.variants))*variantLen
		for _, v := range e.variants {
			dataLen += uint64(len(v.data))
			hasher.Write(v.data)
		}
	}

	header := make([]byte, 0, headerLen)
	header = append(header, magic[:]...)
	header = binary.BigEndian.AppendUint16(header, Version)
	header = binary.BigEndian.AppendUint32(header, uint32(len(entries))) //nolint:gosec // bounded by maxFiles
	header = binary.BigEndian.AppendUint64(header, indexLen)
	header = binary.BigEndian.AppendUint64(header, dataLen)
	header = append(header, hasher.Sum(nil)...)
	if _, err := w.Write(header); err != nil {
		return err
	}

	index := make([]byte, 0, indexLen)
	var offset uint64
	for i := range entries {
		e := &entries[i]
		index = binary.BigEndian.AppendUint16(index, uint16(len(e.path))) //nolint:gosec // fs paths are far below 64KiB
		index = append(index, e.path...)
		index = binary.BigEndian.AppendUint64(index, uint64(e.size)) //nolint:gosec // file sizes are non-negative
		index = binary.BigEndian.AppendUint64(index, uint64(e.modTime))
		index = append(index, uint8(len(e.variants)))
		for _, v := range e.variants {
			index = append(index, uint8(v.enc))
			index = binary.BigEndian.AppendUint64(index, offset)
			index = binary.BigEndian.AppendUint64(index, uint64(len(v.data)))
			offset += uint64(len(v.data))
		}
	}
	if _, err := w.Write(index); err != nil {
		return err
	}

	for i := range entries {
		for _, v := range entries[i].variants {
			if _, err := w.Write(v.data); err != nil {
				return err
			}
		}
	}

	b.log().Info("package written", "file_count", len(entries), "index_bytes", indexLen, "data_bytes", dataLen)
	return nil
}
