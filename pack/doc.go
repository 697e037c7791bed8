// Package pack implements the embedded package format: a single binary
// container bundling a directory tree's files, their metadata, and
// optional precompressed variants, indexed for O(log n) lookups.
//
// A package consists of a fixed header, an index, and a data section.
// All fixed-width integers are big-endian.
//
// Header:
//
//	magic       [4]byte  "SFP1"
//	version     uint16
//	entryCount  uint32
//	indexLen    uint64
//	dataLen     uint64
//	dataHash    [32]byte  sha256 of the data section
//
// Index, one record per entry in strictly ascending path order:
//
//	pathLen   uint16
//	path      [pathLen]byte  normalized, slash-separated, no "." or ".."
//	size      uint64         identity (uncompressed) size
//	modTime   int64          unix seconds
//	variants  uint8
//	          per variant: tag uint8, offset uint64, length uint64
//
// Variant tags: 0 identity, 1 gzip, 2 deflate. The identity variant is
// always present; compressed variants are stored only when smaller than
// identity (unless forced at build time). Offsets are relative to the
// start of the data section, which holds the concatenated variant bytes.
//
// Packages are built offline with Create (or the servefs-pack command)
// and loaded at startup with Load or OpenFile. A malformed package
// (bad magic, unknown version, truncated sections, out-of-bounds variant,
// unsorted or invalid paths, checksum mismatch) fails the load; a
// backend never starts on a corrupted package.
package pack
