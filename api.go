package servefs

import "github.com/silvermint/servefs/fsys"

// Re-export backend types from fsys for convenience in host code.
type (
	// FileSystem is the backend contract the engine serves from.
	FileSystem = fsys.FileSystem

	// Entry describes one servable resource.
	Entry = fsys.Entry

	// Encoding identifies a content coding.
	Encoding = fsys.Encoding
)

// Re-export encoding constants.
const (
	EncodingIdentity = fsys.EncodingIdentity
	EncodingGzip     = fsys.EncodingGzip
	EncodingDeflate  = fsys.EncodingDeflate
)
