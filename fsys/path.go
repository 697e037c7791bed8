package fsys

import (
	"mime"
	"path"
	"strings"
)

// Normalize converts a request path to the form backends expect:
// leading, trailing, and repeated slashes are dropped, and the empty
// path (or bare "/") becomes ".".
//
// Normalize does not resolve path elements. Segments that are "." or
// ".." pass through unchanged so that fs.ValidPath rejects them; an
// escaping path must never be silently clamped into the root.
func Normalize(p string) string {
	segments := make([]string, 0, strings.Count(p, "/")+1)
	for seg := range strings.SplitSeq(p, "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	if len(segments) == 0 {
		return "."
	}
	return strings.Join(segments, "/")
}

// TypeByPath derives a mime type from the path's extension, falling back
// to application/octet-stream when the extension is unknown.
func TypeByPath(name string) string {
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}
