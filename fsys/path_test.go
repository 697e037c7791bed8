package fsys

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"leading slash", "/css/site.css", "css/site.css"},
		{"trailing slash", "css/site.css/", "css/site.css"},
		{"both slashes", "/img/logo.png/", "img/logo.png"},
		{"empty string", "", "."},
		{"root slash", "/", "."},
		{"dot", ".", "."},
		{"simple", "index.html", "index.html"},
		{"nested path", "/a/b/c", "a/b/c"},
		{"multiple leading slashes", "///a/b", "a/b"},
		{"multiple trailing slashes", "a/b///", "a/b"},
		{"only slashes", "///", "."},
		{"internal double slashes", "a//b", "a/b"},
		{"internal multiple slashes", "a///b//c", "a/b/c"},
		// Dot and dotdot segments are preserved so fs.ValidPath can
		// reject them; normalization never clamps an escaping path.
		{"dotdot in middle", "a/../b", "a/../b"},
		{"dotdot at start", "../etc", "../etc"},
		{"dotdot only", "..", ".."},
		{"dot in middle", "a/./b", "a/./b"},
		{"dotdot with slashes", "//a//..//b//", "a/../b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Normalize(tt.input))
		})
	}
}

func TestTypeByPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want string
	}{
		{"site.css", "text/css; charset=utf-8"},
		{"a/b/index.html", "text/html; charset=utf-8"},
		{"notes.txt", "text/plain; charset=utf-8"},
		{"logo.svg", "image/svg+xml"},
		{"blob.unknownext", "application/octet-stream"},
		{"noextension", "application/octet-stream"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, TypeByPath(tt.path))
		})
	}
}

func TestEntryHasEncoding(t *testing.T) {
	t.Parallel()

	e := &Entry{Encodings: []Encoding{EncodingDeflate}}
	assert.True(t, e.HasEncoding(EncodingIdentity))
	assert.True(t, e.HasEncoding(EncodingDeflate))
	assert.False(t, e.HasEncoding(EncodingGzip))

	bare := &Entry{}
	assert.True(t, bare.HasEncoding(EncodingIdentity))
	assert.False(t, bare.HasEncoding(EncodingGzip))
}
