package servefs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silvermint/servefs/fsys"
	"github.com/silvermint/servefs/pack"
)

func writeTree(t *testing.T, files map[string][]byte) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, content, 0o644))
	}
	return dir
}

func newLocalServer(t *testing.T, files map[string][]byte, opts ...Option) *Server {
	t.Helper()
	backend, err := fsys.NewLocal(writeTree(t, files))
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return New(backend, opts...)
}

func newPackServer(t *testing.T, files map[string][]byte, createOpts []pack.CreateOption, opts ...Option) *Server {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, pack.Create(context.Background(), writeTree(t, files), &buf, createOpts...))
	pkg, err := pack.Load(buf.Bytes())
	require.NoError(t, err)
	return New(pack.NewFS(pkg), opts...)
}

// serve runs one request and returns the response descriptor.
func serve(t *testing.T, s *Server, method, path string, headers map[string]string) *Response {
	t.Helper()
	hdr := make(http.Header, len(headers))
	for k, v := range headers {
		hdr.Set(k, v)
	}
	resp, err := s.Serve(context.Background(), &Request{Method: method, Path: path, Header: hdr})
	require.NoError(t, err)
	return resp
}

func readBody(t *testing.T, resp *Response) []byte {
	t.Helper()
	if resp.Body == nil {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return data
}

func gunzip(t *testing.T, data []byte) []byte {
	t.Helper()
	zr, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	out, err := io.ReadAll(zr)
	require.NoError(t, err)
	return out
}

func TestServeOK(t *testing.T) {
	t.Parallel()

	content := []byte("Hello World!")
	s := newLocalServer(t, map[string][]byte{"hello.txt": content})

	resp := serve(t, s, http.MethodGet, "/hello.txt", nil)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, int64(len(content)), resp.ContentLength)
	assert.Equal(t, content, readBody(t, resp))

	lm, ok := resp.Header("Last-Modified")
	require.True(t, ok)
	_, err := http.ParseTime(lm)
	require.NoError(t, err)

	// Headers come back in a fixed order.
	assert.Equal(t, []Header{
		{Name: "Last-Modified", Value: lm},
		{Name: "Content-Type", Value: "text/plain; charset=utf-8"},
		{Name: "Accept-Ranges", Value: "bytes"},
		{Name: "Content-Length", Value: "12"},
	}, resp.Headers)
}

func TestServeHead(t *testing.T) {
	t.Parallel()

	s := newLocalServer(t, map[string][]byte{"hello.txt": []byte("Hello World!")})

	resp := serve(t, s, http.MethodHead, "/hello.txt", nil)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Nil(t, resp.Body)
	assert.Equal(t, int64(12), resp.ContentLength)

	length, ok := resp.Header("Content-Length")
	require.True(t, ok)
	assert.Equal(t, "12", length)
}

func TestServeNotFound(t *testing.T) {
	t.Parallel()

	s := newLocalServer(t, map[string][]byte{
		"hello.txt": []byte("hi"),
		"sub/a.txt": []byte("a"),
	})

	tests := []struct {
		name   string
		method string
		path   string
	}{
		{"missing file", http.MethodGet, "/nope.txt"},
		{"directory", http.MethodGet, "/sub"},
		{"root", http.MethodGet, "/"},
		{"post", http.MethodPost, "/hello.txt"},
		{"put", http.MethodPut, "/hello.txt"},
		{"delete", http.MethodDelete, "/hello.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp := serve(t, s, tt.method, tt.path, nil)
			assert.Equal(t, http.StatusNotFound, resp.Status)
			assert.Empty(t, resp.Headers)
			assert.Nil(t, resp.Body)
		})
	}
}

func TestServeForbiddenTraversal(t *testing.T) {
	t.Parallel()

	s := newLocalServer(t, map[string][]byte{"hello.txt": []byte("hi")})

	paths := []string{
		"/../etc/passwd",
		"/..",
		"/sub/../../escape",
		"/a/../../../b",
	}
	for _, p := range paths {
		t.Run(p, func(t *testing.T) {
			t.Parallel()
			resp := serve(t, s, http.MethodGet, p, nil)
			assert.Equal(t, http.StatusForbidden, resp.Status)
			assert.Empty(t, resp.Headers)
			assert.Nil(t, resp.Body)
		})
	}
}

func TestServeNotModified(t *testing.T) {
	t.Parallel()

	s := newLocalServer(t, map[string][]byte{"hello.txt": []byte("hi")})

	first := serve(t, s, http.MethodGet, "/hello.txt", nil)
	readBody(t, first)
	lm, ok := first.Header("Last-Modified")
	require.True(t, ok)

	// Echoing Last-Modified back yields a 304 with that header only.
	resp := serve(t, s, http.MethodGet, "/hello.txt", map[string]string{"If-Modified-Since": lm})
	assert.Equal(t, http.StatusNotModified, resp.Status)
	assert.Nil(t, resp.Body)
	assert.Equal(t, []Header{{Name: "Last-Modified", Value: lm}}, resp.Headers)

	// An older validator serves the full response.
	mod, err := http.ParseTime(lm)
	require.NoError(t, err)
	stale := mod.Add(-time.Hour).Format(http.TimeFormat)
	resp = serve(t, s, http.MethodGet, "/hello.txt", map[string]string{"If-Modified-Since": stale})
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, []byte("hi"), readBody(t, resp))

	// Garbage validators are ignored.
	resp = serve(t, s, http.MethodGet, "/hello.txt", map[string]string{"If-Modified-Since": "not a date"})
	assert.Equal(t, http.StatusOK, resp.Status)
	readBody(t, resp)
}

func TestServeRange(t *testing.T) {
	t.Parallel()

	content := make([]byte, 1000)
	for i := range content {
		content[i] = byte(i)
	}
	s := newLocalServer(t, map[string][]byte{"data.bin": content}, WithCompression(false))

	tests := []struct {
		name       string
		rangeHdr   string
		wantStatus int
		wantRange  string
		wantBody   []byte
	}{
		{"first half", "bytes=0-499", http.StatusPartialContent, "bytes 0-499/1000", content[:500]},
		{"tail clamped", "bytes=990-2000", http.StatusPartialContent, "bytes 990-999/1000", content[990:]},
		{"open ended", "bytes=500-", http.StatusPartialContent, "bytes 500-999/1000", content[500:]},
		{"suffix", "bytes=-100", http.StatusPartialContent, "bytes 900-999/1000", content[900:]},
		{"suffix covers all", "bytes=-2000", http.StatusPartialContent, "bytes 0-999/1000", content},
		{"multi range full body", "bytes=0-1,5-6", http.StatusOK, "", content},
		{"absent full body", "", http.StatusOK, "", content},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			hdr := map[string]string{}
			if tt.rangeHdr != "" {
				hdr["Range"] = tt.rangeHdr
			}
			resp := serve(t, s, http.MethodGet, "/data.bin", hdr)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, int64(len(tt.wantBody)), resp.ContentLength)
			assert.Equal(t, tt.wantBody, readBody(t, resp))

			cr, ok := resp.Header("Content-Range")
			if tt.wantRange == "" {
				assert.False(t, ok)
			} else {
				require.True(t, ok)
				assert.Equal(t, tt.wantRange, cr)
			}

			length, ok := resp.Header("Content-Length")
			require.True(t, ok)
			assert.Equal(t, fmt.Sprint(len(tt.wantBody)), length)
		})
	}
}

func TestServeRangeNotSatisfiable(t *testing.T) {
	t.Parallel()

	content := make([]byte, 1000)
	s := newLocalServer(t, map[string][]byte{"data.bin": content}, WithCompression(false))

	for _, rangeHdr := range []string{"bytes=1000-1005", "bytes=5000-", "bytes=500-100", "bytes=-0", "lines=1-2"} {
		t.Run(rangeHdr, func(t *testing.T) {
			t.Parallel()
			resp := serve(t, s, http.MethodGet, "/data.bin", map[string]string{"Range": rangeHdr})
			assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, resp.Status)
			assert.Nil(t, resp.Body)
			assert.Equal(t, []Header{{Name: "Content-Range", Value: "bytes */1000"}}, resp.Headers)
		})
	}
}

func TestServePrefix(t *testing.T) {
	t.Parallel()

	s := newLocalServer(t, map[string][]byte{"hello.txt": []byte("hi")}, WithPrefix("/static"))

	resp := serve(t, s, http.MethodGet, "/static/hello.txt", nil)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, []byte("hi"), readBody(t, resp))

	// Outside the prefix nothing resolves.
	for _, p := range []string{"/hello.txt", "/other/hello.txt", "/staticx/hello.txt"} {
		resp := serve(t, s, http.MethodGet, p, nil)
		assert.Equal(t, http.StatusNotFound, resp.Status, p)
	}

	// Escapes are still rejected after stripping.
	resp = serve(t, s, http.MethodGet, "/static/../hello.txt", nil)
	assert.Equal(t, http.StatusForbidden, resp.Status)
}

func TestServePrecomputedEncoding(t *testing.T) {
	t.Parallel()

	original := bytes.Repeat([]byte("<p>hello world</p>\n"), 200)
	s := newPackServer(t, map[string][]byte{"page.html": original}, nil)

	resp := serve(t, s, http.MethodGet, "/page.html", map[string]string{"Accept-Encoding": "gzip, deflate"})
	assert.Equal(t, http.StatusOK, resp.Status)

	enc, ok := resp.Header("Content-Encoding")
	require.True(t, ok)
	assert.Equal(t, "gzip", enc)

	body := readBody(t, resp)
	assert.Less(t, len(body), len(original))
	assert.Equal(t, int64(len(body)), resp.ContentLength)
	assert.Equal(t, original, gunzip(t, body))

	// Content-Encoding slots between Content-Type and Accept-Ranges.
	names := make([]string, len(resp.Headers))
	for i, h := range resp.Headers {
		names[i] = h.Name
	}
	assert.Equal(t, []string{"Last-Modified", "Content-Type", "Content-Encoding", "Accept-Ranges", "Content-Length"}, names)
}

func TestServeStoredDeflateBeatsOnTheFlyGzip(t *testing.T) {
	t.Parallel()

	original := bytes.Repeat([]byte("<p>hello world</p>\n"), 200)
	s := newPackServer(t, map[string][]byte{"page.html": original},
		[]pack.CreateOption{pack.CreateWithEncodings(fsys.EncodingDeflate)})

	resp := serve(t, s, http.MethodGet, "/page.html", map[string]string{"Accept-Encoding": "gzip, deflate"})
	assert.Equal(t, http.StatusOK, resp.Status)

	enc, ok := resp.Header("Content-Encoding")
	require.True(t, ok)
	assert.Equal(t, "deflate", enc)
	readBody(t, resp)
}

func TestServeOnTheFlyGzip(t *testing.T) {
	t.Parallel()

	original := bytes.Repeat([]byte("compress me please "), 200)
	s := newLocalServer(t, map[string][]byte{"big.txt": original})

	resp := serve(t, s, http.MethodGet, "/big.txt", map[string]string{"Accept-Encoding": "gzip"})
	assert.Equal(t, http.StatusOK, resp.Status)

	enc, ok := resp.Header("Content-Encoding")
	require.True(t, ok)
	assert.Equal(t, "gzip", enc)

	body := readBody(t, resp)
	assert.Equal(t, original, gunzip(t, body))

	// Second hit serves the cached variant byte for byte.
	again := serve(t, s, http.MethodGet, "/big.txt", map[string]string{"Accept-Encoding": "gzip"})
	assert.Equal(t, body, readBody(t, again))
}

func TestServeIncompressibleFallsBackToIdentity(t *testing.T) {
	t.Parallel()

	noise := make([]byte, 512)
	for i := range noise {
		noise[i] = byte(i*7 + i*i*13)
	}
	s := newLocalServer(t, map[string][]byte{"noise.bin": noise})

	for range 2 {
		resp := serve(t, s, http.MethodGet, "/noise.bin", map[string]string{"Accept-Encoding": "gzip"})
		assert.Equal(t, http.StatusOK, resp.Status)
		_, ok := resp.Header("Content-Encoding")
		assert.False(t, ok)
		assert.Equal(t, noise, readBody(t, resp))
	}
}

func TestServeCompressionDisabled(t *testing.T) {
	t.Parallel()

	original := bytes.Repeat([]byte("compress me please "), 200)
	s := newPackServer(t, map[string][]byte{"big.txt": original}, nil, WithCompression(false))

	resp := serve(t, s, http.MethodGet, "/big.txt", map[string]string{"Accept-Encoding": "gzip, deflate"})
	assert.Equal(t, http.StatusOK, resp.Status)
	_, ok := resp.Header("Content-Encoding")
	assert.False(t, ok)
	assert.Equal(t, original, readBody(t, resp))
}

func TestServeRangeOverEncodedRepresentation(t *testing.T) {
	t.Parallel()

	original := bytes.Repeat([]byte("<p>hello world</p>\n"), 200)
	s := newPackServer(t, map[string][]byte{"page.html": original}, nil)

	full := serve(t, s, http.MethodGet, "/page.html", map[string]string{"Accept-Encoding": "gzip"})
	encoded := readBody(t, full)
	require.NotEmpty(t, encoded)

	resp := serve(t, s, http.MethodGet, "/page.html", map[string]string{
		"Accept-Encoding": "gzip",
		"Range":           "bytes=0-9",
	})
	assert.Equal(t, http.StatusPartialContent, resp.Status)

	cr, ok := resp.Header("Content-Range")
	require.True(t, ok)
	assert.Equal(t, fmt.Sprintf("bytes 0-9/%d", len(encoded)), cr)
	assert.Equal(t, encoded[:10], readBody(t, resp))
}

func TestServeIdempotent(t *testing.T) {
	t.Parallel()

	s := newPackServer(t, map[string][]byte{"page.html": bytes.Repeat([]byte("<p>x</p>\n"), 100)}, nil)
	hdr := map[string]string{"Accept-Encoding": "gzip, deflate", "Range": "bytes=0-9"}

	first := serve(t, s, http.MethodGet, "/page.html", hdr)
	firstBody := readBody(t, first)
	second := serve(t, s, http.MethodGet, "/page.html", hdr)

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Headers, second.Headers)
	assert.Equal(t, firstBody, readBody(t, second))
}

func TestServeCanceledContext(t *testing.T) {
	t.Parallel()

	s := newLocalServer(t, map[string][]byte{"hello.txt": []byte("hi")})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Serve(ctx, &Request{Method: http.MethodGet, Path: "/hello.txt", Header: http.Header{}})
	assert.ErrorIs(t, err, context.Canceled)
}

// brokenFS resolves entries but fails to open their content.
type brokenFS struct{}

func (brokenFS) Lookup(name string) (*fsys.Entry, error) {
	return &fsys.Entry{Path: name, Size: 2, MimeType: "text/plain"}, nil
}

func (brokenFS) Open(*fsys.Entry, fsys.Encoding) (fsys.Content, error) {
	return nil, errors.New("disk on fire")
}

func (brokenFS) ReadDir(string) ([]fsys.DirEntry, error) {
	return nil, errors.New("disk on fire")
}

func TestServeBackendFailure(t *testing.T) {
	t.Parallel()

	s := New(brokenFS{})
	_, err := s.Serve(context.Background(), &Request{Method: http.MethodGet, Path: "/hello.txt", Header: http.Header{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hello.txt")
}
