package servefs

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/silvermint/servefs/fsys"
)

// Request is the inbound descriptor the engine consumes. The engine
// reads the method, the path, and the If-Modified-Since, Range, and
// Accept-Encoding headers; everything else is the host's business.
type Request struct {
	Method string
	Path   string
	Header http.Header
}

// Header is one response header. Responses carry headers as an ordered
// list so output is deterministic.
type Header struct {
	Name  string
	Value string
}

// Response is the outbound descriptor the engine produces.
//
// Body is nil for empty responses (304, HEAD, rejections). When non-nil
// the host must read it and call Close, including when the client
// disconnects mid-stream, so the backend's content handle is released.
type Response struct {
	Status        int
	Headers       []Header
	ContentLength int64
	Body          io.ReadCloser
}

// Header returns the first value for name, case-insensitively.
func (r *Response) Header(name string) (string, bool) {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

func (r *Response) add(name, value string) {
	r.Headers = append(r.Headers, Header{Name: name, Value: value})
}

// DefaultMaxEncodeSize bounds on-the-fly compression: resources larger
// than this are served identity unless the backend stores a variant.
const DefaultMaxEncodeSize = 4 << 20

// Server resolves requests against one backend. It is stateless per
// request and safe for concurrent use; construct once and share.
type Server struct {
	fs            fsys.FileSystem
	prefix        string
	compress      bool
	maxEncodeSize int64
	logger        *slog.Logger
	enc           *compressor
}

// Option configures a Server.
type Option func(*Server)

// WithPrefix serves only requests under the given URL prefix, stripping
// it before resolution. Requests outside the prefix yield 404.
func WithPrefix(prefix string) Option {
	return func(s *Server) {
		prefix = "/" + strings.Trim(prefix, "/")
		if prefix == "/" {
			s.prefix = ""
			return
		}
		s.prefix = prefix + "/"
	}
}

// WithCompression enables or disables content-encoding negotiation.
// Disabled means every response is served identity, regardless of what
// the client accepts or the backend stores. Enabled is the default.
func WithCompression(enabled bool) Option {
	return func(s *Server) {
		s.compress = enabled
	}
}

// WithMaxEncodeSize sets the largest resource the engine will compress
// on the fly for backends that store identity bytes only. Zero disables
// on-the-fly compression; precomputed variants are unaffected.
func WithMaxEncodeSize(n int64) Option {
	return func(s *Server) {
		s.maxEncodeSize = n
	}
}

// WithLogger sets the logger used for per-request debug detail.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// New creates a Server over the given backend.
func New(backend fsys.FileSystem, opts ...Option) *Server {
	s := &Server{
		fs:            backend,
		compress:      true,
		maxEncodeSize: DefaultMaxEncodeSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.enc = newCompressor()
	return s
}

// log returns the logger, falling back to a discard logger if nil.
func (s *Server) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}

// Serve resolves one request into a response descriptor.
//
// Resolution and negotiation failures come back as status-coded
// responses (403, 404, 416) with nil error. A non-nil error means the
// backend failed to read content after a successful lookup; hosts
// should surface that as a 5xx without leaking the error text.
func (s *Server) Serve(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return &Response{Status: http.StatusNotFound}, nil
	}

	reqPath, ok := s.stripPrefix(req.Path)
	if !ok {
		return &Response{Status: http.StatusNotFound}, nil
	}
	name := fsys.Normalize(reqPath)
	if !fs.ValidPath(name) {
		s.log().Debug("rejected escaping path", "path", req.Path)
		return &Response{Status: http.StatusForbidden}, nil
	}

	entry, err := s.fs.Lookup(name)
	if err != nil {
		s.log().Debug("entry not found", "path", name)
		return &Response{Status: http.StatusNotFound}, nil
	}

	if notModified(req.Header.Get("If-Modified-Since"), entry.ModTime) {
		resp := &Response{Status: http.StatusNotModified}
		resp.add("Last-Modified", entry.ModTime.UTC().Format(http.TimeFormat))
		return resp, nil
	}

	choice := s.negotiate(req.Header.Get("Accept-Encoding"), entry)
	content, enc, err := s.open(entry, choice)
	if err != nil {
		return nil, fmt.Errorf("open %s (%s): %w", entry.Path, choice.enc.String(), err)
	}
	total := content.Size()

	rng, partial, err := parseRange(req.Header.Get("Range"), total)
	if err != nil {
		content.Close()
		resp := &Response{Status: http.StatusRequestedRangeNotSatisfiable}
		resp.add("Content-Range", fmt.Sprintf("bytes */%d", total))
		return resp, nil
	}

	resp := &Response{Status: http.StatusOK}
	resp.add("Last-Modified", entry.ModTime.UTC().Format(http.TimeFormat))
	resp.add("Content-Type", entry.MimeType)
	if enc != fsys.EncodingIdentity {
		resp.add("Content-Encoding", enc.String())
	}
	resp.add("Accept-Ranges", "bytes")

	start, length := int64(0), total
	if partial {
		resp.Status = http.StatusPartialContent
		resp.add("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.start, rng.end, total))
		start, length = rng.start, rng.end-rng.start+1
	}
	resp.add("Content-Length", strconv.FormatInt(length, 10))
	resp.ContentLength = length

	if req.Method == http.MethodHead {
		content.Close()
		return resp, nil
	}
	resp.Body = &contentBody{
		SectionReader: io.NewSectionReader(content, start, length),
		content:       content,
	}
	return resp, nil
}

// stripPrefix removes the configured URL prefix. ok is false when the
// request path lies outside it.
func (s *Server) stripPrefix(p string) (string, bool) {
	if s.prefix == "" {
		return p, true
	}
	if rest, found := strings.CutPrefix(p, s.prefix); found {
		return rest, true
	}
	if p+"/" == s.prefix {
		return ".", true
	}
	return "", false
}

// open acquires content for the negotiated coding. An on-the-fly
// variant that did not shrink the resource falls back to identity.
func (s *Server) open(entry *fsys.Entry, choice negotiated) (fsys.Content, fsys.Encoding, error) {
	if choice.onTheFly {
		data, smaller, err := s.enc.variant(s.fs, entry, choice.enc)
		if err != nil {
			return nil, fsys.EncodingIdentity, err
		}
		if smaller {
			return newMemContent(data), choice.enc, nil
		}
		choice.enc = fsys.EncodingIdentity
	}
	content, err := s.fs.Open(entry, choice.enc)
	if err != nil {
		return nil, fsys.EncodingIdentity, err
	}
	return content, choice.enc, nil
}

// contentBody streams a bounded span of backend content and releases
// the content handle on Close.
type contentBody struct {
	*io.SectionReader
	content fsys.Content
}

func (b *contentBody) Close() error {
	return b.content.Close()
}
