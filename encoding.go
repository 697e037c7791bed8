package servefs

import (
	"strconv"
	"strings"

	"github.com/silvermint/servefs/fsys"
)

// encodingPreference is the serving order when the client accepts more
// than one coding. Gzip wins over deflate; identity is the fallback.
var encodingPreference = [...]fsys.Encoding{fsys.EncodingGzip, fsys.EncodingDeflate}

// negotiated is the outcome of content-encoding selection.
type negotiated struct {
	enc      fsys.Encoding
	onTheFly bool
}

// negotiate picks the coding to serve: the preferred coding the client
// accepts and the backend stores, or an on-the-fly candidate when the
// backend stores identity only and the resource is small enough to
// materialize. Encoding selection happens before range slicing; range
// offsets always address the selected representation.
func (s *Server) negotiate(acceptEncoding string, entry *fsys.Entry) negotiated {
	identity := negotiated{enc: fsys.EncodingIdentity}
	if !s.compress {
		return identity
	}
	accepted := parseAcceptEncoding(acceptEncoding)
	if accepted == nil {
		return identity
	}

	// Precomputed variants first: they cost nothing to serve.
	for _, enc := range encodingPreference {
		if accepted.allows(enc.String()) && entry.HasEncoding(enc) {
			return negotiated{enc: enc}
		}
	}

	if len(entry.Encodings) == 0 && entry.Size > 0 && entry.Size <= s.maxEncodeSize {
		for _, enc := range encodingPreference {
			if accepted.allows(enc.String()) {
				return negotiated{enc: enc, onTheFly: true}
			}
		}
	}
	return identity
}

// codings maps accepted coding tokens to their quality values.
type codings map[string]float64

// allows reports whether the client accepts the named coding. A listed
// coding with q=0 is an explicit rejection; "*" covers unlisted ones.
func (c codings) allows(name string) bool {
	if q, ok := c[name]; ok {
		return q > 0
	}
	if q, ok := c["*"]; ok {
		return q > 0
	}
	return false
}

// parseAcceptEncoding parses an Accept-Encoding header value into coding
// tokens with quality values. Returns nil when the header is absent or
// names nothing, which means only identity may be served.
func parseAcceptEncoding(value string) codings {
	if value == "" {
		return nil
	}
	out := make(codings)
	for part := range strings.SplitSeq(value, ",") {
		token, params, _ := strings.Cut(part, ";")
		token = strings.ToLower(strings.TrimSpace(token))
		if token == "" {
			continue
		}
		q := 1.0
		if params != "" {
			k, v, _ := strings.Cut(strings.TrimSpace(params), "=")
			if strings.TrimSpace(strings.ToLower(k)) == "q" {
				if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
					q = parsed
				}
			}
		}
		out[token] = q
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
