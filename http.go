package servefs

import (
	"io"
	"net/http"
)

// ServeHTTP implements http.Handler, adapting net/http requests to the
// engine's descriptors. Headers are written in the engine's order; a
// backend read failure becomes a plain 500 with no internal detail.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp, err := s.Serve(r.Context(), &Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Header: r.Header,
	})
	if err != nil {
		s.log().Error("serve failed", "path", r.URL.Path, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h := w.Header()
	for _, hdr := range resp.Headers {
		h.Add(hdr.Name, hdr.Value)
	}
	w.WriteHeader(resp.Status)

	if resp.Body == nil {
		return
	}
	defer resp.Body.Close()
	// A client disconnect aborts the copy; Close still runs and releases
	// the backend handle.
	if _, err := io.Copy(w, resp.Body); err != nil {
		s.log().Debug("body copy aborted", "path", r.URL.Path, "error", err)
	}
}
