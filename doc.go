// Package servefs is a static-file-serving core meant to be embedded in
// an HTTP server. Given a request descriptor it resolves the path
// against a pluggable backend (a local directory or a package file
// bundled into the binary) and produces a fully-specified response:
// conditional-caching short circuits, negotiated content encoding, and
// single-range partial content.
//
// The engine does not own the transport. A host hands it a Request
// (method, path, the headers that matter) and writes out the Response
// (status, ordered headers, body stream) however it likes; ServeHTTP is
// provided for net/http hosts.
//
//	backend, err := fsys.NewLocal("./public")
//	if err != nil {
//	    return err
//	}
//	srv := servefs.New(backend, servefs.WithPrefix("/assets"))
//	http.Handle("/assets/", srv)
//
// For embedded serving, build a package offline with the servefs-pack
// command (or pack.Create) and load it at startup:
//
//	pkg, err := pack.Load(packedAssets)
//	if err != nil {
//	    return err
//	}
//	srv := servefs.New(pack.NewFS(pkg))
//
// Backends are read-only and shared by reference; any number of
// requests may be served concurrently against one Server.
package servefs
