package servefs

import (
	"net/http"
	"time"
)

// notModified reports whether the resource is unchanged per the
// If-Modified-Since header value.
//
// Both sides are compared at second resolution: HTTP dates carry whole
// seconds, so a sub-second difference between the stored time and its
// formatted echo must never count as "modified". An absent or
// unparseable header value means the resource is served normally.
func notModified(ims string, modTime time.Time) bool {
	if ims == "" {
		return false
	}
	t, err := http.ParseTime(ims)
	if err != nil {
		return false
	}
	return !modTime.Truncate(time.Second).After(t.Truncate(time.Second))
}
