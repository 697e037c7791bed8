package servefs

import (
	"errors"
	"strconv"
	"strings"
)

// byteRange is an inclusive byte span within a representation.
type byteRange struct {
	start int64
	end   int64
}

var errRangeNotSatisfiable = errors.New("servefs: range not satisfiable")

// parseRange parses a single-range Range header value against the total
// length of the selected representation.
//
// partial is false when the header is absent or requests multiple
// ranges; both are served as a full response per this engine's
// single-range support. A syntactically invalid or unsatisfiable range
// returns errRangeNotSatisfiable, which callers turn into a 416.
//
// Supported forms: "bytes=start-end", "bytes=start-" (to end of
// representation), "bytes=-suffix" (last suffix bytes). The end bound is
// clamped to total-1; a suffix covering the whole representation serves
// all of it as partial content.
func parseRange(value string, total int64) (r byteRange, partial bool, err error) {
	if value == "" {
		return byteRange{}, false, nil
	}
	if strings.Contains(value, ",") {
		// Multi-range requests fall through to a full response.
		return byteRange{}, false, nil
	}
	spec, found := strings.CutPrefix(strings.TrimSpace(value), "bytes=")
	if !found {
		return byteRange{}, false, errRangeNotSatisfiable
	}
	startStr, endStr, found := strings.Cut(spec, "-")
	if !found {
		return byteRange{}, false, errRangeNotSatisfiable
	}

	if startStr == "" {
		// Suffix form: last endStr bytes.
		suffix, err := parseRangeInt(endStr)
		if err != nil {
			return byteRange{}, false, errRangeNotSatisfiable
		}
		if suffix == 0 || total == 0 {
			return byteRange{}, false, errRangeNotSatisfiable
		}
		if suffix > total {
			suffix = total
		}
		return byteRange{start: total - suffix, end: total - 1}, true, nil
	}

	start, err := parseRangeInt(startStr)
	if err != nil {
		return byteRange{}, false, errRangeNotSatisfiable
	}
	if start >= total {
		return byteRange{}, false, errRangeNotSatisfiable
	}

	end := total - 1
	if endStr != "" {
		end, err = parseRangeInt(endStr)
		if err != nil {
			return byteRange{}, false, errRangeNotSatisfiable
		}
		if start > end {
			return byteRange{}, false, errRangeNotSatisfiable
		}
		if end > total-1 {
			end = total - 1
		}
	}
	return byteRange{start: start, end: end}, true, nil
}

// parseRangeInt parses a non-negative decimal range bound.
func parseRangeInt(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, errRangeNotSatisfiable
	}
	return n, nil
}
