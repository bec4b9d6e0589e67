package delivery

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidRange = errors.New("invalid range")

// Range is a byte range [Start, End], inclusive.
type Range struct {
	Start int64
	End   int64
}

func (r Range) Length() int64 {
	return r.End - r.Start + 1
}

// ParseRange parses a Range header against a resource of size bytes. Only
// the first range of a multi-range request is honored. Anything that
// cannot be satisfied returns ErrInvalidRange.
func ParseRange(header string, size int64) (Range, error) {
	const prefix = "bytes="
	header = strings.TrimSpace(header)
	if size <= 0 || !strings.HasPrefix(header, prefix) {
		return Range{}, ErrInvalidRange
	}

	spec, _, _ := strings.Cut(strings.TrimPrefix(header, prefix), ",")
	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok {
		return Range{}, ErrInvalidRange
	}
	startStr = strings.TrimSpace(startStr)
	endStr = strings.TrimSpace(endStr)

	var r Range
	if startStr == "" {
		// bytes=-500 is the last 500 bytes.
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return Range{}, ErrInvalidRange
		}
		r.Start = max(size-n, 0)
		r.End = size - 1
		return r, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 || start >= size {
		return Range{}, ErrInvalidRange
	}
	r.Start = start
	r.End = size - 1
	if endStr != "" {
		end, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start {
			return Range{}, ErrInvalidRange
		}
		r.End = min(end, size-1)
	}
	return r, nil
}

func FormatContentRange(r Range, size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}
