package streaming

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrInvalidRange covers malformed headers and ranges that start at
	// or past the end of the resource.
	ErrInvalidRange = errors.New("invalid range")
	// ErrMultiRange rejects multipart ranges; only a single byte range
	// is served.
	ErrMultiRange = errors.New("multi-range not supported")
)

// ByteRange is an inclusive byte range [Start, End].
type ByteRange struct {
	Start int64
	End   int64
}

// Length returns the number of bytes the range spans.
func (r ByteRange) Length() int64 { return r.End - r.Start + 1 }

// ParseRange parses a Range header against a resource of the given size.
// Multi-range requests fail with ErrMultiRange; everything else that
// cannot be satisfied fails with ErrInvalidRange. An open end or an end
// past the resource is clamped to the last byte.
func ParseRange(header string, size int64) (ByteRange, error) {
	if header == "" || size <= 0 {
		return ByteRange{}, ErrInvalidRange
	}

	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return ByteRange{}, ErrInvalidRange
	}
	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		return ByteRange{}, ErrMultiRange
	}
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return ByteRange{}, ErrInvalidRange
	}
	startStr := strings.TrimSpace(parts[0])
	endStr := strings.TrimSpace(parts[1])

	if startStr == "" {
		// Suffix form: the last N bytes.
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return ByteRange{}, ErrInvalidRange
		}
		if n > size {
			n = size
		}
		return ByteRange{Start: size - n, End: size - 1}, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return ByteRange{}, ErrInvalidRange
	}
	if start >= size {
		return ByteRange{}, ErrInvalidRange
	}
	if endStr == "" {
		return ByteRange{Start: start, End: size - 1}, nil
	}
	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < start {
		return ByteRange{}, ErrInvalidRange
	}
	if end >= size {
		end = size - 1
	}
	return ByteRange{Start: start, End: end}, nil
}

// ContentRange renders the Content-Range header for a 206 response.
func ContentRange(r ByteRange, size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

// UnsatisfiableRange renders the Content-Range header for a 416 response.
func UnsatisfiableRange(size int64) string {
	return fmt.Sprintf("bytes */%d", size)
}
