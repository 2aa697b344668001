package stream

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Exported variables.
var (
	// ErrRangeNotSatisfiable means the requested window lies outside the file.
	ErrRangeNotSatisfiable = errors.New("range not satisfiable")
	// ErrUnsupportedFormat means the format is not in the streamable allow-list.
	ErrUnsupportedFormat = errors.New("unsupported format")
)

const bytesUnit = "bytes="

// Range is an inclusive byte window of a file.
type Range struct {
	Start int64
	End   int64
}

// Length returns the number of bytes in the window.
func (r Range) Length() int64 {
	return r.End - r.Start + 1
}

// ContentRange formats the Content-Range header for a partial response.
func (r Range) ContentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

// ParseRange interprets a Range header against a file of the given size.
//
// It returns nil when the whole file should be served: no header, a unit other
// than bytes, a malformed value, or a multi-range request. It fails with
// ErrRangeNotSatisfiable when the start is at or past the end of the file, the
// end is past the last byte, or the start is after the end. An omitted end means
// the last byte; "bytes=-N" selects the last N bytes.
func ParseRange(header string, size int64) (*Range, error) {
	header = strings.TrimSpace(header)
	if len(header) < len(bytesUnit) || !strings.EqualFold(header[:len(bytesUnit)], bytesUnit) {
		return nil, nil //nolint:nilnil // nil range means the full file
	}

	spec := strings.TrimSpace(header[len(bytesUnit):])
	if strings.Contains(spec, ",") {
		return nil, nil //nolint:nilnil // multiple ranges are not supported; serve the full file
	}

	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok {
		return nil, nil //nolint:nilnil // malformed
	}

	startStr = strings.TrimSpace(startStr)
	endStr = strings.TrimSpace(endStr)

	if startStr == "" {
		return parseSuffix(endStr, size)
	}

	start, err := parseOffset(startStr)
	if err != nil {
		return nil, nil //nolint:nilnil // malformed
	}

	end := size - 1
	if endStr != "" {
		end, err = parseOffset(endStr)
		if err != nil {
			return nil, nil //nolint:nilnil // malformed
		}
	}

	if start >= size || end >= size || start > end {
		return nil, fmt.Errorf("%w: bytes=%s of %d", ErrRangeNotSatisfiable, spec, size)
	}

	return &Range{Start: start, End: end}, nil
}

// parseSuffix handles "bytes=-N".
func parseSuffix(suffix string, size int64) (*Range, error) {
	n, err := parseOffset(suffix)
	if err != nil {
		return nil, nil //nolint:nilnil // malformed
	}

	if n == 0 || size == 0 {
		return nil, fmt.Errorf("%w: last %d bytes of %d", ErrRangeNotSatisfiable, n, size)
	}

	n = min(n, size)

	return &Range{Start: size - n, End: size - 1}, nil
}

// parseOffset accepts only plain decimal digits. Offsets too large for int64
// saturate, so they compare past the end of any file.
func parseOffset(s string) (int64, error) {
	if s == "" || strings.TrimLeft(s, "0123456789") != "" {
		return 0, strconv.ErrSyntax
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if errors.Is(err, strconv.ErrRange) {
		return math.MaxInt64, nil
	}

	if err != nil {
		return 0, fmt.Errorf("parse offset %q: %w", s, err)
	}

	return n, nil
}
