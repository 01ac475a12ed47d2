package httpserver

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Range is a parsed `Range: bytes=A-B` header value, per spec.md §4.6.
type Range struct {
	Start int64
	End   int64
}

const rangeUnitPrefix = "bytes="

// ParseRange parses value, which must be of the form "bytes=A-B",
// "bytes=A-" (half-open, reported as (A, 0)) or "bytes=-B" (suffix range,
// reported as (-B, 0)). An inverted range (Start > End) canonicalises to
// (0, 0). Any other unit is a parse error.
func ParseRange(value string) (Range, error) {
	value = strings.TrimSpace(value)
	if len(value) < len(rangeUnitPrefix) || !strings.EqualFold(value[:len(rangeUnitPrefix)], rangeUnitPrefix) {
		return Range{}, errors.Errorf("unsupported range unit in %q", value)
	}
	rest := value[len(rangeUnitPrefix):]
	dash := strings.IndexByte(rest, '-')
	if dash < 0 {
		return Range{}, errors.Errorf("malformed range %q", value)
	}
	startStr, endStr := rest[:dash], rest[dash+1:]

	if startStr == "" {
		if endStr == "" {
			return Range{}, errors.Errorf("malformed range %q", value)
		}
		suffix, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil {
			return Range{}, errors.Wrap(err, "range suffix length")
		}
		return Range{Start: -suffix, End: 0}, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil {
		return Range{}, errors.Wrap(err, "range start")
	}
	if endStr == "" {
		return Range{Start: start, End: 0}, nil
	}
	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil {
		return Range{}, errors.Wrap(err, "range end")
	}
	if start > end {
		return Range{}, nil
	}
	return Range{Start: start, End: end}, nil
}
