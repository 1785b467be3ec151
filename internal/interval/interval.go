// Package interval handles delivery interval identifiers: parsing, alignment
// and enumeration of interval start times.
//
// A delivery time is the unix second at which its interval starts. Every
// delivery time is a multiple of the market interval length.
package interval

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// unixRegex matches a plain unix timestamp in seconds.
// Example: 1735689600
var unixRegex = regexp.MustCompile(`^-?[0-9]+$`)

var (
	ErrInvalidDeliveryTime = errors.New("interval: invalid delivery time")
	ErrMisaligned          = errors.New("interval: delivery time not aligned to interval length")
	ErrEmptyRange          = errors.New("interval: empty range")
)

// maxRange caps the number of intervals a single Range call enumerates.
const maxRange = 10_000

// Parse reads a delivery time given as unix seconds or as an RFC3339
// timestamp. It does not check alignment.
func Parse(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if unixRegex.MatchString(s) {
		ts, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s", ErrInvalidDeliveryTime, s)
		}
		return ts, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s (expected unix seconds or RFC3339)", ErrInvalidDeliveryTime, s)
	}
	return t.Unix(), nil
}

// ParseAligned parses s and checks it against the interval length.
func ParseAligned(s string, length int64) (int64, error) {
	ts, err := Parse(s)
	if err != nil {
		return 0, err
	}
	if err := Check(ts, length); err != nil {
		return 0, err
	}
	return ts, nil
}

// Align returns the start of the interval containing ts.
func Align(ts, length int64) int64 {
	r := ts % length
	if r < 0 {
		r += length
	}
	return ts - r
}

// Check returns ErrMisaligned unless ts starts an interval.
func Check(ts, length int64) error {
	if Align(ts, length) != ts {
		return fmt.Errorf("%w: %d (length %ds)", ErrMisaligned, ts, length)
	}
	return nil
}

// Format renders a delivery time as RFC3339 in UTC.
func Format(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}

// Bounds returns the start and end of the interval starting at ts.
func Bounds(ts, length int64) (start, end time.Time) {
	start = time.Unix(ts, 0).UTC()
	return start, start.Add(time.Duration(length) * time.Second)
}

// Range lists the aligned delivery times in [from, to). Both ends must be
// aligned; an empty or oversized range is an error.
func Range(from, to, length int64) ([]int64, error) {
	if err := Check(from, length); err != nil {
		return nil, err
	}
	if err := Check(to, length); err != nil {
		return nil, err
	}
	if to <= from {
		return nil, fmt.Errorf("%w: [%d, %d)", ErrEmptyRange, from, to)
	}
	n := (to - from) / length
	if n > maxRange {
		return nil, fmt.Errorf("%w: %d intervals exceeds limit %d", ErrInvalidDeliveryTime, n, maxRange)
	}
	out := make([]int64, 0, n)
	for ts := from; ts < to; ts += length {
		out = append(out, ts)
	}
	return out, nil
}
