// Package utils provides small conversion helpers shared across the LCT core.
package utils

import (
	"encoding/base64"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/turtacn/lct/pkg/constants"
)

// ================================================================================
// Base64 Conversion
// ================================================================================

// Base64Encode encodes bytes with standard padded base64
func Base64Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// Base64Decode decodes standard base64, accepting unpadded input as well
func Base64Decode(encoded string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(encoded); err == nil {
		return b, nil
	}
	b, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}
	return b, nil
}

// ================================================================================
// Time Conversion
// ================================================================================

// TimeToISO8601 formats t in UTC with microsecond precision
func TimeToISO8601(t time.Time) string {
	return t.UTC().Format(constants.TimeFormat)
}

// ISO8601ToTime parses RFC 3339 timestamps, plus naive local timestamps
// without an offset which are interpreted as UTC
func ISO8601ToTime(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid ISO-8601 timestamp: %q", s)
}

// DaysToDuration converts a (possibly fractional) day count to a duration
func DaysToDuration(days float64) time.Duration {
	return time.Duration(days * float64(24*time.Hour))
}

// WholeDaysBetween returns the number of complete days from start to end, never negative
func WholeDaysBetween(start, end time.Time) int {
	if end.Before(start) {
		return 0
	}
	return int(end.Sub(start) / (24 * time.Hour))
}

// ================================================================================
// Numeric Helpers
// ================================================================================

// Clamp bounds v to [lo, hi]; NaN collapses to lo
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(hi, math.Max(lo, v))
}

// ================================================================================
// Collection Helpers
// ================================================================================

// SortedKeys returns the keys of a set in ascending order
func SortedKeys[T ~string](m map[T]struct{}) []T {
	out := make([]T, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
