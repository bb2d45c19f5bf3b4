package utils

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestISO8601RoundTrip(t *testing.T) {
	ts := time.Date(2025, 3, 4, 5, 6, 7, 123456000, time.UTC)
	s := TimeToISO8601(ts)
	assert.Equal(t, "2025-03-04T05:06:07.123456Z", s)

	parsed, err := ISO8601ToTime(s)
	require.NoError(t, err)
	assert.True(t, ts.Equal(parsed))
}

func TestISO8601ToTime_NaiveTimestamp(t *testing.T) {
	parsed, err := ISO8601ToTime("2025-03-04T05:06:07.123456")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, parsed.Location())
	assert.Equal(t, 5, parsed.Hour())

	_, err = ISO8601ToTime("yesterday")
	assert.Error(t, err)
}

func TestBase64Decode_AcceptsUnpadded(t *testing.T) {
	b, err := Base64Decode("aGk")
	require.NoError(t, err)
	assert.Equal(t, "hi", string(b))

	_, err = Base64Decode("***")
	assert.Error(t, err)
}

func TestWholeDaysBetween(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 0, WholeDaysBetween(start, start.Add(23*time.Hour)))
	assert.Equal(t, 1, WholeDaysBetween(start, start.Add(25*time.Hour)))
	assert.Equal(t, 0, WholeDaysBetween(start, start.Add(-48*time.Hour)))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 1.0, Clamp(1.7, 0, 1))
	assert.Equal(t, -1.0, Clamp(-3, -1, 1))
	assert.Equal(t, 0.0, Clamp(math.NaN(), 0, 1))
}
