package client

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// maxRetryAfterSeconds is the largest delta that fits a time.Duration
const maxRetryAfterSeconds = int64(math.MaxInt64 / int64(time.Second))

// ParseRetryAfter reads a Retry-After value given either as delta seconds or
// as an HTTP date. ok is false when the header is absent or unparsable,
// including negative, non-finite and overflowing deltas. A date in the past
// yields zero.
func ParseRetryAfter(h string, now time.Time) (time.Duration, bool) {
	h = strings.TrimSpace(h)
	if h == "" {
		return 0, false
	}
	// Integer seconds
	if secs, err := strconv.ParseInt(h, 10, 64); err == nil {
		if secs < 0 || secs > maxRetryAfterSeconds {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	// Some vendors send fractional seconds
	if secs, err := strconv.ParseFloat(h, 64); err == nil {
		if math.IsNaN(secs) || math.IsInf(secs, 0) || secs < 0 || secs >= float64(maxRetryAfterSeconds) {
			return 0, false
		}
		return time.Duration(secs * float64(time.Second)), true
	}
	// HTTP-date
	if when, err := http.ParseTime(h); err == nil {
		d := when.Sub(now)
		if d < 0 {
			return 0, true
		}
		return d, true
	}
	return 0, false
}
