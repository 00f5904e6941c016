package errors

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// RateLimitExceeded reports that every retry against a rate-limit response
// was used up. attempts is the total number of requests sent.
func RateLimitExceeded(source string, attempts int) *Error {
	e := &Error{
		Type:    ErrorTypeRateLimit,
		Message: fmt.Sprintf("%s: rate limit retries exhausted after %d attempts", source, attempts),
		Stack:   captureStack(2),
	}
	return e.WithDetail(DetailSource, source).WithDetail(DetailAttempts, attempts)
}

// Upstream reports a non-success, non rate-limit HTTP response
func Upstream(source string, status int, body string) *Error {
	e := &Error{
		Type:    ErrorTypeUpstream,
		Message: fmt.Sprintf("%s: upstream returned HTTP %d", source, status),
		Stack:   captureStack(2),
	}
	return e.WithDetail(DetailSource, source).
		WithDetail(DetailStatus, status).
		WithDetail(DetailBody, body)
}

// Network reports a transport failure that survived every retry
func Network(source string, attempts int, cause error) *Error {
	e := &Error{
		Type:    ErrorTypeConnection,
		Message: fmt.Sprintf("%s: request failed after %d attempts", source, attempts),
		Cause:   cause,
		Stack:   captureStack(2),
	}
	return e.WithDetail(DetailSource, source).WithDetail(DetailAttempts, attempts)
}

// MalformedResponse reports a 2xx body that could not be decoded
func MalformedResponse(source string, body string, cause error) *Error {
	e := &Error{
		Type:    ErrorTypeMalformedResponse,
		Message: fmt.Sprintf("%s: response body is not valid JSON", source),
		Cause:   cause,
		Stack:   captureStack(2),
	}
	return e.WithDetail(DetailSource, source).WithDetail(DetailBody, body)
}

// UnknownConnector reports a connector name outside the supported set
func UnknownConnector(name string) *Error {
	e := &Error{
		Type:    ErrorTypeUnknownConnector,
		Message: fmt.Sprintf("unknown connector %q", name),
		Stack:   captureStack(2),
	}
	return e.WithDetail(DetailSource, name)
}

// MissingCredentials reports the credential keys a connector still needs
func MissingCredentials(source string, missing []string) *Error {
	e := &Error{
		Type:    ErrorTypeMissingCredentials,
		Message: fmt.Sprintf("%s: missing credentials: %s", source, strings.Join(missing, ", ")),
		Stack:   captureStack(2),
	}
	return e.WithDetail(DetailSource, source).WithDetail(DetailMissing, missing)
}

// Excerpt trims a response body for inclusion in an error. The cut never
// splits a UTF-8 sequence.
func Excerpt(body []byte, limit int) string {
	if limit <= 0 || len(body) <= limit {
		return string(body)
	}
	cut := limit
	for cut > 0 && cut > limit-utf8.UTFMax && !utf8.RuneStart(body[cut]) {
		cut--
	}
	if !utf8.RuneStart(body[cut]) {
		cut = limit
	}
	return string(body[:cut]) + "..."
}
