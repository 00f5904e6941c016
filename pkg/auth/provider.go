// Package auth resolves the authentication headers a vendor API expects.
//
// Every scheme implements HeaderProvider. Static schemes (API key, Basic,
// bearer) return immediately; OAuth2 providers may refresh a token first.
// Callers resolve headers on every request so refreshed tokens are picked
// up without rebuilding the client.
package auth

import (
	"context"
	"encoding/base64"
)

// HeaderProvider produces the current auth headers for a connector.
type HeaderProvider interface {
	ResolveHeaders(ctx context.Context) (map[string]string, error)
}

// HeaderFunc adapts a function to HeaderProvider.
type HeaderFunc func(ctx context.Context) (map[string]string, error)

// ResolveHeaders calls f.
func (f HeaderFunc) ResolveHeaders(ctx context.Context) (map[string]string, error) {
	return f(ctx)
}

// StaticProvider returns the same headers on every call.
type StaticProvider struct {
	headers map[string]string
}

// Static returns a provider for a fixed header set. The map is copied.
func Static(headers map[string]string) *StaticProvider {
	h := make(map[string]string, len(headers))
	for k, v := range headers {
		h[k] = v
	}
	return &StaticProvider{headers: h}
}

// ResolveHeaders returns a fresh copy of the configured headers.
func (s *StaticProvider) ResolveHeaders(_ context.Context) (map[string]string, error) {
	out := make(map[string]string, len(s.headers))
	for k, v := range s.headers {
		out[k] = v
	}
	return out, nil
}

// APIKey sends key in the named header, e.g. "X-Api-Key".
func APIKey(header, key string) *StaticProvider {
	return Static(map[string]string{header: key})
}

// Basic sends HTTP Basic credentials.
func Basic(username, password string) *StaticProvider {
	raw := username + ":" + password
	return Static(map[string]string{
		"Authorization": "Basic " + base64.StdEncoding.EncodeToString([]byte(raw)),
	})
}

// Bearer sends a long-lived bearer token.
func Bearer(token string) *StaticProvider {
	return Static(map[string]string{"Authorization": "Bearer " + token})
}

// None sends no auth headers. Useful for tests and public endpoints.
func None() *StaticProvider {
	return Static(nil)
}
