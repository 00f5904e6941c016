package registry

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/discordwell/cliaas/pkg/clock"
	"github.com/discordwell/cliaas/pkg/connector/source"
	"github.com/discordwell/cliaas/pkg/errors"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(
		WithLogger(zaptest.NewLogger(t)),
		WithClock(clock.Fake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))),
		WithHTTPClient(http.DefaultClient),
	)
}

// headerEcho records the headers of the last request and answers {}
func headerEcho(t *testing.T, got *http.Header) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = r.Header.Clone()
		_, _ = io.WriteString(w, `{}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCatalogCoversEverySource(t *testing.T) {
	r := newTestRegistry(t)
	assert.Equal(t, source.All(), r.Sources())
	for _, s := range source.All() {
		v, ok := r.Variant(s)
		require.True(t, ok, s)
		assert.Equal(t, s, v.Source)
		assert.NotEmpty(t, v.DisplayName, s)
		assert.NotEmpty(t, v.BaseURL, s)
		assert.NotEmpty(t, v.Required, s)
		assert.NotNil(t, v.Auth, s)
		assert.NotNil(t, v.Adapter, s)
	}
}

func TestUnknownConnector(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.GetClient("not-a-real-vendor", Credentials{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnknownConnector))
	assert.True(t, errors.IsConfigError(err))
}

func TestMissingCredentialsListsEveryKey(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.GetClient("zendesk", Credentials{"email": " "})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeMissingCredentials))

	var e *errors.Error
	require.True(t, errors.As(err, &e))
	missing, ok := e.Detail(errors.DetailMissing)
	require.True(t, ok)
	assert.Equal(t, []string{"api_token", "email", "subdomain"}, missing)
	assert.Equal(t, []string{"api_token", "email", "subdomain"}, r.RequiredKeys(source.Zendesk))
}

func TestBaseURLOverrideDropsTemplateKeys(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Validate("kayako", Credentials{"email": "a", "password": "b", KeyBaseURL: "http://localhost"})
	assert.NoError(t, err)
}

func TestZendeskBasicAuth(t *testing.T) {
	var got http.Header
	srv := headerEcho(t, &got)
	r := newTestRegistry(t)

	c, err := r.GetClient("Zendesk", Credentials{
		"email":     "agent@acme.io",
		"api_token": "tok",
		KeyBaseURL:  srv.URL,
	})
	require.NoError(t, err)
	assert.Equal(t, "zendesk", c.Source())

	_, err = c.Request(context.Background(), "/tickets.json", nil)
	require.NoError(t, err)
	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("agent@acme.io/token:tok"))
	assert.Equal(t, want, got.Get("Authorization"))
}

func TestSubdomainTemplate(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.GetClient("freshdesk", Credentials{"api_key": "k", "subdomain": "acme"})
	require.NoError(t, err)
}

func TestSubdomainMustBeHostLabel(t *testing.T) {
	r := newTestRegistry(t)

	for _, sub := range []string{"acme", "Acme-Support", "a1", " acme "} {
		_, err := r.Validate("zendesk", Credentials{"email": "a", "api_token": "t", "subdomain": sub})
		assert.NoError(t, err, sub)
	}

	for _, sub := range []string{"acme.zendesk.com", "x/evil#", "evil.com/", "-acme", "acme-", "user@host", "a b", strings.Repeat("a", 64)} {
		_, err := r.Validate("zendesk", Credentials{"email": "a", "api_token": "t", "subdomain": sub})
		require.Error(t, err, sub)
		assert.True(t, errors.IsConfigError(err), sub)
		assert.Contains(t, err.Error(), "subdomain", sub)

		_, err = r.GetClient("kayako", Credentials{"email": "a", "password": "p", "subdomain": sub})
		assert.True(t, errors.IsConfigError(err), sub)
	}

	// An explicit base_url bypasses the template entirely
	_, err := r.Validate("freshdesk", Credentials{"api_key": "k", "subdomain": "not a label", KeyBaseURL: "http://localhost"})
	assert.NoError(t, err)
}

func TestIntercomVersionHeader(t *testing.T) {
	var got http.Header
	srv := headerEcho(t, &got)
	r := newTestRegistry(t)

	c, err := r.GetClient("intercom", Credentials{"access_token": "it", KeyBaseURL: srv.URL})
	require.NoError(t, err)
	_, err = c.Request(context.Background(), "/conversations", nil)
	require.NoError(t, err)
	assert.Equal(t, "Bearer it", got.Get("Authorization"))
	assert.Equal(t, "2.11", got.Get("Intercom-Version"))
}

func TestZohoDeskRefreshToken(t *testing.T) {
	var refreshes int32
	tokens := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&refreshes, 1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "rt", r.PostForm.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token": "zoho-at", "token_type": "Bearer", "expires_in": 3600}`)
	}))
	t.Cleanup(tokens.Close)

	var got http.Header
	srv := headerEcho(t, &got)
	r := newTestRegistry(t)

	c, err := r.GetClient("zoho_desk", Credentials{
		"client_id":     "id",
		"client_secret": "secret",
		"refresh_token": "rt",
		"org_id":        "42",
		KeyBaseURL:      srv.URL,
		KeyTokenURL:     tokens.URL,
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = c.Request(context.Background(), "/tickets", nil)
		require.NoError(t, err)
	}
	assert.Equal(t, "Zoho-oauthtoken zoho-at", got.Get("Authorization"))
	assert.Equal(t, "42", got.Get("orgId"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&refreshes))
}

func TestResolveReturnsFreshAdapters(t *testing.T) {
	r := newTestRegistry(t)
	creds := Credentials{"api_token": "g"}

	_, a1, err := r.Resolve("groove", creds)
	require.NoError(t, err)
	_, a2, err := r.Resolve("groove", creds)
	require.NoError(t, err)
	assert.NotSame(t, a1, a2)
}
