package clients

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNewHTTPClientDefaults(t *testing.T) {
	c := NewHTTPClient(nil, zaptest.NewLogger(t))
	require.NotNil(t, c)
	assert.Equal(t, DefaultHTTPConfig().RequestTimeout, c.Timeout)

	tr, ok := c.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 10, tr.MaxIdleConnsPerHost)
}

func TestNewHTTPClientRedirectLimit(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+"/loop", http.StatusFound)
	}))
	defer srv.Close()

	cfg := DefaultHTTPConfig()
	cfg.MaxRedirects = 2
	cfg.EnableHTTP2 = false
	c := NewHTTPClient(cfg, nil)

	resp, err := c.Get(srv.URL)
	if resp != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many redirects")
}
