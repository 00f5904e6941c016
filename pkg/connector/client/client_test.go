package client

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/discordwell/cliaas/pkg/auth"
	"github.com/discordwell/cliaas/pkg/clock"
	"github.com/discordwell/cliaas/pkg/errors"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T, baseURL string, mutate func(*Config)) (*Client, *clock.FakeClock) {
	t.Helper()
	fc := clock.Fake(epoch)
	cfg := Config{
		BaseURL:    baseURL,
		Auth:       auth.Bearer("secret"),
		SourceName: "testdesk",
		Clock:      fc,
		Logger:     zaptest.NewLogger(t),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg)
	require.NoError(t, err)
	return c, fc
}

// sequence serves the given statuses in order, then 200 with body for every later call.
func sequence(t *testing.T, hits *int32, body string, steps ...func(w http.ResponseWriter)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(atomic.AddInt32(hits, 1))
		if n <= len(steps) {
			steps[n-1](w)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func status(code int, retryAfter string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		if retryAfter != "" {
			w.Header().Set("Retry-After", retryAfter)
		}
		w.WriteHeader(code)
		_, _ = io.WriteString(w, `{"error":"slow down"}`)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = New(Config{BaseURL: "not a url"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	c, err := New(Config{BaseURL: "https://acme.example.com/api/v2"})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxRetries, c.MaxRetries())
	assert.Equal(t, "acme.example.com", c.Source())

	c, err = New(Config{BaseURL: "https://acme.example.com", MaxRetries: -1})
	require.NoError(t, err)
	assert.Equal(t, 0, c.MaxRetries())
}

func TestRequestHeaderPrecedence(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, func(cfg *Config) {
		cfg.Auth = auth.Static(map[string]string{
			"Authorization": "Bearer secret",
			"X-Layer":       "provider",
			"X-Only-Prov":   "provider",
		})
		cfg.ExtraHeaders = map[string]string{"X-Layer": "extra", "X-Call": "extra"}
	})

	out, err := c.Request(context.Background(), "/tickets", &RequestOptions{
		Headers: map[string]string{"X-Call": "call"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"ok": true}, out)

	assert.Equal(t, "Bearer secret", got.Get("Authorization"))
	assert.Equal(t, "extra", got.Get("X-Layer"))
	assert.Equal(t, "call", got.Get("X-Call"))
	assert.Equal(t, "provider", got.Get("X-Only-Prov"))
	assert.Equal(t, "application/json", got.Get("Accept"))
	assert.Equal(t, DefaultUserAgent, got.Get("User-Agent"))
}

func TestRequestRetryBoundExhausted(t *testing.T) {
	var hits int32
	srv := sequence(t, &hits, `{"ok":true}`,
		status(429, ""), status(429, ""), status(429, ""), status(429, ""))

	c, fc := newTestClient(t, srv.URL, func(cfg *Config) { cfg.MaxRetries = 3 })

	_, err := c.Request(context.Background(), "/tickets", nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeRateLimit))

	var e *errors.Error
	require.True(t, errors.As(err, &e))
	attempts, _ := e.Detail(errors.DetailAttempts)
	assert.Equal(t, 4, attempts)
	assert.Equal(t, "testdesk", e.Details[errors.DetailSource])

	assert.Equal(t, int32(4), atomic.LoadInt32(&hits), "no request beyond the retry budget")
	assert.Equal(t, []time.Duration{DefaultRetryAfter, DefaultRetryAfter, DefaultRetryAfter}, fc.Sleeps())
}

func TestRequestHonoursRetryAfter(t *testing.T) {
	var hits int32
	srv := sequence(t, &hits, `{"tickets":[{"id":1}]}`, status(429, "2"))

	c, fc := newTestClient(t, srv.URL, func(cfg *Config) { cfg.MaxRetries = 5 })

	out, err := c.Request(context.Background(), "/tickets", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"tickets": []interface{}{map[string]interface{}{"id": float64(1)}}}, out)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	assert.Equal(t, []time.Duration{2 * time.Second}, fc.Sleeps())
}

func TestRequestRetryAfterIsBounded(t *testing.T) {
	var hits int32
	far := epoch.Add(24 * time.Hour).Format(http.TimeFormat)
	srv := sequence(t, &hits, `{}`, status(429, "99999999999"), status(429, "NaN"), status(429, far), status(429, "120"))

	c, fc := newTestClient(t, srv.URL, func(cfg *Config) { cfg.MaxRetryAfter = time.Minute })

	_, err := c.Request(context.Background(), "/tickets", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(5), atomic.LoadInt32(&hits))
	assert.Equal(t, []time.Duration{DefaultRetryAfter, DefaultRetryAfter, time.Minute, time.Minute}, fc.Sleeps())
}

func TestRequestDefaultMaxRetryAfter(t *testing.T) {
	var hits int32
	srv := sequence(t, &hits, `{}`, status(429, "86400"))

	c, fc := newTestClient(t, srv.URL, nil)

	_, err := c.Request(context.Background(), "/tickets", nil)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{DefaultMaxRetryAfter}, fc.Sleeps())
}

func TestRequestRetryAfterHTTPDate(t *testing.T) {
	var hits int32
	when := epoch.Add(7 * time.Second).Format(http.TimeFormat)
	srv := sequence(t, &hits, `{}`, status(429, when))

	c, fc := newTestClient(t, srv.URL, nil)

	_, err := c.Request(context.Background(), "/x", nil)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{7 * time.Second}, fc.Sleeps())
}

func TestRequestCustomRateLimitStatuses(t *testing.T) {
	var hits int32
	srv := sequence(t, &hits, `{}`, status(503, "1"), status(429, "1"))

	c, fc := newTestClient(t, srv.URL, func(cfg *Config) { cfg.RateLimitStatuses = []int{429, 503} })

	_, err := c.Request(context.Background(), "/x", nil)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, fc.Sleeps())
}

func TestRequestUpstreamErrorIsNotRetried(t *testing.T) {
	var hits int32
	srv := sequence(t, &hits, `{}`, func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, strings.Repeat("x", 2000))
	})

	c, fc := newTestClient(t, srv.URL, func(cfg *Config) { cfg.BodyExcerptLimit = 100 })

	_, err := c.Request(context.Background(), "/missing", nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUpstream))

	var e *errors.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, http.StatusNotFound, e.Details[errors.DetailStatus])
	assert.Len(t, e.Details[errors.DetailBody], 103)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.Empty(t, fc.Sleeps())
}

func TestRequestMalformedResponse(t *testing.T) {
	var hits int32
	srv := sequence(t, &hits, `<html>maintenance</html>`)

	c, _ := newTestClient(t, srv.URL, nil)

	_, err := c.Request(context.Background(), "/x", nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeMalformedResponse))
}

func TestRequestEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, nil)
	out, err := c.Request(context.Background(), "/x", &RequestOptions{Method: http.MethodDelete})
	require.NoError(t, err)
	assert.Nil(t, out)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func failingTransport(failures int, calls *int32) *http.Client {
	return &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		n := int(atomic.AddInt32(calls, 1))
		if n <= failures {
			return nil, fmt.Errorf("dial tcp: connection refused")
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{},
			Body:       io.NopCloser(strings.NewReader(`{"ok":1}`)),
			Request:    r,
		}, nil
	})}
}

func TestRequestNetworkErrorsShareRetryBudget(t *testing.T) {
	var calls int32
	c, fc := newTestClient(t, "https://vendor.example.com", func(cfg *Config) {
		cfg.MaxRetries = 2
		cfg.DefaultRetryAfter = 3 * time.Second
		cfg.HTTPClient = failingTransport(10, &calls)
	})

	_, err := c.Request(context.Background(), "/x", nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, fc.Sleeps())
}

func TestRequestRecoversFromNetworkError(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, "https://vendor.example.com", func(cfg *Config) {
		cfg.HTTPClient = failingTransport(1, &calls)
	})

	var out struct {
		OK int `json:"ok"`
	}
	require.NoError(t, c.RequestInto(context.Background(), "/x", nil, &out))
	assert.Equal(t, 1, out.OK)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRequestPreRequestDelay(t *testing.T) {
	var hits int32
	srv := sequence(t, &hits, `{}`, status(429, "1"))

	c, fc := newTestClient(t, srv.URL, func(cfg *Config) { cfg.PreRequestDelay = 250 * time.Millisecond })

	_, err := c.Request(context.Background(), "/x", nil)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{250 * time.Millisecond, time.Second, 250 * time.Millisecond}, fc.Sleeps())
}

func TestRequestCancelledContext(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, "https://vendor.example.com", func(cfg *Config) {
		cfg.HTTPClient = failingTransport(100, &calls)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Request(ctx, "/x", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRequestAuthFailure(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, "https://vendor.example.com", func(cfg *Config) {
		cfg.HTTPClient = failingTransport(0, &calls)
		cfg.Auth = auth.HeaderFunc(func(context.Context) (map[string]string, error) {
			return nil, stderrors.New("refresh token revoked")
		})
	})

	_, err := c.Request(context.Background(), "/x", nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestRequestURLResolution(t *testing.T) {
	var paths []string
	c, _ := newTestClient(t, "https://acme.example.com/api/v2/", func(cfg *Config) {
		cfg.HTTPClient = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			paths = append(paths, r.URL.String())
			return &http.Response{StatusCode: 200, Header: http.Header{}, Body: io.NopCloser(strings.NewReader(`{}`)), Request: r}, nil
		})}
	})

	ctx := context.Background()
	_, err := c.Request(ctx, "tickets.json?per_page=2", &RequestOptions{Query: url.Values{"page": {"3"}}})
	require.NoError(t, err)
	_, err = c.Request(ctx, "https://other.example.com/next?cursor=abc", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://acme.example.com/api/v2/tickets.json?page=3&per_page=2",
		"https://other.example.com/next?cursor=abc",
	}, paths)
}

func TestRequestSendsJSONBody(t *testing.T) {
	var gotBody, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody, gotType = string(b), r.Header.Get("Content-Type")
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, nil)
	_, err := c.Request(context.Background(), "/search", &RequestOptions{
		Method: http.MethodPost,
		Body:   map[string]string{"q": "open"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"q":"open"}`, gotBody)
	assert.Equal(t, "application/json", gotType)
}

func TestParseRetryAfter(t *testing.T) {
	now := epoch
	tests := []struct {
		in     string
		want   time.Duration
		wantOK bool
	}{
		{"", 0, false},
		{"2", 2 * time.Second, true},
		{" 0 ", 0, true},
		{"1.5", 1500 * time.Millisecond, true},
		{"-1", 0, false},
		{"soon", 0, false},
		{now.Add(30 * time.Second).Format(http.TimeFormat), 30 * time.Second, true},
		{now.Add(-30 * time.Second).Format(http.TimeFormat), 0, true},
		{"99999999999", 0, false},
		{"9223372036854775808", 0, false},
		{"NaN", 0, false},
		{"Inf", 0, false},
		{"-Inf", 0, false},
		{"1e300", 0, false},
		{"-0.5", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseRetryAfter(tt.in, now)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
