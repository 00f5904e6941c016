// Package client implements the generic vendor HTTP client shared by every
// helpdesk connector.
//
// A Client wraps a base URL, an auth.HeaderProvider and the vendor's tuning
// knobs. Request sends one logical request and owns the retry policy:
// rate-limit responses are retried after the vendor's Retry-After (or a
// default pause), transport failures share the same budget, and every other
// non-2xx response fails immediately.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/discordwell/cliaas/pkg/auth"
	"github.com/discordwell/cliaas/pkg/clock"
	"github.com/discordwell/cliaas/pkg/errors"
	"github.com/discordwell/cliaas/pkg/json"
	"github.com/discordwell/cliaas/pkg/logger"
	"github.com/discordwell/cliaas/pkg/metrics"
	"github.com/discordwell/cliaas/pkg/observability"
)

// Defaults applied by New for zero-valued Config fields.
const (
	DefaultMaxRetries       = 5
	DefaultRetryAfter       = 10 * time.Second
	DefaultMaxRetryAfter    = 5 * time.Minute
	DefaultBodyExcerptLimit = 512
	DefaultUserAgent        = "cliaas-sync/1.0"
)

// Config configures a Client. It is copied by New and never mutated afterwards.
type Config struct {
	// BaseURL is prepended to relative request paths
	BaseURL string
	// Auth resolves auth headers before every attempt. Nil sends none.
	Auth auth.HeaderProvider
	// SourceName identifies the vendor in errors, logs and metrics
	SourceName string

	// MaxRetries bounds retries after the first attempt. Zero selects
	// DefaultMaxRetries; a negative value disables retries.
	MaxRetries int
	// DefaultRetryAfter is the pause used when a rate-limit response has no
	// usable Retry-After header, and between transport failure retries.
	DefaultRetryAfter time.Duration
	// MaxRetryAfter caps the pause a Retry-After header can request. Zero
	// selects DefaultMaxRetryAfter.
	MaxRetryAfter time.Duration
	// PreRequestDelay paces every send. It is not a backoff.
	PreRequestDelay time.Duration
	// ExtraHeaders are vendor quirks merged over the provider headers
	ExtraHeaders map[string]string
	// RateLimitStatuses are the statuses treated as rate limiting. Empty means {429}.
	RateLimitStatuses []int

	HTTPClient       *http.Client
	Clock            clock.Clock
	Logger           *zap.Logger
	BodyExcerptLimit int
	UserAgent        string
}

// RequestOptions are per-call settings. They are never retained.
type RequestOptions struct {
	// Method defaults to GET
	Method string
	// Body is sent as-is when it is []byte, otherwise encoded as JSON
	Body interface{}
	// Headers override every other header source
	Headers map[string]string
	// Query is merged into the request URL
	Query url.Values
}

// Client performs authenticated, rate-limit tolerant requests against one vendor
type Client struct {
	baseURL           *url.URL
	auth              auth.HeaderProvider
	source            string
	maxRetries        int
	defaultRetryAfter time.Duration
	maxRetryAfter     time.Duration
	preRequestDelay   time.Duration
	extraHeaders      map[string]string
	rateLimitStatuses map[int]struct{}
	httpClient        *http.Client
	clock             clock.Clock
	logger            *zap.Logger
	excerptLimit      int
	userAgent         string
}

// New validates cfg and builds a Client
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "client: base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.Newf(errors.ErrorTypeConfig, "client: invalid base URL %q", cfg.BaseURL)
	}

	c := &Client{
		baseURL:           base,
		auth:              cfg.Auth,
		source:            cfg.SourceName,
		maxRetries:        cfg.MaxRetries,
		defaultRetryAfter: cfg.DefaultRetryAfter,
		maxRetryAfter:     cfg.MaxRetryAfter,
		preRequestDelay:   cfg.PreRequestDelay,
		extraHeaders:      make(map[string]string, len(cfg.ExtraHeaders)),
		rateLimitStatuses: make(map[int]struct{}),
		httpClient:        cfg.HTTPClient,
		clock:             cfg.Clock,
		logger:            cfg.Logger,
		excerptLimit:      cfg.BodyExcerptLimit,
		userAgent:         cfg.UserAgent,
	}

	if c.source == "" {
		c.source = base.Host
	}
	switch {
	case c.maxRetries == 0:
		c.maxRetries = DefaultMaxRetries
	case c.maxRetries < 0:
		c.maxRetries = 0
	}
	if c.defaultRetryAfter <= 0 {
		c.defaultRetryAfter = DefaultRetryAfter
	}
	if c.maxRetryAfter <= 0 {
		c.maxRetryAfter = DefaultMaxRetryAfter
	}
	if c.defaultRetryAfter > c.maxRetryAfter {
		c.defaultRetryAfter = c.maxRetryAfter
	}
	if c.preRequestDelay < 0 {
		c.preRequestDelay = 0
	}
	for k, v := range cfg.ExtraHeaders {
		c.extraHeaders[k] = v
	}
	statuses := cfg.RateLimitStatuses
	if len(statuses) == 0 {
		statuses = []int{http.StatusTooManyRequests}
	}
	for _, s := range statuses {
		c.rateLimitStatuses[s] = struct{}{}
	}
	if c.auth == nil {
		c.auth = auth.None()
	}
	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	if c.clock == nil {
		c.clock = clock.Real()
	}
	if c.logger == nil {
		c.logger = logger.Get()
	}
	c.logger = c.logger.With(zap.String("component", "connector_client"), zap.String("source", c.source))
	if c.excerptLimit <= 0 {
		c.excerptLimit = DefaultBodyExcerptLimit
	}
	if c.userAgent == "" {
		c.userAgent = DefaultUserAgent
	}

	return c, nil
}

// Source returns the vendor name this client was built for
func (c *Client) Source() string { return c.source }

// MaxRetries returns the effective retry budget
func (c *Client) MaxRetries() int { return c.maxRetries }

// Request sends one logical request and returns the decoded JSON body.
// An empty body decodes to nil.
func (c *Client) Request(ctx context.Context, path string, opts *RequestOptions) (interface{}, error) {
	body, err := c.Do(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	var out interface{}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errors.MalformedResponse(c.source, errors.Excerpt(body, c.excerptLimit), err)
	}
	return out, nil
}

// RequestInto sends one logical request and decodes the JSON body into out.
// An empty body leaves out untouched.
func (c *Client) RequestInto(ctx context.Context, path string, opts *RequestOptions, out interface{}) error {
	body, err := c.Do(ctx, path, opts)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 || out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.MalformedResponse(c.source, errors.Excerpt(body, c.excerptLimit), err)
	}
	return nil
}

// Do sends one logical request, retrying as configured, and returns the raw
// 2xx body.
func (c *Client) Do(ctx context.Context, path string, opts *RequestOptions) (body []byte, err error) {
	if opts == nil {
		opts = &RequestOptions{}
	}
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	target, err := c.resolveURL(path, opts.Query)
	if err != nil {
		return nil, err
	}

	payload, err := encodeBody(opts.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "client: failed to encode request body")
	}

	ctx, span := observability.StartSpan(ctx, "connector.request",
		attribute.String("connector.source", c.source),
		attribute.String("http.method", method),
		attribute.String("http.url", target),
	)
	attempts := 0
	defer func() {
		span.SetAttributes(attribute.Int("connector.attempts", attempts))
		observability.EndSpan(span, err)
	}()

	for {
		headers, err := c.buildHeaders(ctx, opts.Headers, payload != nil)
		if err != nil {
			return nil, err
		}

		if c.preRequestDelay > 0 {
			if err := clock.Sleep(ctx, c.clock, c.preRequestDelay); err != nil {
				return nil, err
			}
		}

		attempts++
		status, respHeader, respBody, sendErr := c.send(ctx, method, target, headers, payload)

		if sendErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if attempts > c.maxRetries {
				return nil, errors.Network(c.source, attempts, sendErr)
			}
			metrics.ConnectorRetries.WithLabelValues(c.source, "network").Inc()
			c.logger.Warn("request failed, retrying",
				zap.String("url", target),
				zap.Int("attempt", attempts),
				zap.Duration("retry_after", c.defaultRetryAfter),
				zap.Error(sendErr))
			if err := clock.Sleep(ctx, c.clock, c.defaultRetryAfter); err != nil {
				return nil, err
			}
			continue
		}

		if _, limited := c.rateLimitStatuses[status]; limited {
			if attempts > c.maxRetries {
				c.logger.Error("rate limit retries exhausted",
					zap.String("url", target),
					zap.Int("attempts", attempts))
				return nil, errors.RateLimitExceeded(c.source, attempts)
			}
			wait, ok := ParseRetryAfter(respHeader.Get("Retry-After"), c.clock.Now())
			if !ok {
				wait = c.defaultRetryAfter
			}
			if wait > c.maxRetryAfter {
				wait = c.maxRetryAfter
			}
			metrics.ConnectorRetries.WithLabelValues(c.source, "rate_limit").Inc()
			c.logger.Warn("rate limited, retrying",
				zap.String("url", target),
				zap.Int("status", status),
				zap.Int("attempt", attempts),
				zap.Duration("retry_after", wait))
			if err := clock.Sleep(ctx, c.clock, wait); err != nil {
				return nil, err
			}
			continue
		}

		if status < 200 || status > 299 {
			return nil, errors.Upstream(c.source, status, errors.Excerpt(respBody, c.excerptLimit))
		}

		c.logger.Debug("request completed",
			zap.String("method", method),
			zap.String("url", target),
			zap.Int("status", status),
			zap.Int("attempts", attempts))
		return respBody, nil
	}
}

// send performs a single HTTP attempt and reads the whole response body.
func (c *Client) send(ctx context.Context, method, target string, headers map[string]string, payload []byte) (int, http.Header, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, nil, nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveRequest(c.source, 0, time.Since(start))
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	buf := json.GetBuffer()
	defer json.PutBuffer(buf)
	if _, err := io.Copy(buf, resp.Body); err != nil {
		metrics.ObserveRequest(c.source, 0, time.Since(start))
		return 0, nil, nil, fmt.Errorf("read response body: %w", err)
	}
	metrics.ObserveRequest(c.source, resp.StatusCode, time.Since(start))

	body := make([]byte, buf.Len())
	copy(body, buf.Bytes())
	return resp.StatusCode, resp.Header, body, nil
}

// buildHeaders merges, lowest precedence first: client defaults, provider
// headers, vendor extra headers, per-call headers.
func (c *Client) buildHeaders(ctx context.Context, overrides map[string]string, hasBody bool) (map[string]string, error) {
	provided, err := c.auth.ResolveHeaders(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errors.Wrap(err, errors.ErrorTypeAuthentication,
			fmt.Sprintf("%s: failed to resolve auth headers", c.source))
	}

	headers := map[string]string{
		"Accept":     "application/json",
		"User-Agent": c.userAgent,
	}
	if hasBody {
		headers["Content-Type"] = "application/json"
	}
	for k, v := range provided {
		headers[k] = v
	}
	for k, v := range c.extraHeaders {
		headers[k] = v
	}
	for k, v := range overrides {
		headers[k] = v
	}
	observability.InjectHeaders(ctx, headers)
	return headers, nil
}

// resolveURL joins path onto the base URL unless path is already absolute,
// which is how vendors hand out next-page links.
func (c *Client) resolveURL(path string, query url.Values) (string, error) {
	var u *url.URL
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		parsed, err := url.Parse(path)
		if err != nil {
			return "", errors.Wrap(err, errors.ErrorTypeValidation, "client: invalid request URL")
		}
		u = parsed
	} else {
		rel, err := url.Parse(strings.TrimLeft(path, "/"))
		if err != nil {
			return "", errors.Wrap(err, errors.ErrorTypeValidation, "client: invalid request path")
		}
		joined := *c.baseURL
		joined.Path = strings.TrimRight(c.baseURL.Path, "/") + "/" + rel.Path
		joined.RawQuery = rel.RawQuery
		u = &joined
	}

	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			q.Del(k)
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func encodeBody(body interface{}) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		return json.Marshal(b)
	}
}
