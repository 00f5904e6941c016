// Package registry builds connector clients and vendor adapters from a fixed
// catalog of supported helpdesk vendors.
package registry

import (
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/discordwell/cliaas/pkg/clients"
	"github.com/discordwell/cliaas/pkg/clock"
	"github.com/discordwell/cliaas/pkg/connector/client"
	"github.com/discordwell/cliaas/pkg/connector/source"
	"github.com/discordwell/cliaas/pkg/connector/vendors"
	"github.com/discordwell/cliaas/pkg/errors"
	"github.com/discordwell/cliaas/pkg/logger"
)

// Credentials are the per-connector settings read from configuration
type Credentials map[string]string

var (
	placeholder = regexp.MustCompile(`\{([a-z_]+)\}`)
	// hostLabel is one DNS label, the only thing a template key may fill
	hostLabel = regexp.MustCompile(`^(?i)[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)
)

// Registry manages connector variants and client instantiation. It is
// read-only after construction and safe for concurrent use.
type Registry struct {
	variants   map[source.ConnectorSource]Variant
	httpClient *http.Client
	clock      clock.Clock
	logger     *zap.Logger
}

// Option customizes a Registry
type Option func(*Registry)

// WithHTTPClient sets the HTTP client shared by every connector client
func WithHTTPClient(c *http.Client) Option {
	return func(r *Registry) { r.httpClient = c }
}

// WithClock sets the clock used for retry sleeps
func WithClock(c clock.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithLogger sets the registry logger
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// Global registry instance
var (
	defaultRegistry *Registry
	defaultOnce     sync.Once
)

// Default returns the process-wide registry
func Default() *Registry {
	defaultOnce.Do(func() { defaultRegistry = New() })
	return defaultRegistry
}

// New creates a registry over the built-in catalog
func New(opts ...Option) *Registry {
	r := &Registry{
		variants: make(map[source.ConnectorSource]Variant, len(catalog)),
	}
	for s, v := range catalog {
		v.Source = s
		r.variants[s] = v
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logger.Get()
	}
	r.logger = r.logger.With(zap.String("component", "connector_registry"))
	if r.httpClient == nil {
		r.httpClient = clients.NewHTTPClient(clients.DefaultHTTPConfig(), r.logger)
	}
	if r.clock == nil {
		r.clock = clock.Real()
	}
	return r
}

// Sources returns every connector the registry can build, in catalog order
func (r *Registry) Sources() []source.ConnectorSource {
	out := make([]source.ConnectorSource, 0, len(r.variants))
	for _, s := range source.All() {
		if _, ok := r.variants[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Variant returns the catalog entry for s
func (r *Registry) Variant(s source.ConnectorSource) (Variant, bool) {
	v, ok := r.variants[s]
	return v, ok
}

// RequiredKeys lists every credential key the connector needs when no
// base_url override is given, sorted.
func (r *Registry) RequiredKeys(s source.ConnectorSource) []string {
	v, ok := r.variants[s]
	if !ok {
		return nil
	}
	return requiredKeys(v, nil)
}

func requiredKeys(v Variant, creds Credentials) []string {
	keys := append(append([]string(nil), v.Required...), templateKeys(v, creds)...)
	sort.Strings(keys)
	return keys
}

// templateKeys lists the keys substituted into the base URL template, or
// nothing when creds override base_url
func templateKeys(v Variant, creds Credentials) []string {
	if strings.TrimSpace(creds[KeyBaseURL]) != "" {
		return nil
	}
	var keys []string
	for _, m := range placeholder.FindAllStringSubmatch(v.BaseURL, -1) {
		keys = append(keys, m[1])
	}
	return keys
}

// Validate checks that name is a supported connector and creds hold every
// required key. It returns the parsed source.
func (r *Registry) Validate(name string, creds Credentials) (source.ConnectorSource, error) {
	s, err := source.Parse(name)
	if err != nil {
		return "", err
	}
	v, ok := r.variants[s]
	if !ok {
		return "", errors.UnknownConnector(name)
	}
	var missing []string
	for _, k := range requiredKeys(v, creds) {
		if strings.TrimSpace(creds[k]) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return "", errors.MissingCredentials(s.String(), missing)
	}
	for _, k := range templateKeys(v, creds) {
		if !hostLabel.MatchString(strings.TrimSpace(creds[k])) {
			return "", errors.Newf(errors.ErrorTypeConfig,
				"%s: %s must be a single host name label such as \"acme\"", s, k).
				WithDetail(errors.DetailSource, s.String())
		}
	}
	return s, nil
}

// GetClient builds a connector client for name from creds
func (r *Registry) GetClient(name string, creds Credentials) (*client.Client, error) {
	c, _, err := r.build(name, creds)
	return c, err
}

// Resolve builds a connector client and a fresh adapter for one sync cycle
func (r *Registry) Resolve(name string, creds Credentials) (*client.Client, vendors.Adapter, error) {
	c, v, err := r.build(name, creds)
	if err != nil {
		return nil, nil, err
	}
	return c, v.Adapter(), nil
}

func (r *Registry) build(name string, creds Credentials) (*client.Client, Variant, error) {
	s, err := r.Validate(name, creds)
	if err != nil {
		return nil, Variant{}, err
	}
	v := r.variants[s]

	resolved := make(Credentials, len(creds)+1)
	for k, val := range creds {
		resolved[k] = strings.TrimSpace(val)
	}
	if resolved[KeyTokenURL] == "" {
		resolved[KeyTokenURL] = v.TokenURL
	}

	baseURL := resolved[KeyBaseURL]
	if baseURL == "" {
		baseURL = placeholder.ReplaceAllStringFunc(v.BaseURL, func(m string) string {
			return resolved[m[1:len(m)-1]]
		})
	}

	provider, err := v.Auth(resolved, r.httpClient)
	if err != nil {
		return nil, Variant{}, errors.Wrap(err, errors.ErrorTypeConfig, "failed to build auth for "+s.String())
	}

	c, err := client.New(client.Config{
		BaseURL:           baseURL,
		Auth:              provider,
		SourceName:        s.String(),
		MaxRetries:        v.MaxRetries,
		DefaultRetryAfter: v.DefaultRetryAfter,
		MaxRetryAfter:     v.MaxRetryAfter,
		PreRequestDelay:   v.PreRequestDelay,
		ExtraHeaders:      v.ExtraHeaders,
		RateLimitStatuses: v.RateLimitStatuses,
		HTTPClient:        r.httpClient,
		Clock:             r.clock,
		Logger:            r.logger,
	})
	if err != nil {
		return nil, Variant{}, err
	}

	r.logger.Debug("connector client created",
		zap.String("connector", s.String()),
		zap.String("base_url", baseURL))
	return c, v, nil
}

// GetClient builds a client through the default registry
func GetClient(name string, creds Credentials) (*client.Client, error) {
	return Default().GetClient(name, creds)
}
