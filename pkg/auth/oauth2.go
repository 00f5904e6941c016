package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/discordwell/cliaas/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// GrantType selects how an OAuth2Provider obtains tokens.
type GrantType string

const (
	// GrantRefreshToken exchanges a stored refresh token for access tokens
	GrantRefreshToken GrantType = "refresh_token"
	// GrantClientCredentials uses the client credentials flow
	GrantClientCredentials GrantType = "client_credentials"
)

// OAuth2Config configures an OAuth2Provider.
type OAuth2Config struct {
	Grant        GrantType
	ClientID     string
	ClientSecret string
	RefreshToken string
	TokenURL     string
	Scopes       []string

	// HeaderPrefix replaces "Bearer" in the Authorization header.
	// Zoho Desk expects "Zoho-oauthtoken".
	HeaderPrefix string

	// ExtraHeaders are sent alongside the token, e.g. Zoho's orgId.
	ExtraHeaders map[string]string

	// AuthStyle controls how client credentials reach the token endpoint.
	// Zero means auto-detect.
	AuthStyle oauth2.AuthStyle

	// HTTPClient is used for token requests. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// OAuth2Provider resolves bearer headers from an oauth2.TokenSource. The
// source is wrapped in oauth2.ReuseTokenSource, which holds a mutex across
// refreshes, so one provider can be shared by concurrent requests.
type OAuth2Provider struct {
	source oauth2.TokenSource
	prefix string
	extra  map[string]string
}

// NewOAuth2Provider builds a provider for the configured grant.
func NewOAuth2Provider(cfg OAuth2Config) (*OAuth2Provider, error) {
	if cfg.TokenURL == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "oauth2: token URL is required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "oauth2: client ID is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	// The oauth2 package reads its HTTP client from this context for every refresh.
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)

	var src oauth2.TokenSource
	switch cfg.Grant {
	case GrantClientCredentials:
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
			AuthStyle:    cfg.AuthStyle,
		}
		src = cc.TokenSource(tokenCtx)
	case GrantRefreshToken, "":
		if cfg.RefreshToken == "" {
			return nil, errors.New(errors.ErrorTypeConfig, "oauth2: refresh token is required")
		}
		oc := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: cfg.AuthStyle,
			},
		}
		src = oc.TokenSource(tokenCtx, &oauth2.Token{RefreshToken: cfg.RefreshToken})
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "oauth2: unsupported grant %q", cfg.Grant)
	}

	prefix := cfg.HeaderPrefix
	if prefix == "" {
		prefix = "Bearer"
	}

	extra := make(map[string]string, len(cfg.ExtraHeaders))
	for k, v := range cfg.ExtraHeaders {
		extra[k] = v
	}

	return &OAuth2Provider{
		source: oauth2.ReuseTokenSource(nil, src),
		prefix: prefix,
		extra:  extra,
	}, nil
}

// ResolveHeaders returns the Authorization header for a valid token,
// refreshing it first when it has expired.
func (p *OAuth2Provider) ResolveHeaders(ctx context.Context) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tok, err := p.source.Token()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeAuthentication, "oauth2 token refresh failed")
	}
	if strings.TrimSpace(tok.AccessToken) == "" {
		return nil, errors.New(errors.ErrorTypeAuthentication, "oauth2 token endpoint returned an empty access token")
	}

	headers := make(map[string]string, len(p.extra)+1)
	for k, v := range p.extra {
		headers[k] = v
	}
	headers["Authorization"] = p.prefix + " " + tok.AccessToken
	return headers, nil
}
