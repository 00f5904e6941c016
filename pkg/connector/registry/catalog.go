package registry

import (
	"net/http"
	"time"

	"github.com/discordwell/cliaas/pkg/auth"
	"github.com/discordwell/cliaas/pkg/connector/source"
	"github.com/discordwell/cliaas/pkg/connector/vendors"
)

// Credential keys shared across vendors.
const (
	KeyBaseURL  = "base_url"
	KeyTokenURL = "token_url"
)

// AuthBuilder turns validated credentials into a header provider. httpClient
// is used for token endpoints.
type AuthBuilder func(creds Credentials, httpClient *http.Client) (auth.HeaderProvider, error)

// Variant describes how to reach one vendor
type Variant struct {
	Source      source.ConnectorSource
	DisplayName string

	// BaseURL may reference credentials as {key}, e.g. {subdomain}
	BaseURL string

	// Required lists the credential keys Auth reads
	Required []string
	Auth     AuthBuilder

	// TokenURL is the default OAuth2 token endpoint, if any
	TokenURL string

	MaxRetries        int
	DefaultRetryAfter time.Duration
	MaxRetryAfter     time.Duration
	PreRequestDelay   time.Duration
	RateLimitStatuses []int
	ExtraHeaders      map[string]string

	Adapter vendors.Factory
}

func basicAuth(userKey, passKey string) AuthBuilder {
	return func(c Credentials, _ *http.Client) (auth.HeaderProvider, error) {
		return auth.Basic(c[userKey], c[passKey]), nil
	}
}

func bearerAuth(key string) AuthBuilder {
	return func(c Credentials, _ *http.Client) (auth.HeaderProvider, error) {
		return auth.Bearer(c[key]), nil
	}
}

// catalog is the fixed set of supported vendors. Every source.All() value
// must have an entry.
var catalog = map[source.ConnectorSource]Variant{
	source.Zendesk: {
		DisplayName: "Zendesk",
		BaseURL:     "https://{subdomain}.zendesk.com/api/v2",
		Required:    []string{"email", "api_token"},
		Auth: func(c Credentials, _ *http.Client) (auth.HeaderProvider, error) {
			return auth.Basic(c["email"]+"/token", c["api_token"]), nil
		},
		RateLimitStatuses: []int{http.StatusTooManyRequests, http.StatusServiceUnavailable},
		Adapter:           vendors.NewZendesk,
	},
	source.Freshdesk: {
		DisplayName: "Freshdesk",
		BaseURL:     "https://{subdomain}.freshdesk.com/api/v2",
		Required:    []string{"api_key"},
		Auth: func(c Credentials, _ *http.Client) (auth.HeaderProvider, error) {
			return auth.Basic(c["api_key"], "X"), nil
		},
		Adapter: vendors.NewFreshdesk,
	},
	source.Groove: {
		DisplayName:     "Groove",
		BaseURL:         "https://api.groovehq.com/v1",
		Required:        []string{"api_token"},
		Auth:            bearerAuth("api_token"),
		PreRequestDelay: 500 * time.Millisecond,
		Adapter:         vendors.NewGroove,
	},
	source.HelpCrunch: {
		DisplayName: "HelpCrunch",
		BaseURL:     "https://api.helpcrunch.com/v1",
		Required:    []string{"api_key"},
		Auth:        bearerAuth("api_key"),
		Adapter:     vendors.NewHelpCrunch,
	},
	source.Intercom: {
		DisplayName:  "Intercom",
		BaseURL:      "https://api.intercom.io",
		Required:     []string{"access_token"},
		Auth:         bearerAuth("access_token"),
		ExtraHeaders: map[string]string{"Intercom-Version": "2.11"},
		Adapter:      vendors.NewIntercom,
	},
	source.HelpScout: {
		DisplayName: "Help Scout",
		BaseURL:     "https://api.helpscout.net/v2",
		TokenURL:    "https://api.helpscout.net/v2/oauth2/token",
		Required:    []string{"client_id", "client_secret"},
		Auth: func(c Credentials, hc *http.Client) (auth.HeaderProvider, error) {
			return auth.NewOAuth2Provider(auth.OAuth2Config{
				Grant:        auth.GrantClientCredentials,
				ClientID:     c["client_id"],
				ClientSecret: c["client_secret"],
				TokenURL:     c[KeyTokenURL],
				HTTPClient:   hc,
			})
		},
		Adapter: vendors.NewHelpScout,
	},
	source.ZohoDesk: {
		DisplayName: "Zoho Desk",
		BaseURL:     "https://desk.zoho.com/api/v1",
		TokenURL:    "https://accounts.zoho.com/oauth/v2/token",
		Required:    []string{"client_id", "client_secret", "refresh_token", "org_id"},
		Auth: func(c Credentials, hc *http.Client) (auth.HeaderProvider, error) {
			return auth.NewOAuth2Provider(auth.OAuth2Config{
				Grant:        auth.GrantRefreshToken,
				ClientID:     c["client_id"],
				ClientSecret: c["client_secret"],
				RefreshToken: c["refresh_token"],
				TokenURL:     c[KeyTokenURL],
				HeaderPrefix: "Zoho-oauthtoken",
				ExtraHeaders: map[string]string{"orgId": c["org_id"]},
				HTTPClient:   hc,
			})
		},
		Adapter: vendors.NewZohoDesk,
	},
	source.HubSpot: {
		DisplayName: "HubSpot",
		BaseURL:     "https://api.hubapi.com",
		Required:    []string{"access_token"},
		Auth:        bearerAuth("access_token"),
		Adapter:     vendors.NewHubSpot,
	},
	source.Kayako: {
		DisplayName: "Kayako",
		BaseURL:     "https://{subdomain}.kayako.com/api/v1",
		Required:    []string{"email", "password"},
		Auth:        basicAuth("email", "password"),
		Adapter:     vendors.NewKayako,
	},
	source.Front: {
		DisplayName: "Front",
		BaseURL:     "https://api2.frontapp.com",
		Required:    []string{"api_token"},
		Auth:        bearerAuth("api_token"),
		Adapter:     vendors.NewFront,
	},
}
