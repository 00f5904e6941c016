// Package source enumerates the helpdesk vendors CLIaaS can sync from.
package source

import (
	"strings"

	"github.com/discordwell/cliaas/pkg/errors"
)

// ConnectorSource identifies one supported helpdesk vendor
type ConnectorSource string

// The closed set of supported vendors.
const (
	Zendesk    ConnectorSource = "zendesk"
	Freshdesk  ConnectorSource = "freshdesk"
	Groove     ConnectorSource = "groove"
	HelpCrunch ConnectorSource = "helpcrunch"
	Intercom   ConnectorSource = "intercom"
	HelpScout  ConnectorSource = "helpscout"
	ZohoDesk   ConnectorSource = "zoho-desk"
	HubSpot    ConnectorSource = "hubspot"
	Kayako     ConnectorSource = "kayako"
	Front      ConnectorSource = "front"
)

var all = []ConnectorSource{
	Zendesk, Freshdesk, Groove, HelpCrunch, Intercom,
	HelpScout, ZohoDesk, HubSpot, Kayako, Front,
}

// All returns every supported source in a stable order
func All() []ConnectorSource {
	out := make([]ConnectorSource, len(all))
	copy(out, all)
	return out
}

// String implements fmt.Stringer
func (s ConnectorSource) String() string { return string(s) }

// Valid reports whether s is a supported source
func (s ConnectorSource) Valid() bool {
	for _, v := range all {
		if v == s {
			return true
		}
	}
	return false
}

// Parse maps a connector name to its source. Matching ignores case and
// surrounding space; "zoho_desk" and "zohodesk" are accepted for Zoho Desk.
func Parse(name string) (ConnectorSource, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	switch n {
	case "zoho_desk", "zohodesk":
		n = string(ZohoDesk)
	}
	s := ConnectorSource(n)
	if !s.Valid() {
		return "", errors.UnknownConnector(name)
	}
	return s, nil
}
