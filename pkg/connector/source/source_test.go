package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discordwell/cliaas/pkg/errors"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want ConnectorSource
	}{
		{"freshdesk", Freshdesk},
		{" Zendesk ", Zendesk},
		{"zoho_desk", ZohoDesk},
		{"zohodesk", ZohoDesk},
		{"zoho-desk", ZohoDesk},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := Parse("not-a-real-vendor")
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnknownConnector))
}

func TestAll(t *testing.T) {
	sources := All()
	assert.Len(t, sources, 10)

	seen := map[ConnectorSource]bool{}
	for _, s := range sources {
		assert.True(t, s.Valid())
		assert.False(t, seen[s], "duplicate %s", s)
		seen[s] = true
	}
}
