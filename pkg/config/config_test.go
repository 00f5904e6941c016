package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discordwell/cliaas/pkg/errors"
	"github.com/discordwell/cliaas/pkg/store"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cliaas.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CLIAAS_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := Load("")
	assert.True(t, errors.IsConfigError(err))

	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.Sync.Interval)
	assert.Equal(t, store.DriverFile, cfg.Store.Driver)
	assert.Equal(t, "data", cfg.Store.Dir)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 10, cfg.HTTP.MaxIdleConnsPerHost)
	assert.NotNil(t, cfg.Connectors)
}

func TestLoadFileWithSubstitution(t *testing.T) {
	t.Setenv("ZD_TOKEN", "secret")
	path := writeConfig(t, `
sync:
  interval: 90s
  max_pages: 20
  workers: [zendesk, zohodesk]
store:
  driver: postgres
  dsn: ${PG_DSN:-postgres://localhost/cliaas}
events:
  driver: kafka
  brokers: ["k1:9092", "k2:9092"]
connectors:
  zendesk:
    subdomain: acme
    email: ops@acme.test
    api_token: ${ZD_TOKEN}
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.Sync.Interval)
	assert.Equal(t, 20, cfg.Sync.MaxPages)
	assert.Equal(t, []string{"zendesk", "zohodesk"}, cfg.Sync.Workers)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/cliaas", cfg.Store.DSN)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Events.Brokers)

	creds, err := cfg.Credentials("zendesk")
	require.NoError(t, err)
	assert.Equal(t, "secret", creds["api_token"])
	assert.Equal(t, "acme", creds["subdomain"])
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, "sync:\n  interval: 1m\n")
	t.Setenv("CLIAAS_SYNC_INTERVAL", "15m")
	t.Setenv("CLIAAS_STORE_DRIVER", "mongo")
	t.Setenv("CLIAAS_SYNC_OUT_DIR", "/tmp/out")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, cfg.Sync.Interval)
	assert.Equal(t, "mongo", cfg.Store.Driver)
	assert.Equal(t, "/tmp/out", cfg.Sync.OutDir)
}

func TestLoadRejectsBadValues(t *testing.T) {
	_, err := Load(writeConfig(t, "sync:\n  interval: -1s\n"))
	assert.True(t, errors.IsConfigError(err))

	_, err = Load(writeConfig(t, "connectors:\n  salesforce:\n    token: x\n"))
	assert.True(t, errors.IsConfigError(err))

	_, err = Load(writeConfig(t, "store:\n  compression: brotli\n"))
	assert.True(t, errors.IsConfigError(err))

	_, err = Load(writeConfig(t, "sync: [unclosed\n"))
	assert.True(t, errors.IsConfigError(err))
}

func TestLoadRejectsConnectorAliases(t *testing.T) {
	_, err := Load(writeConfig(t, "connectors:\n  zoho_desk:\n    org_id: \"1\"\n  zoho-desk:\n    org_id: \"2\"\n"))
	require.Error(t, err)
	assert.True(t, errors.IsConfigError(err))
	assert.Contains(t, err.Error(), "zoho-desk")
	assert.Contains(t, err.Error(), "zoho_desk")

	cfg := Default()
	cfg.Connectors["zoho_desk"] = map[string]string{"org_id": "1"}
	cfg.Connectors["ZohoDesk"] = map[string]string{"org_id": "2"}
	assert.True(t, errors.IsConfigError(cfg.Validate()))

	_, err = cfg.Credentials("zoho-desk")
	assert.True(t, errors.IsConfigError(err))

	// Unrelated connectors still resolve
	cfg.Connectors["zendesk"] = map[string]string{"subdomain": "acme"}
	creds, err := cfg.Credentials("zendesk")
	require.NoError(t, err)
	assert.Equal(t, "acme", creds["subdomain"])
}

func TestCredentialsEnvOverride(t *testing.T) {
	cfg := Default()
	cfg.Connectors["zoho_desk"] = map[string]string{"org_id": "1", "client_id": "file"}
	t.Setenv("CLIAAS_ZOHO_DESK_CLIENT_ID", "env")
	t.Setenv("CLIAAS_ZOHO_DESK_REFRESH_TOKEN", "rt")

	creds, err := cfg.Credentials("zoho-desk")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"org_id": "1", "client_id": "env", "refresh_token": "rt"}, creds)

	// Callers get their own copy
	creds["org_id"] = "changed"
	again, _ := cfg.Credentials("zohodesk")
	assert.Equal(t, "1", again["org_id"])

	_, err = cfg.Credentials("nope")
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnknownConnector))

	empty, err := cfg.Credentials("front")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestConfiguredConnectors(t *testing.T) {
	cfg := Default()
	cfg.Connectors["zohodesk"] = map[string]string{}
	cfg.Connectors["Front"] = map[string]string{}
	cfg.Connectors["zoho-desk"] = map[string]string{}
	assert.Equal(t, []string{"front", "zoho-desk"}, cfg.ConfiguredConnectors())
}

func TestSaveTemplateRoundTrip(t *testing.T) {
	t.Setenv("ZENDESK_API_TOKEN", "tok")
	path := filepath.Join(t.TempDir(), "nested", "cliaas.yaml")
	require.NoError(t, Save(path, Template()))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default().Sync, cfg.Sync)
	creds, err := cfg.Credentials("zendesk")
	require.NoError(t, err)
	assert.Equal(t, "tok", creds["api_token"])
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("A", "1")
	t.Setenv("LOOP", "${LOOP}")
	assert.Equal(t, "x=1 y=fallback z= w=${LOOP}", substituteEnvVars("x=${A} y=${UNSET_B:-fallback} z=${UNSET_C} w=${LOOP}"))
	assert.Equal(t, "open ${brace", substituteEnvVars("open ${brace"))
}
