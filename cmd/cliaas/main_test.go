package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discordwell/cliaas/pkg/config"
	"github.com/discordwell/cliaas/pkg/testutil"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "cliaas v"+version)
}

func TestConfigInitAndConnectorsList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cliaas.yaml")
	out, err := execute(t, "config", "init", "--path", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+path)

	_, err = execute(t, "config", "init", "--path", path)
	assert.Error(t, err)

	out, err = execute(t, "--config", path, "connectors", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "zendesk")
	assert.Contains(t, out, "api_token,email,subdomain")
	assert.Contains(t, out, "hubspot")
}

func TestSyncRunAgainstFakeVendor(t *testing.T) {
	vendor := testutil.NewVendorServer(t).
		JSON("/tickets", `[{"id": 7, "subject": "Hi", "status": 2, "updated_at": "2026-03-01T10:00:00Z"}]`).
		JSON("/tickets/7/conversations", `[{"id": 70, "body_text": "hello"}]`)

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Store.Dir = filepath.Join(dir, "data")
	cfg.Metrics.Addr = ""
	cfg.Connectors["freshdesk"] = map[string]string{"api_key": "k", "base_url": vendor.URL}
	path := filepath.Join(dir, "cliaas.yaml")
	require.NoError(t, config.Save(path, cfg))

	out, err := execute(t, "--config", path, "sync", "run", "freshdesk", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"tickets": 1`)
	assert.Contains(t, out, `"messages": 1`)

	_, err = os.Stat(filepath.Join(dir, "data", "freshdesk", "tickets.jsonl"))
	assert.NoError(t, err)

	_, err = execute(t, "--config", path, "sync", "run", "salesforce")
	assert.Error(t, err)
}

func TestRedacted(t *testing.T) {
	cfg := config.Default()
	cfg.Store.DSN = "postgres://user:pw@db/cliaas"
	cfg.Connectors["zendesk"] = map[string]string{"subdomain": "acme", "api_token": "secret"}

	r := redacted(cfg)
	assert.Equal(t, "acme", r.Connectors["zendesk"]["subdomain"])
	assert.Equal(t, "****", r.Connectors["zendesk"]["api_token"])
	assert.Equal(t, "****", r.Store.DSN)
	assert.Equal(t, "secret", cfg.Connectors["zendesk"]["api_token"])
}
