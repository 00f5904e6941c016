package config

import (
	"os"
	"sort"
	"strings"
	"time"

	"github.com/discordwell/cliaas/pkg/clients"
	"github.com/discordwell/cliaas/pkg/compression"
	"github.com/discordwell/cliaas/pkg/connector/source"
	"github.com/discordwell/cliaas/pkg/errors"
	"github.com/discordwell/cliaas/pkg/events"
	"github.com/discordwell/cliaas/pkg/logger"
	"github.com/discordwell/cliaas/pkg/observability"
	"github.com/discordwell/cliaas/pkg/store"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "CLIAAS"

// Config is the complete cliaas configuration
type Config struct {
	Log     logger.Config               `mapstructure:"log" yaml:"log"`
	Sync    SyncConfig                  `mapstructure:"sync" yaml:"sync"`
	HTTP    clients.HTTPConfig          `mapstructure:"http" yaml:"http"`
	Store   store.Config                `mapstructure:"store" yaml:"store"`
	Events  events.Config               `mapstructure:"events" yaml:"events"`
	Metrics MetricsConfig               `mapstructure:"metrics" yaml:"metrics"`
	Tracing observability.TracingConfig `mapstructure:"tracing" yaml:"tracing"`
	Export  ExportConfig                `mapstructure:"export" yaml:"export"`

	// Connectors maps a connector name to its credential keys
	Connectors map[string]map[string]string `mapstructure:"connectors" yaml:"connectors"`
}

// SyncConfig controls scheduling and cycle limits
type SyncConfig struct {
	// Interval separates the end of one cycle from the start of the next
	Interval     time.Duration `mapstructure:"interval" yaml:"interval"`
	CycleTimeout time.Duration `mapstructure:"cycle_timeout" yaml:"cycle_timeout,omitempty"`
	MaxPages     int           `mapstructure:"max_pages" yaml:"max_pages,omitempty"`
	OutDir       string        `mapstructure:"out_dir" yaml:"out_dir,omitempty"`

	// Workers lists the connectors `sync worker` starts when none are given
	Workers []string `mapstructure:"workers" yaml:"workers,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	// Addr is where /metrics is served; empty disables the endpoint
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// ExportConfig locates snapshot uploads
type ExportConfig struct {
	Bucket   string `mapstructure:"bucket" yaml:"bucket,omitempty"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix,omitempty"`
	Region   string `mapstructure:"region" yaml:"region,omitempty"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		Log: logger.Config{
			Level:    "info",
			Encoding: "json",
		},
		Sync: SyncConfig{
			Interval: 5 * time.Minute,
		},
		HTTP:  *clients.DefaultHTTPConfig(),
		Store: store.DefaultConfig(),
		Events: events.Config{
			Driver: events.DriverNone,
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
		Tracing:    observability.DefaultTracingConfig(),
		Connectors: map[string]map[string]string{},
	}
}

// Validate checks values that would otherwise fail deep inside a cycle
func (c *Config) Validate() error {
	if c.Sync.Interval < 0 {
		return errors.New(errors.ErrorTypeConfig, "sync.interval cannot be negative")
	}
	if c.Sync.CycleTimeout < 0 {
		return errors.New(errors.ErrorTypeConfig, "sync.cycle_timeout cannot be negative")
	}
	if c.Sync.MaxPages < 0 {
		return errors.New(errors.ErrorTypeConfig, "sync.max_pages cannot be negative")
	}
	if _, err := compression.Parse(c.Store.Compression); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "store.compression")
	}
	seen := make(map[source.ConnectorSource]string, len(c.Connectors))
	for _, name := range sortedKeys(c.Connectors) {
		src, err := source.Parse(name)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "connectors."+name)
		}
		if prev, dup := seen[src]; dup {
			return errors.Newf(errors.ErrorTypeConfig,
				"connectors.%s and connectors.%s both configure %s", prev, name, src)
		}
		seen[src] = name
	}
	for _, name := range c.Sync.Workers {
		if _, err := source.Parse(name); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "sync.workers")
		}
	}
	return nil
}

// Credentials returns the credential map for connector. File values are
// overridden by CLIAAS_<CONNECTOR>_<KEY> environment variables. The result
// is a fresh map the caller may modify.
func (c *Config) Credentials(connector string) (map[string]string, error) {
	src, err := source.Parse(connector)
	if err != nil {
		return nil, err
	}

	creds := make(map[string]string)
	matched := ""
	for _, name := range sortedKeys(c.Connectors) {
		if s, err := source.Parse(name); err != nil || s != src {
			continue
		}
		if matched != "" {
			return nil, errors.Newf(errors.ErrorTypeConfig,
				"connectors.%s and connectors.%s both configure %s", matched, name, src)
		}
		matched = name
		for k, v := range c.Connectors[name] {
			creds[strings.ToLower(k)] = v
		}
	}

	prefix := envName(EnvPrefix, string(src)) + "_"
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, prefix) || value == "" {
			continue
		}
		creds[strings.ToLower(strings.TrimPrefix(key, prefix))] = value
	}
	return creds, nil
}

// ConfiguredConnectors returns the connectors that have a credentials block,
// by canonical name and sorted.
func (c *Config) ConfiguredConnectors() []string {
	seen := make(map[string]struct{})
	for name := range c.Connectors {
		if s, err := source.Parse(name); err == nil {
			seen[string(s)] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// envName builds an environment variable name from path segments
func envName(parts ...string) string {
	r := strings.NewReplacer("-", "_", ".", "_")
	return strings.ToUpper(r.Replace(strings.Join(parts, "_")))
}

func sortedKeys(m map[string]map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
