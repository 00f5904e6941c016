package config

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/discordwell/cliaas/pkg/errors"
)

// DefaultFileName is looked up when no path is given
const DefaultFileName = "cliaas.yaml"

// Load reads configuration from path. An empty path searches CLIAAS_CONFIG,
// ./cliaas.yaml and the user config directory, falling back to defaults
// when nothing is found. Environment overrides apply in every case.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	defaults, err := yaml.Marshal(Default())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode defaults")
	}
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to load defaults")
	}
	bindEnv(v, "", reflect.TypeOf(Config{}))

	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied config path
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read config file")
		}
		if err := v.MergeConfig(strings.NewReader(substituteEnvVars(string(data)))); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse YAML")
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to decode configuration")
	}
	if cfg.Connectors == nil {
		cfg.Connectors = map[string]map[string]string{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path as YAML. The file may hold credentials so it is
// readable by the owner only.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to marshal YAML")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, errors.ErrorTypeFile, "failed to create config directory")
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write config file")
	}
	return nil
}

// Template is the starting configuration written by `config init`.
// Credentials reference environment variables rather than holding secrets.
func Template() *Config {
	cfg := Default()
	cfg.Connectors = map[string]map[string]string{
		"zendesk": {
			"subdomain": "${ZENDESK_SUBDOMAIN}",
			"email":     "${ZENDESK_EMAIL}",
			"api_token": "${ZENDESK_API_TOKEN}",
		},
		"freshdesk": {
			"subdomain": "${FRESHDESK_SUBDOMAIN}",
			"api_key":   "${FRESHDESK_API_KEY}",
		},
	}
	return cfg
}

func findConfig() string {
	if p := os.Getenv(EnvPrefix + "_CONFIG"); p != "" {
		return p
	}
	candidates := []string{DefaultFileName}
	if dir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, "cliaas", DefaultFileName))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// bindEnv registers every leaf setting so AutomaticEnv also covers keys the
// defaults leave out
func bindEnv(v *viper.Viper, prefix string, t reflect.Type) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		ft := f.Type
		if ft.Kind() == reflect.Ptr {
			ft = ft.Elem()
		}
		switch ft.Kind() {
		case reflect.Struct:
			bindEnv(v, key, ft)
		case reflect.Map:
			// connector credentials have their own override scheme
		default:
			_ = v.BindEnv(key)
		}
	}
}

// substituteEnvVars replaces ${VAR} and ${VAR:-default} with environment
// values. Unset variables without a default become empty.
func substituteEnvVars(content string) string {
	var b strings.Builder
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		b.WriteString(content[:start])
		name, def, hasDefault := strings.Cut(content[start+2:end], ":-")
		value := os.Getenv(name)
		if value == "" && hasDefault {
			value = def
		}
		b.WriteString(value)
		content = content[end+1:]
	}
	b.WriteString(content)
	return b.String()
}
