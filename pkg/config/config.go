package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultRequestTimeout = 15 * time.Second
	DefaultDatabaseDriver = "pgx"
)

// Config holds the core settings needed to reach the Mahara database and
// identify this site to the remote webservice.
type Config struct {
	DatabaseDriver string
	DatabaseDSN    string
	TablePrefix    string        // Mahara dbprefix
	WWWRoot        string        // canonical base URL of the local site
	HTTPAddr       string        // empty disables the HTTP server
	PluginsDir     string        // directory with .so plugins
	RequestTimeout time.Duration // outbound webservice timeout
}

func LoadConfig() Config {
	timeout, _ := time.ParseDuration(os.Getenv("MAHOODLE_REQUEST_TIMEOUT"))
	if timeout == 0 {
		timeout = DefaultRequestTimeout
	}

	driver := strings.TrimSpace(os.Getenv("MAHARA_DB_DRIVER"))
	if driver == "" {
		driver = DefaultDatabaseDriver
	}

	return Config{
		DatabaseDriver: driver,
		DatabaseDSN:    strings.TrimSpace(os.Getenv("MAHARA_DB_DSN")),
		TablePrefix:    strings.TrimSpace(os.Getenv("MAHARA_DB_PREFIX")),
		WWWRoot:        strings.TrimSpace(os.Getenv("MAHARA_WWWROOT")),
		HTTPAddr:       strings.TrimSpace(os.Getenv("HTTP_ADDR")),
		PluginsDir:     strings.TrimSpace(os.Getenv("PLUGINS_DIR")),
		RequestTimeout: timeout,
	}
}

// Validate reports the first missing setting required to serve.
func (c Config) Validate() error {
	if c.DatabaseDSN == "" {
		return fmt.Errorf("database dsn is required (MAHARA_DB_DSN)")
	}
	if c.WWWRoot == "" {
		return fmt.Errorf("wwwroot is required (MAHARA_WWWROOT)")
	}
	return nil
}

// ConfigMap is a sectioned configuration map keyed by plugin name (or "core").
// Values are YAML-friendly scalars or nested maps/lists.
type ConfigMap map[string]map[string]any

// LoadConfigFile loads a YAML config file from disk.
// Returns an empty map if the file does not exist or is empty.
func LoadConfigFile(path string) (ConfigMap, error) {
	if path == "" {
		return ConfigMap{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ConfigMap{}, nil
		}
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return ConfigMap{}, nil
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return normalizeConfigMap(raw), nil
}

// LoadConfigMapFromEnv builds a sectioned config map from environment variables.
// Unset variables are left out so they never shadow file values.
func LoadConfigMapFromEnv() ConfigMap {
	cfg := ConfigMap{
		"core":     {},
		"mahoodle": {},
	}
	setFromEnv(cfg["core"], "database_driver", "MAHARA_DB_DRIVER")
	setFromEnv(cfg["core"], "database_dsn", "MAHARA_DB_DSN")
	setFromEnv(cfg["core"], "table_prefix", "MAHARA_DB_PREFIX")
	setFromEnv(cfg["core"], "wwwroot", "MAHARA_WWWROOT")
	setFromEnv(cfg["core"], "http_addr", "HTTP_ADDR")
	setFromEnv(cfg["core"], "plugins_dir", "PLUGINS_DIR")
	setFromEnv(cfg["core"], "request_timeout", "MAHOODLE_REQUEST_TIMEOUT")

	setFromEnv(cfg["mahoodle"], "moodle_webservice_token", "MOODLE_WEBSERVICE_TOKEN")
	setFromEnv(cfg["mahoodle"], "token_secret", "MOODLE_WEBSERVICE_TOKEN_SECRET")
	setFromEnv(cfg["mahoodle"], "intake_token", "MAHOODLE_INTAKE_TOKEN")
	setFromEnv(cfg["mahoodle"], "admin_token", "MAHOODLE_ADMIN_TOKEN")
	setFromEnv(cfg["mahoodle"], "subscribe", "MAHOODLE_EVENTS")
	return cfg
}

func setFromEnv(section map[string]any, key, env string) {
	if v, ok := os.LookupEnv(env); ok && strings.TrimSpace(v) != "" {
		section[key] = strings.TrimSpace(v)
	}
}

// LoadConfigFromMap builds a core Config from a map.
// Supported keys (yaml): database_driver, database_dsn, table_prefix, wwwroot,
// http_addr, plugins_dir, request_timeout.
func LoadConfigFromMap(m map[string]any) Config {
	cfg := Config{}

	if v, ok := getString(m, "database_driver", "dbtype"); ok {
		cfg.DatabaseDriver = v
	}
	if v, ok := getString(m, "database_dsn", "dsn"); ok {
		cfg.DatabaseDSN = v
	}
	if v, ok := getString(m, "table_prefix", "dbprefix"); ok {
		cfg.TablePrefix = v
	}
	if v, ok := getString(m, "wwwroot"); ok {
		cfg.WWWRoot = v
	}
	if v, ok := getString(m, "http_addr"); ok {
		cfg.HTTPAddr = v
	}
	if v, ok := getString(m, "plugins_dir"); ok {
		cfg.PluginsDir = v
	}
	if v, ok := getDuration(m, "request_timeout"); ok {
		cfg.RequestTimeout = v
	}

	return cfg
}

// MergeConfig uses primary values when set, otherwise falls back.
func MergeConfig(primary, fallback Config) Config {
	out := primary
	if out.DatabaseDriver == "" {
		out.DatabaseDriver = fallback.DatabaseDriver
	}
	if out.DatabaseDSN == "" {
		out.DatabaseDSN = fallback.DatabaseDSN
	}
	if out.TablePrefix == "" {
		out.TablePrefix = fallback.TablePrefix
	}
	if out.WWWRoot == "" {
		out.WWWRoot = fallback.WWWRoot
	}
	if out.HTTPAddr == "" {
		out.HTTPAddr = fallback.HTTPAddr
	}
	if out.PluginsDir == "" {
		out.PluginsDir = fallback.PluginsDir
	}
	if out.RequestTimeout == 0 {
		out.RequestTimeout = fallback.RequestTimeout
	}
	return out
}

// MergeConfigMap merges primary over fallback (primary wins).
func MergeConfigMap(primary, fallback ConfigMap) ConfigMap {
	out := cloneConfigMap(fallback)
	for section, vals := range primary {
		if len(vals) == 0 {
			continue
		}
		merged := map[string]any{}
		if existing, ok := out[section]; ok {
			for k, v := range existing {
				merged[k] = v
			}
		}
		for k, v := range vals {
			merged[k] = v
		}
		out[section] = merged
	}
	return out
}

// Load resolves the effective configuration: the YAML file at path wins over
// environment variables, section by section.
func Load(path string) (Config, ConfigMap, error) {
	fileMap, err := LoadConfigFile(path)
	if err != nil {
		return Config{}, nil, err
	}
	cfgMap := MergeConfigMap(fileMap, LoadConfigMapFromEnv())

	cfg := LoadConfig()
	if coreSection, ok := fileMap["core"]; ok {
		cfg = MergeConfig(LoadConfigFromMap(coreSection), cfg)
	}
	return cfg, cfgMap, nil
}

func cloneConfigMap(src ConfigMap) ConfigMap {
	dst := ConfigMap{}
	for section, vals := range src {
		sectionCopy := map[string]any{}
		for k, v := range vals {
			sectionCopy[k] = v
		}
		dst[section] = sectionCopy
	}
	return dst
}

func normalizeConfigMap(raw map[string]any) ConfigMap {
	out := ConfigMap{}
	for key, value := range raw {
		if m := normalizeStringMap(value); m != nil {
			out[key] = m
		}
	}
	return out
}

func normalizeStringMap(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		out := map[string]any{}
		for k, v := range t {
			out[k] = normalizeValue(v)
		}
		return out
	case map[any]any:
		out := map[string]any{}
		for k, v := range t {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = normalizeValue(v)
		}
		return out
	default:
		return nil
	}
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any, map[any]any:
		return normalizeStringMap(t)
	case []any:
		out := make([]any, 0, len(t))
		for _, item := range t {
			out = append(out, normalizeValue(item))
		}
		return out
	default:
		return v
	}
}

func getString(m map[string]any, keys ...string) (string, bool) {
	for _, key := range keys {
		if v, ok := m[key]; ok && v != nil {
			switch t := v.(type) {
			case string:
				return strings.TrimSpace(t), true
			default:
				return strings.TrimSpace(fmt.Sprint(t)), true
			}
		}
	}
	return "", false
}

func getDuration(m map[string]any, keys ...string) (time.Duration, bool) {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			switch t := v.(type) {
			case time.Duration:
				return t, true
			case string:
				d, err := time.ParseDuration(strings.TrimSpace(t))
				if err == nil {
					return d, true
				}
			case int:
				return time.Duration(t) * time.Second, true
			case int64:
				return time.Duration(t) * time.Second, true
			case float64:
				return time.Duration(t) * time.Second, true
			}
		}
	}
	return 0, false
}
