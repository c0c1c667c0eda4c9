// Package config loads anyheart settings from an optional YAML or JSON file
// overlaid with environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ANYHEART_"

// Config is the full set of settings.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Session  SessionConfig  `mapstructure:"session"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Share    ShareConfig    `mapstructure:"share"`
	Client   ClientConfig   `mapstructure:"client"`
}

type ServerConfig struct {
	Addr          string        `mapstructure:"addr"`
	MaxBodyBytes  int64         `mapstructure:"max_body_bytes"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// EndpointConfig addresses one OpenAI-compatible completion service.
type EndpointConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type UpstreamConfig struct {
	Interpreter EndpointConfig    `mapstructure:"interpreter"`
	Merger      EndpointConfig    `mapstructure:"merger"`
	Timeout     time.Duration     `mapstructure:"timeout"`
	MaxTokens   int               `mapstructure:"max_tokens"`
	Models      map[string]string `mapstructure:"models"`
}

type SessionConfig struct {
	TokenCeiling int           `mapstructure:"token_ceiling"`
	MaxRounds    int           `mapstructure:"max_rounds"`
	StaleGrace   time.Duration `mapstructure:"stale_grace"`
}

// StorageConfig selects the server-side stores. Backend is one of
// "memory", "redis" or "sqlite". With sqlite, sessions are kept as files
// under SessionDir, or in memory when it is empty.
type StorageConfig struct {
	Backend       string        `mapstructure:"backend"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	SQLitePath    string        `mapstructure:"sqlite_path"`
	SessionDir    string        `mapstructure:"session_dir"`
	SessionTTL    time.Duration `mapstructure:"session_ttl"`
}

type ShareConfig struct {
	TTLDays  int `mapstructure:"ttl_days"`
	IDLength int `mapstructure:"id_length"`
}

// ClientConfig configures the orchestrator side.
type ClientConfig struct {
	BackendURL    string        `mapstructure:"backend_url"`
	StoreDir      string        `mapstructure:"store_dir"`
	EncryptionKey string        `mapstructure:"encryption_key"`
	FallbackKeys  []string      `mapstructure:"fallback_keys"`
	Debounce      time.Duration `mapstructure:"debounce"`
	Window        time.Duration `mapstructure:"window"`
	Retention     time.Duration `mapstructure:"retention"`
	HostTimeout   time.Duration `mapstructure:"host_timeout"`
	ChromeURL     string        `mapstructure:"chrome_url"`
	Headful       bool          `mapstructure:"headful"`
}

func defaults() map[string]any {
	return map[string]any{
		"server": map[string]any{
			"addr":           ":8000",
			"max_body_bytes": 16 << 20,
			"sweep_interval": "1h",
		},
		"log": map[string]any{
			"level":  "info",
			"format": "text",
		},
		"upstream": map[string]any{
			"interpreter": map[string]any{
				"url":     "https://openrouter.ai/api/v1",
				"api_key": "",
				"model":   "meta-llama/llama-4-maverick",
			},
			"merger": map[string]any{
				"url":     "https://api.morphllm.com/v1",
				"api_key": "",
				"model":   "morph-v3-fast",
			},
			"timeout":    "30s",
			"max_tokens": 4000,
			"models":     map[string]any{},
		},
		"session": map[string]any{
			"token_ceiling": 0,
			"max_rounds":    0,
			"stale_grace":   "30s",
		},
		"storage": map[string]any{
			"backend":        "memory",
			"redis_addr":     "localhost:6379",
			"redis_password": "",
			"redis_db":       0,
			"sqlite_path":    "anyheart.db",
			"session_dir":    "",
			"session_ttl":    "168h",
		},
		"share": map[string]any{
			"ttl_days":  30,
			"id_length": 12,
		},
		"client": map[string]any{
			"backend_url":    "http://localhost:8000",
			"store_dir":      defaultStoreDir(),
			"encryption_key": "",
			"fallback_keys":  []any{},
			"debounce":       "500ms",
			"window":         "24h",
			"retention":      "168h",
			"host_timeout":   "3s",
			"chrome_url":     "",
			"headful":        false,
		},
	}
}

// legacyEnv maps variables read by earlier deployments onto config paths.
var legacyEnv = map[string]string{
	"PORT":               "server.addr",
	"OPENROUTER_API_KEY": "upstream.interpreter.api_key",
	"OPENROUTER_MODEL":   "upstream.interpreter.model",
	"MORPH_API_KEY":      "upstream.merger.api_key",
}

// Load reads path (when non-empty) and applies environment overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	return load(path, os.Environ())
}

func load(path string, environ []string) (*Config, error) {
	tree := defaults()

	if path != "" {
		file, err := readFile(path)
		if err != nil {
			return nil, err
		}
		merge(tree, file)
	}

	if err := overlayEnv(tree, environ); err != nil {
		return nil, err
	}

	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create config decoder: %w", err)
	}
	if err := decoder.Decode(tree); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings that have a closed set of values.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "memory", "redis", "sqlite":
	default:
		return fmt.Errorf("invalid config: storage.backend %q is not one of memory, redis, sqlite", c.Storage.Backend)
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("invalid config: upstream.timeout must be positive")
	}
	if c.Share.TTLDays < 0 {
		return fmt.Errorf("invalid config: share.ttl_days must not be negative")
	}
	return nil
}

func readFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	out := map[string]any{}
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		return out, nil
	}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return out, nil
}

// merge copies src into dst, descending into nested maps.
func merge(dst, src map[string]any) {
	for k, v := range src {
		if sub, ok := v.(map[string]any); ok {
			if existing, ok := dst[k].(map[string]any); ok {
				merge(existing, sub)
				continue
			}
		}
		dst[k] = v
	}
}

// overlayEnv applies ANYHEART_SECTION_KEY variables. The section is matched
// first, then the remainder as a key of that section, then as a nested
// section and key (ANYHEART_UPSTREAM_MERGER_API_KEY).
func overlayEnv(tree map[string]any, environ []string) error {
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if path, ok := legacyEnv[name]; ok {
			if name == "PORT" {
				value = ":" + value
			}
			if !hasEnv(environ, EnvPrefix+strings.ToUpper(strings.ReplaceAll(path, ".", "_"))) {
				set(tree, strings.Split(path, "."), value)
			}
			continue
		}
		rest, ok := strings.CutPrefix(name, EnvPrefix)
		if !ok {
			continue
		}
		path, ok := resolve(tree, strings.ToLower(rest))
		if !ok {
			return fmt.Errorf("invalid config: unknown environment variable %s", name)
		}
		set(tree, path, value)
	}
	return nil
}

func resolve(tree map[string]any, name string) ([]string, bool) {
	for section, v := range tree {
		sub, ok := v.(map[string]any)
		if !ok {
			continue
		}
		key, ok := strings.CutPrefix(name, section+"_")
		if !ok {
			continue
		}
		if _, ok := sub[key]; ok {
			return []string{section, key}, true
		}
		if nested, ok := resolve(sub, key); ok {
			return append([]string{section}, nested...), true
		}
	}
	return nil, false
}

func set(tree map[string]any, path []string, value string) {
	for _, p := range path[:len(path)-1] {
		sub, ok := tree[p].(map[string]any)
		if !ok {
			sub = map[string]any{}
			tree[p] = sub
		}
		tree = sub
	}
	tree[path[len(path)-1]] = value
}

func hasEnv(environ []string, name string) bool {
	for _, kv := range environ {
		if strings.HasPrefix(kv, name+"=") {
			return true
		}
	}
	return false
}

func defaultStoreDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "anyheart")
	}
	return ".anyheart"
}
