// Package config handles Satchel configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can be written in the
// human form ("5m", "1.5s"). Bare integers are read as nanoseconds,
// matching time.Duration's underlying representation.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
		return nil
	case int:
		*d = Duration(v)
		return nil
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/satchel/config.yaml, /etc/satchel/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "satchel", "config.yaml"))
	}

	paths = append(paths, "/etc/satchel/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Satchel configuration.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Providers ProvidersConfig `yaml:"providers"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Cache     CacheConfig     `yaml:"cache"`
	Search    SearchConfig    `yaml:"search"`
	Safety    SafetyConfig    `yaml:"safety"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Admin     AdminConfig     `yaml:"admin"`
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ProvidersConfig holds per-backend search provider settings. A
// provider with no credentials/URL is skipped by the fallback chain.
type ProvidersConfig struct {
	Brave      BraveConfig      `yaml:"brave"`
	Google     GoogleConfig     `yaml:"google"`
	DuckDuckGo DuckDuckGoConfig `yaml:"duckduckgo"`
	SearXNG    SearXNGConfig    `yaml:"searxng"`
}

// BraveConfig holds Brave Search API settings (primary provider).
type BraveConfig struct {
	APIKey string `yaml:"api_key"`
}

// GoogleConfig holds Google Programmable Search settings (secondary
// provider with a free daily quota).
type GoogleConfig struct {
	APIKey   string `yaml:"api_key"`
	EngineID string `yaml:"engine_id"`
}

// DuckDuckGoConfig holds settings for the unauthenticated HTML
// endpoint. Enabled by default since it needs no credentials.
type DuckDuckGoConfig struct {
	Disabled bool `yaml:"disabled"`
}

// SearXNGConfig holds settings for a self-hosted SearXNG instance.
type SearXNGConfig struct {
	URL string `yaml:"url"`
}

// AnthropicConfig defines the model API used for instant answers,
// content rating assistance, and staff chat.
type AnthropicConfig struct {
	APIKey  string   `yaml:"api_key"`
	Model   string   `yaml:"model"`
	Timeout Duration `yaml:"timeout"`
}

// CacheConfig tunes the in-memory response caches. Raw search results
// and synthesized answers age out independently — an answer may
// legitimately outlive the raw results it was derived from.
type CacheConfig struct {
	Capacity  int      `yaml:"capacity"`
	ResultTTL Duration `yaml:"result_ttl"`
	AnswerTTL Duration `yaml:"answer_ttl"`
}

// SearchConfig tunes the interactive search orchestrator.
type SearchConfig struct {
	MinQueryLength int      `yaml:"min_query_length"`
	Debounce       Duration `yaml:"debounce"`
	ResultCount    int      `yaml:"result_count"`
}

// SafetyConfig holds the content-rating policy bands. The bands must
// stay ordered: SafeAbove > QuestionableAbove.
type SafetyConfig struct {
	SafeAbove         int  `yaml:"safe_above"`
	QuestionableAbove int  `yaml:"questionable_above"`
	ModelAssist       bool `yaml:"model_assist"`
}

// TelemetryConfig controls the optional district MQTT bridge.
type TelemetryConfig struct {
	MQTT MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig defines the broker connection for publishing moderation
// review events to a district-wide queue.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"` // e.g. "tls://mqtt.district.example:8883"
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"` // default "satchel"
	ClientID    string `yaml:"client_id"`
}

// AdminConfig protects the rules/links admin endpoints. TokenHash is
// a bcrypt hash of the bearer token staff tools present.
type AdminConfig struct {
	TokenHash string `yaml:"token_hash"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with working defaults. Search still
// functions with no providers configured: the chain exhausts and the
// educational fallback takes over.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8080},
		Anthropic: AnthropicConfig{
			Model:   "claude-3-5-haiku-20241022",
			Timeout: Duration(30 * time.Second),
		},
		Cache: CacheConfig{
			Capacity:  100,
			ResultTTL: Duration(5 * time.Minute),
			AnswerTTL: Duration(10 * time.Minute),
		},
		Search: SearchConfig{
			MinQueryLength: 3,
			Debounce:       Duration(1500 * time.Millisecond),
			ResultCount:    8,
		},
		Safety: SafetyConfig{
			SafeAbove:         70,
			QuestionableAbove: 40,
			ModelAssist:       true,
		},
		Telemetry: TelemetryConfig{
			MQTT: MQTTConfig{TopicPrefix: "satchel"},
		},
		DataDir: ".",
	}
}

// validate rejects configurations the pipeline cannot honor.
func (c *Config) validate() error {
	if c.Safety.SafeAbove <= c.Safety.QuestionableAbove {
		return fmt.Errorf("safety bands out of order: safe_above (%d) must exceed questionable_above (%d)",
			c.Safety.SafeAbove, c.Safety.QuestionableAbove)
	}
	if c.Cache.Capacity < 0 {
		return fmt.Errorf("cache capacity must not be negative")
	}
	if c.Search.MinQueryLength < 1 {
		return fmt.Errorf("min_query_length must be at least 1")
	}
	return nil
}
