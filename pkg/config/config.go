// Package config loads collector settings from an optional YAML file and
// BANKSCOUT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/bankscout/bankscout/engine/extract"
)

// Config is the full collector configuration.
type Config struct {
	Parsing ParsingConfig  `mapstructure:"parsing"`
	AI      AIConfig       `mapstructure:"ai"`
	Cache   CacheConfig    `mapstructure:"cache"`
	NATS    NATSConfig     `mapstructure:"nats"`
	Metrics MetricsConfig  `mapstructure:"metrics"`
	Output  OutputConfig   `mapstructure:"output"`
	Log     LogConfig      `mapstructure:"log"`
	Sources []SourceConfig `mapstructure:"sources"`
}

// ParsingConfig drives the browser session and run-level retries.
type ParsingConfig struct {
	Timeout           int           `mapstructure:"timeout"` // seconds
	Retries           int           `mapstructure:"retries"`
	Headless          bool          `mapstructure:"headless"`
	Browser           string        `mapstructure:"browser"`
	InstallBrowsers   bool          `mapstructure:"install_browsers"`
	PaceMin           time.Duration `mapstructure:"pace_min"`
	PaceMax           time.Duration `mapstructure:"pace_max"`
	RetryWait         time.Duration `mapstructure:"retry_wait"`
	Concurrency       int           `mapstructure:"concurrency"`
	ShortTimeoutRatio int           `mapstructure:"short_timeout_ratio"`
	UserAgent         string        `mapstructure:"user_agent"`
}

// TimeoutDuration converts the configured timeout to a time.Duration.
func (p ParsingConfig) TimeoutDuration() time.Duration {
	return time.Duration(p.Timeout) * time.Second
}

// AIConfig configures the completion service used for normalization.
type AIConfig struct {
	Provider         string        `mapstructure:"provider"`
	BaseURL          string        `mapstructure:"base_url"`
	APIKey           string        `mapstructure:"api_key"`
	Model            string        `mapstructure:"model"`
	Temperature      float64       `mapstructure:"temperature"`
	MaxTokens        int           `mapstructure:"max_tokens"`
	Timeout          time.Duration `mapstructure:"timeout"`
	Rate             float64       `mapstructure:"rate"`
	Burst            int           `mapstructure:"burst"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
}

// CacheConfig selects the normalization cache.
type CacheConfig struct {
	Type     string        `mapstructure:"type"` // memory, redis or none
	RedisURL string        `mapstructure:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

type MetricsConfig struct {
	Port int `mapstructure:"port"`
}

type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SourceConfig is one listing page to collect.
type SourceConfig struct {
	Name      string `mapstructure:"name"`
	Extractor string `mapstructure:"extractor"`
	URL       string `mapstructure:"url"`
	Bank      string `mapstructure:"bank"`
	Category  string `mapstructure:"category"`
	Schema    string `mapstructure:"schema"`
	Enabled   bool   `mapstructure:"enabled"`
}

// EnabledSources returns the sources with Enabled set, in declaration order.
func (c *Config) EnabledSources() []SourceConfig {
	var out []SourceConfig
	for _, s := range c.Sources {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// Load reads configuration. An explicit path must exist; with an empty path
// the usual locations are searched and a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("bankscout")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/bankscout/")
	}

	v.SetEnvPrefix("BANKSCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	return &cfg, nil
}

// DefaultSources are the VTB listing pages collected out of the box.
var DefaultSources = []SourceConfig{
	{Name: "vtb-credit", Extractor: "vtb-credit", URL: extract.VTBCreditURL, Bank: "vtb", Category: "credit", Schema: "credit-product", Enabled: true},
	{Name: "vtb-debit-cards", Extractor: "vtb-debit-cards", URL: extract.VTBDebitCardsURL, Bank: "vtb", Category: "debit_card", Schema: "debit-card", Enabled: true},
	{Name: "vtb-credit-cards", Extractor: "vtb-credit-cards", URL: extract.VTBCreditCardsURL, Bank: "vtb", Category: "credit_card", Schema: "credit-card", Enabled: true},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("parsing.timeout", 30)
	v.SetDefault("parsing.retries", 3)
	v.SetDefault("parsing.headless", true)
	v.SetDefault("parsing.browser", "chromium")
	v.SetDefault("parsing.install_browsers", false)
	v.SetDefault("parsing.pace_min", "800ms")
	v.SetDefault("parsing.pace_max", "2500ms")
	v.SetDefault("parsing.retry_wait", "2s")
	v.SetDefault("parsing.concurrency", 2)
	v.SetDefault("parsing.short_timeout_ratio", 6)
	v.SetDefault("parsing.user_agent", "")

	v.SetDefault("ai.provider", "openai")
	v.SetDefault("ai.base_url", "")
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.model", "gpt-4o-mini")
	v.SetDefault("ai.temperature", 0.0)
	v.SetDefault("ai.max_tokens", 1024)
	v.SetDefault("ai.timeout", "60s")
	v.SetDefault("ai.rate", 2.0)
	v.SetDefault("ai.burst", 2)
	v.SetDefault("ai.breaker_threshold", 5)
	v.SetDefault("ai.breaker_cooldown", "30s")

	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.ttl", "24h")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", "bankscout.pipeline")

	v.SetDefault("metrics.port", 9094)
	v.SetDefault("output.dir", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	sources := make([]map[string]any, len(DefaultSources))
	for i, s := range DefaultSources {
		sources[i] = map[string]any{
			"name": s.Name, "extractor": s.Extractor, "url": s.URL, "bank": s.Bank,
			"category": s.Category, "schema": s.Schema, "enabled": s.Enabled,
		}
	}
	v.SetDefault("sources", sources)
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	p := c.Parsing
	switch {
	case p.Timeout <= 0:
		return fmt.Errorf("parsing.timeout must be positive, got %d", p.Timeout)
	case p.Retries < 1:
		return fmt.Errorf("parsing.retries must be at least 1, got %d", p.Retries)
	case p.PaceMin < 0 || p.PaceMax < p.PaceMin:
		return fmt.Errorf("parsing.pace_min (%s) must be between 0 and parsing.pace_max (%s)", p.PaceMin, p.PaceMax)
	case p.ShortTimeoutRatio < 1:
		return fmt.Errorf("parsing.short_timeout_ratio must be at least 1, got %d", p.ShortTimeoutRatio)
	}
	switch p.Browser {
	case "chromium", "firefox", "webkit":
	default:
		return fmt.Errorf("parsing.browser must be chromium, firefox or webkit, got %q", p.Browser)
	}

	switch c.AI.Provider {
	case "openai", "ollama":
	default:
		return fmt.Errorf("ai.provider must be 'openai' or 'ollama', got %q", c.AI.Provider)
	}
	if c.AI.Model == "" {
		return errors.New("ai.model is required")
	}

	switch c.Cache.Type {
	case "memory", "none":
	case "redis":
		if c.Cache.RedisURL == "" {
			return errors.New("cache.redis_url is required when cache.type is 'redis'")
		}
	default:
		return fmt.Errorf("cache.type must be memory, redis or none, got %q", c.Cache.Type)
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be 'text' or 'json', got %q", c.Log.Format)
	}

	seen := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		if s.Name == "" || s.Extractor == "" || s.URL == "" || s.Schema == "" {
			return fmt.Errorf("sources[%d]: name, extractor, url and schema are required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("sources[%d]: duplicate name %q", i, s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}
