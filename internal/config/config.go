// Package config loads llm-relay settings from config.yaml, LLM_RELAY_*
// environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/samsaffron/llm-relay/internal/llm"
	"github.com/samsaffron/llm-relay/internal/session"
)

const envPrefix = "LLM_RELAY"

type Config struct {
	DefaultProvider string                    `mapstructure:"default_provider" yaml:"default_provider"`
	DefaultModel    string                    `mapstructure:"default_model" yaml:"default_model"`
	Serve           ServeConfig               `mapstructure:"serve" yaml:"serve"`
	Limits          LimitsConfig              `mapstructure:"limits" yaml:"limits"`
	Prompts         PromptsConfig             `mapstructure:"prompts" yaml:"prompts"`
	Providers       map[string]ProviderConfig `mapstructure:"providers" yaml:"providers,omitempty"`
	Log             LogConfig                 `mapstructure:"log" yaml:"log"`
	Usage           UsageConfig               `mapstructure:"usage" yaml:"usage"`
	Exchanges       session.Config            `mapstructure:"exchanges" yaml:"exchanges"`
}

type ServeConfig struct {
	Addr           string        `mapstructure:"addr" yaml:"addr"`
	Token          string        `mapstructure:"token" yaml:"token,omitempty"`
	RateLimit      float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst      int           `mapstructure:"rate_burst" yaml:"rate_burst"`
	BackendTimeout time.Duration `mapstructure:"backend_timeout" yaml:"backend_timeout"`
	MaxRetries     int           `mapstructure:"max_retries" yaml:"max_retries"`
	AllowedOrigins []string      `mapstructure:"allowed_origins" yaml:"allowed_origins,omitempty"`
}

type LimitsConfig struct {
	MaxTokens           int `mapstructure:"max_tokens" yaml:"max_tokens"`
	MaxResponseSegments int `mapstructure:"max_response_segments" yaml:"max_response_segments"`
}

type PromptsConfig struct {
	System     string `mapstructure:"system" yaml:"system,omitempty"`
	SystemFile string `mapstructure:"system_file" yaml:"system_file,omitempty"`
	Continue   string `mapstructure:"continue" yaml:"continue,omitempty"`
}

// ProviderConfig overrides the credential and endpoint of one provider.
// Values go through ResolveValue, so op://, $(cmd) and ${VAR} work.
type ProviderConfig struct {
	APIKey  string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url,omitempty"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type UsageConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Dir     string `mapstructure:"dir" yaml:"dir,omitempty"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("default_provider", llm.DefaultProvider)
	v.SetDefault("default_model", llm.DefaultModel)
	v.SetDefault("serve.addr", "127.0.0.1:5173")
	v.SetDefault("serve.token", "")
	v.SetDefault("serve.rate_limit", 0)
	v.SetDefault("serve.rate_burst", 5)
	v.SetDefault("serve.backend_timeout", 5*time.Minute)
	v.SetDefault("serve.max_retries", -1)
	v.SetDefault("serve.allowed_origins", []string{})
	v.SetDefault("limits.max_tokens", 8000)
	v.SetDefault("limits.max_response_segments", 2)
	v.SetDefault("prompts.system", "")
	v.SetDefault("prompts.system_file", "")
	v.SetDefault("prompts.continue", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("usage.enabled", true)
	v.SetDefault("usage.dir", "")
	def := session.DefaultConfig()
	v.SetDefault("exchanges.enabled", def.Enabled)
	v.SetDefault("exchanges.path", def.Path)
	v.SetDefault("exchanges.max_age_days", def.MaxAgeDays)
	v.SetDefault("exchanges.max_count", def.MaxCount)
}

// newViper prepares a viper instance reading path, or config.yaml from the
// default locations when path is empty.
func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if dir, err := configDir(); err == nil {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return v, nil
}

// decode builds a validated Config from v, resolving provider secrets.
func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.resolveSecrets(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads the configuration once. An empty path searches the defaults.
func Load(path string) (*Config, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

func (c *Config) resolveSecrets() error {
	for name, p := range c.Providers {
		key, err := ResolveValue(p.APIKey)
		if err != nil {
			return fmt.Errorf("providers.%s.api_key: %w", name, err)
		}
		baseURL, err := ResolveValue(p.BaseURL)
		if err != nil {
			return fmt.Errorf("providers.%s.base_url: %w", name, err)
		}
		c.Providers[name] = ProviderConfig{APIKey: key, BaseURL: baseURL}
	}
	token, err := ResolveValue(c.Serve.Token)
	if err != nil {
		return fmt.Errorf("serve.token: %w", err)
	}
	c.Serve.Token = token
	return nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.Limits.MaxTokens <= 0 {
		return fmt.Errorf("limits.max_tokens must be positive, got %d", c.Limits.MaxTokens)
	}
	if c.Limits.MaxResponseSegments <= 0 {
		return fmt.Errorf("limits.max_response_segments must be positive, got %d", c.Limits.MaxResponseSegments)
	}
	if c.Serve.RateLimit < 0 {
		return fmt.Errorf("serve.rate_limit must not be negative")
	}
	if c.Serve.RateLimit > 0 && c.Serve.RateBurst <= 0 {
		return fmt.Errorf("serve.rate_burst must be positive when rate_limit is set")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// Redacted returns a copy safe to print: secrets are masked.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Serve.Token != "" {
		out.Serve.Token = mask(out.Serve.Token)
	}
	if c.Providers != nil {
		out.Providers = make(map[string]ProviderConfig, len(c.Providers))
		for name, p := range c.Providers {
			if p.APIKey != "" {
				p.APIKey = mask(p.APIKey)
			}
			out.Providers[name] = p
		}
	}
	return &out
}

func mask(secret string) string {
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "****" + secret[len(secret)-4:]
}

// YAML renders the configuration as YAML.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

func configDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config dir: %w", err)
	}
	return filepath.Join(dir, "llm-relay"), nil
}

// GetConfigPath returns the path where the config file should be located.
func GetConfigPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Exists returns true if a config file exists at the default path.
func Exists() bool {
	path, err := GetConfigPath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

const starterHeader = `# llm-relay configuration.
# API keys may be literal values, ${ENV_VAR}, $(command) or op://vault/item/field.
`

// Save writes cfg to path (or the default path) as a starter file.
func Save(cfg *Config, path string) (string, error) {
	if path == "" {
		p, err := GetConfigPath()
		if err != nil {
			return "", err
		}
		path = p
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	body, err := cfg.YAML()
	if err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(starterHeader), body...), 0600); err != nil {
		return "", err
	}
	return path, nil
}

// Defaults returns the configuration used when nothing is configured.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := decode(v)
	if err != nil {
		panic(fmt.Sprintf("config defaults are invalid: %v", err))
	}
	return cfg
}
