// Package config provides configuration management for guildwire.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/guildwire/guildwire/internal/constants"
)

// Account types. Client accounts authenticate with a raw token and request
// presence sync for large guilds.
const (
	AccountBot    = "bot"
	AccountClient = "client"
)

// Proxy modes understood by the HTTP layer.
const (
	ProxyNone   = "no-proxy"
	ProxySystem = "system"
	ProxyBasic  = "basic"
	ProxyNTLM   = "ntlm"
)

// Environment variables that override file settings.
const (
	EnvToken      = "GUILDWIRE_TOKEN"
	EnvAPIURL     = "GUILDWIRE_API_URL"
	EnvGatewayURL = "GUILDWIRE_GATEWAY_URL"
)

// Config is the complete client configuration.
//
// Config file location:
//   - Windows: %APPDATA%\guildwire\config.yaml
//   - Unix: ~/.config/guildwire/config.yaml
//
// YAML format:
//
//	token: <bot token>
//	account_type: bot
//	rest:
//	  api_url: https://discord.com/api/v10
//	  retry_on_timeout: true
//	  server_error_retries: 3
//	  cleanup_interval: 30s
//	gateway:
//	  intents: 3
//	  compress: true
//	  large_threshold: 250
//	guild_setup:
//	  chunk_timeout: 0s
//	proxy:
//	  mode: no-proxy
//	logging:
//	  level: info
//	  format: auto
type Config struct {
	Token       string `yaml:"token"`
	AccountType string `yaml:"account_type"`

	REST       RESTConfig       `yaml:"rest"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	GuildSetup GuildSetupConfig `yaml:"guild_setup"`
	Proxy      ProxyConfig      `yaml:"proxy"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// RESTConfig controls the REST dispatcher and HTTP client.
type RESTConfig struct {
	// APIURL is the REST base URL including the version segment.
	APIURL string `yaml:"api_url"`

	// RetryOnTimeout retries a call once when it fails with a timeout-class
	// network error. Default: true
	RetryOnTimeout bool `yaml:"retry_on_timeout"`

	// ServerErrorRetries is the number of times a 502/503/504 response is
	// retried before the request fails. Default: 3
	ServerErrorRetries int `yaml:"server_error_retries"`

	// CleanupInterval is the idle bucket sweep period. Default: 30s
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// RequestTimeout is applied as a deadline to requests submitted without
	// one. Zero means no deadline.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// GatewayConfig controls the persistent connection.
type GatewayConfig struct {
	// URL overrides the gateway URL normally discovered through REST.
	URL string `yaml:"url"`

	// Intents is the gateway intents bitfield sent in identify.
	Intents int64 `yaml:"intents"`

	// Compress requests per-message zlib payload compression.
	Compress bool `yaml:"compress"`

	// LargeThreshold is the member count above which the server omits
	// offline members from guild-create. Range 50-250. Default: 250
	LargeThreshold int `yaml:"large_threshold"`
}

// GuildSetupConfig controls guild construction.
type GuildSetupConfig struct {
	// ChunkTimeout bounds how long a guild may wait for member chunks. When it
	// elapses the guild is finalized with the members received so far.
	// Zero waits indefinitely. Default: 0
	ChunkTimeout time.Duration `yaml:"chunk_timeout"`
}

// ProxyConfig holds outbound proxy settings for REST calls.
type ProxyConfig struct {
	Mode     string `yaml:"mode"` // "no-proxy", "system", "basic", "ntlm"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	NoProxy  string `yaml:"no_proxy"` // Comma-separated list of hosts to bypass proxy
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console", "json", "auto"
}

// Validation errors
var (
	ErrMissingToken          = errors.New("token is required")
	ErrMissingAPIURL         = errors.New("rest.api_url is required")
	ErrInvalidAccountType    = errors.New("account_type must be 'bot' or 'client'")
	ErrInvalidLargeThreshold = errors.New("gateway.large_threshold must be between 50 and 250")
	ErrInvalidRetries        = errors.New("rest.server_error_retries must not be negative")
	ErrInvalidCleanup        = errors.New("rest.cleanup_interval must be positive")
	ErrInvalidChunkTimeout   = errors.New("guild_setup.chunk_timeout must not be negative")
	ErrInvalidProxyMode      = errors.New("proxy.mode must be one of no-proxy, system, basic, ntlm")
	ErrMissingProxyHost      = errors.New("proxy.host is required for basic and ntlm proxy modes")
)

// DefaultConfigPath returns the default path for the config file.
func DefaultConfigPath() (string, error) {
	dir, err := configDirectory()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// NewConfig creates a Config with default values.
func NewConfig() *Config {
	return &Config{
		AccountType: AccountBot,
		REST: RESTConfig{
			APIURL:             constants.APIBaseURL,
			RetryOnTimeout:     true,
			ServerErrorRetries: constants.ServerErrorRetries,
			CleanupInterval:    constants.BucketCleanupInterval,
		},
		Gateway: GatewayConfig{
			Compress:       true,
			LargeThreshold: constants.DefaultLargeThreshold,
		},
		Proxy: ProxyConfig{
			Mode: ProxyNone,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// LoadConfig loads configuration from a YAML file and applies environment
// overrides. If path is empty the default location is used. A missing file is
// not an error: defaults (plus environment) are returned.
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			cfg.ApplyEnv()
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		cfg.ApplyEnv()
		return cfg, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides settings from GUILDWIRE_* environment variables.
func (cfg *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvToken)); v != "" {
		cfg.Token = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAPIURL)); v != "" {
		cfg.REST.APIURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvGatewayURL)); v != "" {
		cfg.Gateway.URL = v
	}
}

// SaveConfig writes the configuration as YAML. Parent directories are created
// and the file is restricted to the owner because it holds the token.
func SaveConfig(cfg *Config, path string) error {
	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return fmt.Errorf("failed to determine config path: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	// Use temporary file + rename for atomicity
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set config permissions: %w", err)
		}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// Validate checks that the configuration can be used to open a client.
func (cfg *Config) Validate() error {
	if strings.TrimSpace(cfg.Token) == "" {
		return ErrMissingToken
	}
	if strings.TrimSpace(cfg.REST.APIURL) == "" {
		return ErrMissingAPIURL
	}
	switch cfg.AccountType {
	case AccountBot, AccountClient:
	default:
		return ErrInvalidAccountType
	}
	if cfg.Gateway.LargeThreshold < constants.MinLargeThreshold || cfg.Gateway.LargeThreshold > constants.MaxLargeThreshold {
		return ErrInvalidLargeThreshold
	}
	if cfg.REST.ServerErrorRetries < 0 {
		return ErrInvalidRetries
	}
	if cfg.REST.CleanupInterval <= 0 {
		return ErrInvalidCleanup
	}
	if cfg.GuildSetup.ChunkTimeout < 0 {
		return ErrInvalidChunkTimeout
	}
	switch strings.ToLower(cfg.Proxy.Mode) {
	case "", ProxyNone, ProxySystem:
	case ProxyBasic, ProxyNTLM:
		if strings.TrimSpace(cfg.Proxy.Host) == "" {
			return ErrMissingProxyHost
		}
	default:
		return ErrInvalidProxyMode
	}
	return nil
}

// IsClientAccount reports whether the token belongs to a client (user) account.
func (cfg *Config) IsClientAccount() bool {
	return cfg.AccountType == AccountClient
}

// AuthorizationHeader returns the Authorization header value for the token.
func (cfg *Config) AuthorizationHeader() string {
	if cfg.IsClientAccount() {
		return cfg.Token
	}
	return "Bot " + cfg.Token
}
