package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"

	apperrors "github.com/anime-shed/cloudsight-go/pkg/errors"
	"github.com/anime-shed/cloudsight-go/pkg/validation"
)

// DefaultBaseURL is the public CloudSight endpoint
const DefaultBaseURL = "https://api.cloudsight.ai"

// OAuthCredentials is the key/secret bundle used for OAuth1 request signing
type OAuthCredentials struct {
	ConsumerKey    string `mapstructure:"consumer_key"`
	ConsumerSecret string `mapstructure:"consumer_secret"`
	Token          string `mapstructure:"token"`
	TokenSecret    string `mapstructure:"token_secret"`
}

// Config holds client settings. Credential accessors lock, so a Config may be shared.
// Fill it before clients start issuing requests; the exported durations are not guarded.
type Config struct {
	mu      sync.RWMutex
	apiKey  string
	oauth   *OAuthCredentials
	baseURL string

	RequestTimeout time.Duration
	PollWait       time.Duration
}

// New returns a config with default timeouts and no credentials
func New() *Config {
	return &Config{
		RequestTimeout: 30 * time.Second,
		PollWait:       time.Second,
	}
}

func (c *Config) SetAPIKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = key
}

func (c *Config) APIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey
}

// SetOAuthCredentials normalizes a loosely typed credential map. Keys match
// case-insensitively and values are converted to strings; unknown keys are ignored.
func (c *Config) SetOAuthCredentials(values map[string]any) error {
	if !OAuthSupported {
		return apperrors.NewConfigurationError("OAuth signing is not available in this build", nil)
	}

	var creds OAuthCredentials
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &creds,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return apperrors.NewConfigurationError("cannot build OAuth credential decoder", err)
	}
	if err := decoder.Decode(normalizeKeys(values)); err != nil {
		return apperrors.NewConfigurationError("invalid OAuth credentials", err)
	}

	return c.SetOAuth(creds)
}

// SetOAuth stores already typed OAuth credentials
func (c *Config) SetOAuth(creds OAuthCredentials) error {
	if !OAuthSupported {
		return apperrors.NewConfigurationError("OAuth signing is not available in this build", nil)
	}
	if strings.TrimSpace(creds.ConsumerKey) == "" {
		return apperrors.NewConfigurationError("OAuth credentials need a consumer_key", nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.oauth = &creds
	return nil
}

// OAuthCredentials returns a copy of the configured credentials, nil when unset
func (c *Config) OAuthCredentials() *OAuthCredentials {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.oauth == nil {
		return nil
	}
	creds := *c.oauth
	return &creds
}

func (c *Config) SetBaseURL(baseURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURL = baseURL
}

// BaseURL returns the configured endpoint without a trailing slash, or DefaultBaseURL
func (c *Config) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.baseURL == "" {
		return DefaultBaseURL
	}
	return strings.TrimRight(c.baseURL, "/")
}

// HasCredentials reports whether either authentication scheme is configured
func (c *Config) HasCredentials() bool {
	return c.APIKey() != "" || c.OAuthCredentials() != nil
}

// LoadFromEnv builds a config from CLOUDSIGHT_* environment variables
func LoadFromEnv() (*Config, error) {
	cfg := New()
	cfg.RequestTimeout = parseDurationOrDefault("CLOUDSIGHT_REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.PollWait = parseDurationOrDefault("CLOUDSIGHT_POLL_WAIT", cfg.PollWait)
	cfg.SetAPIKey(os.Getenv("CLOUDSIGHT_API_KEY"))

	if consumerKey := os.Getenv("CLOUDSIGHT_OAUTH_CONSUMER_KEY"); consumerKey != "" {
		err := cfg.SetOAuth(OAuthCredentials{
			ConsumerKey:    consumerKey,
			ConsumerSecret: os.Getenv("CLOUDSIGHT_OAUTH_CONSUMER_SECRET"),
			Token:          os.Getenv("CLOUDSIGHT_OAUTH_TOKEN"),
			TokenSecret:    os.Getenv("CLOUDSIGHT_OAUTH_TOKEN_SECRET"),
		})
		if err != nil {
			return nil, err
		}
	}

	baseURL := getEnvOrDefault("CLOUDSIGHT_BASE_URL", DefaultBaseURL)
	if err := validation.NewURLValidator().ValidateBaseURL(baseURL); err != nil {
		return nil, fmt.Errorf("invalid CLOUDSIGHT_BASE_URL %q: %w", baseURL, err)
	}
	cfg.SetBaseURL(baseURL)

	if cfg.RequestTimeout <= 0 || cfg.PollWait < 0 {
		return nil, fmt.Errorf("timeouts must be positive (got request=%s, poll_wait=%s)",
			cfg.RequestTimeout, cfg.PollWait)
	}
	return cfg, nil
}

func normalizeKeys(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return duration
		}
	}
	return defaultValue
}
