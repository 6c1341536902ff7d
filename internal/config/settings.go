package config

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/nikoai/niko/internal/ratelimit"
)

// YAMLConfig represents the top-level niko configuration file.
type YAMLConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Accounts  AccountsConfig  `yaml:"accounts"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string     `yaml:"host"`
	Port            int        `yaml:"port"`
	ShutdownTimeout string     `yaml:"shutdown_timeout"`
	Production      bool       `yaml:"production"`
	BehindProxy     bool       `yaml:"behind_proxy"`
	CORS            CORSConfig `yaml:"cors"`
}

// CORSConfig controls cross-origin resource sharing settings.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
	Methods []string `yaml:"methods"`
}

// StoreConfig selects the credential store backend. An empty DSN with the
// sqlite driver uses niko.db inside the data directory.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// AuthConfig controls token issuing and the trusted-service lane.
type AuthConfig struct {
	JWTSecret         string `yaml:"jwt_secret"`
	TokenTTL          string `yaml:"token_ttl"`
	Issuer            string `yaml:"issuer"`
	ServiceKey        string `yaml:"service_key"`
	ServiceSubject    string `yaml:"service_subject"`
	BcryptCost        int    `yaml:"bcrypt_cost"`
	PlaintextFallback bool   `yaml:"plaintext_fallback"`
}

// RateLimitConfig holds one policy per request class, keyed by class name
// ("general", "authentication", "registration", "chat-completion",
// "fallback").
type RateLimitConfig struct {
	Policies map[string]PolicyYAML `yaml:"policies"`
}

// PolicyYAML is a single rate-limit policy in the configuration file.
type PolicyYAML struct {
	MaxRequests int    `yaml:"max_requests"`
	Window      string `yaml:"window"`
}

// AccountsConfig controls the deletion grace period and the purge sweep.
type AccountsConfig struct {
	DeletionRetention string `yaml:"deletion_retention"`
	PurgeInterval     string `yaml:"purge_interval"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadYAMLConfig reads and parses a YAML configuration file. Environment
// variables referenced as ${VAR_NAME} in the file are expanded before parsing.
func LoadYAMLConfig(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	content := os.ExpandEnv(string(data))

	cfg := DefaultYAMLConfig()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// FromViper decodes the effective configuration (file, environment and
// flags) over the defaults. Keys use the same names as the YAML file.
func FromViper(v *viper.Viper) (*YAMLConfig, error) {
	cfg := DefaultYAMLConfig()
	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
	}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// SetViperDefaults registers every key of DefaultYAMLConfig as a viper
// default. Viper only resolves environment overrides for keys it knows, so
// this must run before FromViper when no config file sets the key.
func SetViperDefaults(v *viper.Viper) error {
	data, err := yaml.Marshal(DefaultYAMLConfig())
	if err != nil {
		return err
	}
	var tree map[string]interface{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return err
	}
	setDefaults(v, "", tree)
	return nil
}

func setDefaults(v *viper.Viper, prefix string, node map[string]interface{}) {
	for k, val := range node {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if m, ok := val.(map[string]interface{}); ok {
			setDefaults(v, key, m)
			continue
		}
		v.SetDefault(key, val)
	}
}

// DefaultYAMLConfig returns a YAMLConfig pre-filled with sensible defaults.
func DefaultYAMLConfig() *YAMLConfig {
	policies := make(map[string]PolicyYAML)
	d := ratelimit.DefaultPolicies()
	for _, c := range ratelimit.Classes {
		p := d.For(c)
		policies[c.String()] = PolicyYAML{MaxRequests: p.MaxRequests, Window: p.Window.String()}
	}
	policies["fallback"] = PolicyYAML{MaxRequests: d.Fallback.MaxRequests, Window: d.Fallback.Window.String()}

	return &YAMLConfig{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: "30s",
			CORS: CORSConfig{
				Origins: []string{"*"},
				Methods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			},
		},
		Store: StoreConfig{
			Driver: "sqlite",
		},
		Auth: AuthConfig{
			TokenTTL:          "24h",
			Issuer:            "niko",
			ServiceSubject:    "mobile_user",
			BcryptCost:        12,
			PlaintextFallback: true,
		},
		RateLimit: RateLimitConfig{Policies: policies},
		Accounts: AccountsConfig{
			DeletionRetention: "720h",
			PurgeInterval:     "1h",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// WriteDefaultConfig writes the default configuration to a YAML file.
func WriteDefaultConfig(path string) error {
	data, err := yaml.Marshal(DefaultYAMLConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// TokenTTL returns the access token lifetime.
func (c *YAMLConfig) TokenTTL() (time.Duration, error) {
	return positiveDuration("auth.token_ttl", c.Auth.TokenTTL)
}

// Retention returns the deletion grace period.
func (c *YAMLConfig) Retention() (time.Duration, error) {
	return positiveDuration("accounts.deletion_retention", c.Accounts.DeletionRetention)
}

// PurgeInterval returns the period of the purge sweep.
func (c *YAMLConfig) PurgeInterval() (time.Duration, error) {
	return positiveDuration("accounts.purge_interval", c.Accounts.PurgeInterval)
}

// ShutdownTimeout returns the graceful shutdown deadline.
func (c *YAMLConfig) ShutdownTimeout() (time.Duration, error) {
	return positiveDuration("server.shutdown_timeout", c.Server.ShutdownTimeout)
}

// Policies converts rate_limit.policies into limiter policies. Classes
// missing from the file keep their defaults; unknown names are rejected.
func (c *YAMLConfig) Policies() (ratelimit.Policies, error) {
	var p ratelimit.Policies
	for name, py := range c.RateLimit.Policies {
		window, err := positiveDuration("rate_limit.policies."+name+".window", py.Window)
		if err != nil {
			return p, err
		}
		if py.MaxRequests <= 0 {
			return p, fmt.Errorf("rate_limit.policies.%s.max_requests must be positive", name)
		}
		policy := ratelimit.Policy{MaxRequests: py.MaxRequests, Window: window}

		if name == "fallback" {
			p.Fallback = policy
			continue
		}
		class, err := ratelimit.ParseClass(name)
		if err != nil {
			return p, err
		}
		switch class {
		case ratelimit.ClassGeneral:
			p.General = policy
		case ratelimit.ClassAuthentication:
			p.Authentication = policy
		case ratelimit.ClassRegistration:
			p.Registration = policy
		case ratelimit.ClassChatCompletion:
			p.ChatCompletion = policy
		}
	}
	p = p.WithDefaults()
	return p, p.Validate()
}

func positiveDuration(key, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}

// SettingJWTSecret names the persisted signing secret.
const SettingJWTSecret = "auth.jwt_secret"

// EnsureSigningSecret returns configured when non-empty. Otherwise it
// returns the secret persisted in the store, generating and saving one on
// first use so issued tokens survive restarts.
func EnsureSigningSecret(ctx context.Context, s *Store, configured string) (secret string, generated bool, err error) {
	if configured != "" {
		return configured, false, nil
	}

	stored, err := s.GetSetting(ctx, SettingJWTSecret)
	if err == nil && stored != "" {
		return stored, false, nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", false, err
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", false, fmt.Errorf("generate signing secret: %w", err)
	}
	secret = hex.EncodeToString(buf)
	if err := s.SetSetting(ctx, SettingJWTSecret, secret); err != nil {
		return "", false, err
	}
	return secret, true, nil
}
