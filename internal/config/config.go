// Package config loads resumechat settings from defaults, the config file,
// .env files and environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/kalambet/resumechat/internal/storage"
)

type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Proxy    ProxyConfig
	Storage  StorageConfig
	Profile  ProfileConfig
	Topics   TopicsConfig
	Composer ComposerConfig
	Sessions SessionsConfig
	Admin    AdminConfig
	NATS     NATSConfig
}

type ServerConfig struct {
	Addr string
}

type LogConfig struct {
	Level string
}

type ProxyConfig struct {
	BaseURL         string
	APIKey          string
	Model           string
	Timeout         time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration
}

type StorageConfig struct {
	Backend     string
	DataDir     string
	R2AccountID string
	R2Bucket    string
	R2Endpoint  string
	R2AccessKey string
	R2SecretKey string
	DatabaseURL string
}

type ProfileConfig struct {
	Key      string
	CacheTTL time.Duration
}

type TopicsConfig struct {
	File string
}

type ComposerConfig struct {
	MaxPromptTokens int
}

type SessionsConfig struct {
	Keep int
}

type AdminConfig struct {
	Secret string
}

type NATSConfig struct {
	URL   string
	Token string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{Addr: ":8788"},
		Log:    LogConfig{Level: "info"},
		Proxy: ProxyConfig{
			BaseURL:         "https://api.openai.com/v1",
			Model:           "gpt-3.5-turbo",
			Timeout:         30 * time.Second,
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
		Storage: StorageConfig{
			Backend: storage.BackendNone,
			DataDir: defaultDataDir(),
		},
		Profile:  ProfileConfig{Key: "hidden-context"},
		Composer: ComposerConfig{MaxPromptTokens: 4000},
		Sessions: SessionsConfig{Keep: 1000},
	}
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/resumechat/config.json, then .env in the working
// directory, then RESUMECHAT_* and the well-known secret environment
// variables. The API key is not required here; see RequireAPIKey.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "[WARN] could not read .env: %v\n", err)
	}
	return loadWith(newFileBackend(ConfigFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the selected storage backend is known and has the
// settings it needs.
func (c Config) Validate() error {
	if !slices.Contains(storage.Backends, c.Storage.Backend) {
		return fmt.Errorf("unknown storage backend %q (valid: %s)",
			c.Storage.Backend, strings.Join(storage.Backends, ", "))
	}
	switch c.Storage.Backend {
	case storage.BackendR2:
		var missing []string
		if c.Storage.R2Bucket == "" {
			missing = append(missing, "RESUMECHAT_R2_BUCKET")
		}
		if c.Storage.R2AccountID == "" && c.Storage.R2Endpoint == "" {
			missing = append(missing, "RESUMECHAT_R2_ACCOUNT_ID")
		}
		if c.Storage.R2AccessKey == "" {
			missing = append(missing, "RESUMECHAT_R2_ACCESS_KEY")
		}
		if c.Storage.R2SecretKey == "" {
			missing = append(missing, "RESUMECHAT_R2_SECRET_KEY")
		}
		if len(missing) > 0 {
			return fmt.Errorf("missing required config for r2 storage: %s", strings.Join(missing, ", "))
		}
	case storage.BackendPostgres:
		if c.Storage.DatabaseURL == "" {
			return errors.New("missing required config for postgres storage: DATABASE_URL")
		}
	}
	if c.Proxy.Timeout <= 0 {
		return fmt.Errorf("proxy.timeout must be positive, got %s", c.Proxy.Timeout)
	}
	return nil
}

// RequireAPIKey reports a clear error when no completion API key is set.
func RequireAPIKey(cfg Config) error {
	if cfg.Proxy.APIKey == "" {
		return errors.New("missing required config: completion API key. " +
			"Set it via environment variable OPENAI_API_KEY or a .env file")
	}
	return nil
}

// StorageOptions converts the storage section for storage.Open.
func (c Config) StorageOptions() storage.Options {
	return storage.Options{
		Backend: c.Storage.Backend,
		DataDir: c.Storage.DataDir,
		R2: storage.R2Options{
			AccountID: c.Storage.R2AccountID,
			Bucket:    c.Storage.R2Bucket,
			AccessKey: c.Storage.R2AccessKey,
			SecretKey: c.Storage.R2SecretKey,
			Endpoint:  c.Storage.R2Endpoint,
		},
		DatabaseURL: c.Storage.DatabaseURL,
	}
}
