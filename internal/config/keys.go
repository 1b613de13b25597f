package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.addr", typ: kString, env: "RESUMECHAT_SERVER_ADDR",
		apply:   func(cfg *Config, v any) { cfg.Server.Addr = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Addr },
	},
	{
		key: "log.level", typ: kString, env: "RESUMECHAT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "proxy.base_url", typ: kString, env: "RESUMECHAT_PROXY_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Proxy.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Proxy.BaseURL },
	},
	{
		key: "proxy.api_key", typ: kString, env: "OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Proxy.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Proxy.APIKey },
	},
	{
		key: "proxy.model", typ: kString, env: "RESUMECHAT_PROXY_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Proxy.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Proxy.Model },
	},
	{
		key: "proxy.timeout", typ: kDuration, env: "RESUMECHAT_PROXY_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Proxy.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Proxy.Timeout },
	},
	{
		key: "proxy.breaker_failures", typ: kInt, env: "RESUMECHAT_PROXY_BREAKER_FAILURES",
		apply:   func(cfg *Config, v any) { cfg.Proxy.BreakerFailures = v.(int) },
		extract: func(cfg Config) any { return cfg.Proxy.BreakerFailures },
	},
	{
		key: "proxy.breaker_cooldown", typ: kDuration, env: "RESUMECHAT_PROXY_BREAKER_COOLDOWN",
		apply:   func(cfg *Config, v any) { cfg.Proxy.BreakerCooldown = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Proxy.BreakerCooldown },
	},
	{
		key: "storage.backend", typ: kString, env: "RESUMECHAT_STORAGE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Storage.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Backend },
	},
	{
		key: "storage.data_dir", typ: kString, env: "RESUMECHAT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.r2_account_id", typ: kString, env: "RESUMECHAT_R2_ACCOUNT_ID",
		apply:   func(cfg *Config, v any) { cfg.Storage.R2AccountID = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.R2AccountID },
	},
	{
		key: "storage.r2_bucket", typ: kString, env: "RESUMECHAT_R2_BUCKET",
		apply:   func(cfg *Config, v any) { cfg.Storage.R2Bucket = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.R2Bucket },
	},
	{
		key: "storage.r2_endpoint", typ: kString, env: "RESUMECHAT_R2_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.Storage.R2Endpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.R2Endpoint },
	},
	{
		key: "storage.r2_access_key", typ: kString, env: "RESUMECHAT_R2_ACCESS_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Storage.R2AccessKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.R2AccessKey },
	},
	{
		key: "storage.r2_secret_key", typ: kString, env: "RESUMECHAT_R2_SECRET_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Storage.R2SecretKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.R2SecretKey },
	},
	{
		key: "storage.database_url", typ: kString, env: "DATABASE_URL",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Storage.DatabaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DatabaseURL },
	},
	{
		key: "profile.key", typ: kString, env: "RESUMECHAT_PROFILE_KEY",
		apply:   func(cfg *Config, v any) { cfg.Profile.Key = v.(string) },
		extract: func(cfg Config) any { return cfg.Profile.Key },
	},
	{
		key: "profile.cache_ttl", typ: kDuration, env: "RESUMECHAT_PROFILE_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Profile.CacheTTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Profile.CacheTTL },
	},
	{
		key: "topics.file", typ: kString, env: "RESUMECHAT_TOPICS_FILE",
		apply:   func(cfg *Config, v any) { cfg.Topics.File = v.(string) },
		extract: func(cfg Config) any { return cfg.Topics.File },
	},
	{
		key: "composer.max_prompt_tokens", typ: kInt, env: "RESUMECHAT_COMPOSER_MAX_PROMPT_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Composer.MaxPromptTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Composer.MaxPromptTokens },
	},
	{
		key: "sessions.keep", typ: kInt, env: "RESUMECHAT_SESSIONS_KEEP",
		apply:   func(cfg *Config, v any) { cfg.Sessions.Keep = v.(int) },
		extract: func(cfg Config) any { return cfg.Sessions.Keep },
	},
	{
		key: "admin.secret", typ: kString, env: "ADMIN_SECRET",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Admin.Secret = v.(string) },
		extract: func(cfg Config) any { return cfg.Admin.Secret },
	},
	{
		key: "nats.url", typ: kString, env: "RESUMECHAT_NATS_URL",
		apply:   func(cfg *Config, v any) { cfg.NATS.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.NATS.URL },
	},
	{
		key: "nats.token", typ: kString, env: "NATS_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.NATS.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.NATS.Token },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if d, err := time.ParseDuration(v); err == nil {
					s.apply(cfg, d)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
