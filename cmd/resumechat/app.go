package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/kalambet/resumechat/internal/composer"
	"github.com/kalambet/resumechat/internal/config"
	"github.com/kalambet/resumechat/internal/events"
	"github.com/kalambet/resumechat/internal/pipeline"
	"github.com/kalambet/resumechat/internal/profile"
	"github.com/kalambet/resumechat/internal/proxy"
	"github.com/kalambet/resumechat/internal/sessionlog"
	"github.com/kalambet/resumechat/internal/storage"
	"github.com/kalambet/resumechat/internal/topics"
)

// app holds the components shared by the commands. Fields for optional
// infrastructure (store, bus, sessions) are nil when it is not configured.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	store    storage.Backend
	bus      *events.Bus
	profiles *profile.Loader
	sessions *sessionlog.Logger
	client   *proxy.Client
	chat     *pipeline.Chat
}

type appOptions struct {
	// completer requires an API key and builds the completion client.
	completer bool
	// events connects to NATS when a URL is configured.
	events bool
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func openApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if opts.completer {
		if err := config.RequireAPIKey(cfg); err != nil {
			return nil, err
		}
	}

	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger}

	mapping, err := topics.Load(cfg.Topics.File)
	if err != nil {
		return nil, err
	}

	a.store, err = storage.Open(ctx, cfg.StorageOptions())
	if err != nil {
		return nil, fmt.Errorf("opening %s storage: %w", cfg.Storage.Backend, err)
	}
	if a.store == nil {
		logger.Debug("no storage backend configured, using fallback profile")
	}

	if opts.events && cfg.NATS.URL != "" {
		a.bus, err = events.Connect(cfg.NATS.URL, cfg.NATS.Token, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	a.profiles = profile.NewLoader(a.store, cfg.Profile.Key, cfg.Profile.CacheTTL).WithLogger(logger)

	var sessOpts []sessionlog.Option
	sessOpts = append(sessOpts, sessionlog.WithLogger(logger))
	if a.bus != nil {
		sessOpts = append(sessOpts, sessionlog.WithPublisher(a.bus, events.SubjectInteraction))
	}
	a.sessions = sessionlog.New(a.store, cfg.Sessions.Keep, sessOpts...)

	comp := composer.New(cfg.Composer.MaxPromptTokens)
	comp.Logger = logger

	var completer pipeline.Completer
	if opts.completer {
		a.client = proxy.NewClient(cfg.Proxy.APIKey,
			proxy.WithBaseURL(cfg.Proxy.BaseURL),
			proxy.WithModel(cfg.Proxy.Model),
			proxy.WithTimeout(cfg.Proxy.Timeout),
			proxy.WithBreaker(proxy.NewBreaker(cfg.Proxy.BreakerFailures, cfg.Proxy.BreakerCooldown)),
			proxy.WithLogger(logger),
		)
		completer = a.client
	}

	a.chat = pipeline.NewChat(a.profiles, mapping, comp, completer).WithLogger(logger)
	return a, nil
}

// requireStore reports an error naming what needs a configured backend.
func (a *app) requireStore(what string) error {
	if a.store == nil {
		return fmt.Errorf("%s needs a storage backend; set RESUMECHAT_STORAGE_BACKEND (one of %s)",
			what, strings.Join(storage.Backends[1:], ", "))
	}
	return nil
}

// Close waits for background session work and releases connections.
func (a *app) Close() {
	a.sessions.Close()
	if a.bus != nil {
		if err := a.bus.Flush(); err != nil {
			a.logger.Warn("flushing nats", "error", err)
		}
		a.bus.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("closing storage", "error", err)
		}
	}
}
