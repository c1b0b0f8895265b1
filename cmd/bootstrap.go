package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/samsaffron/llm-relay/internal/config"
	"github.com/samsaffron/llm-relay/internal/directive"
	"github.com/samsaffron/llm-relay/internal/llm"
	"github.com/samsaffron/llm-relay/internal/logging"
	"github.com/samsaffron/llm-relay/internal/prompt"
	"github.com/samsaffron/llm-relay/internal/segment"
	"github.com/samsaffron/llm-relay/internal/serve/chat"
	"github.com/samsaffron/llm-relay/internal/session"
	"github.com/samsaffron/llm-relay/internal/usage"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger, letting --log-level/--log-format
// override the configured values.
func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	lc := logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Writer: w}
	if logLevel != "" {
		lc.Level = logLevel
	}
	if logFormat != "" {
		lc.Format = logFormat
	}
	return logging.New(lc)
}

// newRegistry returns the built-in backends with the configured call limits.
func newRegistry(cfg *config.Config, log *slog.Logger) *llm.Registry {
	reg := llm.DefaultRegistry()
	reg.SetCallOptions(cfg.Serve.BackendTimeout, cfg.Serve.MaxRetries)
	for _, name := range cfg.UnknownProviders(reg) {
		log.Warn("ignoring settings for unknown provider", "provider", name)
	}
	return reg
}

// newRuntime builds the per-config state requests run against.
func newRuntime(cfg *config.Config, reg *llm.Registry, log *slog.Logger) (*chat.Runtime, error) {
	system, err := prompt.Resolve(cfg.Prompts.System, cfg.Prompts.SystemFile)
	if err != nil {
		return nil, err
	}
	driver := segment.NewDriver(reg, segment.Options{
		MaxTokens:      cfg.Limits.MaxTokens,
		MaxSegments:    cfg.Limits.MaxResponseSegments,
		SystemPrompt:   system,
		ContinuePrompt: cfg.Prompts.Continue,
		Env:            cfg.Env(reg, llm.OSEnv{}),
		Logger:         log,
		Debug:          log.Enabled(context.Background(), slog.LevelDebug),
	})
	return &chat.Runtime{
		Driver:   driver,
		Defaults: directive.Directive{Provider: cfg.DefaultProvider, Model: cfg.DefaultModel},
		Token:    cfg.Serve.Token,
	}, nil
}

func newUsageLogger(cfg *config.Config) *usage.Logger {
	if !cfg.Usage.Enabled {
		return nil
	}
	return usage.NewLogger(cfg.Usage.Dir)
}

func openExchangeStore(cfg *config.Config) (session.Store, error) {
	store, err := session.Open(cfg.Exchanges)
	if err != nil {
		return nil, fmt.Errorf("failed to open exchange store: %w", err)
	}
	return store, nil
}
