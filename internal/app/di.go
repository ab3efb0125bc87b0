package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/wire"

	"github.com/maxz073/finm-dashboard/internal/provider"
	"github.com/maxz073/finm-dashboard/internal/slogx"
	"github.com/maxz073/finm-dashboard/internal/task"
)

// ProviderSet is everything the injectors in cmd/dashdata need.
var ProviderSet = wire.NewSet(
	ProvideConfig,
	ProvideLogger,
	ProvideAdapter,
	ProvideStateStore,
	NewPipeline,
)

// ProvideConfig loads and validates config (for Wire).
func ProvideConfig() (*Config, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ProvideLogger builds the logger from config and makes it the default (for Wire).
func ProvideLogger(cfg *Config) *slog.Logger {
	logger := slogx.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	slog.SetDefault(logger)
	return logger
}

// ProvideAdapter builds the tiered data source adapter (for Wire).
// The logger argument orders construction after slog.SetDefault.
func ProvideAdapter(cfg *Config, _ *slog.Logger) (*provider.Adapter, func(), error) {
	a, err := provider.New(cfg.ProviderConfig())
	if err != nil {
		return nil, nil, err
	}
	slog.Info("adapter tiers", "tiers", a.Tiers())
	return a, func() { _ = a.Close() }, nil
}

// ProvideStateStore opens the file or Redis state store (for Wire).
func ProvideStateStore(ctx context.Context, cfg *Config) (task.StateStore, func(), error) {
	var (
		s   task.StateStore
		err error
	)
	switch cfg.StateBackend {
	case "redis":
		s, err = task.NewRedisStore(ctx, cfg.RedisURL, "")
	default:
		s, err = task.NewFileStore(cfg.StatePath())
	}
	if err != nil {
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}
