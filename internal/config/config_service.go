package config

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"livemap.onebusaway.org/internal/report"
	"livemap.onebusaway.org/internal/utils"
)

// ConfigService holds the current configuration and keeps it refreshed.
type ConfigService struct {
	Logger *slog.Logger
	Client *http.Client

	mu       sync.RWMutex
	current  *Config
	watchers []func(*Config)
}

// NewConfigService creates a new ConfigService instance with the provided logger and HTTP client.
func NewConfigService(logger *slog.Logger, client *http.Client, cfg *Config) *ConfigService {
	return &ConfigService{
		Logger:  logger,
		Client:  client,
		current: cfg,
	}
}

// Current returns the configuration in effect. Callers must not modify it.
func (cs *ConfigService) Current() *Config {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.current
}

// OnUpdate registers fn to be called with every refreshed configuration.
func (cs *ConfigService) OnUpdate(fn func(*Config)) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.watchers = append(cs.watchers, fn)
}

// Update swaps in cfg and notifies watchers.
func (cs *ConfigService) Update(cfg *Config) {
	cs.mu.Lock()
	previous := cs.current
	cs.current = cfg
	watchers := append([]func(*Config){}, cs.watchers...)
	cs.mu.Unlock()

	if previous != nil && previous.Feed != cfg.Feed {
		cs.Logger.Warn("Feed settings changed in refreshed config; restart to apply", "host", cfg.Feed.Host, "port", cfg.Feed.Port)
	}
	for _, fn := range watchers {
		fn(cfg)
	}
}

func (cs *ConfigService) RefreshConfig(ctx context.Context, url, authUser, authPass string, interval time.Duration, maxRetries int) {
	refreshConfig(ctx, cs.Client, url, authUser, authPass, cs, cs.Logger, interval, maxRetries)
}

// exported helper functions

// LoadConfigFromFile loads a config file, applies environment overrides and validates the result.
func LoadConfigFromFile(filePath string) (*Config, error) {
	cfg, err := loadConfigFromFile(filePath)
	if err == nil {
		err = finish(cfg)
	}
	if err != nil {
		err := fmt.Errorf("failed to load config from file %s: %w", filePath, err)
		report.ReportErrorWithSentryOptions(err, report.SentryReportOptions{
			Tags:  utils.MakeMap("file_path", filePath),
			Level: sentry.LevelError,
		})
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFromURL loads a remote config, applies environment overrides and validates the result.
func LoadConfigFromURL(ctx context.Context, client *http.Client, url, authUser, authPass string, maxRetries int) (*Config, error) {
	cfg, err := loadConfigFromURL(ctx, client, url, authUser, authPass, maxRetries)
	if err == nil {
		err = finish(cfg)
	}
	if err != nil {
		err := fmt.Errorf("failed to load config from URL %s: %w", url, err)
		report.ReportErrorWithSentryOptions(err, report.SentryReportOptions{
			Tags:  utils.MakeMap("config_url", url),
			Level: sentry.LevelError,
		})
		return nil, err
	}
	return cfg, nil
}

func finish(cfg *Config) error {
	if err := ApplyEnv(cfg, os.Getenv); err != nil {
		return err
	}
	return cfg.Validate()
}
