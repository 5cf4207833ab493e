package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ApplyEnv overrides file settings with environment variables. getenv is
// normally os.Getenv.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv("LIVEMAP_FEED_HOST"); v != "" {
		cfg.Feed.Host = v
	}
	if v := getenv("LIVEMAP_FEED_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid LIVEMAP_FEED_PORT %q: %w", v, err)
		}
		cfg.Feed.Port = port
	}
	if v := getenv("LIVEMAP_FEED_SECURE"); v != "" {
		secure, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid LIVEMAP_FEED_SECURE %q: %w", v, err)
		}
		cfg.Feed.Secure = secure
	}
	if v := getenv("LIVEMAP_EXCLUDED_ROUTES"); v != "" {
		cfg.Routes.Excluded = nil
		for _, rt := range strings.Split(v, ",") {
			if rt = strings.TrimSpace(rt); rt != "" {
				cfg.Routes.Excluded = append(cfg.Routes.Excluded, rt)
			}
		}
	}
	if v := getenv("LIVEMAP_GTFS_STATIC_URL"); v != "" {
		cfg.GTFS.StaticURL = v
	}
	if v := getenv("SQLITE_DATABASE"); v != "" {
		cfg.Persistence.Path = v
	}
	if v := getenv("DATABASE_URL"); v != "" {
		cfg.Persistence.Driver = "postgres"
		cfg.Persistence.DatabaseURL = v
	}
	return nil
}
