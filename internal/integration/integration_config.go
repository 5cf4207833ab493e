//go:build integration

package integration

import (
	"fmt"

	"livemap.onebusaway.org/internal/config"
)

// loadIntegrationConfig reads a livemap YAML config describing the live feed,
// GTFS bundle and OBA server to test against.
func loadIntegrationConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfigFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load integration config %s: %w", path, err)
	}
	return cfg, nil
}
