//go:build integration

package integration

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"livemap.onebusaway.org/internal/feed"
	"livemap.onebusaway.org/internal/gtfs"
)

// TestLoadRouteCatalog downloads the configured GTFS bundle and checks that
// it yields drawable routes.
func TestLoadRouteCatalog(t *testing.T) {
	if integrationCfg.GTFS.StaticURL == "" {
		t.Skip("No gtfs.static_url in config")
	}

	store := gtfs.NewCatalogStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := &http.Client{Timeout: 2 * time.Minute}
	decoder := feed.NewDecoder(feed.Options{ExcludedRoutes: integrationCfg.Routes.Excluded})
	service := gtfs.NewCatalogService(store, logger, client, integrationCfg.GTFS.StaticURL, integrationCfg.GTFS.MaxRetries, decoder.IsExcluded)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	if err := service.Load(ctx); err != nil {
		t.Fatalf("failed to load GTFS bundle %s: %v", integrationCfg.GTFS.StaticURL, err)
	}

	catalog := store.Get()
	if catalog.Len() == 0 {
		t.Fatalf("GTFS bundle %s produced no routes", integrationCfg.GTFS.StaticURL)
	}
	t.Logf("Loaded %d routes (%d with unknown route_type)", catalog.Len(), catalog.UnknownKinds)
}
