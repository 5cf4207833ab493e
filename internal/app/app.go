package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"livemap.onebusaway.org/internal/config"
	"livemap.onebusaway.org/internal/connection"
	"livemap.onebusaway.org/internal/engine"
	"livemap.onebusaway.org/internal/feed"
	"livemap.onebusaway.org/internal/gtfs"
	"livemap.onebusaway.org/internal/metrics"
	"livemap.onebusaway.org/internal/persistence"
	"livemap.onebusaway.org/internal/staleness"
)

// Application wires the live map engine to its HTTP surface and the
// background services around it.
type Application struct {
	ConfigService  *config.ConfigService
	Engine         *engine.Engine
	CatalogService *gtfs.CatalogService
	Logger         *slog.Logger
	Env            string
	Version        string

	store      persistence.KeyValueStore
	upgrader   websocket.Upgrader
	crossCheck atomic.Pointer[metrics.MetricsService]
}

// New opens the selection store and builds every component from cfg.
// The caller must Close the returned Application.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, client *http.Client, env, version string) (*Application, error) {
	dsn := cfg.Persistence.Path
	if cfg.Persistence.Driver == persistence.DriverPostgres {
		dsn = cfg.Persistence.DatabaseURL
	}
	store, err := persistence.Open(ctx, cfg.Persistence.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s selection store: %w", cfg.Persistence.Driver, err)
	}

	location, err := time.LoadLocation(cfg.Feed.TimeZone)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to load time zone %s: %w", cfg.Feed.TimeZone, err)
	}
	decoder := feed.NewDecoder(feed.Options{
		ExcludedRoutes: cfg.Routes.Excluded,
		Location:       location,
	})

	policy, err := connection.NewPolicy(cfg.Reconnect.Strategy, cfg.Reconnect.Delay)
	if err != nil {
		store.Close()
		return nil, err
	}

	catalogStore := gtfs.NewCatalogStore()
	var catalogService *gtfs.CatalogService
	if cfg.GTFS.StaticURL != "" {
		catalogService = gtfs.NewCatalogService(catalogStore, logger, client, cfg.GTFS.StaticURL, cfg.GTFS.MaxRetries, decoder.IsExcluded)
	}

	eng := engine.New(engine.Options{
		FeedURL:        connection.FeedURL(cfg.Feed.Host, cfg.Feed.Port, cfg.Feed.Secure),
		Decoder:        decoder,
		Monitor:        staleness.NewMonitor(cfg.Staleness.Interval, cfg.Staleness.Threshold),
		Selections:     persistence.NewFilterPersistence(store, logger),
		Catalog:        catalogStore,
		ReconnectDelay: policy,
		Logger:         logger,
	})

	app := &Application{
		ConfigService:  config.NewConfigService(logger, client, cfg),
		Engine:         eng,
		CatalogService: catalogService,
		Logger:         logger,
		Env:            env,
		Version:        version,
		store:          store,
	}
	app.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 16 * 1024,
		// Origins are policed by CORS for the REST routes; the stream is
		// read-only public data.
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	app.applyConfig(cfg, client)
	app.ConfigService.OnUpdate(func(cfg *config.Config) {
		app.applyConfig(cfg, client)
	})
	return app, nil
}

// applyConfig takes the parts of a refreshed config that can change at runtime.
func (app *Application) applyConfig(cfg *config.Config, client *http.Client) {
	var obaServer *metrics.ObaServer
	if cfg.OBA != nil {
		obaServer = &metrics.ObaServer{
			BaseURL:  cfg.OBA.BaseURL,
			APIKey:   cfg.OBA.APIKey,
			AgencyID: cfg.OBA.AgencyID,
		}
	}
	app.crossCheck.Store(metrics.NewMetricsService(obaServer, app.Logger, client))
}

// MetricsService returns the cross-check service for the current config.
func (app *Application) MetricsService() *metrics.MetricsService {
	return app.crossCheck.Load()
}

// Close releases the selection store. Call it after the engine has stopped
// so the final selection write is not lost.
func (app *Application) Close() error {
	return app.store.Close()
}
