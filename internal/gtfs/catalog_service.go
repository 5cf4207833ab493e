package gtfs

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"livemap.onebusaway.org/internal/metrics"
	"livemap.onebusaway.org/internal/report"
	"livemap.onebusaway.org/internal/utils"
)

// CatalogService loads the route catalog from a GTFS static bundle and keeps
// it fresh.
type CatalogService struct {
	Store      *CatalogStore
	Logger     *slog.Logger
	Client     *http.Client
	Source     string
	MaxRetries int
	// Exclude hides routes from the catalog, normally the same routes the
	// feed decoder drops.
	Exclude func(routeID string) bool
	now     func() time.Time
}

func NewCatalogService(store *CatalogStore, logger *slog.Logger, client *http.Client, source string, maxRetries int, exclude func(string) bool) *CatalogService {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &CatalogService{
		Store:      store,
		Logger:     logger,
		Client:     client,
		Source:     source,
		MaxRetries: maxRetries,
		Exclude:    exclude,
		now:        time.Now,
	}
}

// Load reads, parses and stores the bundle. On failure the previous catalog
// stays in place.
func (cs *CatalogService) Load(ctx context.Context) error {
	data, err := readBundle(ctx, cs.Client, cs.Source, cs.MaxRetries)
	if err != nil {
		return err
	}
	static, err := parseBundle(data, cs.Source)
	if err != nil {
		return err
	}

	catalog := buildCatalog(static, cs.Exclude, cs.now())
	cs.Store.Set(catalog)
	metrics.RouteCatalogRoutes.Set(float64(catalog.Len()))

	if catalog.UnknownKinds > 0 {
		cs.Logger.Warn("GTFS bundle has routes with unrecognised route_type", "source", cs.Source, "routes", catalog.UnknownKinds)
	}
	cs.Logger.Info("Loaded route catalog", "source", cs.Source, "routes", catalog.Len())
	return nil
}

// Refresh reloads the catalog every interval until ctx is cancelled.
// Failures are logged and reported; the previous catalog keeps serving.
func (cs *CatalogService) Refresh(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			cs.Logger.Info("Stopping route catalog refresh routine")
			return
		case <-ticker.C:
			cs.Logger.Info("Refreshing route catalog")
			if err := cs.Load(ctx); err != nil {
				report.ReportErrorWithSentryOptions(err, report.SentryReportOptions{
					Tags:  utils.MakeMap("gtfs_url", cs.Source),
					Level: sentry.LevelWarning,
				})
				cs.Logger.Error("Failed to refresh route catalog", "error", err)
			}
		}
	}
}
