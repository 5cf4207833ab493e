package metrics

import (
	"context"
	"log/slog"
	"net/http"
)

// MetricsService runs the checks that need outside calls. The feed-side
// metrics are plain package variables updated where the events happen.
type MetricsService struct {
	ObaServer *ObaServer
	Logger    *slog.Logger
	Client    *http.Client
}

func NewMetricsService(obaServer *ObaServer, logger *slog.Logger, client *http.Client) *MetricsService {
	return &MetricsService{
		ObaServer: obaServer,
		Logger:    logger,
		Client:    client,
	}
}

// Enabled reports whether an OBA server is configured for cross-checks.
func (ms *MetricsService) Enabled() bool {
	return ms.ObaServer != nil && ms.ObaServer.BaseURL != ""
}

func (ms *MetricsService) ServerPing(ctx context.Context) error {
	return serverPing(ctx, *ms.ObaServer, ms.Client)
}

func (ms *MetricsService) CheckVehicleCountMatch(ctx context.Context, feedVehicleCount int) (bool, error) {
	return checkVehicleCountMatch(ctx, *ms.ObaServer, ms.Client, feedVehicleCount)
}
