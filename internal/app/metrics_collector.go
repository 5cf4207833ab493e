package app

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"livemap.onebusaway.org/internal/report"
	"livemap.onebusaway.org/internal/utils"
)

// defaultCrossCheckInterval applies when no OBA interval is configured.
const defaultCrossCheckInterval = time.Minute

// StartMetricsCollection cross-checks the feed against OneBusAway every
// configured interval until ctx is cancelled. Without an oba section in the
// config each tick is a no-op, so a refreshed config can enable it later.
func (app *Application) StartMetricsCollection(ctx context.Context) {
	interval := defaultCrossCheckInterval
	if oba := app.ConfigService.Current().OBA; oba != nil && oba.Interval > 0 {
		interval = oba.Interval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			app.CollectMetrics(ctx)
		}
	}
}

// CollectMetrics pings the OBA server and compares its vehicle count for the
// agency with the size of the current feed snapshot.
func (app *Application) CollectMetrics(ctx context.Context) {
	ms := app.MetricsService()
	if ms == nil || !ms.Enabled() {
		return
	}

	if err := ms.ServerPing(ctx); err != nil {
		app.Logger.Error("Failed to ping OBA server", "error", err)
		return
	}

	status, ok := app.Engine.LatestStatus()
	if !ok {
		return
	}
	match, err := ms.CheckVehicleCountMatch(ctx, status.Vehicles)
	if err != nil {
		app.Logger.Error("Failed to check vehicle count match metric", "error", err)
		report.ReportErrorWithSentryOptions(err, report.SentryReportOptions{
			Tags:  utils.MakeMap("agency_id", ms.ObaServer.AgencyID),
			Level: sentry.LevelError,
		})
		return
	}
	if !match {
		app.Logger.Warn("Feed vehicle count differs from OBA", "agency_id", ms.ObaServer.AgencyID, "feed_vehicles", status.Vehicles)
	}
}
