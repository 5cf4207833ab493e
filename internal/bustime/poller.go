package bustime

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	"livemap.onebusaway.org/internal/metrics"
	"livemap.onebusaway.org/internal/report"
	"livemap.onebusaway.org/internal/utils"
)

// Poller fetches the vehicle list on an interval and hands every successful
// result to publish.
type Poller struct {
	client   *Client
	interval time.Duration
	logger   *slog.Logger
	publish  func([]json.RawMessage)
}

// NewPoller returns a Poller; a non-positive interval means DefaultInterval.
func NewPoller(client *Client, interval time.Duration, logger *slog.Logger, publish func([]json.RawMessage)) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{client: client, interval: interval, logger: logger, publish: publish}
}

// Run polls once right away and then every interval until ctx is done. A
// failed poll publishes nothing, so subscribers keep the previous list.
func (p *Poller) Run(ctx context.Context) {
	p.poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	vehicles, err := p.client.Fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.BusTimePolls.WithLabelValues("error").Inc()
		report.ReportErrorWithSentryOptions(err, report.SentryReportOptions{
			Tags:  utils.MakeMap("bustime_url", p.client.safeURL()),
			Level: sentry.LevelWarning,
		})
		p.logger.Error("BusTime poll failed", "error", err)
		return
	}

	metrics.BusTimePolls.WithLabelValues("ok").Inc()
	metrics.BusTimeVehicles.Set(float64(len(vehicles)))
	p.logger.Info("Fetched BusTime vehicles", "count", len(vehicles))
	p.publish(vehicles)
}
