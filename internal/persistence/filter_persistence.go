package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	"livemap.onebusaway.org/internal/metrics"
	"livemap.onebusaway.org/internal/models"
	"livemap.onebusaway.org/internal/report"
	"livemap.onebusaway.org/internal/utils"
)

// SelectionKey is the single key the route selection is stored under.
const SelectionKey = "routes"

const writeTimeout = 5 * time.Second

// FilterPersistence loads and saves the route selection.
//
// Reads never fail from the caller's point of view: a missing, unreadable
// or corrupt entry is the empty selection. Writes are best effort and are
// not retried; a lost write means the next session starts with all routes.
type FilterPersistence struct {
	store   KeyValueStore
	logger  *slog.Logger
	pending chan models.RouteSelection
}

func NewFilterPersistence(store KeyValueStore, logger *slog.Logger) *FilterPersistence {
	return &FilterPersistence{
		store:   store,
		logger:  logger,
		pending: make(chan models.RouteSelection, 1),
	}
}

// Load returns the stored selection, or the empty selection.
func (p *FilterPersistence) Load(ctx context.Context) models.RouteSelection {
	raw, ok, err := p.store.Get(ctx, SelectionKey)
	if err != nil {
		metrics.PersistenceErrors.WithLabelValues("load").Inc()
		report.ReportErrorWithSentryOptions(err, report.SentryReportOptions{
			Tags:  utils.MakeMap("key", SelectionKey),
			Level: sentry.LevelWarning,
		})
		p.logger.Warn("Failed to read route selection, showing all routes", "error", err)
		return models.RouteSelection{}
	}
	if !ok {
		return models.RouteSelection{}
	}

	var sel models.RouteSelection
	if err := json.Unmarshal([]byte(raw), &sel); err != nil {
		metrics.PersistenceErrors.WithLabelValues("decode").Inc()
		p.logger.Warn("Stored route selection is corrupt, showing all routes", "error", err)
		return models.RouteSelection{}
	}
	return sel
}

// Save queues sel for the writer goroutine and returns immediately.
// If a previous selection is still queued it is replaced.
func (p *FilterPersistence) Save(sel models.RouteSelection) {
	for {
		select {
		case p.pending <- sel:
			return
		default:
		}
		select {
		case <-p.pending:
		default:
		}
	}
}

// SaveNow writes sel synchronously.
func (p *FilterPersistence) SaveNow(ctx context.Context, sel models.RouteSelection) error {
	data, err := json.Marshal(sel)
	if err != nil {
		return fmt.Errorf("failed to encode route selection: %w", err)
	}
	return p.store.Set(ctx, SelectionKey, string(data))
}

// Run writes queued selections until ctx is cancelled, then flushes
// whatever is still queued.
func (p *FilterPersistence) Run(ctx context.Context) {
	for {
		select {
		case sel := <-p.pending:
			p.write(ctx, sel)
		case <-ctx.Done():
			select {
			case sel := <-p.pending:
				p.write(context.Background(), sel)
			default:
			}
			return
		}
	}
}

func (p *FilterPersistence) write(ctx context.Context, sel models.RouteSelection) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	if err := p.SaveNow(ctx, sel); err != nil {
		metrics.PersistenceErrors.WithLabelValues("save").Inc()
		report.ReportErrorWithSentryOptions(err, report.SentryReportOptions{
			Tags:         utils.MakeMap("key", SelectionKey),
			ExtraContext: map[string]interface{}{"routes": sel.Len()},
			Level:        sentry.LevelWarning,
		})
		p.logger.Error("Failed to save route selection", "error", err)
		return
	}
	p.logger.Info("Saved route selection", "routes", sel.Len())
}
