// Package engine keeps the live vehicle snapshot in sync with the feed and
// derives what the map shows from it.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"livemap.onebusaway.org/internal/connection"
	"livemap.onebusaway.org/internal/eventloop"
	"livemap.onebusaway.org/internal/feed"
	"livemap.onebusaway.org/internal/filter"
	"livemap.onebusaway.org/internal/geo"
	"livemap.onebusaway.org/internal/gtfs"
	"livemap.onebusaway.org/internal/metrics"
	"livemap.onebusaway.org/internal/models"
	"livemap.onebusaway.org/internal/staleness"
	"livemap.onebusaway.org/internal/vehicles"
)

// ErrNotRunning is returned by queries made before Run or after it returned.
var ErrNotRunning = errors.New("engine is not running")

// View is what the map draws.
type View struct {
	Vehicles  []models.Vehicle       `json:"vehicles"`
	Routes    []models.RouteGeometry `json:"routes"`
	Selection models.RouteSelection  `json:"selection"`
}

// Status describes feed health.
type Status struct {
	State              models.ConnectionState `json:"state"`
	Lagging            bool                   `json:"lagging"`
	LastUpdate         time.Time              `json:"lastUpdate"`
	SecondsSinceUpdate int64                  `json:"secondsSinceUpdate"`
	Vehicles           int                    `json:"vehicles"`
}

// SelectionStore loads and saves the route selection.
// *persistence.FilterPersistence implements it.
type SelectionStore interface {
	Load(ctx context.Context) models.RouteSelection
	Save(sel models.RouteSelection)
	Run(ctx context.Context)
}

type Options struct {
	FeedURL string
	Decoder *feed.Decoder
	Monitor *staleness.Monitor
	// Selections persists the route selection. Nil keeps it in memory only.
	Selections SelectionStore
	// Catalog supplies route geometry and labels. Nil or empty is allowed.
	Catalog *gtfs.CatalogStore

	Dialer         connection.Dialer
	ReconnectDelay backoff.BackOff
	AfterFunc      connection.AfterFunc
	Now            func() time.Time
	Logger         *slog.Logger
}

// Engine wires the decoder, vehicle store, route filter, staleness monitor,
// connection manager and selection persistence together.
//
// All of that state lives on a single event loop; the exported methods are
// safe to call from any goroutine.
type Engine struct {
	loop       *eventloop.Loop
	conn       *connection.Manager
	decoder    *feed.Decoder
	store      *vehicles.Store
	filter     *filter.RouteFilter
	monitor    *staleness.Monitor
	selections SelectionStore
	catalog    *gtfs.CatalogStore
	logger     *slog.Logger
	now        func() time.Time

	views   *Hub[View]
	status  *Hub[Status]
	started atomic.Bool
	running atomic.Bool
}

func New(opts Options) *Engine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	decoder := opts.Decoder
	if decoder == nil {
		decoder = feed.NewDecoder(feed.Options{})
	}
	monitor := opts.Monitor
	if monitor == nil {
		monitor = staleness.NewMonitor(staleness.DefaultInterval, staleness.DefaultThreshold)
	}

	e := &Engine{
		loop:       eventloop.New(),
		decoder:    decoder,
		store:      vehicles.NewStore(now),
		monitor:    monitor,
		selections: opts.Selections,
		catalog:    opts.Catalog,
		logger:     logger,
		now:        now,
		views:      NewHub[View](),
		status:     NewHub[Status](),
	}

	var saver filter.Saver
	if opts.Selections != nil {
		saver = opts.Selections
	}
	e.filter = filter.New(saver)

	e.conn = connection.NewManager(e.loop, connection.Options{
		URL:       opts.FeedURL,
		Dialer:    opts.Dialer,
		Policy:    opts.ReconnectDelay,
		AfterFunc: opts.AfterFunc,
		Logger:    logger,
		OnState: func(models.ConnectionState) {
			e.publishStatus(e.now())
		},
		OnMessage: e.handleFrame,
	})
	return e
}

// Run connects to the feed and keeps the snapshot in sync until ctx is
// cancelled, then tears everything down: the staleness ticker stops, the
// pending reconnect is cancelled and the socket is closed.
func (e *Engine) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return errors.New("engine can only be run once")
	}

	var initial models.RouteSelection
	if e.selections != nil {
		initial = e.selections.Load(ctx)
	}
	e.running.Store(true)
	defer e.running.Store(false)

	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	go e.loop.Run(loopCtx)

	err := e.loop.Do(ctx, func() {
		e.filter.Hydrate(initial)
		metrics.SelectedRoutes.Set(float64(initial.Len()))
		e.conn.Connect(ctx)
		e.publishView()
		e.publishStatus(e.now())
	})
	if err != nil {
		stopLoop()
		<-e.loop.Done()
		e.views.Close()
		e.status.Close()
		return err
	}
	e.logger.Info("Live map engine started", "routes_selected", initial.Len())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.monitor.Run(ctx, func(now time.Time) {
			e.loop.Dispatch(func() { e.publishStatus(now) })
		})
	}()
	if e.selections != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.selections.Run(ctx)
		}()
	}

	<-ctx.Done()
	wg.Wait()

	if err := e.loop.Do(context.Background(), e.conn.Close); err != nil {
		e.logger.Warn("Event loop stopped before teardown", "error", err)
	}
	stopLoop()
	<-e.loop.Done()

	e.views.Close()
	e.status.Close()
	e.logger.Info("Live map engine stopped")
	return nil
}

func (e *Engine) handleFrame(messageType int, payload []byte) {
	batch, err := e.decoder.DecodeMessage(messageType, payload)
	if err != nil {
		reason := "invalid_payload"
		var decodeErr *feed.DecodeError
		if errors.As(err, &decodeErr) && decodeErr.Record >= 0 {
			reason = "invalid_record"
		}
		metrics.MessagesDiscarded.WithLabelValues(reason).Inc()
		e.logger.Warn("Discarded feed message", "error", err, "bytes", len(payload))
		return
	}

	for routeID, n := range batch.Excluded() {
		metrics.RecordsExcluded.WithLabelValues(routeID).Add(float64(n))
	}

	diff := e.store.Replace(batch)
	metrics.MessagesAccepted.Inc()
	metrics.VehiclesCurrent.Set(float64(e.store.Len()))
	metrics.VehiclesAdded.Add(float64(diff.Added))
	metrics.VehiclesDropped.Add(float64(diff.Dropped))
	e.observePositions()

	e.publishView()
}

func (e *Engine) observePositions() {
	bounds, hasBounds := geo.BoundingBox{}, false
	if c := e.catalogSnapshot(); c != nil && c.Len() > 0 {
		bounds, hasBounds = c.Bounds, c.Bounds != (geo.BoundingBox{})
	}

	var invalid, outside int
	for _, v := range e.store.Current() {
		if !geo.ValidPosition(v.Latitude, v.Longitude) {
			invalid++
			continue
		}
		if hasBounds && !bounds.Contains(v.Latitude, v.Longitude) {
			outside++
		}
	}
	metrics.VehiclesInvalidPosition.Set(float64(invalid))
	metrics.VehiclesOutOfBounds.Set(float64(outside))
}

func (e *Engine) catalogSnapshot() *gtfs.Catalog {
	if e.catalog == nil {
		return nil
	}
	return e.catalog.Get()
}

func (e *Engine) buildView() View {
	visible := e.filter.VisibleVehicles(e.store.Current())
	return View{
		Vehicles:  visible,
		Routes:    e.filter.VisibleRoutes(e.catalogSnapshot().Routes()),
		Selection: e.filter.Selection(),
	}
}

func (e *Engine) buildStatus(now time.Time) Status {
	last := e.store.LastUpdate()
	state := e.conn.State()
	return Status{
		State:              state,
		Lagging:            e.monitor.IsLagging(now, last, state),
		LastUpdate:         last,
		SecondsSinceUpdate: staleness.SecondsSince(now, last),
		Vehicles:           e.store.Len(),
	}
}

func (e *Engine) publishView() {
	view := e.buildView()
	metrics.VehiclesVisible.Set(float64(len(view.Vehicles)))
	e.views.Publish(view)
}

func (e *Engine) publishStatus(now time.Time) {
	status := e.buildStatus(now)
	if status.Lagging {
		metrics.FeedLagging.Set(1)
	} else {
		metrics.FeedLagging.Set(0)
	}
	metrics.FeedSecondsSinceUpdate.Set(float64(status.SecondsSinceUpdate))
	e.status.Publish(status)
}

// SetSelection replaces the route selection, saves it and republishes the view.
func (e *Engine) SetSelection(ctx context.Context, sel models.RouteSelection) error {
	return e.do(ctx, func() {
		e.filter.SetSelection(sel)
		metrics.SelectedRoutes.Set(float64(sel.Len()))
		e.publishView()
	})
}

// Snapshot returns the current view and status.
func (e *Engine) Snapshot(ctx context.Context) (View, Status, error) {
	var (
		view   View
		status Status
	)
	err := e.do(ctx, func() {
		view = e.buildView()
		status = e.buildStatus(e.now())
	})
	return view, status, err
}

// AllVehicles returns the unfiltered snapshot.
func (e *Engine) AllVehicles(ctx context.Context) ([]models.Vehicle, error) {
	var all []models.Vehicle
	err := e.do(ctx, func() { all = e.store.Current() })
	return all, err
}

// RouteOptions lists the routes a user can select: the catalog's routes when
// one is loaded, otherwise the route ids present in the snapshot.
func (e *Engine) RouteOptions(ctx context.Context) ([]models.RouteOption, error) {
	if c := e.catalogSnapshot(); c.Len() > 0 {
		return c.Options(), nil
	}
	var ids []string
	if err := e.do(ctx, func() { ids = e.store.RouteIDs() }); err != nil {
		return nil, err
	}
	options := make([]models.RouteOption, 0, len(ids))
	for _, id := range ids {
		options = append(options, models.RouteOption{Value: id, Label: id})
	}
	return options, nil
}

// SubscribeViews returns a channel of views, starting with the latest, and a
// func to unsubscribe. The channel is closed when the engine stops.
func (e *Engine) SubscribeViews() (<-chan View, func()) {
	return e.views.Subscribe()
}

// SubscribeStatus is SubscribeViews for Status, published every tick and on
// every connection state change.
func (e *Engine) SubscribeStatus() (<-chan Status, func()) {
	return e.status.Subscribe()
}

// LatestStatus returns the most recently published status without touching
// the loop.
func (e *Engine) LatestStatus() (Status, bool) {
	return e.status.Latest()
}

func (e *Engine) do(ctx context.Context, fn func()) error {
	if !e.running.Load() {
		return ErrNotRunning
	}
	err := e.loop.Do(ctx, fn)
	if errors.Is(err, eventloop.ErrStopped) {
		return ErrNotRunning
	}
	return err
}
