package engine

import (
	"context"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	gtfsrt "github.com/jamespfennell/gtfs/proto"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"livemap.onebusaway.org/internal/connection"
	"livemap.onebusaway.org/internal/feed"
	"livemap.onebusaway.org/internal/gtfs"
	"livemap.onebusaway.org/internal/metrics"
	"livemap.onebusaway.org/internal/models"
	"livemap.onebusaway.org/internal/persistence"
	"livemap.onebusaway.org/internal/staleness"
)

const waitFor = 3 * time.Second

const oneVehicle = `[{"vid":"1","rt":"A","lat":"29.9","lon":"-90.0","hdg":"45","tmstmp":"t0"}]`

type feedServer struct {
	*httptest.Server
	conns chan *websocket.Conn
}

func newFeedServer(t *testing.T) *feedServer {
	t.Helper()
	fs := &feedServer{conns: make(chan *websocket.Conn, 4)}
	upgrader := websocket.Upgrader{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.conns <- conn
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *feedServer) url() string {
	return "ws" + strings.TrimPrefix(fs.URL, "http") + connection.FeedPath
}

func (fs *feedServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-fs.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(waitFor):
		t.Fatal("engine never connected to the feed")
		return nil
	}
}

func send(t *testing.T, conn *websocket.Conn, payload string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(payload)))
}

type running struct {
	engine   *Engine
	cancel   context.CancelFunc
	finished chan struct{}
	err      error
}

func (r *running) stop(t *testing.T) {
	t.Helper()
	r.cancel()
	select {
	case <-r.finished:
		require.NoError(t, r.err)
	case <-time.After(waitFor):
		t.Fatal("engine did not stop")
	}
}

func startEngine(t *testing.T, opts Options) *running {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Decoder == nil {
		opts.Decoder = feed.NewDecoder(feed.Options{ExcludedRoutes: []string{"PO", "PI"}})
	}
	r := &running{engine: New(opts), finished: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go func() {
		r.err = r.engine.Run(ctx)
		close(r.finished)
	}()
	t.Cleanup(func() {
		cancel()
		<-r.finished
	})
	return r
}

// nextView waits for a view matching cond.
func nextView(t *testing.T, views <-chan View, cond func(View) bool) View {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case v, ok := <-views:
			require.True(t, ok, "view subscription closed")
			if cond(v) {
				return v
			}
		case <-deadline:
			t.Fatal("timed out waiting for view")
			return View{}
		}
	}
}

func nextStatus(t *testing.T, statuses <-chan Status, cond func(Status) bool) Status {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case s, ok := <-statuses:
			require.True(t, ok, "status subscription closed")
			if cond(s) {
				return s
			}
		case <-deadline:
			t.Fatal("timed out waiting for status")
			return Status{}
		}
	}
}

func TestSelectionFiltersLiveVehicles(t *testing.T) {
	fs := newFeedServer(t)
	kv := persistence.NewMemoryStore()
	r := startEngine(t, Options{
		FeedURL:    fs.url(),
		Selections: persistence.NewFilterPersistence(kv, slog.New(slog.NewTextHandler(io.Discard, nil))),
	})
	views, unsubscribe := r.engine.SubscribeViews()
	defer unsubscribe()

	server := fs.accept(t)
	send(t, server, oneVehicle)

	view := nextView(t, views, func(v View) bool { return len(v.Vehicles) == 1 })
	vehicle := view.Vehicles[0]
	assert.Equal(t, "1", vehicle.ID)
	assert.Equal(t, "A", vehicle.RouteID)
	assert.Equal(t, 45.0, vehicle.Heading)
	assert.Equal(t, 29.9, vehicle.Latitude)
	assert.Equal(t, -90.0, vehicle.Longitude)
	assert.Equal(t, "t0", vehicle.Timestamp)

	ctx := context.Background()
	require.NoError(t, r.engine.SetSelection(ctx, models.NewRouteSelection(models.RouteOption{Value: "A", Label: "A"})))
	view = nextView(t, views, func(v View) bool { return v.Selection.Contains("A") })
	require.Len(t, view.Vehicles, 1)
	assert.Equal(t, "1", view.Vehicles[0].ID)

	require.NoError(t, r.engine.SetSelection(ctx, models.NewRouteSelection(models.RouteOption{Value: "B", Label: "B"})))
	view = nextView(t, views, func(v View) bool { return v.Selection.Contains("B") })
	assert.Empty(t, view.Vehicles)

	all, err := r.engine.AllVehicles(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1, "filtering must not touch the snapshot")

	r.stop(t)

	// The last selection was flushed on shutdown.
	restored := persistence.NewFilterPersistence(kv, slog.New(slog.NewTextHandler(io.Discard, nil))).Load(ctx)
	assert.True(t, restored.Contains("B"))
	assert.Equal(t, 1, restored.Len())
}

func TestGTFSRealtimeFramesReachTheView(t *testing.T) {
	fs := newFeedServer(t)
	catalog := gtfs.NewCatalogStore()
	catalog.Set(gtfs.NewCatalog([]models.RouteGeometry{{RouteID: "12", ShortName: "12", LongName: "St. Charles"}}, time.Now()))
	r := startEngine(t, Options{FeedURL: fs.url(), Catalog: catalog})
	views, unsubscribe := r.engine.SubscribeViews()
	defer unsubscribe()

	msg := &gtfsrt.FeedMessage{
		Header: &gtfsrt.FeedHeader{GtfsRealtimeVersion: proto.String("2.0")},
		Entity: []*gtfsrt.FeedEntity{{
			Id: proto.String("v8151"),
			Vehicle: &gtfsrt.VehiclePosition{
				Vehicle:  &gtfsrt.VehicleDescriptor{Id: proto.String("8151")},
				Trip:     &gtfsrt.TripDescriptor{TripId: proto.String("3017"), RouteId: proto.String("12")},
				Position: &gtfsrt.Position{Latitude: proto.Float32(29.95), Longitude: proto.Float32(-90.07), Bearing: proto.Float32(45)},
			},
		}},
	}
	payload, err := proto.Marshal(msg)
	require.NoError(t, err)

	server := fs.accept(t)
	require.NoError(t, server.WriteMessage(websocket.BinaryMessage, payload))

	view := nextView(t, views, func(v View) bool { return len(v.Vehicles) == 1 })
	assert.Equal(t, "8151", view.Vehicles[0].ID)
	assert.Equal(t, "12", view.Vehicles[0].RouteID)
	assert.Equal(t, 45.0, view.Vehicles[0].Heading)

	options, err := r.engine.RouteOptions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.RouteOption{{Value: "12", Label: "12 - St. Charles"}}, options)
}

func TestSnapshotIsReplacedWholesale(t *testing.T) {
	fs := newFeedServer(t)
	r := startEngine(t, Options{FeedURL: fs.url()})
	views, unsubscribe := r.engine.SubscribeViews()
	defer unsubscribe()
	added := testutil.ToFloat64(metrics.VehiclesAdded)
	dropped := testutil.ToFloat64(metrics.VehiclesDropped)

	server := fs.accept(t)
	send(t, server, `[{"vid":"1","rt":"A","lat":"29.9","lon":"-90.0","hdg":"45","tmstmp":"t0"},
		{"vid":"2","rt":"B","lat":"29.95","lon":"-90.07","hdg":"90","tmstmp":"t0"}]`)
	nextView(t, views, func(v View) bool { return len(v.Vehicles) == 2 })
	assert.Equal(t, added+2, testutil.ToFloat64(metrics.VehiclesAdded))

	send(t, server, `[{"vid":"2","rt":"B","lat":"29.96","lon":"-90.08","hdg":"180","tmstmp":"t1"}]`)
	view := nextView(t, views, func(v View) bool { return len(v.Vehicles) == 1 })
	assert.Equal(t, "2", view.Vehicles[0].ID)
	assert.Equal(t, 180.0, view.Vehicles[0].Heading)
	assert.Equal(t, added+2, testutil.ToFloat64(metrics.VehiclesAdded), "vehicle 2 was already present")
	assert.Equal(t, dropped+1, testutil.ToFloat64(metrics.VehiclesDropped))

	send(t, server, `[]`)
	nextView(t, views, func(v View) bool { return len(v.Vehicles) == 0 })
	assert.Equal(t, dropped+2, testutil.ToFloat64(metrics.VehiclesDropped))
}

func TestBadMessagesLeaveSnapshotAlone(t *testing.T) {
	fs := newFeedServer(t)
	r := startEngine(t, Options{FeedURL: fs.url()})
	views, unsubscribe := r.engine.SubscribeViews()
	defer unsubscribe()

	server := fs.accept(t)
	send(t, server, oneVehicle)
	nextView(t, views, func(v View) bool { return len(v.Vehicles) == 1 })

	ctx := context.Background()
	_, before, err := r.engine.Snapshot(ctx)
	require.NoError(t, err)

	discarded := func() float64 {
		return testutil.ToFloat64(metrics.MessagesDiscarded.WithLabelValues("invalid_payload")) +
			testutil.ToFloat64(metrics.MessagesDiscarded.WithLabelValues("invalid_record"))
	}
	start := discarded()

	send(t, server, `this is not json`)
	send(t, server, `{"vid":"1"}`)
	send(t, server, `[{"vid":"9","rt":"A"}]`)
	require.Eventually(t, func() bool { return discarded() == start+3 }, waitFor, 5*time.Millisecond)

	view, after, err := r.engine.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, view.Vehicles, 1)
	assert.Equal(t, "1", view.Vehicles[0].ID)
	assert.Equal(t, before.LastUpdate, after.LastUpdate, "a rejected message must not count as an update")

	send(t, server, `[{"vid":"1","rt":"A","lat":"nope","lon":"-90.0","hdg":"45","tmstmp":"t1"}]`)
	view = nextView(t, views, func(v View) bool {
		return len(v.Vehicles) == 1 && v.Vehicles[0].Timestamp == "t1"
	})
	assert.True(t, math.IsNaN(view.Vehicles[0].Latitude), "unparseable numbers become NaN")
}

func TestExcludedRoutesNeverReachTheSnapshot(t *testing.T) {
	fs := newFeedServer(t)
	r := startEngine(t, Options{FeedURL: fs.url()})
	views, unsubscribe := r.engine.SubscribeViews()
	defer unsubscribe()

	server := fs.accept(t)
	send(t, server, `[
		{"vid":"1","rt":"A","lat":"29.9","lon":"-90.0","hdg":"45","tmstmp":"t0"},
		{"vid":"2","rt":"PO","lat":"29.9","lon":"-90.0","hdg":"45","tmstmp":"t0"},
		{"vid":"3","rt":"PI","lat":"29.9","lon":"-90.0","hdg":"45","tmstmp":"t0"}]`)

	view := nextView(t, views, func(v View) bool { return len(v.Vehicles) > 0 })
	require.Len(t, view.Vehicles, 1)
	assert.Equal(t, "1", view.Vehicles[0].ID)

	options, err := r.engine.RouteOptions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.RouteOption{{Value: "A", Label: "A"}}, options)
}

func TestHydratedSelectionAppliesBeforeFirstMessage(t *testing.T) {
	fs := newFeedServer(t)
	kv := persistence.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	saved := models.NewRouteSelection(models.RouteOption{Value: "B", Label: "Route B"})
	require.NoError(t, persistence.NewFilterPersistence(kv, logger).SaveNow(context.Background(), saved))

	r := startEngine(t, Options{FeedURL: fs.url(), Selections: persistence.NewFilterPersistence(kv, logger)})
	views, unsubscribe := r.engine.SubscribeViews()
	defer unsubscribe()

	nextView(t, views, func(v View) bool { return v.Selection.Equal(saved) })

	server := fs.accept(t)
	send(t, server, oneVehicle)
	send(t, server, `[{"vid":"1","rt":"A","lat":"29.9","lon":"-90.0","hdg":"45","tmstmp":"t0"},{"vid":"7","rt":"B","lat":"29.9","lon":"-90.1","hdg":"0","tmstmp":"t0"}]`)

	view := nextView(t, views, func(v View) bool { return len(v.Vehicles) > 0 })
	require.Len(t, view.Vehicles, 1)
	assert.Equal(t, "7", view.Vehicles[0].ID)
}

func TestStatusReportsLagWhileOpen(t *testing.T) {
	fs := newFeedServer(t)
	r := startEngine(t, Options{
		FeedURL: fs.url(),
		Monitor: &staleness.Monitor{Interval: 20 * time.Millisecond, Threshold: 0},
	})
	statuses, unsubscribe := r.engine.SubscribeStatus()
	defer unsubscribe()

	server := fs.accept(t)
	nextStatus(t, statuses, func(s Status) bool { return s.State == models.Open })

	// More than a whole second without a message, with a zero threshold.
	lagging := nextStatus(t, statuses, func(s Status) bool { return s.Lagging })
	assert.Equal(t, models.Open, lagging.State)
	assert.GreaterOrEqual(t, lagging.SecondsSinceUpdate, int64(1))

	send(t, server, oneVehicle)
	fresh := nextStatus(t, statuses, func(s Status) bool { return !s.Lagging && s.Vehicles == 1 })
	assert.Equal(t, int64(0), fresh.SecondsSinceUpdate)

	// A closed feed is never reported as lagging, however old the data.
	server.Close()
	closed := nextStatus(t, statuses, func(s Status) bool { return s.State == models.Closed })
	assert.False(t, closed.Lagging)
}

func TestRouteGeometryFollowsSelection(t *testing.T) {
	fs := newFeedServer(t)
	catalogs := gtfs.NewCatalogStore()
	r := startEngine(t, Options{FeedURL: fs.url(), Catalog: catalogs})
	ctx := context.Background()

	view, _, err := r.engine.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, view.Routes, "no catalog, no geometry")

	catalogs.Set(gtfs.NewCatalog([]models.RouteGeometry{
		{RouteID: "A", ShortName: "A", LongName: "Canal", Kind: models.RouteKindStreetcar,
			Paths: [][]models.Point{{{Lat: 29.95, Lon: -90.07}, {Lat: 29.97, Lon: -90.03}}}},
		{RouteID: "B", ShortName: "B", Kind: models.RouteKindBus},
	}, time.Now()))

	options, err := r.engine.RouteOptions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.RouteOption{{Value: "A", Label: "A - Canal"}, {Value: "B", Label: "B"}}, options)

	require.NoError(t, r.engine.SetSelection(ctx, models.NewRouteSelection(models.RouteOption{Value: "A", Label: "A - Canal"})))
	view, _, err = r.engine.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, view.Routes, 1)
	assert.Equal(t, "A", view.Routes[0].RouteID)
}

func TestTeardown(t *testing.T) {
	fs := newFeedServer(t)
	r := startEngine(t, Options{FeedURL: fs.url()})
	views, _ := r.engine.SubscribeViews()
	statuses, _ := r.engine.SubscribeStatus()

	server := fs.accept(t)
	nextStatus(t, statuses, func(s Status) bool { return s.State == models.Open })

	r.stop(t)

	_, _, err := server.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "feed should see a normal close, got %v", err)

	for range views {
	}
	for range statuses {
	}

	_, _, err = r.engine.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.ErrorIs(t, r.engine.SetSelection(context.Background(), models.RouteSelection{}), ErrNotRunning)

	select {
	case <-fs.conns:
		t.Fatal("engine reconnected after teardown")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRunOnlyOnce(t *testing.T) {
	fs := newFeedServer(t)
	r := startEngine(t, Options{FeedURL: fs.url()})
	fs.accept(t)
	assert.Error(t, r.engine.Run(context.Background()))
}
