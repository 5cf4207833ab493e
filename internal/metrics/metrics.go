package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FeedConnectionState mirrors models.ConnectionState (0 = connecting, 1 = open, 2 = closed).
	FeedConnectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livemap_feed_connection_state",
		Help: "State of the vehicle feed connection (0 = connecting, 1 = open, 2 = closed)",
	})

	FeedReconnectsScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livemap_feed_reconnects_scheduled_total",
		Help: "Number of reconnect attempts scheduled after a close or transport error",
	})

	FeedLagging = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livemap_feed_lagging",
		Help: "Whether the feed is open but stale (1 = lagging, 0 = fresh or not open)",
	})

	FeedSecondsSinceUpdate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livemap_feed_seconds_since_update",
		Help: "Whole seconds since the last accepted feed message",
	})
)

var (
	MessagesAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livemap_feed_messages_accepted_total",
		Help: "Feed messages decoded and applied to the vehicle snapshot",
	})

	MessagesDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livemap_feed_messages_discarded_total",
		Help: "Feed messages dropped without touching the vehicle snapshot",
	}, []string{"reason"})

	RecordsExcluded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livemap_feed_records_excluded_total",
		Help: "Vehicle records dropped because their route code is in the exclusion set",
	}, []string{"route_id"})
)

var (
	VehiclesCurrent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livemap_vehicles_current",
		Help: "Number of vehicles in the current snapshot",
	})

	VehiclesVisible = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livemap_vehicles_visible",
		Help: "Number of vehicles passing the active route selection",
	})

	VehiclesAdded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livemap_vehicles_added_total",
		Help: "Vehicles missing from one snapshot and present in the next",
	})

	VehiclesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livemap_vehicles_dropped_total",
		Help: "Vehicles present in one snapshot and missing from the next",
	})

	VehiclesInvalidPosition = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livemap_vehicles_invalid_position",
		Help: "Vehicles in the current snapshot whose coordinates are NaN, out of range or (0,0)",
	})

	VehiclesOutOfBounds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livemap_vehicles_out_of_bounds",
		Help: "Vehicles with a valid position outside the route catalog bounding box",
	})
)

var (
	SelectedRoutes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livemap_selected_routes",
		Help: "Number of routes in the active selection (0 = all routes visible)",
	})

	PersistenceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livemap_persistence_errors_total",
		Help: "Failures reading or writing the persisted route selection",
	}, []string{"operation"})

	RouteCatalogRoutes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livemap_route_catalog_routes",
		Help: "Number of routes with geometry in the loaded GTFS bundle",
	})

	StreamSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livemap_stream_subscribers",
		Help: "Websocket clients attached to /v1/stream",
	})
)

var (
	// BusTimePolls counts getvehicles calls by result (ok, error).
	BusTimePolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livemap_bustime_polls_total",
		Help: "BusTime getvehicles polls by result",
	}, []string{"result"})

	BusTimeVehicles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livemap_bustime_vehicles",
		Help: "Vehicles in the last successful BusTime getvehicles response",
	})
)

var (
	// OutgoingLatency is observed by the instrumented HTTP client.
	OutgoingLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "livemap_outgoing_request_duration_seconds",
		Help:    "Latency of outgoing HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"url", "method", "status"})
)

var (
	// ObaApiStatus API Status (up/down)
	ObaApiStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "oba_api_status",
		Help: "Status of the OneBusAway API Server (0 = not working, 1 = working)",
	}, []string{"server_url"})

	VehicleCountAPI = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vehicle_count_api",
		Help: "Number of vehicles in the OneBusAway vehicles-for-agency response",
	}, []string{"agency_id"})

	VehicleCountMatch = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vehicle_count_match",
		Help: "Whether the feed snapshot has as many vehicles as the OneBusAway API (1 = match, 0 = no match)",
	}, []string{"agency_id"})
)
