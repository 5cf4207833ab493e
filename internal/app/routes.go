package app

import (
	"context"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"livemap.onebusaway.org/internal/middleware"
)

// Routes registers the map API, the push stream and /metrics, and wraps the
// router with Sentry, CORS and the security headers.
func (app *Application) Routes(ctx context.Context) http.Handler {
	router := httprouter.New()

	router.HandlerFunc(http.MethodGet, "/v1/healthcheck", app.healthcheckHandler)
	router.HandlerFunc(http.MethodGet, "/v1/status", app.statusHandler)
	router.HandlerFunc(http.MethodGet, "/v1/vehicles", app.vehiclesHandler)
	router.HandlerFunc(http.MethodGet, "/v1/routes", app.routesHandler)
	router.HandlerFunc(http.MethodGet, "/v1/routes/options", app.routeOptionsHandler)
	router.HandlerFunc(http.MethodGet, "/v1/selection", app.getSelectionHandler)
	router.HandlerFunc(http.MethodPut, "/v1/selection", app.putSelectionHandler)
	router.HandlerFunc(http.MethodGet, "/v1/stream", app.streamHandler)
	router.Handler(http.MethodGet, "/metrics", middleware.NewCachedPromHandler(ctx, prometheus.DefaultGatherer, 10*time.Second))

	handler := middleware.SentryMiddleware(router)
	handler = middleware.CORS(app.ConfigService.Current().HTTP.AllowedOrigins)(handler)
	return middleware.SecurityHeaders(handler)
}
