package httpclient

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"livemap.onebusaway.org/internal/metrics"
)

// latencyTrackingRoundTripper records the latency of every outgoing request
// in metrics.OutgoingLatency, labelled by URL (without query), method and status.
type latencyTrackingRoundTripper struct {
	next http.RoundTripper
}

func (rt *latencyTrackingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := rt.next.RoundTrip(req)
	duration := time.Since(start).Seconds()

	status := "error"
	if err == nil && resp != nil {
		status = strconv.Itoa(resp.StatusCode)
	}

	// The query string carries API keys.
	safeURL := req.URL.Scheme + "://" + req.URL.Host + req.URL.Path

	metrics.OutgoingLatency.WithLabelValues(
		safeURL,
		req.Method,
		status,
	).Observe(duration)

	return resp, err
}

// NewPooledClient returns the HTTP client shared by the config loader, the
// GTFS catalog download, the OneBusAway cross-check and the BusTime poller.
//
// Those calls are at most a few per minute but go to a handful of hosts, so idle
// connections are kept for 90s and per-host pooling is modest. The 60s
// overall timeout leaves room for a full GTFS bundle download; connection
// setup fails fast at 5s.
func NewPooledClient() *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 5 * time.Second,
	}

	return &http.Client{
		Transport: &latencyTrackingRoundTripper{next: transport},
		Timeout:   60 * time.Second,
	}
}
