package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// getMetricValue retrieves the current float64 value of a Prometheus GaugeVec metric
// for the given set of labels. Returns an error if the metric cannot be parsed.
func getMetricValue(metric *prometheus.GaugeVec, labels map[string]string) (float64, error) {
	c := make(chan prometheus.Metric, 1)
	metric.With(labels).Collect(c)
	m := <-c

	pb := &dto.Metric{}
	if err := m.Write(pb); err != nil {
		return 0, err
	}

	var metricValue float64
	if pb.Gauge != nil {
		metricValue = pb.Gauge.GetValue()
	}
	return metricValue, nil
}

// setupObaServer creates an httptest.Server answering every request with the
// JSON body registered for the first matching path fragment.
func setupObaServer(t *testing.T, responses map[string]string, statusCode int) *httptest.Server {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		for fragment, body := range responses {
			if strings.Contains(r.URL.Path, fragment) {
				w.WriteHeader(statusCode)
				// #nosec G104
				w.Write([]byte(body))
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(ts.Close)
	return ts
}
