package gtfs

import (
	"archive/zip"
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
)

// bundleFiles is a tiny New Orleans-flavoured GTFS static feed.
var bundleFiles = map[string]string{
	"agency.txt": `agency_id,agency_name,agency_url,agency_timezone
RTA,New Orleans RTA,https://www.norta.com,America/Chicago
`,
	"routes.txt": `route_id,agency_id,route_short_name,route_long_name,route_type,route_color
12,RTA,12,St. Charles,0,00A651
91,RTA,91,Jackson-Esplanade,3,0072BC
PO,RTA,PO,Pull Out,3,
`,
	"calendar.txt": `service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date
WK,1,1,1,1,1,1,1,20250101,20271231
`,
	"stops.txt": `stop_id,stop_name,stop_lat,stop_lon
S1,Canal at Carondelet,29.9526,-90.0704
S2,St. Charles at Napoleon,29.9254,-90.1035
S3,Jackson at Magazine,29.9263,-90.0736
`,
	"shapes.txt": `shape_id,shape_pt_lat,shape_pt_lon,shape_pt_sequence
SH12,29.9526,-90.0704,1
SH12,29.9400,-90.0800,2
SH12,29.9254,-90.1035,3
SH91,29.9263,-90.0736,1
SH91,29.9526,-90.0704,2
`,
	"trips.txt": `route_id,service_id,trip_id,shape_id
12,WK,T12-1,SH12
12,WK,T12-2,SH12
91,WK,T91-1,SH91
PO,WK,TPO-1,
`,
	"stop_times.txt": `trip_id,arrival_time,departure_time,stop_id,stop_sequence
T12-1,08:00:00,08:00:00,S1,1
T12-1,08:20:00,08:20:00,S2,2
T12-2,09:00:00,09:00:00,S1,1
T12-2,09:20:00,09:20:00,S2,2
T91-1,08:00:00,08:00:00,S3,1
T91-1,08:15:00,08:15:00,S1,2
TPO-1,05:00:00,05:00:00,S1,1
TPO-1,05:10:00,05:10:00,S3,2
`,
}

func buildBundleZip(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range bundleFiles {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("Failed to add %s to bundle: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("Failed to close bundle zip: %v", err)
	}
	return buf.Bytes()
}

func setupGtfsServer(t *testing.T, body []byte, status int) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		w.WriteHeader(status)
		w.Write(body)
	}))
	t.Cleanup(server.Close)
	return server
}
