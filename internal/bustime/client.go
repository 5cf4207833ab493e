// Package bustime polls the Clever Devices BusTime getvehicles API, the
// upstream the vehicle websocket feed relays.
package bustime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"livemap.onebusaway.org/internal/config"
)

const (
	VehiclesPath = "/bustime/api/v3/getvehicles"

	KeyEnv  = "CLEVER_DEVICES_KEY"
	HostEnv = "CLEVER_DEVICES_IP"

	DefaultInterval   = 10 * time.Second
	DefaultMaxRetries = 2
)

// Config locates the BusTime API.
type Config struct {
	Host string
	Key  string
	// Insecure selects plain http, for local stand-ins of the API.
	Insecure   bool
	Interval   time.Duration
	MaxRetries int
}

// ConfigFromEnv reads the host and key from CLEVER_DEVICES_IP and
// CLEVER_DEVICES_KEY. getenv is normally os.Getenv.
func ConfigFromEnv(getenv func(string) string) (Config, error) {
	cfg := Config{
		Host:       getenv(HostEnv),
		Key:        getenv(KeyEnv),
		Interval:   DefaultInterval,
		MaxRetries: DefaultMaxRetries,
	}
	var errs []error
	if cfg.Key == "" {
		errs = append(errs, fmt.Errorf("%s is not set", KeyEnv))
	}
	if cfg.Host == "" {
		errs = append(errs, fmt.Errorf("%s is not set", HostEnv))
	}
	return cfg, errors.Join(errs...)
}

// Client fetches the current vehicle list.
type Client struct {
	httpClient *http.Client
	target     *url.URL
	maxRetries int
}

// NewClient builds the getvehicles request for cfg. A nil httpClient gets a
// plain client with a 30s timeout.
func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	if cfg.Host == "" || cfg.Key == "" {
		return nil, errors.New("bustime host and key are required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	scheme := "https"
	if cfg.Insecure {
		scheme = "http"
	}
	target := &url.URL{
		Scheme: scheme,
		Host:   cfg.Host,
		Path:   VehiclesPath,
		RawQuery: url.Values{
			"key":          {cfg.Key},
			"tmres":        {"s"},
			"rtpidatafeed": {"bustime"},
			"format":       {"json"},
		}.Encode(),
	}
	return &Client{httpClient: httpClient, target: target, maxRetries: cfg.MaxRetries}, nil
}

type getVehiclesResponse struct {
	Data struct {
		Vehicles []json.RawMessage `json:"vehicle"`
	} `json:"bustime-response"`
}

// Fetch GETs getvehicles and returns its vehicle records untouched, e.g.
//
//	{"vid": "155", "tmstmp": "20200827 11:51", "lat": "29.962149326173048",
//	 "lon": "-90.05214051918121", "hdg": "357", "pid": 275, "rt": "5",
//	 "des": "Saratoga at Canal", "pdist": 10122, "dly": false, "spd": 20,
//	 "tatripid": "3130339", "tablockid": "15", "zone": ""}
//
// A response without vehicles yields an empty, non-nil slice.
func (c *Client) Fetch(ctx context.Context) ([]json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := config.DoWithBackoff(ctx, c.httpClient, req, c.maxRetries)
	if err != nil {
		// The request URL carries the API key.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			urlErr.URL = c.safeURL()
		}
		return nil, fmt.Errorf("GET %s failed: %w", c.safeURL(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s returned status %s", c.safeURL(), resp.Status)
	}

	var body getVehiclesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode getvehicles response: %w", err)
	}
	if body.Data.Vehicles == nil {
		return []json.RawMessage{}, nil
	}
	return body.Data.Vehicles, nil
}

func (c *Client) safeURL() string {
	return c.target.Scheme + "://" + c.target.Host + c.target.Path
}
