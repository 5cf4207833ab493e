package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds all the configuration settings for our application.
type Config struct {
	Feed        FeedConfig        `yaml:"feed"`
	Reconnect   ReconnectConfig   `yaml:"reconnect"`
	Staleness   StalenessConfig   `yaml:"staleness"`
	Routes      RoutesConfig      `yaml:"routes"`
	Persistence PersistenceConfig `yaml:"persistence"`
	GTFS        GTFSConfig        `yaml:"gtfs"`
	HTTP        HTTPConfig        `yaml:"http"`
	OBA         *OBAConfig        `yaml:"oba" validate:"omitempty"`
}

// FeedConfig locates the upstream vehicle websocket.
type FeedConfig struct {
	Host   string `yaml:"host" validate:"required,hostname_rfc1123|ip"`
	Port   int    `yaml:"port" validate:"required,min=1,max=65535"`
	Secure bool   `yaml:"secure"`
	// TimeZone interprets BusTime timestamps, which carry no offset.
	TimeZone string `yaml:"time_zone" validate:"required,timezone"`
}

type ReconnectConfig struct {
	Strategy string        `yaml:"strategy" validate:"oneof=constant exponential"`
	Delay    time.Duration `yaml:"delay" validate:"gt=0"`
}

type StalenessConfig struct {
	Interval  time.Duration `yaml:"interval" validate:"gt=0"`
	Threshold time.Duration `yaml:"threshold" validate:"gt=0"`
}

type RoutesConfig struct {
	// Excluded route codes never reach the vehicle snapshot.
	Excluded []string `yaml:"excluded" validate:"dive,required"`
}

type PersistenceConfig struct {
	Driver      string `yaml:"driver" validate:"oneof=sqlite postgres memory"`
	Path        string `yaml:"path" validate:"required_if=Driver sqlite"`
	DatabaseURL string `yaml:"database_url" validate:"required_if=Driver postgres"`
}

// GTFSConfig points at the static bundle used for route lines and labels.
// Without a StaticURL the map still works, labelling routes by id.
type GTFSConfig struct {
	StaticURL       string        `yaml:"static_url"`
	RefreshInterval time.Duration `yaml:"refresh_interval" validate:"gt=0"`
	MaxRetries      int           `yaml:"max_retries" validate:"gte=0"`
}

type HTTPConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// OBAConfig enables the OneBusAway cross-check of the feed's vehicle count.
type OBAConfig struct {
	BaseURL  string        `yaml:"base_url" validate:"required,url"`
	APIKey   string        `yaml:"api_key" validate:"required"`
	AgencyID string        `yaml:"agency_id" validate:"required"`
	Interval time.Duration `yaml:"interval" validate:"gt=0"`
}

// Default returns the configuration used for every setting a file leaves out.
func Default() *Config {
	return &Config{
		Feed: FeedConfig{
			TimeZone: "America/Chicago",
		},
		Reconnect: ReconnectConfig{
			Strategy: "constant",
			Delay:    5 * time.Second,
		},
		Staleness: StalenessConfig{
			Interval:  time.Second,
			Threshold: 13 * time.Second,
		},
		Routes: RoutesConfig{
			Excluded: []string{"PO", "PI"},
		},
		Persistence: PersistenceConfig{
			Driver: "sqlite",
			Path:   "data/livemap.db",
		},
		GTFS: GTFSConfig{
			RefreshInterval: 24 * time.Hour,
			MaxRetries:      3,
		},
		HTTP: HTTPConfig{
			AllowedOrigins: []string{"*"},
		},
	}
}

var validate = validator.New()

// Validate checks every field against its constraints.
func (cfg *Config) Validate() error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// parseConfig decodes YAML (or JSON) over the defaults. Settings the document
// leaves out keep their default; an explicit empty list stays empty.
func parseConfig(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}
	if cfg.OBA != nil && cfg.OBA.Interval == 0 {
		cfg.OBA.Interval = time.Minute
	}
	return cfg, nil
}
