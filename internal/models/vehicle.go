package models

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Vehicle is one reporting vehicle as of the latest accepted feed message.
//
// Latitude, Longitude and Heading may be NaN when the feed sent text that is
// not a number. Consumers must tolerate that; JSON encoding writes null.
type Vehicle struct {
	ID          string
	RouteID     string
	Destination string
	Latitude    float64
	Longitude   float64
	Heading     float64
	// Timestamp is the feed-supplied report time exactly as received.
	Timestamp string
	// ReportedAt is Timestamp parsed, or the zero time when it could not be.
	ReportedAt time.Time
}

type vehicleJSON struct {
	ID          string     `json:"id"`
	RouteID     string     `json:"routeId"`
	Destination string     `json:"destination,omitempty"`
	Latitude    *float64   `json:"latitude"`
	Longitude   *float64   `json:"longitude"`
	Heading     *float64   `json:"heading"`
	Timestamp   string     `json:"timestamp"`
	ReportedAt  *time.Time `json:"reportedAt,omitempty"`
}

func finite(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// MarshalJSON encodes non-finite numbers as null, which encoding/json refuses to do.
func (v Vehicle) MarshalJSON() ([]byte, error) {
	out := vehicleJSON{
		ID:          v.ID,
		RouteID:     v.RouteID,
		Destination: v.Destination,
		Latitude:    finite(v.Latitude),
		Longitude:   finite(v.Longitude),
		Heading:     finite(v.Heading),
		Timestamp:   v.Timestamp,
	}
	if !v.ReportedAt.IsZero() {
		t := v.ReportedAt
		out.ReportedAt = &t
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON; null numbers become NaN.
func (v *Vehicle) UnmarshalJSON(data []byte) error {
	var in vehicleJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	orNaN := func(f *float64) float64 {
		if f == nil {
			return math.NaN()
		}
		return *f
	}
	*v = Vehicle{
		ID:          in.ID,
		RouteID:     in.RouteID,
		Destination: in.Destination,
		Latitude:    orNaN(in.Latitude),
		Longitude:   orNaN(in.Longitude),
		Heading:     orNaN(in.Heading),
		Timestamp:   in.Timestamp,
	}
	if in.ReportedAt != nil {
		v.ReportedAt = *in.ReportedAt
	}
	return nil
}

// ConnectionState is the coarse status of the feed connection.
type ConnectionState int

const (
	Connecting ConnectionState = iota
	Open
	Closed
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ConnectionState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "connecting":
		*s = Connecting
	case "open":
		*s = Open
	case "closed":
		*s = Closed
	default:
		return fmt.Errorf("unknown connection state %q", string(text))
	}
	return nil
}
