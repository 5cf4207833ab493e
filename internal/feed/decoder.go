package feed

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"livemap.onebusaway.org/internal/models"
)

// DefaultLocation is the zone BusTime timestamps are read in when none is configured.
const DefaultLocation = "America/Chicago"

// Batch is a decoded, validated feed message. Only the Decoder produces
// non-empty batches, which is what lets the vehicle store trust its input.
type Batch struct {
	vehicles []models.Vehicle
	excluded map[string]int
}

// Vehicles returns a copy of the accepted vehicles in feed order.
func (b Batch) Vehicles() []models.Vehicle {
	return append([]models.Vehicle{}, b.vehicles...)
}

// Len is the number of vehicles kept, not counting excluded records.
func (b Batch) Len() int {
	return len(b.vehicles)
}

// Excluded returns how many records were dropped per excluded route code.
func (b Batch) Excluded() map[string]int {
	out := make(map[string]int, len(b.excluded))
	for k, v := range b.excluded {
		out[k] = v
	}
	return out
}

// Options configures a Decoder.
type Options struct {
	// ExcludedRoutes are route codes that never reach the snapshot,
	// e.g. BusTime's PO/PI pull-out and pull-in garage moves.
	ExcludedRoutes []string
	// Location is used for BusTime timestamps. Nil means DefaultLocation.
	Location *time.Location
}

// Decoder turns raw feed frames into batches of vehicles.
type Decoder struct {
	excluded map[string]struct{}
	location *time.Location
}

// NewDecoder returns a Decoder for opts. A zone that cannot be loaded
// falls back to UTC.
func NewDecoder(opts Options) *Decoder {
	excluded := make(map[string]struct{}, len(opts.ExcludedRoutes))
	for _, rt := range opts.ExcludedRoutes {
		excluded[rt] = struct{}{}
	}

	loc := opts.Location
	if loc == nil {
		var err error
		if loc, err = time.LoadLocation(DefaultLocation); err != nil {
			loc = time.UTC
		}
	}

	return &Decoder{excluded: excluded, location: loc}
}

// IsExcluded reports whether records on routeID are dropped.
func (d *Decoder) IsExcluded(routeID string) bool {
	_, ok := d.excluded[routeID]
	return ok
}

// DecodeMessage decodes a websocket frame. Text frames carry the BusTime JSON
// array, binary frames a GTFS-realtime FeedMessage.
func (d *Decoder) DecodeMessage(messageType int, payload []byte) (Batch, error) {
	switch messageType {
	case websocket.TextMessage:
		return d.Decode(payload)
	case websocket.BinaryMessage:
		return d.DecodeGTFSRealtime(payload)
	default:
		return Batch{}, payloadError("unsupported websocket message type", nil)
	}
}

// Decode parses one BusTime JSON payload.
//
// The payload is accepted or rejected as a whole: any malformed record or
// missing required field fails the batch with a *DecodeError. Records on
// excluded routes are dropped silently, which is filtering rather than an error.
func (d *Decoder) Decode(payload []byte) (Batch, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return Batch{}, payloadError("payload is not a JSON array", nil)
	}

	var records []wireVehicle
	if err := json.Unmarshal(trimmed, &records); err != nil {
		return Batch{}, payloadError("invalid JSON", err)
	}

	batch := Batch{vehicles: make([]models.Vehicle, 0, len(records))}
	for i, rec := range records {
		if name := rec.missing(); name != "" {
			return Batch{}, recordError(i, "missing required field "+name)
		}
		if d.IsExcluded(rec.Rt.text) {
			batch.exclude(rec.Rt.text)
			continue
		}
		batch.vehicles = append(batch.vehicles, models.Vehicle{
			ID:          rec.Vid.text,
			RouteID:     rec.Rt.text,
			Destination: rec.Des.text,
			Latitude:    parseFloat(rec.Lat.text),
			Longitude:   parseFloat(rec.Lon.text),
			Heading:     parseHeading(rec.Hdg.text),
			Timestamp:   rec.Tmstmp.text,
			ReportedAt:  parseReportedAt(rec.Tmstmp.text, d.location),
		})
	}
	return batch, nil
}

func (b *Batch) exclude(routeID string) {
	if b.excluded == nil {
		b.excluded = make(map[string]int)
	}
	b.excluded[routeID]++
}
