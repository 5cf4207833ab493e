package feed

import (
	"math"
	"sort"
	"time"

	remoteGtfs "github.com/jamespfennell/gtfs"
	"livemap.onebusaway.org/internal/models"
)

// DecodeGTFSRealtime decodes a GTFS-realtime vehicle positions message.
// Trip updates and alerts are ignored, as are vehicles a trip update merely
// names without a position entity of their own.
//
// Vehicles not serving a trip have an empty route id; they are kept unless ""
// is in the exclusion set. The batch is ordered by vehicle id.
func (d *Decoder) DecodeGTFSRealtime(payload []byte) (Batch, error) {
	realtime, err := remoteGtfs.ParseRealtime(payload, &remoteGtfs.ParseRealtimeOptions{Timezone: d.location})
	if err != nil {
		return Batch{}, payloadError("invalid GTFS-realtime message", err)
	}

	positions := make([]remoteGtfs.Vehicle, 0, len(realtime.Vehicles))
	for _, vp := range realtime.Vehicles {
		if vp.IsEntityInMessage {
			positions = append(positions, vp)
		}
	}
	sort.SliceStable(positions, func(i, j int) bool {
		return positions[i].GetID().ID < positions[j].GetID().ID
	})

	batch := Batch{vehicles: make([]models.Vehicle, 0, len(positions))}
	for i, vp := range positions {
		id := vp.GetID()
		if id.ID == "" {
			return Batch{}, recordError(i, "vehicle position without a vehicle id")
		}
		pos := vp.Position
		if pos == nil || pos.Latitude == nil || pos.Longitude == nil {
			return Batch{}, recordError(i, "vehicle position without a position")
		}

		routeID := vp.GetTrip().ID.RouteID
		if d.IsExcluded(routeID) {
			batch.exclude(routeID)
			continue
		}

		heading := math.NaN()
		if pos.Bearing != nil {
			heading = math.Trunc(float64(*pos.Bearing))
		}

		v := models.Vehicle{
			ID:          id.ID,
			RouteID:     routeID,
			Destination: id.Label,
			Latitude:    float64(*pos.Latitude),
			Longitude:   float64(*pos.Longitude),
			Heading:     heading,
		}
		if vp.Timestamp != nil && !vp.Timestamp.IsZero() {
			v.ReportedAt = vp.Timestamp.In(d.location)
			v.Timestamp = v.ReportedAt.Format(time.RFC3339)
		}
		batch.vehicles = append(batch.vehicles, v)
	}
	return batch, nil
}
