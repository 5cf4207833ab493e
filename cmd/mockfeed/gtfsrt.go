package main

import (
	"fmt"
	"strconv"
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"
)

// busTimeRecord is the subset of a BusTime vehicle record the GTFS-realtime
// conversion needs.
type busTimeRecord struct {
	Vid    string `json:"vid"`
	Rt     string `json:"rt"`
	Des    string `json:"des"`
	Lat    string `json:"lat"`
	Lon    string `json:"lon"`
	Hdg    string `json:"hdg"`
	Tmstmp string `json:"tmstmp"`
}

// encodeGTFSRealtime converts records to a VehiclePositions FeedMessage
// stamped with now.
func encodeGTFSRealtime(records []busTimeRecord, now time.Time) ([]byte, error) {
	ts := uint64(now.Unix())
	msg := &gtfsrt.FeedMessage{
		Header: &gtfsrt.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Incrementality:      gtfsrt.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(ts),
		},
	}

	for _, r := range records {
		lat, err := strconv.ParseFloat(r.Lat, 32)
		if err != nil {
			return nil, fmt.Errorf("vehicle %s: bad lat %q: %w", r.Vid, r.Lat, err)
		}
		lon, err := strconv.ParseFloat(r.Lon, 32)
		if err != nil {
			return nil, fmt.Errorf("vehicle %s: bad lon %q: %w", r.Vid, r.Lon, err)
		}
		pos := &gtfsrt.Position{
			Latitude:  proto.Float32(float32(lat)),
			Longitude: proto.Float32(float32(lon)),
		}
		if hdg, err := strconv.ParseFloat(r.Hdg, 32); err == nil {
			pos.Bearing = proto.Float32(float32(hdg))
		}

		msg.Entity = append(msg.Entity, &gtfsrt.FeedEntity{
			Id: proto.String(r.Vid),
			Vehicle: &gtfsrt.VehiclePosition{
				Trip:      &gtfsrt.TripDescriptor{RouteId: proto.String(r.Rt)},
				Vehicle:   &gtfsrt.VehicleDescriptor{Id: proto.String(r.Vid), Label: proto.String(r.Des)},
				Position:  pos,
				Timestamp: proto.Uint64(ts),
			},
		})
	}
	return proto.Marshal(msg)
}
