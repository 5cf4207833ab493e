package geo

import (
	"fmt"
	"math"

	"github.com/golang/geo/s2"
	"livemap.onebusaway.org/internal/models"
)

// earthRadiusInMeters is the Earth's volumetric mean radius.
//
// Reference: NASA Planetary Fact Sheet – Earth
// https://nssdc.gsfc.nasa.gov/planetary/factsheet/earthfact.html
const earthRadiusInMeters = 6371000

// BoundingBox defines the corners of a lat/lon box
type BoundingBox struct {
	MinLat float64 `json:"minLat"`
	MaxLat float64 `json:"maxLat"`
	MinLon float64 `json:"minLon"`
	MaxLon float64 `json:"maxLon"`
}

// Contains checks whether the given latitude and longitude are within the bounding box
func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// ComputeBoundingBox returns the smallest box holding every valid point of the
// given route geometries.
func ComputeBoundingBox(routes []models.RouteGeometry) (BoundingBox, error) {
	rect := s2.EmptyRect()
	for _, route := range routes {
		for _, path := range route.Paths {
			for _, p := range path {
				if !ValidPosition(p.Lat, p.Lon) {
					continue
				}
				rect = rect.AddPoint(s2.LatLngFromDegrees(p.Lat, p.Lon))
			}
		}
	}
	if rect.IsEmpty() {
		return BoundingBox{}, fmt.Errorf("no valid latitude/longitude found in route geometries")
	}

	lo, hi := rect.Lo(), rect.Hi()
	return BoundingBox{
		MinLat: lo.Lat.Degrees(),
		MaxLat: hi.Lat.Degrees(),
		MinLon: lo.Lng.Degrees(),
		MaxLon: hi.Lng.Degrees(),
	}, nil
}

// ValidPosition reports whether lat/lon is a usable map position.
//
// NaN, out-of-range values and the (0,0) placeholder that many AVL systems
// send before a GPS fix are all rejected.
func ValidPosition(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return false
	}
	if lat == 0 && lon == 0 {
		return false
	}
	return s2.LatLngFromDegrees(lat, lon).IsValid()
}

// PathLengthMeters returns the great-circle length of a path, skipping invalid points.
func PathLengthMeters(path []models.Point) float64 {
	latLngs := make([]s2.LatLng, 0, len(path))
	for _, p := range path {
		if ValidPosition(p.Lat, p.Lon) {
			latLngs = append(latLngs, s2.LatLngFromDegrees(p.Lat, p.Lon))
		}
	}
	if len(latLngs) < 2 {
		return 0
	}
	return s2.PolylineFromLatLngs(latLngs).Length().Radians() * earthRadiusInMeters
}

// HaversineDistance returns the great-circle distance in meters between two points.
func HaversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lon1)
	p2 := s2.LatLngFromDegrees(lat2, lon2)
	return p1.Distance(p2).Radians() * earthRadiusInMeters
}
