package models

import (
	"fmt"
	"strings"
)

// RouteKind classifies a route by its GTFS route_type code.
//
// Only the codes this map renders are named. Every other code resolves to
// RouteKindUnknown instead of being guessed, so a feed that starts publishing
// e.g. cable cars shows up as "unknown" rather than silently as a bus.
type RouteKind int

const (
	RouteKindUnknown RouteKind = iota
	RouteKindStreetcar
	RouteKindBus
	RouteKindFerry
)

// GTFS route_type codes, see https://gtfs.org/schedule/reference/#routestxt
const (
	gtfsRouteTypeTram  = 0
	gtfsRouteTypeBus   = 3
	gtfsRouteTypeFerry = 4
)

// RouteKindFromCode maps a GTFS route_type code to a RouteKind.
// The boolean is false when the code is not one we recognise.
func RouteKindFromCode(code int) (RouteKind, bool) {
	switch code {
	case gtfsRouteTypeTram:
		return RouteKindStreetcar, true
	case gtfsRouteTypeBus:
		return RouteKindBus, true
	case gtfsRouteTypeFerry:
		return RouteKindFerry, true
	default:
		return RouteKindUnknown, false
	}
}

func (k RouteKind) String() string {
	switch k {
	case RouteKindStreetcar:
		return "streetcar"
	case RouteKindBus:
		return "bus"
	case RouteKindFerry:
		return "ferry"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k RouteKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *RouteKind) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "streetcar":
		*k = RouteKindStreetcar
	case "bus":
		*k = RouteKindBus
	case "ferry":
		*k = RouteKindFerry
	case "unknown", "":
		*k = RouteKindUnknown
	default:
		return fmt.Errorf("unknown route kind %q", string(text))
	}
	return nil
}

// Point is a single WGS84 coordinate of a route path.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// RouteGeometry is the drawable line of one route, built from the GTFS static
// bundle. A route usually has several shapes (one per direction or branch),
// each kept as its own path.
type RouteGeometry struct {
	RouteID      string    `json:"routeId"`
	ShortName    string    `json:"shortName,omitempty"`
	LongName     string    `json:"longName,omitempty"`
	Color        string    `json:"color,omitempty"`
	Kind         RouteKind `json:"kind"`
	Paths        [][]Point `json:"paths"`
	LengthMeters float64   `json:"lengthMeters"`
}

// Label returns the text a route selector shows for this route.
func (g RouteGeometry) Label() string {
	switch {
	case g.ShortName != "" && g.LongName != "":
		return g.ShortName + " - " + g.LongName
	case g.ShortName != "":
		return g.ShortName
	case g.LongName != "":
		return g.LongName
	default:
		return g.RouteID
	}
}
