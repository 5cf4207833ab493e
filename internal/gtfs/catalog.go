package gtfs

import (
	"time"

	remoteGtfs "github.com/jamespfennell/gtfs"
	"livemap.onebusaway.org/internal/geo"
	"livemap.onebusaway.org/internal/models"
)

// Catalog is the drawable route network taken from a GTFS static bundle.
// A Catalog is immutable once built; refreshes swap in a new one.
type Catalog struct {
	routes   []models.RouteGeometry
	index    map[string]int
	Bounds   geo.BoundingBox
	LoadedAt time.Time
	// UnknownKinds counts routes whose route_type has no RouteKind.
	UnknownKinds int
}

// Routes returns a copy of every route geometry in bundle order.
func (c *Catalog) Routes() []models.RouteGeometry {
	if c == nil {
		return nil
	}
	return append([]models.RouteGeometry(nil), c.routes...)
}

// Route looks up one route by id.
func (c *Catalog) Route(routeID string) (models.RouteGeometry, bool) {
	if c == nil {
		return models.RouteGeometry{}, false
	}
	i, ok := c.index[routeID]
	if !ok {
		return models.RouteGeometry{}, false
	}
	return c.routes[i], true
}

// Options returns the route selector entries, one per route.
func (c *Catalog) Options() []models.RouteOption {
	if c == nil {
		return nil
	}
	options := make([]models.RouteOption, 0, len(c.routes))
	for _, r := range c.routes {
		options = append(options, models.RouteOption{Value: r.RouteID, Label: r.Label()})
	}
	return options
}

// Len returns the number of routes.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.routes)
}

// buildCatalog turns the routes of a parsed bundle into route geometries.
//
// Each route gets one path per distinct shape used by its trips. Routes for
// which exclude returns true are left out, as are routes no trip serves.
//
// Parameters:
//   - static: the parsed GTFS static bundle.
//   - exclude: reports whether a route id is hidden from the map; may be nil.
//   - now: the time stamped on the catalog.
func buildCatalog(static *remoteGtfs.Static, exclude func(string) bool, now time.Time) *Catalog {
	shapesByRoute := make(map[string][]*remoteGtfs.Shape)
	seen := make(map[string]map[string]struct{})
	served := make(map[string]struct{})
	for i := range static.Trips {
		trip := &static.Trips[i]
		if trip.Route == nil {
			continue
		}
		routeID := trip.Route.Id
		served[routeID] = struct{}{}
		if trip.Shape == nil {
			continue
		}
		if seen[routeID] == nil {
			seen[routeID] = make(map[string]struct{})
		}
		if _, dup := seen[routeID][trip.Shape.ID]; dup {
			continue
		}
		seen[routeID][trip.Shape.ID] = struct{}{}
		shapesByRoute[routeID] = append(shapesByRoute[routeID], trip.Shape)
	}

	var (
		routes       []models.RouteGeometry
		unknownKinds int
	)
	for _, route := range static.Routes {
		if _, ok := served[route.Id]; !ok {
			continue
		}
		if exclude != nil && exclude(route.Id) {
			continue
		}

		kind, known := models.RouteKindFromCode(int(route.Type))
		if !known {
			unknownKinds++
		}

		geometry := models.RouteGeometry{
			RouteID:   route.Id,
			ShortName: route.ShortName,
			LongName:  route.LongName,
			Color:     route.Color,
			Kind:      kind,
		}
		for _, shape := range shapesByRoute[route.Id] {
			path := make([]models.Point, 0, len(shape.Points))
			for _, p := range shape.Points {
				path = append(path, models.Point{Lat: float64(p.Latitude), Lon: float64(p.Longitude)})
			}
			geometry.Paths = append(geometry.Paths, path)
			geometry.LengthMeters += geo.PathLengthMeters(path)
		}

		routes = append(routes, geometry)
	}

	catalog := NewCatalog(routes, now)
	catalog.UnknownKinds = unknownKinds
	return catalog
}

// NewCatalog indexes routes by id. Later duplicates of a route id are ignored.
func NewCatalog(routes []models.RouteGeometry, loadedAt time.Time) *Catalog {
	catalog := &Catalog{index: make(map[string]int, len(routes)), LoadedAt: loadedAt}
	for _, r := range routes {
		if _, dup := catalog.index[r.RouteID]; dup {
			continue
		}
		catalog.index[r.RouteID] = len(catalog.routes)
		catalog.routes = append(catalog.routes, r)
	}
	// A bundle without shapes still yields a usable catalog, just no bounds.
	if bounds, err := geo.ComputeBoundingBox(catalog.routes); err == nil {
		catalog.Bounds = bounds
	}
	return catalog
}
