package filter

import "livemap.onebusaway.org/internal/models"

// Saver persists a selection. Implementations must not block the caller.
type Saver interface {
	Save(models.RouteSelection)
}

// RouteFilter holds the user's route selection and derives the visible
// vehicles and route geometries from it. An empty selection shows everything.
//
// Like the vehicle store it is owned by the event loop and is not locked.
type RouteFilter struct {
	selection models.RouteSelection
	saver     Saver
}

// New returns a filter with the empty selection. saver may be nil.
func New(saver Saver) *RouteFilter {
	return &RouteFilter{saver: saver}
}

// Hydrate installs a selection loaded at startup without writing it back.
func (f *RouteFilter) Hydrate(sel models.RouteSelection) {
	f.selection = sel
}

// SetSelection replaces the active selection and persists it.
func (f *RouteFilter) SetSelection(sel models.RouteSelection) {
	f.selection = sel
	if f.saver != nil {
		f.saver.Save(sel)
	}
}

// Selection returns the active selection; empty means every route is shown.
func (f *RouteFilter) Selection() models.RouteSelection {
	return f.selection
}

// VisibleVehicles returns the snapshot itself when nothing is selected,
// otherwise the vehicles on selected routes in snapshot order.
func (f *RouteFilter) VisibleVehicles(snapshot []models.Vehicle) []models.Vehicle {
	if f.selection.IsEmpty() {
		return snapshot
	}
	visible := make([]models.Vehicle, 0, len(snapshot))
	for _, v := range snapshot {
		if f.selection.Contains(v.RouteID) {
			visible = append(visible, v)
		}
	}
	return visible
}

// VisibleRoutes applies the same rule to the known route geometries.
func (f *RouteFilter) VisibleRoutes(known []models.RouteGeometry) []models.RouteGeometry {
	if f.selection.IsEmpty() {
		return known
	}
	visible := make([]models.RouteGeometry, 0, len(known))
	for _, g := range known {
		if f.selection.Contains(g.RouteID) {
			visible = append(visible, g)
		}
	}
	return visible
}
