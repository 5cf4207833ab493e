package models

import "encoding/json"

// RouteOption is one entry of a route selector: the route id and the text shown for it.
type RouteOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// RouteSelection is an ordered set of routes keyed by route id.
//
// The empty selection means every route is visible, not that none is.
// The zero value is an empty selection and is ready to use.
type RouteSelection struct {
	options []RouteOption
	ids     map[string]struct{}
}

// NewRouteSelection builds a selection from options in order. Later options
// with an already-seen route id are dropped.
func NewRouteSelection(options ...RouteOption) RouteSelection {
	sel := RouteSelection{}
	for _, o := range options {
		if sel.ids == nil {
			sel.ids = make(map[string]struct{}, len(options))
		}
		if _, dup := sel.ids[o.Value]; dup {
			continue
		}
		sel.ids[o.Value] = struct{}{}
		sel.options = append(sel.options, o)
	}
	return sel
}

// IsEmpty reports whether the selection is the "all routes" sentinel.
func (s RouteSelection) IsEmpty() bool {
	return len(s.options) == 0
}

// Len returns the number of distinct routes selected.
func (s RouteSelection) Len() int {
	return len(s.options)
}

// Contains reports whether routeID is explicitly selected.
func (s RouteSelection) Contains(routeID string) bool {
	_, ok := s.ids[routeID]
	return ok
}

// Options returns a copy of the selected options in order.
func (s RouteSelection) Options() []RouteOption {
	return append([]RouteOption{}, s.options...)
}

// Equal reports whether both selections hold the same options in the same order.
func (s RouteSelection) Equal(other RouteSelection) bool {
	if len(s.options) != len(other.options) {
		return false
	}
	for i := range s.options {
		if s.options[i] != other.options[i] {
			return false
		}
	}
	return true
}

// MarshalJSON writes the selection as a JSON array of {value, label}.
func (s RouteSelection) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Options())
}

// UnmarshalJSON reads a JSON array of {value, label}, deduplicating by value.
func (s *RouteSelection) UnmarshalJSON(data []byte) error {
	var options []RouteOption
	if err := json.Unmarshal(data, &options); err != nil {
		return err
	}
	*s = NewRouteSelection(options...)
	return nil
}
