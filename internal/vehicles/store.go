package vehicles

import (
	"time"

	"livemap.onebusaway.org/internal/feed"
	"livemap.onebusaway.org/internal/models"
)

// Store holds the authoritative vehicle snapshot.
//
// Every accepted feed message replaces the snapshot wholesale; nothing is
// merged across messages, so a vehicle missing from one message disappears
// until it is reported again.
//
// Store is not safe for concurrent use. It is owned by the engine's event
// loop and only read elsewhere through copies.
type Store struct {
	vehicles   []models.Vehicle
	lastUpdate time.Time
	now        func() time.Time
}

// Diff summarises what a replacement changed, by vehicle id.
type Diff struct {
	Added   int
	Dropped int
}

// NewStore returns an empty store. lastUpdate starts at creation time so a
// freshly opened connection is not immediately reported as lagging.
func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{now: now, lastUpdate: now()}
}

// Replace swaps in the batch's vehicles and stamps lastUpdate.
func (s *Store) Replace(batch feed.Batch) Diff {
	next := batch.Vehicles()

	previous := make(map[string]struct{}, len(s.vehicles))
	for _, v := range s.vehicles {
		previous[v.ID] = struct{}{}
	}
	var diff Diff
	for _, v := range next {
		if _, ok := previous[v.ID]; ok {
			delete(previous, v.ID)
		} else {
			diff.Added++
		}
	}
	diff.Dropped = len(previous)

	s.vehicles = next
	s.lastUpdate = s.now()
	return diff
}

// Current returns a copy of the latest snapshot.
func (s *Store) Current() []models.Vehicle {
	return append([]models.Vehicle{}, s.vehicles...)
}

// LastUpdate is when the snapshot was last replaced, or when the store was
// created if it never has been.
func (s *Store) LastUpdate() time.Time {
	return s.lastUpdate
}

func (s *Store) Len() int {
	return len(s.vehicles)
}

// RouteIDs returns the distinct route ids in the snapshot, in first-seen order.
func (s *Store) RouteIDs() []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, v := range s.vehicles {
		if _, ok := seen[v.RouteID]; ok {
			continue
		}
		seen[v.RouteID] = struct{}{}
		ids = append(ids, v.RouteID)
	}
	return ids
}
