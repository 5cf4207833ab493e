package vehicles

import (
	"testing"
	"time"

	"livemap.onebusaway.org/internal/feed"
	"livemap.onebusaway.org/internal/models"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func decode(t *testing.T, payload string) feed.Batch {
	t.Helper()
	d := feed.NewDecoder(feed.Options{ExcludedRoutes: []string{"PO", "PI"}, Location: time.UTC})
	batch, err := d.Decode([]byte(payload))
	if err != nil {
		t.Fatalf("decode %s: %v", payload, err)
	}
	return batch
}

func ids(vs []models.Vehicle) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.ID
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNewStoreStartsEmptyAtCreationTime(t *testing.T) {
	clock := &fakeClock{t: time.Date(2020, 8, 27, 11, 51, 0, 0, time.UTC)}
	s := NewStore(clock.Now)

	if s.Len() != 0 || len(s.Current()) != 0 {
		t.Error("new store must be empty")
	}
	if !s.LastUpdate().Equal(clock.t) {
		t.Errorf("LastUpdate = %v, want creation time %v", s.LastUpdate(), clock.t)
	}
}

// A vehicle missing from the next message is gone; nothing carries over.
func TestReplaceDoesNotMerge(t *testing.T) {
	clock := &fakeClock{t: time.Date(2020, 8, 27, 11, 51, 0, 0, time.UTC)}
	s := NewStore(clock.Now)

	m1 := decode(t, `[
		{"vid":"1","rt":"A","lat":"1","lon":"1","hdg":"0","tmstmp":"t0"},
		{"vid":"2","rt":"A","lat":"1","lon":"1","hdg":"0","tmstmp":"t0"}]`)
	m2 := decode(t, `[
		{"vid":"2","rt":"B","lat":"2","lon":"2","hdg":"90","tmstmp":"t1"},
		{"vid":"3","rt":"B","lat":"2","lon":"2","hdg":"90","tmstmp":"t1"}]`)

	s.Replace(m1)
	clock.Advance(10 * time.Second)
	diff := s.Replace(m2)

	if got := ids(s.Current()); !equalStrings(got, []string{"2", "3"}) {
		t.Errorf("Current ids = %v, want exactly M2's [2 3]", got)
	}
	if s.Current()[0].RouteID != "B" {
		t.Error("vehicle 2 must carry M2's data, not M1's")
	}
	if diff.Added != 1 || diff.Dropped != 1 {
		t.Errorf("diff = %+v, want {Added:1 Dropped:1}", diff)
	}
	if !s.LastUpdate().Equal(clock.t) {
		t.Errorf("LastUpdate = %v, want %v", s.LastUpdate(), clock.t)
	}
}

func TestReplaceWithEmptyBatchClearsSnapshot(t *testing.T) {
	s := NewStore(nil)
	s.Replace(decode(t, `[{"vid":"1","rt":"A","lat":"1","lon":"1","hdg":"0","tmstmp":"t0"}]`))
	diff := s.Replace(decode(t, `[]`))

	if s.Len() != 0 {
		t.Errorf("expected empty snapshot, got %v", ids(s.Current()))
	}
	if diff.Dropped != 1 {
		t.Errorf("diff.Dropped = %d, want 1", diff.Dropped)
	}
}

func TestReplaceAdvancesLastUpdateOncePerMessage(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	s := NewStore(clock.Now)

	for i := 1; i <= 3; i++ {
		clock.Advance(time.Second)
		s.Replace(decode(t, `[]`))
		if want := time.Unix(int64(1000+i), 0); !s.LastUpdate().Equal(want) {
			t.Fatalf("after message %d LastUpdate = %v, want %v", i, s.LastUpdate(), want)
		}
	}
}

func TestCurrentReturnsCopy(t *testing.T) {
	s := NewStore(nil)
	s.Replace(decode(t, `[{"vid":"1","rt":"A","lat":"1","lon":"1","hdg":"0","tmstmp":"t0"}]`))

	view := s.Current()
	view[0].RouteID = "mutated"

	if s.Current()[0].RouteID != "A" {
		t.Error("mutating the returned slice must not affect the store")
	}
}

func TestRouteIDs(t *testing.T) {
	s := NewStore(nil)
	s.Replace(decode(t, `[
		{"vid":"1","rt":"12","lat":"1","lon":"1","hdg":"0","tmstmp":"t0"},
		{"vid":"2","rt":"91","lat":"1","lon":"1","hdg":"0","tmstmp":"t0"},
		{"vid":"3","rt":"12","lat":"1","lon":"1","hdg":"0","tmstmp":"t0"}]`))

	if got := s.RouteIDs(); !equalStrings(got, []string{"12", "91"}) {
		t.Errorf("RouteIDs = %v", got)
	}
}
