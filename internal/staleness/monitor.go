package staleness

import (
	"context"
	"time"

	"livemap.onebusaway.org/internal/models"
)

const (
	DefaultInterval  = time.Second
	DefaultThreshold = 13 * time.Second
)

// Monitor decides whether an open feed has gone quiet.
//
// Lagging is distinct from Closed: it means the socket still looks healthy
// but no message has been accepted for longer than the threshold, as happens
// with a silently dead connection.
type Monitor struct {
	Interval  time.Duration
	Threshold time.Duration
}

// NewMonitor returns a Monitor; zero or negative values fall back to
// DefaultInterval and DefaultThreshold.
func NewMonitor(interval, threshold time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Monitor{Interval: interval, Threshold: threshold}
}

// IsLagging is true when whole seconds since lastUpdate exceed the threshold
// (in whole seconds) and the connection is Open.
func (m *Monitor) IsLagging(now, lastUpdate time.Time, state models.ConnectionState) bool {
	if state != models.Open {
		return false
	}
	return SecondsSince(now, lastUpdate) > int64(m.Threshold/time.Second)
}

// SecondsSince is floor((now-lastUpdate)/1s), and 0 when lastUpdate is in the future.
func SecondsSince(now, lastUpdate time.Time) int64 {
	elapsed := now.Sub(lastUpdate)
	if elapsed < 0 {
		return 0
	}
	return int64(elapsed / time.Second)
}

// Run calls tick every Interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context, tick func(now time.Time)) {
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			tick(now)
		case <-ctx.Done():
			return
		}
	}
}
