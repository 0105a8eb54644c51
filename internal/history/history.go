// Package history holds the append-only per-lead score time series.
package history

import (
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-alerts/internal/model"
)

// ErrNotFound is returned when a lead has no recorded score history.
var ErrNotFound = eris.New("history: lead not found")

// OutOfOrderError reports an append whose timestamp does not advance the
// lead's series. The store is unchanged; the caller must reconcile or
// discard the point.
type OutOfOrderError struct {
	LeadID string
	Last   time.Time
	Got    time.Time
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("history: out-of-order point for lead %s: last %s, got %s",
		e.LeadID, e.Last.Format(time.RFC3339Nano), e.Got.Format(time.RFC3339Nano))
}

// Store is the in-process score history store. Series are append-only
// and strictly ordered by timestamp; two points never share a timestamp
// within a lead's series.
type Store struct {
	mu     sync.RWMutex
	series map[string][]model.ScoreHistoryPoint

	// window bounds retained history per lead; zero keeps everything.
	window time.Duration

	nowFunc func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithWindow bounds how much history is retained per lead. Points older
// than the window relative to the newest point are trimmed on append,
// except the newest of them, kept as a boundary baseline.
func WithWindow(w time.Duration) Option {
	return func(s *Store) { s.window = w }
}

// WithNowFunc injects a clock for tests.
func WithNowFunc(now func() time.Time) Option {
	return func(s *Store) { s.nowFunc = now }
}

// New creates an empty history store.
func New(opts ...Option) *Store {
	s := &Store{
		series:  make(map[string][]model.ScoreHistoryPoint),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append adds a point to the lead's series. It fails with *OutOfOrderError
// if the timestamp does not strictly advance the series; the store is
// left unchanged.
func (s *Store) Append(leadID string, point model.ScoreHistoryPoint) error {
	if leadID == "" {
		return eris.New("history: empty lead id")
	}
	if point.Timestamp.IsZero() {
		return eris.Errorf("history: zero timestamp for lead %s", leadID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pts := s.series[leadID]
	if n := len(pts); n > 0 {
		last := pts[n-1].Timestamp
		if !point.Timestamp.After(last) {
			return &OutOfOrderError{LeadID: leadID, Last: last, Got: point.Timestamp}
		}
	}

	pts = append(pts, point)
	if s.window > 0 {
		// Keep the newest pre-window point so deltas spanning the
		// window boundary still have a baseline.
		cutoff := point.Timestamp.Add(-s.window)
		for len(pts) > 1 && pts[1].Timestamp.Before(cutoff) {
			pts = pts[1:]
		}
	}
	s.series[leadID] = pts
	return nil
}

// Query returns the lead's points within [now-window, now], ascending by
// timestamp. The sequence is lazy and restartable: each range re-reads
// the series, so iterating twice observes appends made in between.
func (s *Store) Query(leadID string, window time.Duration) iter.Seq[model.ScoreHistoryPoint] {
	return func(yield func(model.ScoreHistoryPoint) bool) {
		now := s.nowFunc()
		cutoff := now.Add(-window)

		s.mu.RLock()
		pts := s.series[leadID]
		snapshot := make([]model.ScoreHistoryPoint, len(pts))
		copy(snapshot, pts)
		s.mu.RUnlock()

		for _, p := range snapshot {
			if p.Timestamp.Before(cutoff) || p.Timestamp.After(now) {
				continue
			}
			if !yield(p) {
				return
			}
		}
	}
}

// Latest returns the most recent point for the lead, or ErrNotFound.
func (s *Store) Latest(leadID string) (model.ScoreHistoryPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pts := s.series[leadID]
	if len(pts) == 0 {
		return model.ScoreHistoryPoint{}, eris.Wrapf(ErrNotFound, "lead %s", leadID)
	}
	return pts[len(pts)-1], nil
}

// Snapshot returns a copy of the lead's full retained series, ascending.
// The derived metrics calculator consumes this.
func (s *Store) Snapshot(leadID string) []model.ScoreHistoryPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pts := s.series[leadID]
	if len(pts) == 0 {
		return nil
	}
	out := make([]model.ScoreHistoryPoint, len(pts))
	copy(out, pts)
	return out
}

// Len returns the number of retained points for the lead.
func (s *Store) Len(leadID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.series[leadID])
}

// Evict drops a lead's series, e.g. when the lead is archived in the CRM.
func (s *Store) Evict(leadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.series, leadID)
}

// Leads returns the ids of all leads with retained history.
func (s *Store) Leads() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.series))
	for id := range s.series {
		out = append(out, id)
	}
	return out
}
