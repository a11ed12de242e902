// Package target is an in-memory counter service the load scenario can be
// pointed at. It records clicks per counter and answers range queries over
// per-minute aggregates.
package target

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrNoData       = errors.New("no data found for this timestamp")
	ErrInvalidRange = errors.New("tsFrom should be before tsTo")
)

// hourCounts holds one counter's clicks for one hour, indexed by minute.
type hourCounts [60]int64

// Store aggregates clicks per counter, per hour, per minute.
type Store struct {
	mu     sync.RWMutex
	counts map[int]map[int64]*hourCounts // id -> hour (unix seconds) -> minutes
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{counts: make(map[int]map[int64]*hourCounts)}
}

// Record counts one click on id at ts.
func (s *Store) Record(id int, ts time.Time) {
	hour := ts.Truncate(time.Hour).Unix()
	minute := ts.UTC().Minute()

	s.mu.Lock()
	defer s.mu.Unlock()

	hours, ok := s.counts[id]
	if !ok {
		hours = make(map[int64]*hourCounts)
		s.counts[id] = hours
	}
	hc, ok := hours[hour]
	if !ok {
		hc = &hourCounts{}
		hours[hour] = hc
	}
	hc[minute]++
}

// Count returns the clicks on id between from and to at minute granularity.
//
// Every hour touched by the range is considered. Within an hour the minutes
// from max(from, hourStart) up to min(to, hourEnd) are summed, the end minute
// being exclusive unless the range covers the rest of the hour.
// ErrNoData is returned when id has no clicks in any touched hour.
func (s *Store) Count(id int, from, to time.Time) (int64, error) {
	if from.After(to) {
		return 0, ErrInvalidRange
	}

	startHour := from.Truncate(time.Hour)
	endHour := to.Truncate(time.Hour)
	if !to.Equal(endHour) {
		endHour = endHour.Add(time.Hour)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	hours := s.counts[id]
	found := false
	var total int64

	for hour := startHour; hour.Before(endHour); hour = hour.Add(time.Hour) {
		hc, ok := hours[hour.Unix()]
		if !ok {
			continue
		}
		found = true

		hourEnd := hour.Add(time.Hour)
		intervalStart := from
		if hour.After(from) {
			intervalStart = hour
		}
		intervalEnd := to
		if hourEnd.Before(to) {
			intervalEnd = hourEnd
		}

		startMinute := int(intervalStart.Sub(hour) / time.Minute)
		endMinute := int(intervalEnd.Sub(hour) / time.Minute)
		if intervalEnd.Equal(hourEnd) {
			endMinute = 60
		}

		for m := startMinute; m < endMinute; m++ {
			total += hc[m]
		}
	}

	if !found {
		return 0, ErrNoData
	}
	return total, nil
}

// Total returns every click recorded for id.
func (s *Store) Total(id int) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, hc := range s.counts[id] {
		for _, n := range hc {
			total += n
		}
	}
	return total
}
