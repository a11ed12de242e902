package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// TimeBucketStore keeps the most recent time buckets in a ring buffer.
//
// RecordRequest is lock-free; CreateBucket and the readers take the mutex.
type TimeBucketStore struct {
	buckets    []*TimeBucket
	head       int
	count      int
	maxBuckets int
	mu         sync.RWMutex

	lastBucketTime time.Time

	currentRequests atomic.Int64
	currentFailures atomic.Int64
}

// NewTimeBucketStore creates a store holding at most maxBuckets buckets.
func NewTimeBucketStore(maxBuckets int) *TimeBucketStore {
	if maxBuckets <= 0 {
		maxBuckets = 3600
	}
	return &TimeBucketStore{
		buckets:        make([]*TimeBucket, maxBuckets),
		maxBuckets:     maxBuckets,
		lastBucketTime: time.Now(),
	}
}

// RecordRequest adds one request to the open interval.
func (s *TimeBucketStore) RecordRequest(failed bool) {
	s.currentRequests.Add(1)
	if failed {
		s.currentFailures.Add(1)
	}
}

// CreateBucket closes the open interval and appends it to the ring.
func (s *TimeBucketStore) CreateBucket(totalRequests, totalFailures int64, p50, p95, p99 time.Duration, activeVUs int, phase Phase) *TimeBucket {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	requests := s.currentRequests.Swap(0)
	failures := s.currentFailures.Swap(0)

	window := now.Sub(s.lastBucketTime).Seconds()
	if window <= 0 {
		window = 1
	}

	bucket := &TimeBucket{
		Timestamp:        now,
		TotalRequests:    totalRequests,
		TotalFailures:    totalFailures,
		IntervalRequests: requests,
		IntervalFailures: failures,
		IntervalRPS:      float64(requests) / window,
		LatencyP50:       p50,
		LatencyP95:       p95,
		LatencyP99:       p99,
		ActiveVUs:        activeVUs,
		Phase:            phase,
	}
	if requests > 0 {
		bucket.IntervalErrorRate = float64(failures) / float64(requests)
	}

	s.buckets[s.head] = bucket
	s.head = (s.head + 1) % s.maxBuckets
	if s.count < s.maxBuckets {
		s.count++
	}
	s.lastBucketTime = now

	return bucket
}

// Buckets returns the stored buckets in chronological order.
func (s *TimeBucketStore) Buckets() []*TimeBucket {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.count == 0 {
		return nil
	}

	out := make([]*TimeBucket, s.count)
	start := 0
	if s.count == s.maxBuckets {
		start = s.head
	}
	for i := 0; i < s.count; i++ {
		out[i] = s.buckets[(start+i)%s.maxBuckets]
	}
	return out
}

// Latest returns the most recent bucket, or nil.
func (s *TimeBucketStore) Latest() *TimeBucket {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.count == 0 {
		return nil
	}
	return s.buckets[(s.head-1+s.maxBuckets)%s.maxBuckets]
}

// Count returns the number of stored buckets.
func (s *TimeBucketStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// SteadyStateRPS averages the interval rate over steady-phase buckets.
// The second return value is the number of buckets used.
func (s *TimeBucketStore) SteadyStateRPS() (float64, int) {
	var sum float64
	n := 0
	for _, b := range s.Buckets() {
		if b.Phase != PhaseSteady {
			continue
		}
		sum += b.IntervalRPS
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}
