package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeBucketStore_IntervalCounters(t *testing.T) {
	s := NewTimeBucketStore(10)

	s.RecordRequest(false)
	s.RecordRequest(false)
	s.RecordRequest(true)
	s.RecordRequest(false)

	b := s.CreateBucket(4, 1, time.Millisecond, 2*time.Millisecond, 3*time.Millisecond, 7, PhaseSteady)
	assert.Equal(t, int64(4), b.IntervalRequests)
	assert.Equal(t, int64(1), b.IntervalFailures)
	assert.InDelta(t, 0.25, b.IntervalErrorRate, 0.0001)
	assert.Equal(t, 7, b.ActiveVUs)
	assert.Equal(t, PhaseSteady, b.Phase)

	next := s.CreateBucket(4, 1, 0, 0, 0, 7, PhaseSteady)
	assert.Zero(t, next.IntervalRequests)
	assert.Zero(t, next.IntervalErrorRate)
}

func TestTimeBucketStore_RingWraps(t *testing.T) {
	s := NewTimeBucketStore(3)

	for i := int64(1); i <= 5; i++ {
		s.CreateBucket(i, 0, 0, 0, 0, 0, PhaseSteady)
	}

	buckets := s.Buckets()
	require.Len(t, buckets, 3)
	assert.Equal(t, int64(3), buckets[0].TotalRequests)
	assert.Equal(t, int64(4), buckets[1].TotalRequests)
	assert.Equal(t, int64(5), buckets[2].TotalRequests)
	assert.Equal(t, int64(5), s.Latest().TotalRequests)
	assert.Equal(t, 3, s.Count())
}

func TestTimeBucketStore_Empty(t *testing.T) {
	s := NewTimeBucketStore(0)

	assert.Nil(t, s.Buckets())
	assert.Nil(t, s.Latest())
	rps, n := s.SteadyStateRPS()
	assert.Zero(t, rps)
	assert.Zero(t, n)
}

func TestTimeBucketStore_SteadyStateRPS(t *testing.T) {
	s := NewTimeBucketStore(10)

	s.CreateBucket(0, 0, 0, 0, 0, 0, PhaseRampUp)
	for i := 0; i < 3; i++ {
		s.RecordRequest(false)
	}
	s.CreateBucket(3, 0, 0, 0, 0, 0, PhaseSteady)

	_, n := s.SteadyStateRPS()
	assert.Equal(t, 1, n)
}
