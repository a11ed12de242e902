package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/counterload/internal/engine"
	"github.com/wesleyorama2/counterload/internal/metrics"
	"github.com/wesleyorama2/counterload/internal/threshold"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func record(id string, start time.Time, passed bool) Record {
	return Record{ID: id, Name: "counter-load", StartTime: start, Passed: passed}
}

func TestFromResult(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rec := FromResult(&engine.TestResult{
		RunID:     "abc",
		Name:      "counter-load",
		BaseURL:   "http://localhost:8080",
		StartTime: start,
		Duration:  10 * time.Minute,
		Passed:    false,
		Metrics: &metrics.Snapshot{
			TotalRequests: 1000,
			ErrorRate:     0.02,
			RPS:           1.5,
			MaxVUs:        500,
			Latency:       metrics.LatencyStats{P95: 180 * time.Millisecond},
		},
		Thresholds: []threshold.Result{{Metric: "http_req_failed", Expression: "rate<0.01", Actual: "0.0200"}},
	})

	assert.Equal(t, "abc", rec.ID)
	assert.Equal(t, start, rec.StartTime)
	assert.Equal(t, int64(1000), rec.TotalRequests)
	assert.Equal(t, 180*time.Millisecond, rec.P95)
	assert.Equal(t, 500, rec.MaxVUs)
	assert.Len(t, rec.Thresholds, 1)

	empty := FromResult(&engine.TestResult{RunID: "x"})
	assert.Zero(t, empty.TotalRequests)
}

func TestStore_SaveListNewestFirst(t *testing.T) {
	s := openStore(t)
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.Save(record("run-b", base.Add(time.Hour), true)))
	require.NoError(t, s.Save(record("run-a", base, false)))
	require.NoError(t, s.Save(record("run-c", base.Add(2*time.Hour), true)))

	all, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "run-c", all[0].ID)
	assert.Equal(t, "run-b", all[1].ID)
	assert.Equal(t, "run-a", all[2].ID)
	assert.False(t, all[2].Passed)

	latest, err := s.List(1)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "run-c", latest[0].ID)
}

func TestStore_Get(t *testing.T) {
	s := openStore(t)
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.Save(record("3f1c2d6e-aaaa", base, true)))
	require.NoError(t, s.Save(record("9b7e0000-bbbb", base.Add(time.Minute), false)))

	rec, err := s.Get("3f1c")
	require.NoError(t, err)
	assert.Equal(t, "3f1c2d6e-aaaa", rec.ID)

	rec, err = s.Get("9b7e0000-bbbb")
	require.NoError(t, err)
	assert.False(t, rec.Passed)

	_, err = s.Get("ffff")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get("")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_SaveRequiresID(t *testing.T) {
	s := openStore(t)
	assert.Error(t, s.Save(Record{}))
}

func TestStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(record("persisted", time.Now(), true)))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	all, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "persisted", all[0].ID)
}
