package scenario

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/counterload/internal/executor"
	"github.com/wesleyorama2/counterload/internal/metrics"
)

type captured struct {
	method      string
	path        string
	contentType string
	body        string
}

func newRecordingServer(t *testing.T, status func(id int) int) (*httptest.Server, func() []captured) {
	t.Helper()

	var (
		mu   sync.Mutex
		reqs []captured
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, captured{
			method:      r.Method,
			path:        r.URL.Path,
			contentType: r.Header.Get("Content-Type"),
			body:        string(body),
		})
		mu.Unlock()

		id, _ := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/counter/"))
		w.WriteHeader(status(id))
	}))
	t.Cleanup(srv.Close)

	return srv, func() []captured {
		mu.Lock()
		defer mu.Unlock()
		return append([]captured(nil), reqs...)
	}
}

func alwaysOK(int) int { return http.StatusOK }

func TestRandomCounterID_Range(t *testing.T) {
	seen := make(map[int]bool)
	for i := 0; i < 20000; i++ {
		id := RandomCounterID()
		require.GreaterOrEqual(t, id, MinCounterID)
		require.LessOrEqual(t, id, MaxCounterID)
		seen[id] = true
	}
	assert.True(t, seen[MinCounterID], "lower bound is reachable")
	assert.True(t, seen[MaxCounterID], "upper bound is reachable")
}

func TestIntent_Request(t *testing.T) {
	req, err := NewIntent(42).Request(context.Background(), "http://localhost:8080/")
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "http://localhost:8080/counter/42", req.URL.String())
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))

	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(body))
}

func TestCounter_Iterate(t *testing.T) {
	srv, requests := newRecordingServer(t, alwaysOK)

	m := metrics.NewEngine()
	defer m.Stop()
	vu := executor.NewVU(1, srv.Client(), m)

	c := NewCounter(srv.URL, WithPause(0))
	for i := 0; i < 50; i++ {
		require.NoError(t, c.Iterate(context.Background(), vu))
	}

	reqs := requests()
	require.Len(t, reqs, 50)
	for _, r := range reqs {
		assert.Equal(t, http.MethodPost, r.method)
		assert.Equal(t, "application/json", r.contentType)
		assert.Equal(t, "{}", r.body)

		id, err := strconv.Atoi(strings.TrimPrefix(r.path, "/counter/"))
		require.NoError(t, err, r.path)
		assert.GreaterOrEqual(t, id, MinCounterID)
		assert.LessOrEqual(t, id, MaxCounterID)
	}

	snap := m.Snapshot()
	assert.Equal(t, int64(50), snap.Checks[CheckStatusOK].Passes)
	assert.Zero(t, snap.Checks[CheckStatusOK].Fails)
}

func TestCounter_Pause(t *testing.T) {
	srv, _ := newRecordingServer(t, alwaysOK)

	m := metrics.NewEngine()
	defer m.Stop()
	vu := executor.NewVU(1, srv.Client(), m)

	start := time.Now()
	require.NoError(t, NewCounter(srv.URL).Iterate(context.Background(), vu))
	assert.GreaterOrEqual(t, time.Since(start), Pause)
}

func TestCounter_FailedStatusIsRecordedNotReturned(t *testing.T) {
	srv, _ := newRecordingServer(t, func(id int) int {
		if id == 50 {
			return http.StatusInternalServerError
		}
		return http.StatusOK
	})

	m := metrics.NewEngine()
	defer m.Stop()
	vu := executor.NewVU(1, srv.Client(), m)

	ids := []int{50, 11, 50, 99}
	var (
		mu sync.Mutex
		i  int
	)
	pick := func() int {
		mu.Lock()
		defer mu.Unlock()
		id := ids[i%len(ids)]
		i++
		return id
	}

	c := NewCounter(srv.URL, WithPause(0), WithPicker(pick))
	for range ids {
		require.NoError(t, c.Iterate(context.Background(), vu))
	}

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.Checks[CheckStatusOK].Passes)
	assert.Equal(t, int64(2), snap.Checks[CheckStatusOK].Fails)
	assert.Equal(t, int64(2), snap.FailedRequests)
}

func TestCounter_TransportErrorFailsCheck(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	m := metrics.NewEngine()
	defer m.Stop()
	vu := executor.NewVU(1, nil, m)

	require.NoError(t, NewCounter(url, WithPause(0)).Iterate(context.Background(), vu))

	snap := m.Snapshot()
	assert.Equal(t, int64(1), snap.FailedRequests)
	assert.Equal(t, int64(1), snap.Checks[CheckStatusOK].Fails)
}

func TestCounter_CancelledDuringPause(t *testing.T) {
	srv, _ := newRecordingServer(t, alwaysOK)

	m := metrics.NewEngine()
	defer m.Stop()
	vu := executor.NewVU(1, srv.Client(), m)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := NewCounter(srv.URL, WithPause(time.Minute)).Iterate(ctx, vu)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCounter_SameRequestTwiceIsIndependent(t *testing.T) {
	srv, requests := newRecordingServer(t, alwaysOK)

	m := metrics.NewEngine()
	defer m.Stop()
	vu := executor.NewVU(1, srv.Client(), m)

	c := NewCounter(srv.URL, WithPause(0), WithPicker(func() int { return 42 }))
	require.NoError(t, c.Iterate(context.Background(), vu))
	require.NoError(t, c.Iterate(context.Background(), vu))

	reqs := requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, reqs[0], reqs[1])
	assert.Equal(t, int64(2), m.Snapshot().TotalRequests)
}
