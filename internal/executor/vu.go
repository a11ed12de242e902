// Package executor drives virtual users through a ramping schedule.
package executor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/counterload/internal/metrics"
)

// Iteration is the function each virtual user runs in a loop.
//
// It is called concurrently by many VUs and must not keep state between calls
// other than through its VU argument. It returns an error only when the
// iteration was interrupted; request and check failures are recorded, not
// returned.
type Iteration func(ctx context.Context, vu *VU) error

// VUState represents the lifecycle state of a virtual user.
type VUState int32

const (
	VUStateIdle VUState = iota
	VUStateRunning
	VUStateStopping
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Response is the outcome of a request issued through a VU.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

// VU is a single simulated user. Its methods are the API an Iteration uses to
// talk to the target and report results.
type VU struct {
	id      int
	client  *http.Client
	metrics *metrics.Engine

	state     atomic.Int32
	iteration atomic.Int64
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewVU creates a virtual user that records into m.
func NewVU(id int, client *http.Client, m *metrics.Engine) *VU {
	if client == nil {
		client = http.DefaultClient
	}
	return &VU{
		id:      id,
		client:  client,
		metrics: m,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// ID returns the VU's 1-based identifier.
func (vu *VU) ID() int { return vu.id }

// Iteration returns the number of iterations started by this VU.
func (vu *VU) Iteration() int64 { return vu.iteration.Load() }

// State returns the current lifecycle state.
func (vu *VU) State() VUState { return VUState(vu.state.Load()) }

// Do executes req, reads the whole body and records http_req_duration,
// http_reqs and http_req_failed. A request counts as failed on a transport
// error or a status of 400 and above.
//
// When the request is aborted because its context was cancelled (hard stop),
// nothing is recorded and the context error is returned.
func (vu *VU) Do(req *http.Request) (*Response, error) {
	start := time.Now()
	resp, err := vu.client.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		vu.metrics.RecordRequest(time.Since(start), true, 0)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	duration := time.Since(start)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		vu.metrics.RecordRequest(duration, true, int64(len(body)))
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	vu.metrics.RecordRequest(duration, resp.StatusCode >= 400, int64(len(body)))

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		Duration:   duration,
	}, nil
}

// Check records a named boolean assertion and returns ok unchanged.
func (vu *VU) Check(name string, ok bool) bool {
	vu.metrics.RecordCheck(name, ok)
	return ok
}

// Sleep pauses the VU for d, returning early with the context error if ctx
// is cancelled.
func (vu *VU) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RequestStop asks the VU to stop once its current iteration finishes.
func (vu *VU) RequestStop() {
	if vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateStopping)) ||
		vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateStopping)) {
		close(vu.stopCh)
	}
}

func (vu *VU) stopping() bool {
	select {
	case <-vu.stopCh:
		return true
	default:
		return false
	}
}

// Done is closed once the VU's loop has exited.
func (vu *VU) Done() <-chan struct{} { return vu.doneCh }

func (vu *VU) markStopped() {
	vu.state.Store(int32(VUStateStopped))
	close(vu.doneCh)
}

// run loops over fn until the VU is asked to stop or schedCtx ends.
// iterCtx is handed to fn and only ends on a hard stop.
func (vu *VU) run(schedCtx, iterCtx context.Context, fn Iteration) {
	defer vu.markStopped()

	for {
		if schedCtx.Err() != nil || vu.stopping() {
			return
		}

		vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateRunning))
		vu.iteration.Add(1)

		start := time.Now()
		err := fn(iterCtx, vu)
		if err != nil && iterCtx.Err() != nil {
			return
		}
		vu.metrics.RecordIteration(time.Since(start))

		vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateIdle))
	}
}
