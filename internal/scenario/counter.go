// Package scenario holds the iteration each virtual user runs against the
// counter service.
package scenario

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/wesleyorama2/counterload/internal/executor"
)

// Counter ids are drawn from a narrow range so requests concentrate on a
// small set of hot keys.
const (
	MinCounterID = 10
	MaxCounterID = 100
)

const (
	// Pause is the think time after every request.
	Pause = 100 * time.Millisecond

	// CheckStatusOK is the name of the per-request status check.
	CheckStatusOK = "status is 200"

	contentTypeJSON = "application/json"
)

var emptyJSONObject = []byte("{}")

// Intent is the request one iteration sends. It lives for one iteration.
type Intent struct {
	CounterID   int
	Body        []byte
	ContentType string
}

// NewIntent returns the request for id.
func NewIntent(id int) Intent {
	return Intent{CounterID: id, Body: emptyJSONObject, ContentType: contentTypeJSON}
}

// Path returns the request path, /counter/{id}.
func (i Intent) Path() string {
	return fmt.Sprintf("/counter/%d", i.CounterID)
}

// Request builds the POST for baseURL.
func (i Intent) Request(ctx context.Context, baseURL string) (*http.Request, error) {
	url := strings.TrimRight(baseURL, "/") + i.Path()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(i.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", i.ContentType)
	return req, nil
}

// RandomCounterID returns a uniformly random id in [MinCounterID, MaxCounterID].
func RandomCounterID() int {
	return MinCounterID + rand.IntN(MaxCounterID-MinCounterID+1)
}

// Counter posts to a random counter, checks for 200 and pauses.
// Its fields are never written after construction, so one value is shared by
// every VU.
type Counter struct {
	baseURL string
	pause   time.Duration
	pick    func() int
}

// Option configures a Counter.
type Option func(*Counter)

// WithPause overrides the think time after each request.
func WithPause(d time.Duration) Option {
	return func(c *Counter) { c.pause = d }
}

// WithPicker overrides how counter ids are chosen. pick must be safe for
// concurrent use.
func WithPicker(pick func() int) Option {
	return func(c *Counter) { c.pick = pick }
}

// NewCounter returns the scenario against baseURL.
func NewCounter(baseURL string, opts ...Option) *Counter {
	c := &Counter{baseURL: baseURL, pause: Pause, pick: RandomCounterID}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Iterate runs one iteration. Request failures are recorded on vu, never
// returned; only an interrupted iteration returns an error.
func (c *Counter) Iterate(ctx context.Context, vu *executor.VU) error {
	intent := NewIntent(c.pick())

	req, err := intent.Request(ctx, c.baseURL)
	if err != nil {
		return err
	}

	status := 0
	resp, err := vu.Do(req)
	switch {
	case err == nil:
		status = resp.StatusCode
	case ctx.Err() != nil:
		return ctx.Err()
	}
	vu.Check(CheckStatusOK, status == http.StatusOK)

	return vu.Sleep(ctx, c.pause)
}
