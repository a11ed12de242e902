// Package engine ties a run profile, the ramping executor, metrics and
// thresholds together into a single load test run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wesleyorama2/counterload/internal/config"
	"github.com/wesleyorama2/counterload/internal/executor"
	"github.com/wesleyorama2/counterload/internal/metrics"
	"github.com/wesleyorama2/counterload/internal/scenario"
	"github.com/wesleyorama2/counterload/internal/threshold"
)

// Engine runs a profile.
//
// Example usage:
//
//	p, _ := config.Load("profile.yaml")
//	eng, _ := engine.New(p, nil)
//	result, _ := eng.Run(context.Background())
//	fmt.Printf("passed: %v\n", result.Passed)
type Engine struct {
	profile    *config.Profile
	thresholds []*threshold.Threshold
	iteration  executor.Iteration
	client     *http.Client
	metricsCfg metrics.EngineConfig

	mu        sync.RWMutex
	running   bool
	startTime time.Time
	exec      *executor.RampingVUs
	metrics   *metrics.Engine
}

// TestResult is the outcome of one run.
type TestResult struct {
	RunID     string         `json:"runId"`
	Name      string         `json:"name"`
	BaseURL   string         `json:"baseUrl"`
	Stages    []config.Stage `json:"stages"`
	StartTime time.Time      `json:"startTime"`
	EndTime   time.Time      `json:"endTime"`
	Duration  time.Duration  `json:"duration"`

	Metrics    *metrics.Snapshot     `json:"metrics"`
	TimeSeries []*metrics.TimeBucket `json:"timeSeries,omitempty"`
	Phases     []metrics.PhaseChange `json:"phases,omitempty"`

	Passed     bool               `json:"passed"`
	Thresholds []threshold.Result `json:"thresholds,omitempty"`

	// Aborted is set when the run was cancelled before the schedule ended.
	Aborted bool `json:"aborted,omitempty"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithHTTPClient replaces the client built from the profile.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.client = c }
}

// WithMetricsConfig overrides the metrics engine configuration.
func WithMetricsConfig(cfg metrics.EngineConfig) Option {
	return func(e *Engine) { e.metricsCfg = cfg }
}

// New validates p and returns an engine that runs iteration on every VU.
// A nil iteration runs the counter scenario against p.BaseURL.
func New(p *config.Profile, iteration executor.Iteration, opts ...Option) (*Engine, error) {
	if p == nil {
		return nil, errors.New("profile is required")
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	thresholds, err := threshold.ParseAll(p.Thresholds)
	if err != nil {
		return nil, fmt.Errorf("invalid thresholds: %w", err)
	}

	if iteration == nil {
		iteration = scenario.NewCounter(p.BaseURL).Iterate
	}

	e := &Engine{
		profile:    p,
		thresholds: thresholds,
		iteration:  iteration,
		metricsCfg: metrics.DefaultEngineConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.client == nil {
		e.client = newHTTPClient(p)
	}
	return e, nil
}

func newHTTPClient(p *config.Profile) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        p.MaxIdleConnsPerHost,
		MaxIdleConnsPerHost: p.MaxIdleConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   p.Timeout.Std(),
	}
}

// Run executes the profile and evaluates thresholds. Cancelling ctx ends the
// schedule early; the partial result is still returned with Aborted set.
func (e *Engine) Run(ctx context.Context) (*TestResult, error) {
	exec, err := executor.NewRampingVUs(executor.Config{
		Stages:       e.profile.ExecutorStages(),
		GracefulStop: e.profile.GracefulStop.Std(),
		Client:       e.client,
	}, e.iteration)
	if err != nil {
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, errors.New("engine is already running")
	}
	m := metrics.NewEngineWithConfig(e.metricsCfg)
	e.running = true
	e.startTime = time.Now()
	e.exec = exec
	e.metrics = m
	start := e.startTime
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	runErr := exec.Run(ctx, m)
	m.Stop()

	aborted := false
	if runErr != nil {
		if !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
			return nil, fmt.Errorf("run failed: %w", runErr)
		}
		aborted = true
	}

	results, passed := threshold.Evaluate(e.thresholds, m)
	end := time.Now()

	return &TestResult{
		RunID:      uuid.NewString(),
		Name:       e.profile.Name,
		BaseURL:    e.profile.BaseURL,
		Stages:     e.profile.Stages,
		StartTime:  start,
		EndTime:    end,
		Duration:   end.Sub(start),
		Metrics:    m.Snapshot(),
		TimeSeries: m.TimeSeries(),
		Phases:     m.PhaseHistory(),
		Passed:     passed,
		Thresholds: results,
		Aborted:    aborted,
	}, nil
}

// IsRunning reports whether a run is in progress.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Progress returns the schedule completion of the current or last run, 0 to 1.
func (e *Engine) Progress() float64 {
	e.mu.RLock()
	exec := e.exec
	e.mu.RUnlock()
	if exec == nil {
		return 0
	}
	return exec.Progress()
}

// Metrics returns the metrics engine of the current or last run, or nil.
func (e *Engine) Metrics() *metrics.Engine {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.metrics
}

// Stats returns executor statistics of the current or last run, or nil.
func (e *Engine) Stats() *executor.Stats {
	e.mu.RLock()
	exec := e.exec
	e.mu.RUnlock()
	if exec == nil {
		return nil
	}
	return exec.Stats()
}

// Profile returns the profile the engine runs.
func (e *Engine) Profile() *config.Profile {
	return e.profile
}
