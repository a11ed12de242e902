package executor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/counterload/internal/metrics"
)

// DefaultGracefulStop is how long in-flight iterations may run past the end
// of the schedule before they are cancelled.
const DefaultGracefulStop = 30 * time.Second

// controllerInterval is how often the VU count is re-evaluated.
const controllerInterval = 100 * time.Millisecond

// Stage is one segment of the ramp schedule.
type Stage struct {
	Duration time.Duration `json:"duration"`
	Target   int           `json:"target"`
}

// Config configures a RampingVUs executor.
type Config struct {
	Stages       []Stage
	GracefulStop time.Duration
	Client       *http.Client
}

// Validate checks the schedule.
func (c *Config) Validate() error {
	if len(c.Stages) == 0 {
		return errors.New("at least one stage is required")
	}
	for i, s := range c.Stages {
		if s.Duration <= 0 {
			return fmt.Errorf("stage %d: duration must be > 0", i+1)
		}
		if s.Target < 0 {
			return fmt.Errorf("stage %d: target must be >= 0", i+1)
		}
	}
	if c.GracefulStop < 0 {
		return errors.New("gracefulStop must be >= 0")
	}
	return nil
}

// TotalDuration is the sum of all stage durations.
func (c *Config) TotalDuration() time.Duration {
	var total time.Duration
	for _, s := range c.Stages {
		total += s.Duration
	}
	return total
}

// Stats contains real-time executor statistics.
type Stats struct {
	StartTime     time.Time     `json:"startTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`
	ActiveVUs     int           `json:"activeVUs"`
	TargetVUs     int           `json:"targetVUs"`
	Iterations    int64         `json:"iterations"`
	CurrentStage  int           `json:"currentStage"`
	TotalStages   int           `json:"totalStages"`
}

// RampingVUs ramps the number of looping VUs up and down through the stages.
//
// Between stage boundaries the VU count is linearly interpolated from the
// previous stage's target (zero before the first stage) to the current one:
//
//	stages: 2m -> 100, 6m -> 500, 2m -> 0
//
// goes 0..100 over two minutes, 100..500 over six, then back to zero.
type RampingVUs struct {
	config  Config
	iterate Iteration
	metrics *metrics.Engine

	startTime    time.Time
	startMu      sync.RWMutex
	activeVUs    atomic.Int32
	targetVUs    atomic.Int32
	currentStage atomic.Int32
	running      atomic.Bool
	started      atomic.Bool

	vus    []*VU
	vusMu  sync.Mutex
	nextID int
	wg     sync.WaitGroup

	cancel   context.CancelFunc
	cancelMu sync.Mutex
}

// NewRampingVUs validates cfg and returns an executor that runs iterate.
func NewRampingVUs(cfg Config, iterate Iteration) (*RampingVUs, error) {
	if iterate == nil {
		return nil, errors.New("iteration function is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.GracefulStop == 0 {
		cfg.GracefulStop = DefaultGracefulStop
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	return &RampingVUs{config: cfg, iterate: iterate}, nil
}

// Run executes the schedule and blocks until every VU has exited or been
// hard-stopped. Cancelling ctx ends the schedule early with the same
// graceful shutdown.
func (e *RampingVUs) Run(ctx context.Context, m *metrics.Engine) error {
	if !e.started.CompareAndSwap(false, true) {
		return errors.New("executor already started")
	}
	e.startMu.Lock()
	e.metrics = m
	e.startTime = time.Now()
	e.startMu.Unlock()
	e.running.Store(true)
	defer e.running.Store(false)

	// schedCtx ends with the schedule; iterCtx only on hard stop.
	schedCtx, cancelSched := context.WithTimeout(ctx, e.config.TotalDuration())
	defer cancelSched()
	iterCtx, cancelIter := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelIter()

	e.cancelMu.Lock()
	e.cancel = cancelSched
	e.cancelMu.Unlock()

	e.adjust(schedCtx, iterCtx)

	ticker := time.NewTicker(controllerInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-schedCtx.Done():
			break loop
		case <-ticker.C:
			e.adjust(schedCtx, iterCtx)
		}
	}

	e.shutdown(cancelIter)
	e.metrics.SetActiveVUs(0)
	e.metrics.SetPhase(metrics.PhaseDone)

	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// adjust moves the VU pool towards the interpolated target.
func (e *RampingVUs) adjust(schedCtx, iterCtx context.Context) {
	target := e.targetAt(e.Elapsed())
	e.targetVUs.Store(int32(target))

	e.vusMu.Lock()
	current := len(e.vus)
	switch {
	case target > current:
		for i := current; i < target; i++ {
			e.nextID++
			vu := NewVU(e.nextID, e.config.Client, e.metrics)
			e.vus = append(e.vus, vu)
			e.wg.Add(1)
			go e.runVU(schedCtx, iterCtx, vu)
		}
	case target < current:
		for i := current - 1; i >= target; i-- {
			e.vus[i].RequestStop()
		}
		e.vus = e.vus[:target]
	}
	e.vusMu.Unlock()

	e.metrics.SetActiveVUs(target)
	e.metrics.SetPhase(e.phaseOf(int(e.currentStage.Load())))
}

func (e *RampingVUs) runVU(schedCtx, iterCtx context.Context, vu *VU) {
	defer e.wg.Done()
	e.activeVUs.Add(1)
	defer e.activeVUs.Add(-1)

	vu.run(schedCtx, iterCtx, e.iterate)
}

// targetAt returns the interpolated VU target at elapsed and records the
// stage it falls in.
func (e *RampingVUs) targetAt(elapsed time.Duration) int {
	var stageStart time.Duration
	prev := 0

	for i, s := range e.config.Stages {
		stageEnd := stageStart + s.Duration
		if elapsed < stageEnd {
			e.currentStage.Store(int32(i))
			progress := float64(elapsed-stageStart) / float64(s.Duration)
			if progress < 0 {
				progress = 0
			}
			return int(float64(prev) + float64(s.Target-prev)*progress + 0.5)
		}
		prev = s.Target
		stageStart = stageEnd
	}

	e.currentStage.Store(int32(len(e.config.Stages) - 1))
	return prev
}

func (e *RampingVUs) phaseOf(stage int) metrics.Phase {
	if stage < 0 || stage >= len(e.config.Stages) {
		return metrics.PhaseDone
	}
	prev := 0
	if stage > 0 {
		prev = e.config.Stages[stage-1].Target
	}
	switch target := e.config.Stages[stage].Target; {
	case target > prev:
		return metrics.PhaseRampUp
	case target < prev:
		return metrics.PhaseRampDown
	default:
		return metrics.PhaseSteady
	}
}

// shutdown stops all VUs and waits up to GracefulStop for in-flight
// iterations before cancelling them.
func (e *RampingVUs) shutdown(hardStop context.CancelFunc) {
	e.vusMu.Lock()
	for _, vu := range e.vus {
		vu.RequestStop()
	}
	e.vus = nil
	e.vusMu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(e.config.GracefulStop)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		hardStop()
		<-done
	}
}

// Stop ends the schedule early. Run still performs its graceful shutdown.
func (e *RampingVUs) Stop() {
	e.cancelMu.Lock()
	defer e.cancelMu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
}

// Elapsed returns the time since Run started, or zero before that.
func (e *RampingVUs) Elapsed() time.Duration {
	e.startMu.RLock()
	defer e.startMu.RUnlock()
	if e.startTime.IsZero() {
		return 0
	}
	return time.Since(e.startTime)
}

// Progress returns how far through the schedule the run is, from 0 to 1.
func (e *RampingVUs) Progress() float64 {
	if !e.running.Load() {
		if e.started.Load() {
			return 1
		}
		return 0
	}
	total := e.config.TotalDuration()
	p := float64(e.Elapsed()) / float64(total)
	if p > 1 {
		p = 1
	}
	return p
}

// ActiveVUs returns the number of VU goroutines still running.
func (e *RampingVUs) ActiveVUs() int {
	return int(e.activeVUs.Load())
}

// Stats returns a point-in-time view of the executor.
func (e *RampingVUs) Stats() *Stats {
	e.startMu.RLock()
	start, m := e.startTime, e.metrics
	e.startMu.RUnlock()

	var iterations int64
	if m != nil {
		iterations = m.Snapshot().Iterations
	}

	return &Stats{
		StartTime:     start,
		Elapsed:       e.Elapsed(),
		TotalDuration: e.config.TotalDuration(),
		ActiveVUs:     e.ActiveVUs(),
		TargetVUs:     int(e.targetVUs.Load()),
		Iterations:    iterations,
		CurrentStage:  int(e.currentStage.Load()) + 1,
		TotalStages:   len(e.config.Stages),
	}
}
