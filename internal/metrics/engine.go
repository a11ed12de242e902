package metrics

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Engine collects request, iteration and check metrics for one run.
//
// Durations go into HDR histograms (guarded by mutexes, since RecordValue is
// not thread-safe); counters are atomics. A background emitter appends a
// TimeBucket every BucketInterval until Stop is called.
type Engine struct {
	reqHist  *hdrhistogram.Histogram
	reqMu    sync.Mutex
	iterHist *hdrhistogram.Histogram
	iterMu   sync.Mutex

	requests atomic.Int64
	failed   atomic.Int64
	bytes    atomic.Int64

	iterations atomic.Int64

	checksPassed atomic.Int64
	checksFailed atomic.Int64
	checks       map[string]*checkCounter
	checksMu     sync.RWMutex

	activeVUs atomic.Int32
	maxVUs    atomic.Int32

	buckets *TimeBucketStore

	phase        Phase
	phaseHistory []PhaseChange
	phaseMu      sync.RWMutex

	startTime time.Time

	emitterCancel context.CancelFunc
	emitterWg     sync.WaitGroup
	stopOnce      sync.Once

	config EngineConfig
}

type checkCounter struct {
	passes atomic.Int64
	fails  atomic.Int64
}

// NewEngine creates a metrics engine with the default configuration.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig())
}

// NewEngineWithConfig creates a metrics engine and starts its bucket emitter.
func NewEngineWithConfig(config EngineConfig) *Engine {
	defaults := DefaultEngineConfig()
	if config.BucketInterval <= 0 {
		config.BucketInterval = defaults.BucketInterval
	}
	if config.HistogramMin <= 0 {
		config.HistogramMin = defaults.HistogramMin
	}
	if config.HistogramMax <= config.HistogramMin {
		config.HistogramMax = defaults.HistogramMax
	}
	if config.HistogramSigFigs <= 0 {
		config.HistogramSigFigs = defaults.HistogramSigFigs
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		reqHist:       hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		iterHist:      hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		checks:        make(map[string]*checkCounter),
		buckets:       NewTimeBucketStore(config.MaxBuckets),
		phase:         PhaseInit,
		startTime:     time.Now(),
		emitterCancel: cancel,
		config:        config,
	}

	e.emitterWg.Add(1)
	go e.runEmitter(ctx)

	return e
}

// RecordRequest records one completed HTTP request.
func (e *Engine) RecordRequest(duration time.Duration, failed bool, bytes int64) {
	e.reqMu.Lock()
	_ = e.reqHist.RecordValue(e.clamp(duration))
	e.reqMu.Unlock()

	e.requests.Add(1)
	e.bytes.Add(bytes)
	if failed {
		e.failed.Add(1)
	}
	e.buckets.RecordRequest(failed)
}

// RecordIteration records one completed scenario iteration.
func (e *Engine) RecordIteration(duration time.Duration) {
	e.iterMu.Lock()
	_ = e.iterHist.RecordValue(e.clamp(duration))
	e.iterMu.Unlock()

	e.iterations.Add(1)
}

// RecordCheck records the outcome of a named check.
func (e *Engine) RecordCheck(name string, passed bool) {
	e.checksMu.RLock()
	c, ok := e.checks[name]
	e.checksMu.RUnlock()

	if !ok {
		e.checksMu.Lock()
		if c, ok = e.checks[name]; !ok {
			c = &checkCounter{}
			e.checks[name] = c
		}
		e.checksMu.Unlock()
	}

	if passed {
		c.passes.Add(1)
		e.checksPassed.Add(1)
	} else {
		c.fails.Add(1)
		e.checksFailed.Add(1)
	}
}

// clamp converts to microseconds inside the histogram's trackable range.
func (e *Engine) clamp(d time.Duration) int64 {
	v := d.Microseconds()
	if v < e.config.HistogramMin {
		v = e.config.HistogramMin
	}
	if v > e.config.HistogramMax {
		v = e.config.HistogramMax
	}
	return v
}

// SetActiveVUs updates the current VU count.
func (e *Engine) SetActiveVUs(count int) {
	e.activeVUs.Store(int32(count))
	for {
		peak := e.maxVUs.Load()
		if int32(count) <= peak || e.maxVUs.CompareAndSwap(peak, int32(count)) {
			return
		}
	}
}

// ActiveVUs returns the current VU count.
func (e *Engine) ActiveVUs() int {
	return int(e.activeVUs.Load())
}

// SetPhase records a phase transition. Setting the current phase is a no-op.
func (e *Engine) SetPhase(phase Phase) {
	e.phaseMu.Lock()
	defer e.phaseMu.Unlock()

	if e.phase == phase {
		return
	}
	e.phase = phase
	e.phaseHistory = append(e.phaseHistory, PhaseChange{
		Phase:     phase,
		Timestamp: time.Now(),
		Requests:  e.requests.Load(),
	})
}

// Phase returns the current phase.
func (e *Engine) Phase() Phase {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()
	return e.phase
}

// PhaseHistory returns a copy of all phase transitions.
func (e *Engine) PhaseHistory() []PhaseChange {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()

	out := make([]PhaseChange, len(e.phaseHistory))
	copy(out, e.phaseHistory)
	return out
}

// Quantile returns the q-th percentile (0-100) of a trend metric.
// It reports false for metrics that are not trends.
func (e *Engine) Quantile(metric string, q float64) (time.Duration, bool) {
	switch metric {
	case MetricHTTPReqDuration:
		e.reqMu.Lock()
		defer e.reqMu.Unlock()
		return micros(e.reqHist.ValueAtQuantile(q)), true
	case MetricIterationDuration:
		e.iterMu.Lock()
		defer e.iterMu.Unlock()
		return micros(e.iterHist.ValueAtQuantile(q)), true
	default:
		return 0, false
	}
}

// Snapshot returns a point-in-time view of all metrics.
func (e *Engine) Snapshot() *Snapshot {
	e.reqMu.Lock()
	latency := statsOf(e.reqHist)
	e.reqMu.Unlock()

	e.iterMu.Lock()
	iterDuration := statsOf(e.iterHist)
	e.iterMu.Unlock()

	now := time.Now()
	elapsed := now.Sub(e.startTime)
	total := e.requests.Load()
	failed := e.failed.Load()
	iterations := e.iterations.Load()
	passed := e.checksPassed.Load()
	checkFails := e.checksFailed.Load()

	snap := &Snapshot{
		TotalRequests:     total,
		FailedRequests:    failed,
		TotalBytes:        e.bytes.Load(),
		Latency:           latency,
		Iterations:        iterations,
		IterationDuration: iterDuration,
		ChecksPassed:      passed,
		ChecksFailed:      checkFails,
		Checks:            e.checkStats(),
		ActiveVUs:         e.ActiveVUs(),
		MaxVUs:            int(e.maxVUs.Load()),
		CurrentPhase:      e.Phase(),
		Elapsed:           elapsed,
		StartTime:         e.startTime,
		Timestamp:         now,
	}

	if secs := elapsed.Seconds(); secs > 0 {
		snap.RPS = float64(total) / secs
		snap.IterationRate = float64(iterations) / secs
	}
	snap.SteadyStateRPS, _ = e.buckets.SteadyStateRPS()
	if total > 0 {
		snap.ErrorRate = float64(failed) / float64(total)
	}
	if n := passed + checkFails; n > 0 {
		snap.ChecksRate = float64(passed) / float64(n)
	}

	return snap
}

func (e *Engine) checkStats() map[string]CheckStats {
	e.checksMu.RLock()
	defer e.checksMu.RUnlock()

	if len(e.checks) == 0 {
		return nil
	}
	out := make(map[string]CheckStats, len(e.checks))
	for name, c := range e.checks {
		out[name] = CheckStats{Name: name, Passes: c.passes.Load(), Fails: c.fails.Load()}
	}
	return out
}

// CheckNames returns the recorded check names in sorted order.
func (e *Engine) CheckNames() []string {
	e.checksMu.RLock()
	defer e.checksMu.RUnlock()

	names := make([]string, 0, len(e.checks))
	for name := range e.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TimeSeries returns all stored time buckets.
func (e *Engine) TimeSeries() []*TimeBucket {
	return e.buckets.Buckets()
}

func (e *Engine) runEmitter(ctx context.Context) {
	defer e.emitterWg.Done()

	ticker := time.NewTicker(e.config.BucketInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.emitBucket()
		}
	}
}

func (e *Engine) emitBucket() {
	e.reqMu.Lock()
	p50 := micros(e.reqHist.ValueAtQuantile(50))
	p95 := micros(e.reqHist.ValueAtQuantile(95))
	p99 := micros(e.reqHist.ValueAtQuantile(99))
	e.reqMu.Unlock()

	e.buckets.CreateBucket(e.requests.Load(), e.failed.Load(), p50, p95, p99, e.ActiveVUs(), e.Phase())
}

// Stop halts the emitter and writes a final bucket. Safe to call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.emitterCancel()
		e.emitterWg.Wait()
		e.emitBucket()
	})
}

func statsOf(h *hdrhistogram.Histogram) LatencyStats {
	return LatencyStats{
		Min:    micros(h.Min()),
		Max:    micros(h.Max()),
		Mean:   time.Duration(h.Mean() * float64(time.Microsecond)),
		StdDev: time.Duration(h.StdDev() * float64(time.Microsecond)),
		P50:    micros(h.ValueAtQuantile(50)),
		P90:    micros(h.ValueAtQuantile(90)),
		P95:    micros(h.ValueAtQuantile(95)),
		P99:    micros(h.ValueAtQuantile(99)),
		Count:  h.TotalCount(),
	}
}

func micros(v int64) time.Duration {
	return time.Duration(v) * time.Microsecond
}
