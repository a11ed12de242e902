// Package metrics collects and aggregates load test metrics.
package metrics

import "time"

// Built-in metric names, matching the names used in threshold expressions.
const (
	MetricHTTPReqDuration   = "http_req_duration"
	MetricHTTPReqFailed     = "http_req_failed"
	MetricHTTPReqs          = "http_reqs"
	MetricChecks            = "checks"
	MetricIterations        = "iterations"
	MetricIterationDuration = "iteration_duration"
	MetricVUs               = "vus"
)

// Phase represents a phase of the load test.
type Phase string

const (
	PhaseInit     Phase = "init"
	PhaseRampUp   Phase = "ramp-up"
	PhaseSteady   Phase = "steady"
	PhaseRampDown Phase = "ramp-down"
	PhaseDone     Phase = "done"
)

// Snapshot contains a point-in-time view of all metrics.
type Snapshot struct {
	// http_reqs / http_req_failed
	TotalRequests  int64   `json:"totalRequests"`
	FailedRequests int64   `json:"failedRequests"`
	TotalBytes     int64   `json:"totalBytes"`
	RPS            float64 `json:"rps"`
	SteadyStateRPS float64 `json:"steadyStateRps"`
	ErrorRate      float64 `json:"errorRate"`

	// http_req_duration
	Latency LatencyStats `json:"latency"`

	// iterations / iteration_duration
	Iterations        int64        `json:"iterations"`
	IterationRate     float64      `json:"iterationRate"`
	IterationDuration LatencyStats `json:"iterationDuration"`

	// checks
	ChecksPassed int64                 `json:"checksPassed"`
	ChecksFailed int64                 `json:"checksFailed"`
	ChecksRate   float64               `json:"checksRate"`
	Checks       map[string]CheckStats `json:"checks,omitempty"`

	// vus
	ActiveVUs int `json:"activeVUs"`
	MaxVUs    int `json:"maxVUs"`

	CurrentPhase Phase         `json:"currentPhase"`
	Elapsed      time.Duration `json:"elapsed"`
	StartTime    time.Time     `json:"startTime"`
	Timestamp    time.Time     `json:"timestamp"`
}

// LatencyStats contains duration statistics for a trend metric.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}

// CheckStats holds pass/fail counts for one named check.
type CheckStats struct {
	Name   string `json:"name"`
	Passes int64  `json:"passes"`
	Fails  int64  `json:"fails"`
}

// Rate returns the fraction of passing evaluations, or 0 if the check never ran.
func (c CheckStats) Rate() float64 {
	total := c.Passes + c.Fails
	if total == 0 {
		return 0
	}
	return float64(c.Passes) / float64(total)
}

// TimeBucket holds metrics for one emitter interval.
//
// Totals are cumulative since the start of the run; Interval fields cover only
// the bucket's own window.
type TimeBucket struct {
	Timestamp time.Time `json:"timestamp"`

	TotalRequests int64 `json:"totalRequests"`
	TotalFailures int64 `json:"totalFailures"`

	IntervalRequests  int64   `json:"intervalRequests"`
	IntervalFailures  int64   `json:"intervalFailures"`
	IntervalRPS       float64 `json:"intervalRPS"`
	IntervalErrorRate float64 `json:"intervalErrorRate"`

	LatencyP50 time.Duration `json:"latencyP50"`
	LatencyP95 time.Duration `json:"latencyP95"`
	LatencyP99 time.Duration `json:"latencyP99"`

	ActiveVUs int   `json:"activeVUs"`
	Phase     Phase `json:"phase"`
}

// PhaseChange records when a phase transition occurred.
type PhaseChange struct {
	Phase     Phase     `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
	Requests  int64     `json:"requests"`
}

// EngineConfig contains configuration for the metrics engine.
type EngineConfig struct {
	// BucketInterval is the interval for time-series buckets (default: 1s)
	BucketInterval time.Duration

	// MaxBuckets is the ring buffer size (default: 3600)
	MaxBuckets int

	// Histogram range in microseconds and precision
	HistogramMin     int64
	HistogramMax     int64
	HistogramSigFigs int
}

// DefaultEngineConfig returns the default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BucketInterval:   time.Second,
		MaxBuckets:       3600,
		HistogramMin:     1,
		HistogramMax:     3600000000, // 1 hour in microseconds
		HistogramSigFigs: 3,
	}
}
