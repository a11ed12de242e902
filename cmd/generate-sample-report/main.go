// Command generate-sample-report writes an HTML report for a synthetic run of
// the default counter profile, for previewing the report layout.
package main

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/wesleyorama2/counterload/internal/config"
	"github.com/wesleyorama2/counterload/internal/engine"
	"github.com/wesleyorama2/counterload/internal/metrics"
	"github.com/wesleyorama2/counterload/internal/output"
	"github.com/wesleyorama2/counterload/internal/scenario"
	"github.com/wesleyorama2/counterload/internal/threshold"
)

func main() {
	outputPath := "sample-report.html"
	if len(os.Args) > 1 {
		outputPath = os.Args[1]
	}

	if err := output.WriteHTMLFile(outputPath, sampleResult(time.Now())); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Sample report generated: %s\n", outputPath)
}

func sampleResult(end time.Time) *engine.TestResult {
	profile := config.Default()
	total := profile.TotalDuration()
	start := end.Add(-total)
	series := sampleSeries(profile, start)

	var requests, failures int64
	maxVUs := 0
	for _, b := range series {
		requests, failures = b.TotalRequests, b.TotalFailures
		if b.ActiveVUs > maxVUs {
			maxVUs = b.ActiveVUs
		}
	}

	snap := &metrics.Snapshot{
		TotalRequests:  requests,
		FailedRequests: failures,
		TotalBytes:     requests * 25,
		RPS:            float64(requests) / total.Seconds(),
		ErrorRate:      float64(failures) / float64(requests),
		Latency: metrics.LatencyStats{
			Min: 900 * time.Microsecond, Max: 412 * time.Millisecond,
			Mean: 18 * time.Millisecond, StdDev: 21 * time.Millisecond,
			P50: 12 * time.Millisecond, P90: 41 * time.Millisecond,
			P95: 63 * time.Millisecond, P99: 148 * time.Millisecond,
			Count: requests,
		},
		Iterations:    requests,
		IterationRate: float64(requests) / total.Seconds(),
		IterationDuration: metrics.LatencyStats{
			Min: 101 * time.Millisecond, Max: 515 * time.Millisecond,
			Mean: 119 * time.Millisecond, P50: 113 * time.Millisecond,
			P90: 142 * time.Millisecond, P95: 164 * time.Millisecond,
			P99: 249 * time.Millisecond, Count: requests,
		},
		ChecksPassed: requests - failures,
		ChecksFailed: failures,
		ChecksRate:   float64(requests-failures) / float64(requests),
		Checks: map[string]metrics.CheckStats{
			scenario.CheckStatusOK: {Name: scenario.CheckStatusOK, Passes: requests - failures, Fails: failures},
		},
		MaxVUs:       maxVUs,
		CurrentPhase: metrics.PhaseDone,
		Elapsed:      total,
		StartTime:    start,
		Timestamp:    end,
	}

	return &engine.TestResult{
		RunID:      uuid.NewString(),
		Name:       profile.Name,
		BaseURL:    profile.BaseURL,
		Stages:     profile.Stages,
		StartTime:  start,
		EndTime:    end,
		Duration:   total,
		Metrics:    snap,
		TimeSeries: series,
		Passed:     true,
		Thresholds: []threshold.Result{
			{Metric: "http_req_duration", Expression: "p(95)<200", Passed: true, Actual: snap.Latency.P95.String()},
			{Metric: "http_req_failed", Expression: "rate<0.01", Passed: true, Actual: fmt.Sprintf("%.4f", snap.ErrorRate)},
		},
	}
}

// sampleSeries follows the profile's VU ramp with a VU running roughly eight
// iterations a second and latency growing with load.
func sampleSeries(p *config.Profile, start time.Time) []*metrics.TimeBucket {
	var (
		series   []*metrics.TimeBucket
		total    int64
		failures int64
		elapsed  time.Duration
		prev     int
	)

	for _, s := range p.Stages {
		steps := int(s.Duration.Std() / time.Second)
		for i := 0; i < steps; i++ {
			vus := prev + (s.Target-prev)*i/steps
			rps := float64(vus) * 8.2
			interval := int64(rps)
			failed := interval / 900
			total += interval
			failures += failed
			elapsed += time.Second

			p95 := time.Duration(20+40*math.Sqrt(float64(vus)/500)) * time.Millisecond
			series = append(series, &metrics.TimeBucket{
				Timestamp:         start.Add(elapsed),
				TotalRequests:     total,
				TotalFailures:     failures,
				IntervalRequests:  interval,
				IntervalFailures:  failed,
				IntervalRPS:       rps,
				IntervalErrorRate: ratio(failed, interval),
				LatencyP50:        p95 / 4,
				LatencyP95:        p95,
				LatencyP99:        p95 * 2,
				ActiveVUs:         vus,
				Phase:             phase(prev, s.Target),
			})
		}
		prev = s.Target
	}
	return series
}

func phase(prev, target int) metrics.Phase {
	switch {
	case target > prev:
		return metrics.PhaseRampUp
	case target < prev:
		return metrics.PhaseRampDown
	default:
		return metrics.PhaseSteady
	}
}

func ratio(n, d int64) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
