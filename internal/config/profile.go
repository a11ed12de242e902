// Package config loads and validates run profiles.
package config

import (
	"time"

	"github.com/wesleyorama2/counterload/internal/executor"
)

const (
	DefaultName                = "counter-load"
	DefaultBaseURL             = "http://localhost:8080"
	DefaultTimeout             = 30 * time.Second
	DefaultMaxIdleConnsPerHost = 1000
)

// Profile is the run configuration. It is read-only once a run starts.
//
// Example YAML:
//
//	name: counter-load
//	baseUrl: http://localhost:8080
//	stages:
//	  - duration: 2m
//	    target: 100
//	  - duration: 6m
//	    target: 500
//	  - duration: 2m
//	    target: 0
//	thresholds:
//	  http_req_duration: ["p(95)<200"]
//	  http_req_failed: ["rate<0.01"]
type Profile struct {
	Name    string  `json:"name,omitempty" yaml:"name,omitempty"`
	BaseURL string  `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`
	Stages  []Stage `json:"stages,omitempty" yaml:"stages,omitempty"`

	// Thresholds maps a metric name to its pass/fail expressions.
	// A nil map means the defaults; an empty map means none.
	Thresholds map[string][]string `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	// Timeout is the per-request HTTP timeout.
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// GracefulStop is how long in-flight iterations may run after the last stage.
	GracefulStop Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	MaxIdleConnsPerHost int `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`
}

// Stage is one ramp segment.
type Stage struct {
	Duration Duration `json:"duration" yaml:"duration"`
	Target   int      `json:"target" yaml:"target"`
}

// DefaultStages ramps to 100 VUs over 2m, to 500 over 6m, then down to 0 over 2m.
func DefaultStages() []Stage {
	return []Stage{
		{Duration: Duration(2 * time.Minute), Target: 100},
		{Duration: Duration(6 * time.Minute), Target: 500},
		{Duration: Duration(2 * time.Minute), Target: 0},
	}
}

// DefaultThresholds requires p95 latency under 200ms and under 1% failures.
func DefaultThresholds() map[string][]string {
	return map[string][]string{
		"http_req_duration": {"p(95)<200"},
		"http_req_failed":   {"rate<0.01"},
	}
}

// Default returns the built-in profile.
func Default() *Profile {
	p := &Profile{}
	p.ApplyDefaults()
	return p
}

// ApplyDefaults fills every unset field.
func (p *Profile) ApplyDefaults() {
	if p.Name == "" {
		p.Name = DefaultName
	}
	if p.BaseURL == "" {
		p.BaseURL = DefaultBaseURL
	}
	if len(p.Stages) == 0 {
		p.Stages = DefaultStages()
	}
	if p.Thresholds == nil {
		p.Thresholds = DefaultThresholds()
	}
	if p.Timeout == 0 {
		p.Timeout = Duration(DefaultTimeout)
	}
	if p.GracefulStop == 0 {
		p.GracefulStop = Duration(executor.DefaultGracefulStop)
	}
	if p.MaxIdleConnsPerHost == 0 {
		p.MaxIdleConnsPerHost = DefaultMaxIdleConnsPerHost
	}
}

// ExecutorStages converts the profile stages for the executor.
func (p *Profile) ExecutorStages() []executor.Stage {
	out := make([]executor.Stage, len(p.Stages))
	for i, s := range p.Stages {
		out[i] = executor.Stage{Duration: s.Duration.Std(), Target: s.Target}
	}
	return out
}

// TotalDuration is the sum of all stage durations.
func (p *Profile) TotalDuration() time.Duration {
	var total time.Duration
	for _, s := range p.Stages {
		total += s.Duration.Std()
	}
	return total
}
