// Package threshold parses and evaluates pass/fail criteria on run metrics.
//
// Both the compact p(N) form and the spaced form with units are accepted:
//
//	http_req_duration: ["p(95)<200", "p99 < 1s", "avg<100"]
//	http_req_failed:   ["rate<0.01"]
//	http_reqs:         ["count>1000", "rate>=50"]
//
// Bare numbers on trend metrics are milliseconds.
package threshold

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/counterload/internal/metrics"
)

// Kind groups metrics by the statistics they support.
type Kind int

const (
	KindTrend Kind = iota
	KindRate
	KindCounter
)

var metricKinds = map[string]Kind{
	metrics.MetricHTTPReqDuration:   KindTrend,
	metrics.MetricIterationDuration: KindTrend,
	metrics.MetricHTTPReqFailed:     KindRate,
	metrics.MetricChecks:            KindRate,
	metrics.MetricHTTPReqs:          KindCounter,
	metrics.MetricIterations:        KindCounter,
}

// exprPattern matches "<stat> <op> <value>", e.g. "p(95)<200" or "p95 < 500ms".
var exprPattern = regexp.MustCompile(`^([a-z]+)\s*(?:\(\s*([0-9.]+)\s*\)|([0-9.]+))?\s*(<=|>=|==|!=|<|>)\s*(\S+)$`)

// Threshold is one parsed expression bound to a metric.
type Threshold struct {
	Metric     string
	Expression string

	Stat       string
	Percentile float64
	Op         string
	// Value is nanoseconds for trend metrics and a plain number otherwise.
	Value float64
}

// Result is the outcome of evaluating one threshold.
type Result struct {
	Metric     string `json:"metric"`
	Expression string `json:"expression"`
	Passed     bool   `json:"passed"`
	Actual     string `json:"actual"`
	Message    string `json:"message,omitempty"`
}

// Source provides the values thresholds are checked against.
type Source interface {
	Snapshot() *metrics.Snapshot
	Quantile(metric string, q float64) (time.Duration, bool)
}

// IsKnownMetric reports whether thresholds can be set on metric.
func IsKnownMetric(metric string) bool {
	_, ok := metricKinds[metric]
	return ok
}

// Parse parses expr for metric.
func Parse(metric, expr string) (*Threshold, error) {
	kind, ok := metricKinds[metric]
	if !ok {
		return nil, fmt.Errorf("unknown metric %q", metric)
	}

	m := exprPattern.FindStringSubmatch(strings.TrimSpace(expr))
	if m == nil {
		return nil, fmt.Errorf("invalid threshold expression %q", expr)
	}

	t := &Threshold{
		Metric:     metric,
		Expression: expr,
		Stat:       m[1],
		Op:         m[4],
	}

	pct := m[2]
	if pct == "" {
		pct = m[3]
	}
	if t.Stat == "p" {
		if pct == "" {
			return nil, fmt.Errorf("%q: percentile is missing", expr)
		}
		p, err := strconv.ParseFloat(pct, 64)
		if err != nil || p <= 0 || p > 100 {
			return nil, fmt.Errorf("%q: percentile must be in (0, 100]", expr)
		}
		t.Percentile = p
	} else if pct != "" {
		return nil, fmt.Errorf("%q: only p() takes an argument", expr)
	}

	if !statAllowed(kind, t.Stat) {
		return nil, fmt.Errorf("%q: %s is not supported for %s", expr, t.Stat, metric)
	}

	v, err := parseValue(kind, m[5])
	if err != nil {
		return nil, fmt.Errorf("%q: %w", expr, err)
	}
	t.Value = v

	return t, nil
}

// ParseAll parses every expression in m, ordered by metric name.
// All errors are reported together.
func ParseAll(m map[string][]string) ([]*Threshold, error) {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		out  []*Threshold
		errs []error
	)
	for _, name := range names {
		for _, expr := range m[name] {
			t, err := Parse(name, expr)
			if err != nil {
				errs = append(errs, fmt.Errorf("thresholds.%s: %w", name, err))
				continue
			}
			out = append(out, t)
		}
	}
	return out, errors.Join(errs...)
}

func statAllowed(kind Kind, stat string) bool {
	switch kind {
	case KindTrend:
		switch stat {
		case "p", "avg", "med", "min", "max":
			return true
		}
	case KindRate:
		return stat == "rate"
	case KindCounter:
		return stat == "count" || stat == "rate"
	}
	return false
}

func parseValue(kind Kind, s string) (float64, error) {
	if kind != KindTrend {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid value %q", s)
		}
		return v, nil
	}

	if ms, err := strconv.ParseFloat(s, 64); err == nil {
		return ms * float64(time.Millisecond), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return float64(d), nil
}

// Evaluate checks t against snap, using src for percentiles.
func (t *Threshold) Evaluate(src Source, snap *metrics.Snapshot) Result {
	res := Result{Metric: t.Metric, Expression: t.Expression}

	actual, display := t.actual(src, snap)
	res.Actual = display
	res.Passed = compare(actual, t.Op, t.Value)

	if !res.Passed {
		res.Message = fmt.Sprintf("%s %s is %s, want %s %s",
			t.Metric, t.statLabel(), display, t.Op, t.formatValue())
	}
	return res
}

func (t *Threshold) actual(src Source, snap *metrics.Snapshot) (float64, string) {
	switch metricKinds[t.Metric] {
	case KindTrend:
		stats := snap.Latency
		if t.Metric == metrics.MetricIterationDuration {
			stats = snap.IterationDuration
		}
		var d time.Duration
		switch t.Stat {
		case "p":
			d, _ = src.Quantile(t.Metric, t.Percentile)
		case "med":
			d, _ = src.Quantile(t.Metric, 50)
		case "avg":
			d = stats.Mean
		case "min":
			d = stats.Min
		case "max":
			d = stats.Max
		}
		return float64(d), d.String()

	case KindRate:
		rate := snap.ErrorRate
		if t.Metric == metrics.MetricChecks {
			rate = snap.ChecksRate
		}
		return rate, strconv.FormatFloat(rate, 'f', 4, 64)

	default:
		if t.Stat == "rate" {
			rate := snap.RPS
			if t.Metric == metrics.MetricIterations {
				rate = snap.IterationRate
			}
			return rate, strconv.FormatFloat(rate, 'f', 2, 64) + "/s"
		}
		count := snap.TotalRequests
		if t.Metric == metrics.MetricIterations {
			count = snap.Iterations
		}
		return float64(count), strconv.FormatInt(count, 10)
	}
}

func (t *Threshold) statLabel() string {
	if t.Stat == "p" {
		return "p(" + strconv.FormatFloat(t.Percentile, 'f', -1, 64) + ")"
	}
	return t.Stat
}

func (t *Threshold) formatValue() string {
	if metricKinds[t.Metric] == KindTrend {
		return time.Duration(t.Value).String()
	}
	return strconv.FormatFloat(t.Value, 'f', -1, 64)
}

// Evaluate checks every threshold against a single snapshot of src and
// reports whether all of them passed.
func Evaluate(thresholds []*Threshold, src Source) ([]Result, bool) {
	if len(thresholds) == 0 {
		return nil, true
	}

	snap := src.Snapshot()
	results := make([]Result, 0, len(thresholds))
	passed := true
	for _, t := range thresholds {
		r := t.Evaluate(src, snap)
		if !r.Passed {
			passed = false
		}
		results = append(results, r)
	}
	return results, passed
}

func compare(actual float64, op string, threshold float64) bool {
	switch op {
	case "<":
		return actual < threshold
	case "<=":
		return actual <= threshold
	case ">":
		return actual > threshold
	case ">=":
		return actual >= threshold
	case "==":
		return actual == threshold
	case "!=":
		return actual != threshold
	default:
		return false
	}
}
