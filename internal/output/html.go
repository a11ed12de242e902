package output

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"os"
	"strings"
	"time"

	"github.com/wesleyorama2/counterload/internal/engine"
	"github.com/wesleyorama2/counterload/internal/metrics"
)

const (
	chartWidth  = 720
	chartHeight = 160
)

// reportData is what the HTML template renders.
type reportData struct {
	*engine.TestResult
	SuccessRate float64
	Charts      []chart
}

// chart is one SVG line chart over the run's time series.
type chart struct {
	Title  string
	Max    string
	Points string
}

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"duration": formatDuration,
	"latency":  formatDurationShort,
	"number":   formatNumber,
	"percent":  func(f float64) string { return fmt.Sprintf("%.2f%%", f*100) },
	"time":     func(t time.Time) string { return t.Format(time.RFC3339) },
	"checks":   sortedChecks,
}).Parse(htmlTemplate))

// WriteHTML renders result as a standalone HTML report.
func WriteHTML(result *engine.TestResult) ([]byte, error) {
	if result == nil {
		return nil, errors.New("result cannot be nil")
	}

	data := reportData{TestResult: result}
	if m := result.Metrics; m != nil {
		data.SuccessRate = 1 - m.ErrorRate
	}
	if len(result.TimeSeries) > 1 {
		data.Charts = []chart{
			lineChart("Requests per second", result.TimeSeries, func(b *metrics.TimeBucket) float64 { return b.IntervalRPS }, "%.1f"),
			lineChart("p95 latency (ms)", result.TimeSeries, func(b *metrics.TimeBucket) float64 {
				return float64(b.LatencyP95) / float64(time.Millisecond)
			}, "%.1f"),
			lineChart("Active VUs", result.TimeSeries, func(b *metrics.TimeBucket) float64 { return float64(b.ActiveVUs) }, "%.0f"),
		}
	}

	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render report: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteHTMLFile writes the HTML report to path.
func WriteHTMLFile(path string, result *engine.TestResult) error {
	html, err := WriteHTML(result)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, html, 0o644); err != nil {
		return fmt.Errorf("failed to write HTML report: %w", err)
	}
	return nil
}

// lineChart scales value over series into SVG polyline points.
func lineChart(title string, series []*metrics.TimeBucket, value func(*metrics.TimeBucket) float64, maxFormat string) chart {
	peak := 0.0
	for _, b := range series {
		if v := value(b); v > peak {
			peak = v
		}
	}

	points := make([]string, len(series))
	step := float64(chartWidth) / float64(len(series)-1)
	for i, b := range series {
		y := float64(chartHeight)
		if peak > 0 {
			y -= value(b) / peak * chartHeight
		}
		points[i] = fmt.Sprintf("%.1f,%.1f", float64(i)*step, y)
	}

	return chart{
		Title:  title,
		Max:    fmt.Sprintf(maxFormat, peak),
		Points: strings.Join(points, " "),
	}
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Name}} - counterload report</title>
<style>
body { font-family: -apple-system, "Segoe UI", Helvetica, Arial, sans-serif; margin: 2rem auto; max-width: 800px; color: #222; }
h1 { margin-bottom: 0.2rem; }
.meta { color: #666; font-size: 0.9rem; }
.pass { color: #1a7f37; }
.fail { color: #cf222e; }
table { border-collapse: collapse; width: 100%; margin: 1rem 0; }
th, td { text-align: left; padding: 0.35rem 0.6rem; border-bottom: 1px solid #ddd; }
th { background: #f6f8fa; }
svg { background: #f6f8fa; border: 1px solid #ddd; }
polyline { fill: none; stroke: #0969da; stroke-width: 2; }
</style>
</head>
<body>
<h1>{{.Name}} {{if .Passed}}<span class="pass">passed</span>{{else}}<span class="fail">failed</span>{{end}}{{if .Aborted}} (aborted){{end}}</h1>
<p class="meta">Run {{.RunID}} against {{.BaseURL}}<br>{{time .StartTime}} to {{time .EndTime}} ({{duration .Duration}})</p>

<h2>Stages</h2>
<table>
<tr><th>#</th><th>Duration</th><th>Target VUs</th></tr>
{{range $i, $s := .Stages}}<tr><td>{{$i}}</td><td>{{$s.Duration}}</td><td>{{$s.Target}}</td></tr>
{{end}}</table>

{{with .Metrics}}
<h2>Summary</h2>
<table>
<tr><td>Requests</td><td>{{number .TotalRequests}} ({{printf "%.1f" .RPS}}/s)</td></tr>
<tr><td>Failed requests</td><td>{{number .FailedRequests}}</td></tr>
<tr><td>Success rate</td><td>{{percent $.SuccessRate}}</td></tr>
<tr><td>Iterations</td><td>{{number .Iterations}} ({{printf "%.1f" .IterationRate}}/s)</td></tr>
<tr><td>Max VUs</td><td>{{.MaxVUs}}</td></tr>
<tr><td>Steady state RPS</td><td>{{printf "%.1f" .SteadyStateRPS}}</td></tr>
</table>

<h2>Latency</h2>
<table>
<tr><th>Metric</th><th>avg</th><th>min</th><th>med</th><th>p(90)</th><th>p(95)</th><th>p(99)</th><th>max</th></tr>
<tr><td>http_req_duration</td><td>{{latency .Latency.Mean}}</td><td>{{latency .Latency.Min}}</td><td>{{latency .Latency.P50}}</td><td>{{latency .Latency.P90}}</td><td>{{latency .Latency.P95}}</td><td>{{latency .Latency.P99}}</td><td>{{latency .Latency.Max}}</td></tr>
<tr><td>iteration_duration</td><td>{{latency .IterationDuration.Mean}}</td><td>{{latency .IterationDuration.Min}}</td><td>{{latency .IterationDuration.P50}}</td><td>{{latency .IterationDuration.P90}}</td><td>{{latency .IterationDuration.P95}}</td><td>{{latency .IterationDuration.P99}}</td><td>{{latency .IterationDuration.Max}}</td></tr>
</table>

{{if .Checks}}
<h2>Checks</h2>
<table>
<tr><th>Check</th><th>Passes</th><th>Fails</th><th>Rate</th></tr>
{{$checks := .Checks}}{{range checks .Checks}}{{$c := index $checks .}}<tr><td>{{.}}</td><td>{{$c.Passes}}</td><td>{{$c.Fails}}</td><td>{{percent $c.Rate}}</td></tr>
{{end}}</table>
{{end}}
{{end}}

{{if .Thresholds}}
<h2>Thresholds</h2>
<table>
<tr><th></th><th>Metric</th><th>Expression</th><th>Actual</th></tr>
{{range .Thresholds}}<tr><td>{{if .Passed}}<span class="pass">&#10003;</span>{{else}}<span class="fail">&#10007;</span>{{end}}</td><td>{{.Metric}}</td><td>{{.Expression}}</td><td>{{.Actual}}</td></tr>
{{end}}</table>
{{end}}

{{range .Charts}}
<h2>{{.Title}}</h2>
<p class="meta">peak {{.Max}}</p>
<svg width="720" height="160" viewBox="0 0 720 160"><polyline points="{{.Points}}"/></svg>
{{end}}
</body>
</html>
`
