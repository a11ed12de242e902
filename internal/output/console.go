// Package output renders live progress and run summaries.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/wesleyorama2/counterload/internal/engine"
	"github.com/wesleyorama2/counterload/internal/executor"
	"github.com/wesleyorama2/counterload/internal/metrics"
)

const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"

	ruleChar       = "━"
	progressFilled = "█"
	progressEmpty  = "░"
	ruleWidth      = 56
)

// LiveStats is what the live display shows.
type LiveStats struct {
	Progress  float64
	Elapsed   time.Duration
	Remaining time.Duration

	ActiveVUs int
	TargetVUs int

	TotalRequests int64
	Errors        int64
	ErrorRate     float64
	RPS           float64
	Iterations    int64
	ChecksRate    float64

	LatencyP95 time.Duration
	LatencyAvg time.Duration

	Phase        metrics.Phase
	CurrentStage int
	TotalStages  int
}

// Console writes run progress to a terminal or log stream.
type Console struct {
	writer io.Writer
	colors *ColorScheme
	isTTY  bool
	quiet  bool

	mu          sync.Mutex
	linesOutput int
}

// ConsoleConfig configures a Console.
type ConsoleConfig struct {
	Writer      io.Writer
	Quiet       bool
	ForceColors bool
	ForceTTY    bool
	NoColor     bool
}

// NewConsole creates a console writer. Live redraws are used only on a TTY.
func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}

	isTTY := cfg.ForceTTY || isTerminal(cfg.Writer)

	colors := NoColorScheme()
	switch {
	case cfg.NoColor:
	case cfg.ForceColors:
		colors = ForcedColorScheme()
	case isTTY && supportsColors():
		colors = ForcedColorScheme()
	}

	return &Console{
		writer: cfg.Writer,
		colors: colors,
		isTTY:  isTTY,
		quiet:  cfg.Quiet,
	}
}

// IsTTY reports whether live redraws are enabled.
func (c *Console) IsTTY() bool { return c.isTTY }

// PrintHeader prints the run banner.
func (c *Console) PrintHeader(name, baseURL string, stages []executor.Stage) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var total time.Duration
	parts := make([]string, len(stages))
	for i, s := range stages {
		total += s.Duration
		parts[i] = fmt.Sprintf("%s→%d", formatDuration(s.Duration), s.Target)
	}

	rule := c.colors.Border.Sprint(strings.Repeat(ruleChar, ruleWidth))
	c.writeln(rule)
	c.writeln(c.colors.Title.Sprintf("%s - Running", name))
	c.writeln(rule)
	c.writeln(fmt.Sprintf("Target:   %s", c.colors.Value.Sprint(baseURL)))
	c.writeln(fmt.Sprintf("Stages:   %s", c.colors.Accent.Sprint(strings.Join(parts, ", "))))
	c.writeln(fmt.Sprintf("Duration: %s", c.colors.Value.Sprint(formatDuration(total))))
	c.writeln("")
}

// Update redraws the live display. It does nothing unless the console is a TTY.
func (c *Console) Update(stats *LiveStats) {
	if c.quiet || !c.isTTY {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLive()
	lines := c.renderLive(stats)
	c.linesOutput = len(lines)
	for _, line := range lines {
		c.writeln(line)
	}
}

// PrintNonInteractiveUpdate prints a one-line status for logs and CI.
func (c *Console) PrintNonInteractiveUpdate(stats *LiveStats) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeln(fmt.Sprintf("[%s] %3.0f%% | %s | VUs: %d/%d | Reqs: %d | RPS: %.1f | Errors: %d (%.1f%%) | P95: %s",
		formatDuration(stats.Elapsed),
		stats.Progress*100,
		stats.Phase,
		stats.ActiveVUs,
		stats.TargetVUs,
		stats.TotalRequests,
		stats.RPS,
		stats.Errors,
		stats.ErrorRate*100,
		formatDurationShort(stats.LatencyP95)))
}

func (c *Console) renderLive(stats *LiveStats) []string {
	elapsed := formatDuration(stats.Elapsed)
	total := formatDuration(stats.Elapsed + stats.Remaining)
	errColor := c.colors.rate(stats.ErrorRate)

	return []string{
		fmt.Sprintf("Progress: %s %s | %s",
			c.colors.Good.Sprint(progressBar(stats.Progress, 40)),
			c.colors.Title.Sprintf("%.0f%%", stats.Progress*100),
			c.colors.Dim.Sprintf("%s / %s", elapsed, total)),
		fmt.Sprintf("Stage:    %s",
			c.colors.Accent.Sprintf("%s (%d/%d)", stats.Phase, stats.CurrentStage, stats.TotalStages)),
		fmt.Sprintf("VUs:      %s / %d    Requests: %s    Iterations: %s",
			c.colors.Value.Sprint(stats.ActiveVUs),
			stats.TargetVUs,
			c.colors.Value.Sprint(formatNumber(stats.TotalRequests)),
			c.colors.Value.Sprint(formatNumber(stats.Iterations))),
		fmt.Sprintf("RPS:      %s    Errors: %s    Checks: %s",
			c.colors.Good.Sprintf("%.1f", stats.RPS),
			errColor.Sprintf("%d (%.1f%%)", stats.Errors, stats.ErrorRate*100),
			c.colors.rate(1-stats.ChecksRate).Sprintf("%.1f%%", stats.ChecksRate*100)),
		fmt.Sprintf("P95:      %s    Avg: %s",
			c.colors.Value.Sprint(formatDurationShort(stats.LatencyP95)),
			c.colors.Value.Sprint(formatDurationShort(stats.LatencyAvg))),
	}
}

func (c *Console) clearLive() {
	if c.linesOutput == 0 {
		return
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	for i := 0; i < c.linesOutput; i++ {
		c.write(clearLine + "\n")
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	c.linesOutput = 0
}

// PrintSummary prints the end-of-run report.
func (c *Console) PrintSummary(result *engine.TestResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.quiet {
		if result.Passed {
			c.writeln(c.colors.Good.Sprint("PASSED"))
		} else {
			c.writeln(c.colors.Bad.Sprint("FAILED"))
		}
		return
	}

	if c.isTTY {
		c.clearLive()
	}

	status, statusColor := "Completed ✓", c.colors.Good
	switch {
	case !result.Passed:
		status, statusColor = "Failed ✗", c.colors.Bad
	case result.Aborted:
		status, statusColor = "Aborted", c.colors.Warn
	}

	rule := c.colors.Border.Sprint(strings.Repeat(ruleChar, ruleWidth))
	c.writeln("")
	c.writeln(rule)
	c.writeln(fmt.Sprintf("%s - %s", c.colors.Title.Sprint(result.Name), statusColor.Sprint(status)))
	c.writeln(rule)
	c.writeln("")

	c.writeln(fmt.Sprintf("Run ID:        %s", c.colors.Dim.Sprint(result.RunID)))
	c.writeln(fmt.Sprintf("Duration:      %s", c.colors.Value.Sprint(formatDuration(result.Duration))))

	m := result.Metrics
	if m == nil {
		c.writeln("")
		return
	}

	successRate := 1 - m.ErrorRate
	c.writeln(fmt.Sprintf("Total Reqs:    %s (%.1f/s)", c.colors.Value.Sprint(formatNumber(m.TotalRequests)), m.RPS))
	c.writeln(fmt.Sprintf("Success Rate:  %s", c.colors.rate(m.ErrorRate).Sprintf("%.2f%%", successRate*100)))
	c.writeln(fmt.Sprintf("Iterations:    %s (%.1f/s)", c.colors.Value.Sprint(formatNumber(m.Iterations)), m.IterationRate))
	c.writeln(fmt.Sprintf("Max VUs:       %s", c.colors.Value.Sprint(m.MaxVUs)))
	if m.SteadyStateRPS > 0 {
		c.writeln(fmt.Sprintf("Steady RPS:    %s", c.colors.Value.Sprintf("%.1f", m.SteadyStateRPS)))
	}
	c.writeln("")

	c.writeLatency("http_req_duration", m.Latency)
	c.writeLatency("iteration_duration", m.IterationDuration)

	if len(m.Checks) > 0 {
		c.writeln(c.colors.Label.Sprint("Checks:"))
		for _, name := range sortedChecks(m.Checks) {
			cs := m.Checks[name]
			mark := c.colors.Good.Sprint("✓")
			if cs.Fails > 0 {
				mark = c.colors.Bad.Sprint("✗")
			}
			c.writeln(fmt.Sprintf("  %s %s  %.2f%% (%d ✓ / %d ✗)", mark, name, cs.Rate()*100, cs.Passes, cs.Fails))
		}
		c.writeln("")
	}

	if len(result.Thresholds) > 0 {
		c.writeln(c.colors.Label.Sprint("Thresholds:"))
		for _, t := range result.Thresholds {
			mark := c.colors.Good.Sprint("✓")
			if !t.Passed {
				mark = c.colors.Bad.Sprint("✗")
			}
			c.writeln(fmt.Sprintf("  %s %s %s (actual: %s)", mark, t.Metric, t.Expression, t.Actual))
		}
		c.writeln("")
	}
}

func (c *Console) writeLatency(label string, s metrics.LatencyStats) {
	c.writeln(c.colors.Label.Sprintf("%s:", label))
	c.writeln(fmt.Sprintf("  avg=%s min=%s med=%s max=%s p(90)=%s p(95)=%s p(99)=%s",
		formatDurationShort(s.Mean),
		formatDurationShort(s.Min),
		formatDurationShort(s.P50),
		formatDurationShort(s.Max),
		formatDurationShort(s.P90),
		formatDurationShort(s.P95),
		formatDurationShort(s.P99)))
	c.writeln("")
}

func (c *Console) write(s string) {
	fmt.Fprint(c.writer, s)
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

// LiveStatsFrom combines a metrics snapshot with executor stats.
func LiveStatsFrom(snap *metrics.Snapshot, stats *executor.Stats, progress float64) *LiveStats {
	ls := &LiveStats{Progress: progress}
	if stats != nil {
		ls.Elapsed = stats.Elapsed
		ls.Remaining = stats.TotalDuration - stats.Elapsed
		if ls.Remaining < 0 {
			ls.Remaining = 0
		}
		ls.TargetVUs = stats.TargetVUs
		ls.CurrentStage = stats.CurrentStage
		ls.TotalStages = stats.TotalStages
	}
	if snap == nil {
		ls.Phase = metrics.PhaseInit
		return ls
	}

	ls.ActiveVUs = snap.ActiveVUs
	ls.TotalRequests = snap.TotalRequests
	ls.Errors = snap.FailedRequests
	ls.ErrorRate = snap.ErrorRate
	ls.RPS = snap.RPS
	ls.Iterations = snap.Iterations
	ls.ChecksRate = snap.ChecksRate
	ls.LatencyP95 = snap.Latency.P95
	ls.LatencyAvg = snap.Latency.Mean
	ls.Phase = snap.CurrentPhase
	return ls
}
