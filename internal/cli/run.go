package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/counterload/internal/config"
	"github.com/wesleyorama2/counterload/internal/engine"
	"github.com/wesleyorama2/counterload/internal/output"
)

// errThresholdsFailed is returned (wrapped in ExitError) when a run completes
// but at least one threshold did not hold.
var errThresholdsFailed = errors.New("one or more thresholds failed")

const progressInterval = time.Second

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a ramping load test against the counter service",
		Long: `Run ramps virtual users through the configured stages. Each VU posts
to /counter/{id} for a random id in [10, 100], checks for a 200 and pauses
100ms before the next iteration.

The profile comes from --config, or from built-in defaults
(2m:100, 6m:500, 2m:0 against http://localhost:8080). Flags override
the profile.

Exit status is 0 when every threshold passes, 99 when any fails and 1 on
other errors.`,
		Example: `  counterload run
  counterload run -c profile.yaml
  counterload run --base-url http://svc:8080 --stages "30s:50,1m:50,30s:0"
  counterload run --threshold "http_req_duration=p(99)<500" --json --output result.json
  counterload run --html report.html`,
		RunE: runLoadTest,
	}

	cmd.Flags().StringP("config", "c", "", "Run profile (YAML or JSON)")
	cmd.Flags().String("base-url", "", "Target base URL")
	cmd.Flags().String("stages", "", `Ramp stages as duration:target pairs, e.g. "2m:100,6m:500,2m:0"`)
	cmd.Flags().StringArray("threshold", nil, `Threshold as metric=expression (repeatable), e.g. "http_req_failed=rate<0.01"`)
	cmd.Flags().DurationP("timeout", "t", 0, "Per-request timeout (default 30s)")
	cmd.Flags().BoolP("quiet", "q", false, "Only print PASSED or FAILED")
	cmd.Flags().BoolP("verbose", "v", false, "Print the effective profile before the run")
	cmd.Flags().Bool("json", false, "Write the result as JSON (to stdout unless --output is set)")
	cmd.Flags().String("output", "", "Write the JSON result to this file")
	cmd.Flags().String("html", "", "Write an HTML report to this file")
	cmd.Flags().Bool("no-color", false, "Disable colored output")
	cmd.Flags().Bool("save", false, "Save the run summary to the history file")
	cmd.Flags().String("history-db", "", "History file used by --save (default ~/.counterload/history.db)")

	return cmd
}

func runLoadTest(cmd *cobra.Command, args []string) error {
	profile, err := loadProfile(cmd)
	if err != nil {
		return err
	}

	quiet, _ := cmd.Flags().GetBool("quiet")
	verbose, _ := cmd.Flags().GetBool("verbose")
	jsonOut, _ := cmd.Flags().GetBool("json")
	outputFile, _ := cmd.Flags().GetString("output")
	htmlFile, _ := cmd.Flags().GetString("html")
	save, _ := cmd.Flags().GetBool("save")
	noColor, _ := cmd.Flags().GetBool("no-color")

	// Keep stdout clean for the JSON document.
	consoleWriter := cmd.OutOrStdout()
	if jsonOut && outputFile == "" {
		consoleWriter = cmd.ErrOrStderr()
	}
	console := output.NewConsole(output.ConsoleConfig{
		Writer:  consoleWriter,
		Quiet:   quiet,
		NoColor: noColor,
	})

	eng, err := engine.New(profile, nil)
	if err != nil {
		return err
	}

	if verbose && !quiet {
		printProfile(consoleWriter, profile)
	}
	if !quiet {
		console.PrintHeader(profile.Name, profile.BaseURL, profile.ExecutorStages())
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := runWithProgress(ctx, eng, console, quiet)
	if err != nil {
		return err
	}

	console.PrintSummary(result)

	if outputFile != "" {
		if err := output.WriteJSONFile(outputFile, result); err != nil {
			return fmt.Errorf("failed to write results: %w", err)
		}
		if !quiet {
			fmt.Fprintf(consoleWriter, "\nResults written to %s\n", outputFile)
		}
	} else if jsonOut {
		if err := output.WriteJSON(cmd.OutOrStdout(), result); err != nil {
			return fmt.Errorf("failed to write results: %w", err)
		}
	}

	if htmlFile != "" {
		if err := output.WriteHTMLFile(htmlFile, result); err != nil {
			return err
		}
		if !quiet {
			fmt.Fprintf(consoleWriter, "HTML report written to %s\n", htmlFile)
		}
	}

	if save {
		if err := saveHistory(cmd, result); err != nil {
			return err
		}
	}

	if !result.Passed {
		return &ExitError{Code: ExitThresholdsFailed, Err: errThresholdsFailed}
	}
	return nil
}

// runWithProgress runs eng in the background and refreshes the console
// every second until it finishes.
func runWithProgress(ctx context.Context, eng *engine.Engine, console *output.Console, quiet bool) (*engine.TestResult, error) {
	type outcome struct {
		result *engine.TestResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := eng.Run(ctx)
		done <- outcome{result, err}
	}()

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case o := <-done:
			return o.result, o.err
		case <-ticker.C:
			if quiet || !eng.IsRunning() {
				continue
			}
			m := eng.Metrics()
			if m == nil {
				continue
			}
			stats := output.LiveStatsFrom(m.Snapshot(), eng.Stats(), eng.Progress())
			if console.IsTTY() {
				console.Update(stats)
			} else {
				console.PrintNonInteractiveUpdate(stats)
			}
		}
	}
}

// loadProfile builds the run profile from --config (or the defaults) and
// applies flag overrides on top.
func loadProfile(cmd *cobra.Command) (*config.Profile, error) {
	path, _ := cmd.Flags().GetString("config")

	var profile *config.Profile
	if path != "" {
		p, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		profile = p
	} else {
		profile = config.Default()
	}

	if cmd.Flags().Changed("base-url") {
		profile.BaseURL, _ = cmd.Flags().GetString("base-url")
	}

	if cmd.Flags().Changed("stages") {
		raw, _ := cmd.Flags().GetString("stages")
		stages, err := config.ParseStages(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid --stages: %w", err)
		}
		profile.Stages = stages
	}

	if cmd.Flags().Changed("threshold") {
		raw, _ := cmd.Flags().GetStringArray("threshold")
		thresholds, err := config.ParseThresholdFlags(raw)
		if err != nil {
			return nil, err
		}
		if profile.Thresholds == nil {
			profile.Thresholds = make(map[string][]string)
		}
		// Flags replace the profile's expressions for the metrics they name.
		for metric, exprs := range thresholds {
			profile.Thresholds[metric] = exprs
		}
	}

	if cmd.Flags().Changed("timeout") {
		timeout, _ := cmd.Flags().GetDuration("timeout")
		profile.Timeout = config.Duration(timeout)
	}

	return profile, nil
}

func printProfile(w io.Writer, p *config.Profile) {
	fmt.Fprintf(w, "Profile:        %s\n", p.Name)
	fmt.Fprintf(w, "Base URL:       %s\n", p.BaseURL)
	fmt.Fprintf(w, "Timeout:        %s\n", p.Timeout)
	fmt.Fprintf(w, "Graceful stop:  %s\n", p.GracefulStop)
	for i, s := range p.Stages {
		fmt.Fprintf(w, "Stage %d:        %s -> %d VUs\n", i+1, s.Duration, s.Target)
	}

	metricNames := make([]string, 0, len(p.Thresholds))
	for name := range p.Thresholds {
		metricNames = append(metricNames, name)
	}
	sort.Strings(metricNames)
	for _, name := range metricNames {
		for _, expr := range p.Thresholds[name] {
			fmt.Fprintf(w, "Threshold:      %s %s\n", name, expr)
		}
	}
	fmt.Fprintln(w)
}
