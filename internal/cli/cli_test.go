package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/wesleyorama2/counterload/internal/target"
)

// execute runs the command tree with args and returns stdout, stderr and
// the exit code Execute would report.
func execute(t *testing.T, args ...string) (string, string, int) {
	t.Helper()

	root := NewRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), exitCode(err)
}

func newTarget(t *testing.T, cfg target.Config) (*httptest.Server, *target.Server) {
	t.Helper()
	srv := target.NewServer(cfg, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, srv
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, exitCode(nil))
	assert.Equal(t, ExitFailure, exitCode(errors.New("boom")))
	assert.Equal(t, ExitThresholdsFailed, exitCode(&ExitError{Code: ExitThresholdsFailed, Err: errThresholdsFailed}))

	wrapped := &ExitError{Code: 7}
	assert.Equal(t, 7, exitCode(wrapped))
	assert.Equal(t, "exit status 7", wrapped.Error())
}

func TestRootHelp(t *testing.T) {
	stdout, _, code := execute(t)
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, "run")
	assert.Contains(t, stdout, "target")
	assert.Contains(t, stdout, "stats")
}

func TestRun_Passes(t *testing.T) {
	ts, srv := newTarget(t, target.Config{})

	stdout, _, code := execute(t, "run",
		"--base-url", ts.URL,
		"--stages", "300ms:2,200ms:0",
		"--threshold", "http_req_duration=p(95)<2000",
		"--no-color")

	assert.Equal(t, ExitOK, code, stdout)
	assert.Contains(t, stdout, "Completed")
	assert.Contains(t, stdout, "status is 200")

	var clicks int64
	for id := 10; id <= 100; id++ {
		clicks += srv.Store().Total(id)
	}
	assert.Positive(t, clicks)
}

func TestRun_ThresholdsFail(t *testing.T) {
	ts, _ := newTarget(t, target.Config{})

	stdout, _, code := execute(t, "run",
		"--base-url", ts.URL,
		"--stages", "200ms:1",
		"--threshold", "http_reqs=count>1000000",
		"-q")

	assert.Equal(t, ExitThresholdsFailed, code)
	assert.Contains(t, stdout, "FAILED")
}

func TestRun_JSONToStdout(t *testing.T) {
	ts, _ := newTarget(t, target.Config{})

	stdout, stderr, code := execute(t, "run",
		"--base-url", ts.URL,
		"--stages", "200ms:1",
		"--json", "--no-color")
	require.Equal(t, ExitOK, code, stderr)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(stdout), &doc), stdout)
	assert.Equal(t, true, doc["passed"])
	assert.Equal(t, ts.URL, doc["baseUrl"])
	assert.NotEmpty(t, doc["runId"])
	assert.Contains(t, stderr, "Completed")
}

func TestRun_OutputFile(t *testing.T) {
	ts, _ := newTarget(t, target.Config{})
	path := filepath.Join(t.TempDir(), "result.json")

	stdout, _, code := execute(t, "run",
		"--base-url", ts.URL,
		"--stages", "200ms:1",
		"--output", path, "--no-color")
	require.Equal(t, ExitOK, code, stdout)
	assert.Contains(t, stdout, "Results written to")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Contains(t, doc, "metrics")
}

func TestRun_HTMLReport(t *testing.T) {
	ts, _ := newTarget(t, target.Config{})
	path := filepath.Join(t.TempDir(), "report.html")

	stdout, _, code := execute(t, "run",
		"--base-url", ts.URL,
		"--stages", "200ms:1",
		"--html", path, "--no-color")
	require.Equal(t, ExitOK, code, stdout)
	assert.Contains(t, stdout, "HTML report written to")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), ts.URL)
}

func TestRun_ConfigFile(t *testing.T) {
	ts, _ := newTarget(t, target.Config{})
	path := filepath.Join(t.TempDir(), "profile.yaml")
	profile := "name: from-file\nbaseUrl: " + ts.URL + "\nstages:\n  - duration: 200ms\n    target: 1\nthresholds: {}\n"
	require.NoError(t, os.WriteFile(path, []byte(profile), 0o644))

	stdout, _, code := execute(t, "run", "-c", path, "-v", "--no-color")
	assert.Equal(t, ExitOK, code, stdout)
	assert.Contains(t, stdout, "Profile:        from-file")
	assert.Contains(t, stdout, "from-file - Completed")
	assert.NotContains(t, stdout, "Threshold:")
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"bad stages", []string{"run", "--stages", "2m"}},
		{"bad threshold flag", []string{"run", "--threshold", "http_req_failed"}},
		{"unknown metric", []string{"run", "--stages", "1s:1", "--threshold", "bogus=rate<1"}},
		{"missing config", []string{"run", "-c", "does-not-exist.yaml"}},
		{"bad base url", []string{"run", "--stages", "1s:1", "--base-url", "ftp://x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, code := execute(t, tt.args...)
			assert.Equal(t, ExitFailure, code)
		})
	}
}

func TestLoadProfile_FlagOverrides(t *testing.T) {
	cmd := newRunCmd()
	require.NoError(t, cmd.ParseFlags([]string{
		"--base-url", "http://svc:9000",
		"--stages", "10s:5,20s:0",
		"--threshold", "http_req_duration=p(99)<500",
		"--threshold", "http_req_duration=avg<100",
		"--timeout", "5s",
	}))

	p, err := loadProfile(cmd)
	require.NoError(t, err)

	assert.Equal(t, "http://svc:9000", p.BaseURL)
	require.Len(t, p.Stages, 2)
	assert.Equal(t, 10*time.Second, p.Stages[0].Duration.Std())
	assert.Equal(t, 5, p.Stages[0].Target)
	assert.Equal(t, 5*time.Second, p.Timeout.Std())

	assert.Equal(t, []string{"p(99)<500", "avg<100"}, p.Thresholds["http_req_duration"])
	assert.Equal(t, []string{"rate<0.01"}, p.Thresholds["http_req_failed"])
}

func TestLoadProfile_Defaults(t *testing.T) {
	cmd := newRunCmd()
	require.NoError(t, cmd.ParseFlags(nil))

	p, err := loadProfile(cmd)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", p.BaseURL)
	assert.Len(t, p.Stages, 3)
	assert.Equal(t, 10*time.Minute, p.TotalDuration())
}

func TestTarget_InvalidLogLevel(t *testing.T) {
	_, _, code := execute(t, "target", "--log-level", "loud")
	assert.Equal(t, ExitFailure, code)
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger("debug")
	require.NoError(t, err)
	assert.NotNil(t, logger.Check(zapcore.DebugLevel, "debug"))

	logger, err = newLogger("warn")
	require.NoError(t, err)
	assert.Nil(t, logger.Check(zapcore.InfoLevel, "info"))
}

func TestStats(t *testing.T) {
	ts, srv := newTarget(t, target.Config{})
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	srv.Store().Record(42, base.Add(5*time.Minute))
	srv.Store().Record(42, base.Add(6*time.Minute))
	srv.Store().Record(42, base.Add(7*time.Minute))

	stdout, _, code := execute(t, "stats", "42",
		"--target-url", ts.URL,
		"--from", "2024-05-01T10:00:00Z",
		"--to", "2024-05-01T11:00:00Z")
	require.Equal(t, ExitOK, code)
	assert.Equal(t, "counter 42: 3 clicks between 2024-05-01T10:00:00Z and 2024-05-01T11:00:00Z\n", stdout)

	stdout, _, code = execute(t, "stats", "42",
		"--target-url", ts.URL,
		"--from", "2024-05-01T10:00:00Z",
		"--to", "2024-05-01T10:06:00Z",
		"--json")
	require.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, `"Counts":1`)
}

func TestStats_Errors(t *testing.T) {
	ts, _ := newTarget(t, target.Config{})

	tests := []struct {
		name string
		args []string
	}{
		{"no data", []string{"stats", "42", "--target-url", ts.URL}},
		{"reversed range", []string{"stats", "42", "--target-url", ts.URL,
			"--from", "2024-05-01T11:00:00Z", "--to", "2024-05-01T10:00:00Z"}},
		{"bad id", []string{"stats", "abc", "--target-url", ts.URL}},
		{"bad from", []string{"stats", "42", "--target-url", ts.URL, "--from", "yesterday"}},
		{"missing id", []string{"stats"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, code := execute(t, tt.args...)
			assert.Equal(t, ExitFailure, code)
		})
	}
}

func TestStatsWindow(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 30, 15, 500, time.UTC)

	from, to, err := statsWindow("", "", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 30, 15, 0, time.UTC), to)
	assert.Equal(t, to.Add(-time.Hour), from)

	from, to, err = statsWindow("2024-05-01T10:00:00Z", "2024-05-01T11:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, to.Sub(from))

	_, _, err = statsWindow("", "noon", now)
	assert.Error(t, err)
}

func TestHistory_SaveListShow(t *testing.T) {
	ts, _ := newTarget(t, target.Config{})
	db := filepath.Join(t.TempDir(), "history.db")

	_, _, code := execute(t, "run",
		"--base-url", ts.URL,
		"--stages", "200ms:1",
		"--save", "--history-db", db, "-q")
	require.Equal(t, ExitOK, code)

	_, _, code = execute(t, "run",
		"--base-url", ts.URL,
		"--stages", "200ms:1",
		"--threshold", "http_reqs=count>1000000",
		"--save", "--history-db", db, "-q")
	require.Equal(t, ExitThresholdsFailed, code)

	stdout, _, code := execute(t, "history", "--history-db", db)
	require.Equal(t, ExitOK, code)
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "RUN ID")
	assert.Contains(t, lines[1], "failed")
	assert.Contains(t, lines[2], "passed")

	id := strings.Fields(lines[2])[0]
	stdout, _, code = execute(t, "history", "show", id, "--history-db", db)
	require.Equal(t, ExitOK, code)

	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(stdout), &rec))
	assert.Equal(t, true, rec["passed"])
	assert.Equal(t, ts.URL, rec["baseUrl"])

	_, _, code = execute(t, "history", "show", "zzzz", "--history-db", db)
	assert.Equal(t, ExitFailure, code)
}

func TestHistory_Empty(t *testing.T) {
	db := filepath.Join(t.TempDir(), "history.db")

	stdout, _, code := execute(t, "history", "--history-db", db)
	require.Equal(t, ExitOK, code)
	assert.Equal(t, "No saved runs.\n", stdout)
}
