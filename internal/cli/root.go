// Package cli implements the counterload command line.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

// Exit codes.
const (
	ExitOK               = 0
	ExitFailure          = 1
	ExitThresholdsFailed = 99
)

// ExitError carries a process exit code out of a command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "counterload",
		Short:   "Ramp virtual users against a click counter service",
		Version: version,
		Long: `counterload ramps virtual users up and down against a counter
service, posting to /counter/{id} for random ids, and checks the run
against latency and error-rate thresholds.

It also ships the counter service itself, so a run can be tried locally:

  counterload target --addr :8080 &
  counterload run --stages "30s:20,1m:50,30s:0"`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newTargetCmd())
	root.AddCommand(newStatsCmd())
	root.AddCommand(newHistoryCmd())
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	err := NewRootCmd().Execute()
	code := exitCode(err)
	if err != nil && code != ExitThresholdsFailed {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return code
}

func exitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ExitFailure
}
