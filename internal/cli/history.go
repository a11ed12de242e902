package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/counterload/internal/engine"
	"github.com/wesleyorama2/counterload/internal/history"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List runs saved with run --save",
		Example: `  counterload history
  counterload history --limit 5
  counterload history show 3f1c2d6e`,
		Args: cobra.NoArgs,
		RunE: runHistoryList,
	}
	cmd.PersistentFlags().String("history-db", "", "History file (default ~/.counterload/history.db)")
	cmd.Flags().Int("limit", 20, "Maximum number of runs to list, 0 for all")

	show := &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Print one saved run as JSON (an id prefix is enough)",
		Args:  cobra.ExactArgs(1),
		RunE:  runHistoryShow,
	}
	cmd.AddCommand(show)

	return cmd
}

func openHistory(cmd *cobra.Command) (*history.Store, error) {
	path, _ := cmd.Flags().GetString("history-db")
	if path == "" {
		p, err := history.DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("failed to locate history file: %w", err)
		}
		path = p
	}
	return history.Open(path)
}

// saveHistory appends result to the history file named by --history-db.
func saveHistory(cmd *cobra.Command, result *engine.TestResult) error {
	store, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Save(history.FromResult(result)); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")

	store, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.List(limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No saved runs.")
		return nil
	}

	printHistory(cmd.OutOrStdout(), records)
	return nil
}

func printHistory(w io.Writer, records []history.Record) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tSTARTED\tDURATION\tREQUESTS\tERRORS\tP95\tRESULT")
	for _, r := range records {
		status := "passed"
		switch {
		case !r.Passed:
			status = "failed"
		case r.Aborted:
			status = "aborted"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.2f%%\t%s\t%s\n",
			shortID(r.ID),
			r.StartTime.Local().Format(time.DateTime),
			r.Duration.Round(time.Second),
			r.TotalRequests,
			r.ErrorRate*100,
			r.P95.Round(time.Microsecond),
			status)
	}
	tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	store, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := store.Get(args[0])
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}
