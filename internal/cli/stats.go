package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

const defaultStatsWindow = time.Hour

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats ID",
		Short: "Query how many clicks a counter received in a time range",
		Long: `Stats asks the counter service for the clicks recorded on one counter
between --from and --to (RFC 3339). Without flags the last hour is queried.`,
		Example: `  counterload stats 42
  counterload stats 42 --from 2024-05-01T10:00:00Z --to 2024-05-01T11:30:00Z
  counterload stats 42 --target-url http://svc:8080 --json`,
		Args: cobra.ExactArgs(1),
		RunE: runStats,
	}

	cmd.Flags().String("target-url", "http://localhost:8080", "Counter service base URL")
	cmd.Flags().String("from", "", "Range start, RFC 3339 (default: --to minus 1h)")
	cmd.Flags().String("to", "", "Range end, RFC 3339 (default: now)")
	cmd.Flags().Duration("timeout", 10*time.Second, "Request timeout")
	cmd.Flags().Bool("json", false, "Print the raw response body")

	return cmd
}

func runStats(cmd *cobra.Command, args []string) error {
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid counter id %q", args[0])
	}

	baseURL, _ := cmd.Flags().GetString("target-url")
	fromRaw, _ := cmd.Flags().GetString("from")
	toRaw, _ := cmd.Flags().GetString("to")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	raw, _ := cmd.Flags().GetBool("json")

	from, to, err := statsWindow(fromRaw, toRaw, time.Now())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	status, body, err := fetchStats(ctx, baseURL, id, from, to)
	if err != nil {
		return err
	}

	if raw {
		fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(body)))
		if status != http.StatusOK {
			return fmt.Errorf("stats request failed with status %d", status)
		}
		return nil
	}

	if status != http.StatusOK {
		msg := gjson.GetBytes(body, "error").String()
		if msg == "" {
			msg = http.StatusText(status)
		}
		return fmt.Errorf("stats request failed: %s (status %d)", msg, status)
	}

	counts := gjson.GetBytes(body, "Counts")
	if !counts.Exists() {
		return fmt.Errorf("unexpected stats response: %s", strings.TrimSpace(string(body)))
	}

	fmt.Fprintf(cmd.OutOrStdout(), "counter %d: %d clicks between %s and %s\n",
		id, counts.Int(),
		gjson.GetBytes(body, "tsFrom").String(),
		gjson.GetBytes(body, "tsTo").String())
	return nil
}

// statsWindow resolves the --from/--to flags against now.
func statsWindow(fromRaw, toRaw string, now time.Time) (time.Time, time.Time, error) {
	to := now.UTC().Truncate(time.Second)
	if toRaw != "" {
		t, err := time.Parse(time.RFC3339, toRaw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to: %w", err)
		}
		to = t
	}

	from := to.Add(-defaultStatsWindow)
	if fromRaw != "" {
		t, err := time.Parse(time.RFC3339, fromRaw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from: %w", err)
		}
		from = t
	}
	return from, to, nil
}

// fetchStats issues GET /stats/{id} with the range in a JSON body, the way
// the counter service expects it.
func fetchStats(ctx context.Context, baseURL string, id int, from, to time.Time) (int, []byte, error) {
	payload, err := json.Marshal(map[string]string{
		"tsFrom": from.Format(time.RFC3339),
		"tsTo":   to.Format(time.RFC3339),
	})
	if err != nil {
		return 0, nil, err
	}

	url := fmt.Sprintf("%s/stats/%d", strings.TrimRight(baseURL, "/"), id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("stats request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, body, nil
}
