package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/patient-brain/internal/observability"
)

var (
	metricsJSON    bool
	metricsSince   string
	metricsPatient string
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Display document and context assembly metrics",
	Long: `Display aggregated metrics derived from the event log.

Metrics include document builds and refreshes, records merged, source
failures by source, and context assemblies by tier with their average size.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if MetricsCalc == nil {
			return fmt.Errorf("metrics calculator not initialized (observability may be disabled)")
		}

		sinceTime, err := parseSinceDuration(metricsSince)
		if err != nil {
			return fmt.Errorf("parsing --since: %w", err)
		}

		var metrics *observability.Metrics
		if metricsPatient != "" {
			metrics, err = MetricsCalc.CalculateForPatient(metricsPatient, sinceTime)
		} else {
			metrics, err = MetricsCalc.Calculate(sinceTime)
		}
		if err != nil {
			return fmt.Errorf("calculating metrics: %w", err)
		}

		out := cmd.OutOrStdout()
		if metricsJSON {
			data, err := json.MarshalIndent(metrics, "", "  ")
			if err != nil {
				return fmt.Errorf("formatting metrics as JSON: %w", err)
			}
			fmt.Fprintln(out, string(data))
			return nil
		}

		fmt.Fprintf(out, "Metrics (since %s)\n\n", sinceTime.Format("2006-01-02"))
		fmt.Fprintf(out, "  %-24s %d\n", "Events recorded:", metrics.EventCount)
		fmt.Fprintf(out, "  %-24s %d\n", "Patients:", metrics.Patients)
		fmt.Fprintf(out, "  %-24s %d\n", "Documents built:", metrics.DocumentsBuilt)
		fmt.Fprintf(out, "  %-24s %d\n", "Refreshes:", metrics.Refreshes)
		fmt.Fprintf(out, "  %-24s %d\n", "Rebuilds:", metrics.Rebuilds)
		fmt.Fprintf(out, "  %-24s %d\n", "Records merged:", metrics.RecordsMerged)
		fmt.Fprintf(out, "  %-24s %d\n", "Source failures:", metrics.SourceFailures)
		fmt.Fprintf(out, "  %-24s %d\n", "Assemblies:", metrics.Assemblies)
		fmt.Fprintf(out, "  %-24s %d\n", "Over budget:", metrics.OverBudget)
		fmt.Fprintf(out, "  %-24s %d\n", "Memory writes:", metrics.MemoryWrites)
		fmt.Fprintf(out, "  %-24s %d\n", "Charts imported:", metrics.ChartsImported)

		printCounts(out, "Failures by source:", metrics.FailuresBySource)
		printCounts(out, "Assemblies by tier:", metrics.AssembliesByTier)
		printCounts(out, "Average chars by tier:", metrics.AverageCharsByTier)

		if metrics.OldestEvent != nil {
			fmt.Fprintf(out, "\n  %-24s %s\n", "Oldest event:", metrics.OldestEvent.Format(time.RFC3339))
		}
		if metrics.NewestEvent != nil {
			fmt.Fprintf(out, "  %-24s %s\n", "Newest event:", metrics.NewestEvent.Format(time.RFC3339))
		}

		return nil
	},
}

func printCounts(out io.Writer, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(out, "\n  %s\n", title)
	for _, k := range keys {
		fmt.Fprintf(out, "    %-20s %d\n", k+":", counts[k])
	}
}

// parseSinceDuration parses a human-friendly duration string like "7d", "30d",
// or "24h" and returns the corresponding time in the past.
func parseSinceDuration(s string) (time.Time, error) {
	now := time.Now().UTC()
	s = strings.TrimSpace(s)
	if s == "" {
		return now.AddDate(0, 0, -7), nil
	}

	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid day duration %q", s)
		}
		return now.AddDate(0, 0, -days), nil
	}

	if strings.HasSuffix(s, "h") {
		hours, err := strconv.Atoi(strings.TrimSuffix(s, "h"))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid hour duration %q", s)
		}
		return now.Add(-time.Duration(hours) * time.Hour), nil
	}

	return time.Time{}, fmt.Errorf("unsupported duration format %q (use e.g. 7d, 30d, 24h)", s)
}

func init() {
	metricsCmd.Flags().BoolVar(&metricsJSON, "json", false, "Output metrics as JSON")
	metricsCmd.Flags().StringVar(&metricsSince, "since", "7d", "Time window for metrics (e.g. 7d, 30d, 24h)")
	metricsCmd.Flags().StringVar(&metricsPatient, "patient", "", "Restrict metrics to one patient")
	rootCmd.AddCommand(metricsCmd)
}
