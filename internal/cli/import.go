package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/patient-brain/internal/observability"
	"github.com/valter-silva-au/patient-brain/internal/storage"
	"github.com/valter-silva-au/patient-brain/pkg/models"
	"gopkg.in/yaml.v3"
)

var importDB string

var importCmd = &cobra.Command{
	Use:   "import <chart.yaml|chart-dir>...",
	Short: "Import YAML charts into the chart database",
	Long: `Import one or more patient charts into the SQLite chart database.

Each argument is either a chart YAML file or a chart directory laid out as
<dir>/<patient-id>/chart.yaml. Re-importing a patient replaces all of its
records.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath := importDB
		if dbPath == "" {
			dbPath = ChartDBPath
		}
		if dbPath == "" {
			return fmt.Errorf("no chart database configured (set source.sqlite_path or pass --db)")
		}

		charts, err := collectCharts(cmd, args)
		if err != nil {
			return err
		}

		db, err := storage.OpenSQLiteChartSource(dbPath)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		ctx := cmdContext(cmd)
		for _, chart := range charts {
			if err := db.ImportChart(ctx, chart); err != nil {
				return err
			}
			logImport(chart)
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %s (%d labs, %d vitals, %d notes)\n",
				chart.PatientID, len(chart.Labs), len(chart.Vitals), len(chart.Notes))
		}
		return nil
	},
}

// collectCharts loads every chart named by args.
func collectCharts(cmd *cobra.Command, args []string) ([]*models.Chart, error) {
	ctx := cmdContext(cmd)
	var charts []*models.Chart
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", arg, err)
		}
		if !info.IsDir() {
			chart, err := readChartFile(arg)
			if err != nil {
				return nil, err
			}
			charts = append(charts, chart)
			continue
		}
		dir := storage.NewFileChartSource(arg)
		ids, err := dir.Patients(ctx)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			chart, err := dir.LoadChart(ctx, id)
			if err != nil {
				return nil, err
			}
			charts = append(charts, chart)
		}
	}
	return charts, nil
}

// readChartFile decodes a standalone chart file. A chart without a
// patient_id takes the name of its parent directory.
func readChartFile(path string) (*models.Chart, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading chart %s: %w", path, err)
	}
	var chart models.Chart
	if err := yaml.Unmarshal(data, &chart); err != nil {
		return nil, fmt.Errorf("parsing chart %s: %w", path, err)
	}
	if chart.PatientID == "" {
		chart.PatientID = filepath.Base(filepath.Dir(path))
	}
	return &chart, nil
}

func logImport(chart *models.Chart) {
	if EventLog == nil {
		return
	}
	_ = EventLog.Write(observability.Event{
		Time:    time.Now().UTC(),
		Level:   observability.LevelInfo,
		Type:    observability.EventChartImported,
		Message: observability.EventChartImported,
		Data: map[string]any{
			"patient_id": chart.PatientID,
			"labs":       len(chart.Labs),
			"vitals":     len(chart.Vitals),
			"notes":      len(chart.Notes),
		},
	})
}

func init() {
	importCmd.Flags().StringVar(&importDB, "db", "", "Chart database path (defaults to source.sqlite_path)")
	rootCmd.AddCommand(importCmd)
}
