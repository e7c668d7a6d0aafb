package cli

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/valter-silva-au/patient-brain/internal/observability"
	"github.com/valter-silva-au/patient-brain/internal/storage"
	"gopkg.in/yaml.v3"
)

func TestImportCmd_Directory(t *testing.T) {
	origDB, origLog := ChartDBPath, EventLog
	defer func() { ChartDBPath, EventLog = origDB, origLog }()

	dir := t.TempDir()
	charts := storage.NewFileChartSource(filepath.Join(dir, "charts"))
	if err := charts.SaveChart(testChart(time.Now().UTC())); err != nil {
		t.Fatalf("saving chart: %v", err)
	}

	log, err := observability.NewJSONLEventLog(filepath.Join(dir, "events.jsonl"))
	if err != nil {
		t.Fatalf("opening event log: %v", err)
	}
	defer log.Close()
	EventLog = log
	ChartDBPath = filepath.Join(dir, "charts.db")

	out, _, err := runCLI(t, "import", filepath.Join(dir, "charts"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Imported P100 (2 labs, 1 vitals, 0 notes)") {
		t.Errorf("unexpected output: %q", out)
	}

	db, err := storage.OpenSQLiteChartSource(ChartDBPath)
	if err != nil {
		t.Fatalf("opening chart db: %v", err)
	}
	defer db.Close()

	labs, err := db.Labs(context.Background(), "P100")
	if err != nil {
		t.Fatalf("reading labs: %v", err)
	}
	if len(labs) != 2 {
		t.Errorf("expected 2 imported labs, got %d", len(labs))
	}

	events, err := log.Read(observability.EventFilter{Type: observability.EventChartImported})
	if err != nil {
		t.Fatalf("reading events: %v", err)
	}
	if len(events) != 1 || events[0].PatientID() != "P100" {
		t.Errorf("expected one chart.imported event for P100, got %+v", events)
	}
}

func TestImportCmd_FileWithoutPatientID(t *testing.T) {
	origDB, origLog := ChartDBPath, EventLog
	defer func() { ChartDBPath, EventLog = origDB, origLog }()
	EventLog = nil

	dir := t.TempDir()
	chart := testChart(time.Now().UTC())
	chart.PatientID = ""
	data, err := yaml.Marshal(chart)
	if err != nil {
		t.Fatalf("marshalling chart: %v", err)
	}
	path := filepath.Join(dir, "P200", "chart.yaml")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	out, _, err := runCLI(t, "import", path, "--db", filepath.Join(dir, "charts.db"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Imported P200") {
		t.Errorf("expected patient ID from directory name, got %q", out)
	}
	importDB = ""
}

func TestImportCmd_NoDatabase(t *testing.T) {
	origDB := ChartDBPath
	defer func() { ChartDBPath = origDB }()
	ChartDBPath = ""
	importDB = ""

	_, _, err := runCLI(t, "import", t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "no chart database") {
		t.Fatalf("expected no chart database error, got %v", err)
	}
}

func TestImportCmd_MissingPath(t *testing.T) {
	origDB := ChartDBPath
	defer func() { ChartDBPath = origDB }()
	ChartDBPath = filepath.Join(t.TempDir(), "charts.db")

	_, _, err := runCLI(t, "import", filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing chart file")
	}
}
