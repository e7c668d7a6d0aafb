package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/valter-silva-au/patient-brain/internal/core"
	"github.com/valter-silva-au/patient-brain/internal/storage"
	"github.com/valter-silva-au/patient-brain/pkg/models"
)

func testChart(now time.Time) *models.Chart {
	return &models.Chart{
		PatientID: "P100",
		Demographics: &models.Demographics{
			MRN: "MRN-100", FirstName: "Rae", LastName: "Okafor",
			DateOfBirth: time.Date(1948, 2, 3, 0, 0, 0, 0, time.UTC), Sex: "M",
		},
		Allergies: []models.Allergy{{Substance: "Sulfa", Reaction: "hives"}},
		Problems: models.ProblemList{
			Active: []models.Problem{
				{ID: "dm2", Name: "Type 2 diabetes mellitus", ICD10: "E11.9"},
				{ID: "htn", Name: "Essential hypertension", ICD10: "I10"},
			},
		},
		Medications: models.MedicationList{
			Active: []models.Medication{{Name: "Metformin", Dose: "1000 mg", Frequency: "BID", Indication: "diabetes"}},
		},
		Labs: []models.LabResult{
			{Name: "Hemoglobin A1c", Value: "8.9", Unit: "%", Flag: "H", CollectedDate: now.AddDate(0, -3, 0)},
			{Name: "Hemoglobin A1c", Value: "7.6", Unit: "%", Flag: "H", CollectedDate: now.AddDate(0, 0, -5)},
		},
		Vitals: []models.VitalSign{
			{Date: now.AddDate(0, 0, -5), Systolic: 148, Diastolic: 88, HeartRate: 72},
		},
	}
}

// setupPatientCLI points the CLI at a chart directory holding one patient
// and restores the previous services when the test ends.
func setupPatientCLI(t *testing.T) *storage.FileChartSource {
	t.Helper()

	origSessions, origDirectory := Sessions, Directory
	t.Cleanup(func() {
		Sessions, Directory = origSessions, origDirectory
		encounterFlag, questionFlag, dictationFlag = "", "", ""
	})

	now := time.Now().UTC()
	source := storage.NewFileChartSource(t.TempDir())
	if err := source.SaveChart(testChart(now)); err != nil {
		t.Fatalf("saving chart: %v", err)
	}

	clock := func() time.Time { return now }
	cfg := models.DefaultGlobalConfig()
	catalog := core.NewPeriodCatalog(core.DefaultPeriods(), clock)
	classifier := core.NewDefaultClassifier()
	builder := core.NewDocumentBuilder(source, catalog, classifier, cfg, nil)
	renderer := core.NewRenderer(catalog, classifier, cfg)
	assembler := core.NewAssembler(renderer, classifier, cfg)
	writer := core.NewMemoryWriter(clock, cfg, nil)

	Sessions = core.NewSessionManager(builder, renderer, assembler, writer, nil)
	Directory = source
	return source
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	err := Execute()
	return stdout.String(), stderr.String(), err
}

func TestRenderCmd(t *testing.T) {
	setupPatientCLI(t)

	out, stderr, err := runCLI(t, "render", "P100")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"# Patient: Rae Okafor", "Sulfa", "## Problem Matrix", "Hemoglobin A1c", "## Vitals", "Metformin"} {
		if !strings.Contains(out, want) {
			t.Errorf("render output missing %q", want)
		}
	}
	if strings.Contains(stderr, "sources unavailable") {
		t.Errorf("expected no unavailable sources, got %q", stderr)
	}
}

func TestRenderCmd_UnknownPatient(t *testing.T) {
	setupPatientCLI(t)

	_, _, err := runCLI(t, "render", "P999")
	if err == nil {
		t.Fatal("expected error for unknown patient")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRenderCmd_NoSessions(t *testing.T) {
	origSessions := Sessions
	defer func() { Sessions = origSessions }()
	Sessions = nil

	_, _, err := runCLI(t, "render", "P100")
	if err == nil || !strings.Contains(err.Error(), "not initialized") {
		t.Fatalf("expected not initialized error, got %v", err)
	}
}

func TestAssembleCmd_Ask(t *testing.T) {
	setupPatientCLI(t)

	out, stderr, err := runCLI(t, "assemble", "P100", "ask", "--question", "how is the a1c trending?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "## Lab Trends") {
		t.Errorf("expected lab trends in ask output, got:\n%s", out)
	}
	if !strings.Contains(out, "Sulfa") {
		t.Error("expected allergies in ask output")
	}
	if !strings.Contains(stderr, "budget") {
		t.Errorf("expected size report on stderr, got %q", stderr)
	}
}

func TestAssembleCmd_WriteNoteAlias(t *testing.T) {
	setupPatientCLI(t)

	out, _, err := runCLI(t, "assemble", "P100", "write-note")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "## Medications") {
		t.Error("expected full document for write-note")
	}
}

func TestAssembleCmd_UnknownTier(t *testing.T) {
	setupPatientCLI(t)

	_, _, err := runCLI(t, "assemble", "P100", "chat")
	if err == nil {
		t.Fatal("expected error for unknown tier")
	}
}

func TestTrendCmd(t *testing.T) {
	setupPatientCLI(t)

	out, _, err := runCLI(t, "trend", "P100", "hemoglobin a1c")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Hemoglobin A1c") || !strings.Contains(out, "7.6") {
		t.Errorf("unexpected trend output:\n%s", out)
	}
}

func TestTrendCmd_NoResults(t *testing.T) {
	setupPatientCLI(t)

	_, _, err := runCLI(t, "trend", "P100", "Troponin")
	if err == nil || !strings.Contains(err.Error(), "no results") {
		t.Fatalf("expected no results error, got %v", err)
	}
}

func TestPatientsCmd(t *testing.T) {
	setupPatientCLI(t)

	out, _, err := runCLI(t, "patients")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(out) != "P100" {
		t.Errorf("expected P100, got %q", out)
	}
}
