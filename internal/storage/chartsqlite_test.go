package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/valter-silva-au/patient-brain/pkg/models"
)

// newTestSQLiteSource opens a chart database in a temp directory.
func newTestSQLiteSource(t *testing.T) *SQLiteChartSource {
	t.Helper()
	s, err := OpenSQLiteChartSource(filepath.Join(t.TempDir(), "data", "charts.db"))
	if err != nil {
		t.Fatalf("failed to open chart db: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// loadAll reads every section of patientID back into a chart.
func loadAll(t *testing.T, s *SQLiteChartSource, patientID string) *models.Chart {
	t.Helper()
	ctx := context.Background()
	c := &models.Chart{PatientID: patientID}
	var err error
	if c.Demographics, err = s.Demographics(ctx, patientID); err != nil {
		t.Fatalf("Demographics: %v", err)
	}
	if c.SocialHistory, err = s.SocialHistory(ctx, patientID); err != nil {
		t.Fatalf("SocialHistory: %v", err)
	}
	if c.Allergies, err = s.Allergies(ctx, patientID); err != nil {
		t.Fatalf("Allergies: %v", err)
	}
	if c.Problems, err = s.Problems(ctx, patientID); err != nil {
		t.Fatalf("Problems: %v", err)
	}
	if c.Medications, err = s.Medications(ctx, patientID); err != nil {
		t.Fatalf("Medications: %v", err)
	}
	if c.Vitals, err = s.Vitals(ctx, patientID); err != nil {
		t.Fatalf("Vitals: %v", err)
	}
	if c.Labs, err = s.Labs(ctx, patientID); err != nil {
		t.Fatalf("Labs: %v", err)
	}
	if c.Encounters, err = s.Encounters(ctx, patientID); err != nil {
		t.Fatalf("Encounters: %v", err)
	}
	if c.Imaging, err = s.Imaging(ctx, patientID); err != nil {
		t.Fatalf("Imaging: %v", err)
	}
	if c.Procedures, err = s.Procedures(ctx, patientID); err != nil {
		t.Fatalf("Procedures: %v", err)
	}
	if c.FamilyHistory, err = s.FamilyHistory(ctx, patientID); err != nil {
		t.Fatalf("FamilyHistory: %v", err)
	}
	if c.Notes, err = s.NotesIndex(ctx, patientID); err != nil {
		t.Fatalf("NotesIndex: %v", err)
	}
	return c
}

func TestOpenSQLiteChartSource_CreatesDBFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "charts.db")
	s, err := OpenSQLiteChartSource(path)
	if err != nil {
		t.Fatalf("OpenSQLiteChartSource: %v", err)
	}
	defer s.Close()
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected database file: %v", err)
	}
}

func TestOpenSQLiteChartSource_IdempotentReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "charts.db")
	s, err := OpenSQLiteChartSource(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.ImportChart(context.Background(), testChart("P1")); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s2, err := OpenSQLiteChartSource(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	ids, err := s2.Patients(context.Background())
	if err != nil || len(ids) != 1 || ids[0] != "P1" {
		t.Errorf("Patients after reopen = %v, %v", ids, err)
	}
}

func TestOpenSQLiteChartSource_OpenError(t *testing.T) {
	orig := openDB
	t.Cleanup(func() { openDB = orig })
	openDB = func(string, string) (*sql.DB, error) {
		return nil, errors.New("driver unavailable")
	}

	if _, err := OpenSQLiteChartSource(filepath.Join(t.TempDir(), "charts.db")); err == nil {
		t.Fatal("expected open error")
	}
}

func TestSQLiteChartSource_ImportRoundTrip(t *testing.T) {
	s := newTestSQLiteSource(t)
	if err := s.ImportChart(context.Background(), testChart("P100")); err != nil {
		t.Fatalf("ImportChart: %v", err)
	}

	r := loadAll(t, s, "P100")
	assertChartSections(t, r)

	notes := r.Notes
	if len(notes) != 2 || notes[0].ID != "new" || notes[0].Content != "" {
		t.Errorf("expected content-free notes most recent first, got %+v", notes)
	}
	if !notes[0].Date.Equal(chartDay) || notes[0].Author != "Dr. Ito" {
		t.Errorf("unexpected note metadata %+v", notes[0])
	}
	content, err := s.NoteContent(context.Background(), "P100", "old")
	if err != nil || content != "COPD stable." {
		t.Errorf("NoteContent = %q, %v", content, err)
	}
}

func TestSQLiteChartSource_ReimportReplaces(t *testing.T) {
	s := newTestSQLiteSource(t)
	ctx := context.Background()
	if err := s.ImportChart(ctx, testChart("P100")); err != nil {
		t.Fatal(err)
	}

	updated := testChart("P100")
	updated.Labs = nil
	updated.Notes = updated.Notes[:1]
	if err := s.ImportChart(ctx, updated); err != nil {
		t.Fatalf("re-import: %v", err)
	}

	labs, err := s.Labs(ctx, "P100")
	if err != nil || len(labs) != 0 {
		t.Errorf("expected labs replaced, got %+v, %v", labs, err)
	}
	notes, err := s.NotesIndex(ctx, "P100")
	if err != nil || len(notes) != 1 {
		t.Errorf("expected one note after re-import, got %+v, %v", notes, err)
	}
}

func TestSQLiteChartSource_MissingPatient(t *testing.T) {
	s := newTestSQLiteSource(t)
	ctx := context.Background()

	if _, err := s.Demographics(ctx, "P404"); !errors.Is(err, ErrPatientNotFound) {
		t.Errorf("expected ErrPatientNotFound, got %v", err)
	}
	if _, err := s.NoteContent(ctx, "P404", "n1"); err == nil {
		t.Error("expected error for missing note")
	}
	if _, err := s.Labs(ctx, "P404"); !errors.Is(err, ErrPatientNotFound) {
		t.Errorf("expected ErrPatientNotFound for labs, got %v", err)
	}
	if _, err := s.Allergies(ctx, "P404"); !errors.Is(err, ErrPatientNotFound) {
		t.Errorf("expected ErrPatientNotFound for allergies, got %v", err)
	}
	if _, err := s.NotesIndex(ctx, "P404"); !errors.Is(err, ErrPatientNotFound) {
		t.Errorf("expected ErrPatientNotFound for notes, got %v", err)
	}
}

func TestSQLiteChartSource_ImportedPatientWithoutRecords(t *testing.T) {
	s := newTestSQLiteSource(t)
	ctx := context.Background()
	if err := s.ImportChart(ctx, &models.Chart{PatientID: "P3"}); err != nil {
		t.Fatal(err)
	}
	allergies, err := s.Allergies(ctx, "P3")
	if err != nil || len(allergies) != 0 {
		t.Errorf("expected empty allergies for an imported patient, got %+v, %v", allergies, err)
	}
}

func TestSQLiteChartSource_NotesSameSecondOrder(t *testing.T) {
	s := newTestSQLiteSource(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	chart := &models.Chart{PatientID: "P4", Notes: []models.Note{
		{ID: "whole", Date: base, Title: "on the second"},
		{ID: "half", Date: base.Add(500 * time.Millisecond), Title: "half a second later"},
		{ID: "earlier", Date: base.Add(-time.Second), Title: "a second before"},
	}}
	if err := s.ImportChart(ctx, chart); err != nil {
		t.Fatal(err)
	}

	notes, err := s.NotesIndex(ctx, "P4")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"half", "whole", "earlier"}
	if len(notes) != len(want) {
		t.Fatalf("expected %d notes, got %d", len(want), len(notes))
	}
	for i, id := range want {
		if notes[i].ID != id {
			t.Errorf("note %d = %s, want %s", i, notes[i].ID, id)
		}
	}
	if !notes[0].Date.Equal(base.Add(500 * time.Millisecond)) {
		t.Errorf("expected sub-second date to round-trip, got %s", notes[0].Date)
	}
}

func TestSQLiteChartSource_ImportRejectsInvalidID(t *testing.T) {
	s := newTestSQLiteSource(t)
	if err := s.ImportChart(context.Background(), testChart("a/b")); err == nil {
		t.Error("expected error for invalid patient id")
	}
}

func TestSQLiteChartSource_NilOptionalBlocks(t *testing.T) {
	s := newTestSQLiteSource(t)
	chart := testChart("P2")
	chart.Demographics = nil
	chart.SocialHistory = nil
	if err := s.ImportChart(context.Background(), chart); err != nil {
		t.Fatal(err)
	}
	demo, err := s.Demographics(context.Background(), "P2")
	if err != nil || demo != nil {
		t.Errorf("expected nil demographics without error, got %+v, %v", demo, err)
	}
}
