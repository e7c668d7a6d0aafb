package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestFileChartSource_SaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	src := NewFileChartSource(dir)

	if err := src.SaveChart(testChart("P100")); err != nil {
		t.Fatalf("SaveChart: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "P100", ChartFileName)); err != nil {
		t.Fatalf("expected chart file: %v", err)
	}
	if _, err := os.Stat(src.ChartPath("P100") + ".lock"); err != nil {
		t.Errorf("expected lock file next to the chart: %v", err)
	}
	if _, err := os.Stat(src.ChartPath("P100") + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file should be renamed away")
	}

	got, err := src.LoadChart(context.Background(), "P100")
	if err != nil {
		t.Fatalf("LoadChart: %v", err)
	}
	assertChartSections(t, got)
	if len(got.Notes) != 2 || got.Notes[1].Content == "" {
		t.Errorf("expected full notes from LoadChart, got %+v", got.Notes)
	}
}

func TestFileChartSource_SectionReaders(t *testing.T) {
	src := NewFileChartSource(t.TempDir())
	if err := src.SaveChart(testChart("P100")); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	labs, err := src.Labs(ctx, "P100")
	if err != nil || len(labs) != 1 {
		t.Errorf("Labs = %+v, %v", labs, err)
	}
	notes, err := src.NotesIndex(ctx, "P100")
	if err != nil || len(notes) != 2 {
		t.Fatalf("NotesIndex = %+v, %v", notes, err)
	}
	for _, n := range notes {
		if n.Content != "" {
			t.Errorf("index should strip content, got %q", n.Content)
		}
	}
	content, err := src.NoteContent(ctx, "P100", "new")
	if err != nil || content != "COPD exacerbation, started prednisone." {
		t.Errorf("NoteContent = %q, %v", content, err)
	}
	if _, err := src.NoteContent(ctx, "P100", "missing"); err == nil {
		t.Error("expected error for unknown note")
	}
}

func TestFileChartSource_MissingPatient(t *testing.T) {
	src := NewFileChartSource(t.TempDir())
	_, err := src.Demographics(context.Background(), "P404")
	if !errors.Is(err, ErrPatientNotFound) {
		t.Errorf("expected ErrPatientNotFound, got %v", err)
	}
}

func TestFileChartSource_InvalidPatientID(t *testing.T) {
	src := NewFileChartSource(t.TempDir())
	for _, id := range []string{"", ".", "..", "../etc", `a\b`} {
		if _, err := src.LoadChart(context.Background(), id); err == nil {
			t.Errorf("expected error for id %q", id)
		}
	}
	chart := testChart("../escape")
	if err := src.SaveChart(chart); err == nil {
		t.Error("expected SaveChart to reject a path-like id")
	}
}

func TestFileChartSource_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "P1"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "P1", ChartFileName), []byte("labs: [unclosed\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := NewFileChartSource(dir).LoadChart(context.Background(), "P1")
	if err == nil || errors.Is(err, ErrPatientNotFound) {
		t.Errorf("expected parse error, got %v", err)
	}
}

func TestFileChartSource_CancelledContext(t *testing.T) {
	src := NewFileChartSource(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.LoadChart(ctx, "P100"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestFileChartSource_Patients(t *testing.T) {
	dir := t.TempDir()
	src := NewFileChartSource(dir)

	ids, err := src.Patients(context.Background())
	if err != nil || len(ids) != 0 {
		t.Fatalf("expected no patients, got %v, %v", ids, err)
	}

	for _, id := range []string{"P3", "P1", "P2"} {
		if err := src.SaveChart(testChart(id)); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.MkdirAll(filepath.Join(dir, "empty"), 0o755); err != nil {
		t.Fatal(err)
	}

	ids, err = src.Patients(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 || ids[0] != "P1" || ids[2] != "P3" {
		t.Errorf("Patients = %v, want sorted [P1 P2 P3]", ids)
	}

	missing := NewFileChartSource(filepath.Join(dir, "does-not-exist"))
	if ids, err := missing.Patients(context.Background()); err != nil || len(ids) != 0 {
		t.Errorf("expected empty list for missing dir, got %v, %v", ids, err)
	}
}

func TestFileChartSource_ConcurrentSaves(t *testing.T) {
	src := NewFileChartSource(t.TempDir())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := src.SaveChart(testChart("P100")); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	got, err := src.LoadChart(context.Background(), "P100")
	if err != nil {
		t.Fatalf("chart unreadable after concurrent saves: %v", err)
	}
	assertChartSections(t, got)
}
