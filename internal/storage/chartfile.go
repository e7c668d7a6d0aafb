package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/valter-silva-au/patient-brain/pkg/models"
	"gopkg.in/yaml.v3"
)

// ChartFileName is the file holding one patient's chart under the chart
// directory.
const ChartFileName = "chart.yaml"

// ErrPatientNotFound is returned when a source has no chart for a patient.
var ErrPatientNotFound = errors.New("patient not found")

// FileChartSource reads charts from <dir>/<patientID>/chart.yaml. The file
// is re-read on every call so that refreshes see edits.
type FileChartSource struct {
	dir string
}

// NewFileChartSource creates a FileChartSource rooted at dir.
func NewFileChartSource(dir string) *FileChartSource {
	return &FileChartSource{dir: dir}
}

func validPatientID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid patient id %q", id)
	}
	return nil
}

// ChartPath returns the chart file path for patientID.
func (s *FileChartSource) ChartPath(patientID string) string {
	return filepath.Join(s.dir, patientID, ChartFileName)
}

// LoadChart reads and decodes the chart of patientID.
func (s *FileChartSource) LoadChart(ctx context.Context, patientID string) (*models.Chart, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validPatientID(patientID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.ChartPath(patientID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("loading chart %s: %w", patientID, ErrPatientNotFound)
		}
		return nil, fmt.Errorf("loading chart %s: %w", patientID, err)
	}
	var chart models.Chart
	if err := yaml.Unmarshal(data, &chart); err != nil {
		return nil, fmt.Errorf("parsing chart %s: %w", patientID, err)
	}
	if chart.PatientID == "" {
		chart.PatientID = patientID
	}
	return &chart, nil
}

// SaveChart writes chart to its chart file, creating the patient directory.
func (s *FileChartSource) SaveChart(chart *models.Chart) error {
	if err := validPatientID(chart.PatientID); err != nil {
		return err
	}
	data, err := yaml.Marshal(chart)
	if err != nil {
		return fmt.Errorf("marshalling chart %s: %w", chart.PatientID, err)
	}
	path := s.ChartPath(chart.PatientID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("saving chart %s: creating directory: %w", chart.PatientID, err)
	}
	unlock, err := lockChart(path)
	if err != nil {
		return fmt.Errorf("saving chart %s: %w", chart.PatientID, err)
	}
	defer unlock()

	// Write to a temp file and rename so readers never see a partial chart.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("saving chart %s: %w", chart.PatientID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("saving chart %s: %w", chart.PatientID, err)
	}
	return nil
}

// Patients lists the patient IDs that have a chart file, sorted.
func (s *FileChartSource) Patients(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("listing charts: %w", err)
	}
	ids := []string{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.dir, e.Name(), ChartFileName)); err == nil {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *FileChartSource) Demographics(ctx context.Context, patientID string) (*models.Demographics, error) {
	c, err := s.LoadChart(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return c.Demographics, nil
}

func (s *FileChartSource) Allergies(ctx context.Context, patientID string) ([]models.Allergy, error) {
	c, err := s.LoadChart(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return c.Allergies, nil
}

func (s *FileChartSource) Problems(ctx context.Context, patientID string) (models.ProblemList, error) {
	c, err := s.LoadChart(ctx, patientID)
	if err != nil {
		return models.ProblemList{}, err
	}
	return c.Problems, nil
}

func (s *FileChartSource) Medications(ctx context.Context, patientID string) (models.MedicationList, error) {
	c, err := s.LoadChart(ctx, patientID)
	if err != nil {
		return models.MedicationList{}, err
	}
	return c.Medications, nil
}

func (s *FileChartSource) Vitals(ctx context.Context, patientID string) ([]models.VitalSign, error) {
	c, err := s.LoadChart(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return c.Vitals, nil
}

func (s *FileChartSource) Labs(ctx context.Context, patientID string) ([]models.LabResult, error) {
	c, err := s.LoadChart(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return c.Labs, nil
}

// NotesIndex returns note metadata without content.
func (s *FileChartSource) NotesIndex(ctx context.Context, patientID string) ([]models.Note, error) {
	c, err := s.LoadChart(ctx, patientID)
	if err != nil {
		return nil, err
	}
	out := make([]models.Note, len(c.Notes))
	for i, n := range c.Notes {
		n.Content = ""
		out[i] = n
	}
	return out, nil
}

// NoteContent returns the full text of one note.
func (s *FileChartSource) NoteContent(ctx context.Context, patientID, noteID string) (string, error) {
	c, err := s.LoadChart(ctx, patientID)
	if err != nil {
		return "", err
	}
	for _, n := range c.Notes {
		if n.ID == noteID {
			return n.Content, nil
		}
	}
	return "", fmt.Errorf("note %s not found for patient %s", noteID, patientID)
}

func (s *FileChartSource) Encounters(ctx context.Context, patientID string) ([]models.Encounter, error) {
	c, err := s.LoadChart(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return c.Encounters, nil
}

func (s *FileChartSource) Imaging(ctx context.Context, patientID string) ([]models.ImagingStudy, error) {
	c, err := s.LoadChart(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return c.Imaging, nil
}

func (s *FileChartSource) Procedures(ctx context.Context, patientID string) ([]models.Procedure, error) {
	c, err := s.LoadChart(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return c.Procedures, nil
}

func (s *FileChartSource) SocialHistory(ctx context.Context, patientID string) (*models.SocialHistory, error) {
	c, err := s.LoadChart(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return c.SocialHistory, nil
}

func (s *FileChartSource) FamilyHistory(ctx context.Context, patientID string) ([]models.FamilyHistoryEntry, error) {
	c, err := s.LoadChart(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return c.FamilyHistory, nil
}
