package core

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/valter-silva-au/patient-brain/pkg/models"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

// testClock is a settable clock shared by every service of one engine.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeSource serves one in-memory chart. Sources named in fail return an
// error; sources named in panics panic.
type fakeSource struct {
	mu     sync.Mutex
	chart  *models.Chart
	fail   map[string]bool
	panics map[string]bool
	calls  map[string]int
}

func newFakeSource(chart *models.Chart) *fakeSource {
	return &fakeSource{
		chart:  chart,
		fail:   map[string]bool{},
		panics: map[string]bool{},
		calls:  map[string]int{},
	}
}

func (f *fakeSource) check(name, patientID string) error {
	f.mu.Lock()
	f.calls[name]++
	fail, boom := f.fail[name], f.panics[name]
	f.mu.Unlock()
	if boom {
		panic("source exploded: " + name)
	}
	if fail {
		return fmt.Errorf("%s unavailable", name)
	}
	if f.chart == nil || f.chart.PatientID != patientID {
		return fmt.Errorf("patient %s not found", patientID)
	}
	return nil
}

func (f *fakeSource) Demographics(_ context.Context, id string) (*models.Demographics, error) {
	if err := f.check(SourceDemographics, id); err != nil {
		return nil, err
	}
	return f.chart.Demographics, nil
}

func (f *fakeSource) Allergies(_ context.Context, id string) ([]models.Allergy, error) {
	if err := f.check(SourceAllergies, id); err != nil {
		return nil, err
	}
	return f.chart.Allergies, nil
}

func (f *fakeSource) Problems(_ context.Context, id string) (models.ProblemList, error) {
	if err := f.check(SourceProblems, id); err != nil {
		return models.ProblemList{}, err
	}
	return f.chart.Problems, nil
}

func (f *fakeSource) Medications(_ context.Context, id string) (models.MedicationList, error) {
	if err := f.check(SourceMedications, id); err != nil {
		return models.MedicationList{}, err
	}
	return f.chart.Medications, nil
}

func (f *fakeSource) Vitals(_ context.Context, id string) ([]models.VitalSign, error) {
	if err := f.check(SourceVitals, id); err != nil {
		return nil, err
	}
	return append([]models.VitalSign(nil), f.chart.Vitals...), nil
}

func (f *fakeSource) Labs(_ context.Context, id string) ([]models.LabResult, error) {
	if err := f.check(SourceLabs, id); err != nil {
		return nil, err
	}
	return append([]models.LabResult(nil), f.chart.Labs...), nil
}

func (f *fakeSource) NotesIndex(_ context.Context, id string) ([]models.Note, error) {
	if err := f.check(SourceNotes, id); err != nil {
		return nil, err
	}
	out := make([]models.Note, len(f.chart.Notes))
	for i, n := range f.chart.Notes {
		n.Content = ""
		out[i] = n
	}
	return out, nil
}

func (f *fakeSource) NoteContent(_ context.Context, id, noteID string) (string, error) {
	if err := f.check(SourceNoteContent, id); err != nil {
		return "", err
	}
	for _, n := range f.chart.Notes {
		if n.ID == noteID {
			return n.Content, nil
		}
	}
	return "", fmt.Errorf("note %s not found", noteID)
}

func (f *fakeSource) Encounters(_ context.Context, id string) ([]models.Encounter, error) {
	if err := f.check(SourceEncounters, id); err != nil {
		return nil, err
	}
	return f.chart.Encounters, nil
}

func (f *fakeSource) Imaging(_ context.Context, id string) ([]models.ImagingStudy, error) {
	if err := f.check(SourceImaging, id); err != nil {
		return nil, err
	}
	return f.chart.Imaging, nil
}

func (f *fakeSource) Procedures(_ context.Context, id string) ([]models.Procedure, error) {
	if err := f.check(SourceProcedures, id); err != nil {
		return nil, err
	}
	return f.chart.Procedures, nil
}

func (f *fakeSource) SocialHistory(_ context.Context, id string) (*models.SocialHistory, error) {
	if err := f.check(SourceSocialHistory, id); err != nil {
		return nil, err
	}
	return f.chart.SocialHistory, nil
}

func (f *fakeSource) FamilyHistory(_ context.Context, id string) ([]models.FamilyHistoryEntry, error) {
	if err := f.check(SourceFamilyHistory, id); err != nil {
		return nil, err
	}
	return f.chart.FamilyHistory, nil
}

// recordingEvents captures logged events.
type recordingEvents struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	Type string
	Data map[string]any
}

func (r *recordingEvents) LogEvent(eventType string, data map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{Type: eventType, Data: data})
	return nil
}

func (r *recordingEvents) ofType(eventType string) []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedEvent
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// sampleChart is a heart failure patient with stage 3 CKD, a falling
// potassium and a pneumonia resolved last year.
func sampleChart(now time.Time) *models.Chart {
	daysAgo := func(n int) time.Time { return now.AddDate(0, 0, -n) }
	return &models.Chart{
		PatientID: "P001",
		Demographics: &models.Demographics{
			MRN:         "MRN-001",
			FirstName:   "Maria",
			LastName:    "Santos",
			DateOfBirth: time.Date(1950, 6, 1, 0, 0, 0, 0, time.UTC),
			Sex:         "F",
			CodeStatus:  "DNR",
		},
		Allergies: []models.Allergy{{Substance: "Penicillin", Reaction: "rash", Severity: "moderate"}},
		Problems: models.ProblemList{
			Active: []models.Problem{
				{ID: "chf", Name: "Congestive heart failure", ICD10: "I50.9"},
				{ID: "ckd", Name: "Chronic kidney disease stage 3", ICD10: "N18.3"},
			},
			Resolved: []models.Problem{
				{ID: "cap", Name: "Community acquired pneumonia", ICD10: "J18.9", ResolvedDate: daysAgo(300)},
			},
		},
		Medications: models.MedicationList{
			Active: []models.Medication{
				{Name: "Furosemide", Dose: "40 mg", Route: "PO", Frequency: "daily", Indication: "heart failure", StartDate: daysAgo(5)},
			},
			Historical: []models.Medication{
				{Name: "Lisinopril", Dose: "10 mg", StartDate: daysAgo(400), EndDate: daysAgo(10), DiscontinuedReason: "hyperkalemia"},
			},
		},
		Vitals: []models.VitalSign{
			{Date: daysAgo(20), Systolic: 130, Diastolic: 80, HeartRate: 76, Weight: 79},
			{Date: daysAgo(1), Systolic: 150, Diastolic: 90, HeartRate: 88, Weight: 82},
		},
		Labs: []models.LabResult{
			{Name: "Potassium", Value: "4.2", Unit: "mmol/L", CollectedDate: daysAgo(60)},
			{Name: "Potassium", Value: "3.8", Unit: "mmol/L", CollectedDate: daysAgo(20)},
			{Name: "Potassium", Value: "3.1", Unit: "mmol/L", Flag: "L", CollectedDate: daysAgo(2)},
			{Name: "BNP", Value: "850", Unit: "pg/mL", Flag: "H", CollectedDate: daysAgo(2)},
			{Name: "Creatinine", Value: "1.6", Unit: "mg/dL", Flag: "H", CollectedDate: daysAgo(2)},
			{Name: "Troponin", Value: "<0.01", Unit: "ng/mL", CollectedDate: daysAgo(2)},
		},
		Notes: []models.Note{
			{ID: "n1", Date: daysAgo(3), Type: "Progress", Author: "Dr. Lee", Content: "Patient reports dyspnea. Congestive heart failure exacerbation likely, increase diuretic."},
			{ID: "n2", Date: daysAgo(200), Type: "Discharge", Content: "Treated for community acquired pneumonia with antibiotics."},
		},
		Encounters: []models.Encounter{
			{ID: "enc1", Date: daysAgo(1), Type: "inpatient", Diagnoses: []models.Diagnosis{{Name: "Heart failure", ICD10: "I50.9"}}},
			{ID: "enc0", Date: daysAgo(320), Type: "inpatient", Diagnoses: []models.Diagnosis{{Name: "Pneumonia", ICD10: "J18.9"}}},
		},
	}
}

// testEngine wires every core service around a fake source.
type testEngine struct {
	clock      *testClock
	source     *fakeSource
	events     *recordingEvents
	catalog    *PeriodCatalog
	classifier *CategoryClassifier
	builder    DocumentBuilder
	renderer   *Renderer
	assembler  *Assembler
	writer     *MemoryWriter
}

func setupEngine(t *testing.T, chart *models.Chart, cfg *models.GlobalConfig) *testEngine {
	t.Helper()
	if cfg == nil {
		cfg = models.DefaultGlobalConfig()
	}
	e := &testEngine{
		clock:  &testClock{now: testNow},
		source: newFakeSource(chart),
		events: &recordingEvents{},
	}
	e.catalog = NewPeriodCatalog(DefaultPeriods(), e.clock.Now)
	e.classifier = NewDefaultClassifier()
	e.builder = NewDocumentBuilder(e.source, e.catalog, e.classifier, cfg, e.events)
	e.renderer = NewRenderer(e.catalog, e.classifier, cfg)
	e.assembler = NewAssembler(e.renderer, e.classifier, cfg)
	e.writer = NewMemoryWriter(e.clock.Now, cfg, e.events)
	return e
}

func (e *testEngine) build(t *testing.T) *LongitudinalDocument {
	t.Helper()
	doc := e.builder.BuildFull(context.Background(), "P001", "")
	if doc == nil {
		t.Fatal("BuildFull returned nil")
	}
	return doc
}
