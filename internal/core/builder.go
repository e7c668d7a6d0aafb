package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"
	"github.com/valter-silva-au/patient-brain/pkg/models"
)

// Chart source names, as recorded in Metadata.FailedSources.
const (
	SourceDemographics  = "demographics"
	SourceAllergies     = "allergies"
	SourceProblems      = "problems"
	SourceMedications   = "medications"
	SourceVitals        = "vitals"
	SourceLabs          = "labs"
	SourceNotes         = "notes"
	SourceNoteContent   = "note_content"
	SourceEncounters    = "encounters"
	SourceImaging       = "imaging"
	SourceProcedures    = "procedures"
	SourceSocialHistory = "social_history"
	SourceFamilyHistory = "family_history"
)

// ChartSource loads one patient's records. Every method may fail
// independently; the builder treats a failure as an empty result.
type ChartSource interface {
	Demographics(ctx context.Context, patientID string) (*models.Demographics, error)
	Allergies(ctx context.Context, patientID string) ([]models.Allergy, error)
	Problems(ctx context.Context, patientID string) (models.ProblemList, error)
	Medications(ctx context.Context, patientID string) (models.MedicationList, error)
	Vitals(ctx context.Context, patientID string) ([]models.VitalSign, error)
	Labs(ctx context.Context, patientID string) ([]models.LabResult, error)
	NotesIndex(ctx context.Context, patientID string) ([]models.Note, error)
	NoteContent(ctx context.Context, patientID, noteID string) (string, error)
	Encounters(ctx context.Context, patientID string) ([]models.Encounter, error)
	Imaging(ctx context.Context, patientID string) ([]models.ImagingStudy, error)
	Procedures(ctx context.Context, patientID string) ([]models.Procedure, error)
	SocialHistory(ctx context.Context, patientID string) (*models.SocialHistory, error)
	FamilyHistory(ctx context.Context, patientID string) ([]models.FamilyHistoryEntry, error)
}

// DocumentBuilder constructs and incrementally refreshes documents.
type DocumentBuilder interface {
	BuildFull(ctx context.Context, patientID, encounterID string) *LongitudinalDocument
	UpdateSince(ctx context.Context, doc *LongitudinalDocument, since time.Time) *LongitudinalDocument
	Refresh(ctx context.Context, doc *LongitudinalDocument) *LongitudinalDocument
	AddVital(doc *LongitudinalDocument, v models.VitalSign)
	AddLab(doc *LongitudinalDocument, lab models.LabResult)
}

const (
	excerptBefore = 50
	excerptAfter  = 150
)

type documentBuilder struct {
	source        ChartSource
	catalog       *PeriodCatalog
	classifier    *CategoryClassifier
	events        EventLogger // may be nil
	noteHydration time.Duration
	noteWorkers   int
	recentChanges time.Duration
}

// NewDocumentBuilder creates a DocumentBuilder. cfg may be nil to use
// defaults; events may be nil to disable event logging.
func NewDocumentBuilder(source ChartSource, catalog *PeriodCatalog, classifier *CategoryClassifier, cfg *models.GlobalConfig, events EventLogger) DocumentBuilder {
	if cfg == nil {
		cfg = models.DefaultGlobalConfig()
	}
	workers := cfg.Builder.NoteWorkers
	if workers <= 0 {
		workers = 1
	}
	return &documentBuilder{
		source:        source,
		catalog:       catalog,
		classifier:    classifier,
		events:        events,
		noteHydration: time.Duration(cfg.Builder.NoteHydrationDays) * day,
		noteWorkers:   workers,
		recentChanges: time.Duration(cfg.Render.RecentChangeDays) * day,
	}
}

// chartData is everything loaded for one build.
type chartData struct {
	demographics *models.Demographics
	allergies    []models.Allergy
	problems     models.ProblemList
	medications  models.MedicationList
	vitals       []models.VitalSign
	labs         []models.LabResult
	notes        []models.Note
	encounters   []models.Encounter
	imaging      []models.ImagingStudy
	procedures   []models.Procedure
	social       *models.SocialHistory
	family       []models.FamilyHistoryEntry
}

// failureSet collects the names of sources that failed during a load.
type failureSet struct {
	mu    sync.Mutex
	names []string
}

func (f *failureSet) add(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.names {
		if n == name {
			return
		}
	}
	f.names = append(f.names, name)
}

func (f *failureSet) list() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.names...)
}

// safeLoad runs load and converts an error or panic into the zero value,
// reporting the failure.
func safeLoad[T any](ctx context.Context, name string, load func(context.Context) (T, error), fail func(string, error)) (out T) {
	defer func() {
		if r := recover(); r != nil {
			fail(name, fmt.Errorf("panic: %v", r))
			var zero T
			out = zero
		}
	}()
	v, err := load(ctx)
	if err != nil {
		fail(name, err)
		var zero T
		return zero
	}
	return v
}

func (b *documentBuilder) failer(patientID string, failed *failureSet) func(string, error) {
	return func(name string, err error) {
		failed.add(name)
		b.logEvent("chart.source_failed", map[string]any{
			"patient_id": patientID,
			"source":     name,
			"error":      err.Error(),
		})
	}
}

func (b *documentBuilder) logEvent(eventType string, data map[string]any) {
	if b.events == nil {
		return
	}
	_ = b.events.LogEvent(eventType, data)
}

// loadChart issues every source load concurrently. A failed source leaves
// its field empty.
func (b *documentBuilder) loadChart(ctx context.Context, patientID string, failed *failureSet) chartData {
	fail := b.failer(patientID, failed)
	src := b.source
	var d chartData

	var wg conc.WaitGroup
	wg.Go(func() {
		d.demographics = safeLoad(ctx, SourceDemographics, func(ctx context.Context) (*models.Demographics, error) {
			return src.Demographics(ctx, patientID)
		}, fail)
	})
	wg.Go(func() {
		d.allergies = safeLoad(ctx, SourceAllergies, func(ctx context.Context) ([]models.Allergy, error) {
			return src.Allergies(ctx, patientID)
		}, fail)
	})
	wg.Go(func() {
		d.problems = safeLoad(ctx, SourceProblems, func(ctx context.Context) (models.ProblemList, error) {
			return src.Problems(ctx, patientID)
		}, fail)
	})
	wg.Go(func() {
		d.medications = safeLoad(ctx, SourceMedications, func(ctx context.Context) (models.MedicationList, error) {
			return src.Medications(ctx, patientID)
		}, fail)
	})
	wg.Go(func() {
		d.vitals = safeLoad(ctx, SourceVitals, func(ctx context.Context) ([]models.VitalSign, error) {
			return src.Vitals(ctx, patientID)
		}, fail)
	})
	wg.Go(func() {
		d.labs = safeLoad(ctx, SourceLabs, func(ctx context.Context) ([]models.LabResult, error) {
			return src.Labs(ctx, patientID)
		}, fail)
	})
	wg.Go(func() {
		d.notes = safeLoad(ctx, SourceNotes, func(ctx context.Context) ([]models.Note, error) {
			return src.NotesIndex(ctx, patientID)
		}, fail)
		b.hydrateNotes(ctx, patientID, d.notes, fail)
	})
	wg.Go(func() {
		d.encounters = safeLoad(ctx, SourceEncounters, func(ctx context.Context) ([]models.Encounter, error) {
			return src.Encounters(ctx, patientID)
		}, fail)
	})
	wg.Go(func() {
		d.imaging = safeLoad(ctx, SourceImaging, func(ctx context.Context) ([]models.ImagingStudy, error) {
			return src.Imaging(ctx, patientID)
		}, fail)
	})
	wg.Go(func() {
		d.procedures = safeLoad(ctx, SourceProcedures, func(ctx context.Context) ([]models.Procedure, error) {
			return src.Procedures(ctx, patientID)
		}, fail)
	})
	wg.Go(func() {
		d.social = safeLoad(ctx, SourceSocialHistory, func(ctx context.Context) (*models.SocialHistory, error) {
			return src.SocialHistory(ctx, patientID)
		}, fail)
	})
	wg.Go(func() {
		d.family = safeLoad(ctx, SourceFamilyHistory, func(ctx context.Context) ([]models.FamilyHistoryEntry, error) {
			return src.FamilyHistory(ctx, patientID)
		}, fail)
	})
	if r := wg.WaitAndRecover(); r != nil {
		fail("unknown", r.AsError())
	}
	return d
}

// hydrateNotes fetches full content for notes inside the hydration window.
// Older notes keep metadata only.
func (b *documentBuilder) hydrateNotes(ctx context.Context, patientID string, notes []models.Note, fail func(string, error)) {
	cutoff := b.catalog.Now().Add(-b.noteHydration)
	p := pool.New().WithMaxGoroutines(b.noteWorkers)
	for i := range notes {
		if notes[i].Date.Before(cutoff) {
			notes[i].Content = ""
			continue
		}
		if notes[i].Content != "" {
			continue
		}
		p.Go(func() {
			notes[i].Content = safeLoad(ctx, SourceNoteContent, func(ctx context.Context) (string, error) {
				return b.source.NoteContent(ctx, patientID, notes[i].ID)
			}, fail)
		})
	}
	p.Wait()
}

// BuildFull loads every source and assembles a new document. It never fails;
// sources that could not be loaded leave their sections empty.
func (b *documentBuilder) BuildFull(ctx context.Context, patientID, encounterID string) *LongitudinalDocument {
	now := b.catalog.Now()
	doc := NewDocument(patientID, encounterID)

	failed := &failureSet{}
	data := b.loadChart(ctx, patientID, failed)

	doc.Metadata.EncounterStart = encounterStart(data.encounters, encounterID)
	b.populate(doc, data, now)

	doc.Metadata.FailedSources = failed.list()
	doc.Metadata.GeneratedAt = now
	doc.Metadata.UpdatedAt = now
	doc.Metadata.Watermark = watermark(now, data.vitals, data.labs)
	doc.Metadata.Version = uuid.NewString()

	b.logEvent("document.built", map[string]any{
		"patient_id":     patientID,
		"encounter_id":   encounterID,
		"problems":       len(doc.problemOrder),
		"labs":           len(doc.labOrder),
		"vitals":         len(doc.Vitals.All),
		"failed_sources": doc.Metadata.FailedSources,
	})
	return doc
}

func encounterStart(encounters []models.Encounter, encounterID string) time.Time {
	if encounterID == "" {
		return time.Time{}
	}
	for _, e := range encounters {
		if e.ID == encounterID {
			return e.Date
		}
	}
	return time.Time{}
}

func (b *documentBuilder) periodFunc(doc *LongitudinalDocument) func(time.Time) string {
	start := doc.Metadata.EncounterStart
	return func(t time.Time) string {
		return b.catalog.PeriodForDate(t, start)
	}
}

func (b *documentBuilder) populate(doc *LongitudinalDocument, data chartData, now time.Time) {
	periodOf := b.periodFunc(doc)

	// Patient snapshot, copied verbatim.
	if data.demographics != nil {
		demo := *data.demographics
		doc.Patient.Demographics = &demo
		doc.Patient.CodeStatus = demo.CodeStatus
		doc.Patient.AdvanceDirectives = demo.AdvanceDirectives
	}
	doc.Patient.Allergies = append(doc.Patient.Allergies, data.allergies...)
	if data.social != nil {
		doc.Patient.SocialHistory = *data.social
	}
	doc.Patient.FamilyHistory = append(doc.Patient.FamilyHistory, data.family...)

	// Pass-through streams, most recent first.
	doc.Encounters = append(doc.Encounters, data.encounters...)
	sort.SliceStable(doc.Encounters, func(i, j int) bool { return doc.Encounters[i].Date.After(doc.Encounters[j].Date) })
	doc.Imaging = append(doc.Imaging, data.imaging...)
	sort.SliceStable(doc.Imaging, func(i, j int) bool { return doc.Imaging[i].Date.After(doc.Imaging[j].Date) })
	doc.Procedures = append(doc.Procedures, data.procedures...)
	sort.SliceStable(doc.Procedures, func(i, j int) bool { return doc.Procedures[i].Date.After(doc.Procedures[j].Date) })

	// Vitals stream.
	doc.Vitals.All = append(doc.Vitals.All, data.vitals...)
	sort.SliceStable(doc.Vitals.All, func(i, j int) bool { return doc.Vitals.All[i].Date.After(doc.Vitals.All[j].Date) })
	doc.reindexVitals(periodOf)

	// Lab trends; derived values only once everything is aggregated.
	for _, l := range data.labs {
		doc.labTrendFor(l.Name).AddValue(l.CollectedDate, l.Value, l.Unit, l.Flag, labContext(l))
	}
	for _, t := range doc.LabTrends() {
		t.Recompute(now)
	}

	b.populateMedications(doc, data.medications, now)

	// Problem matrix.
	labels := b.catalog.Labels()
	add := func(problems []models.Problem, status string) {
		for _, p := range problems {
			if p.ID == "" {
				p.ID = p.Name
			}
			tl := newProblemTimeline(p, status, b.classifier.Categorize(p.Name), labels)
			b.fillProblem(doc, tl, data, periodOf)
			doc.AddProblem(tl)
		}
	}
	add(data.problems.Active, ProblemStatusActive)
	add(data.problems.Resolved, ProblemStatusResolved)
}

func labContext(l models.LabResult) string {
	if l.ReferenceRange == "" {
		return ""
	}
	return "ref " + l.ReferenceRange
}

func (b *documentBuilder) populateMedications(doc *LongitudinalDocument, meds models.MedicationList, now time.Time) {
	doc.Medications.Current = append(doc.Medications.Current, meds.Active...)
	doc.Medications.Historical = append(doc.Medications.Historical, meds.Historical...)

	cutoff := now.Add(-b.recentChanges)
	recent := func(t time.Time) bool { return !t.IsZero() && !t.Before(cutoff) }
	var changes []MedicationChange
	for _, m := range append(append([]models.Medication{}, meds.Active...), meds.Historical...) {
		if recent(m.StartDate) {
			changes = append(changes, MedicationChange{Date: m.StartDate, Kind: ChangeStarted, Medication: m})
		}
		if recent(m.EndDate) {
			changes = append(changes, MedicationChange{Date: m.EndDate, Kind: ChangeStopped, Medication: m})
		}
		if recent(m.DoseChangedDate) {
			changes = append(changes, MedicationChange{Date: m.DoseChangedDate, Kind: ChangeAdjusted, Medication: m})
		}
	}
	sort.SliceStable(changes, func(i, j int) bool { return changes[i].Date.After(changes[j].Date) })
	doc.Medications.RecentChanges = append(doc.Medications.RecentChanges, changes...)
}

// fillProblem distributes the chart's records into the problem's period
// buckets. Each record lands in exactly one bucket, chosen by its date.
func (b *documentBuilder) fillProblem(doc *LongitudinalDocument, tl *ProblemTimeline, data chartData, periodOf func(time.Time) string) {
	for _, enc := range data.encounters {
		if encounterMatches(tl, enc) {
			bucket := tl.Period(periodOf(enc.Date))
			bucket.Encounters = append(bucket.Encounters, enc)
		}
	}

	// Notes outside the hydration window carry no content and yield nothing.
	for _, n := range data.notes {
		excerpt, ok := b.excerpt(tl, n.Content)
		if !ok {
			continue
		}
		bucket := tl.Period(periodOf(n.Date))
		bucket.Notes = append(bucket.Notes, NoteExcerpt{
			NoteID: n.ID, Date: n.Date, Type: n.Type, Author: n.Author, Excerpt: excerpt,
		})
	}

	for _, l := range data.labs {
		b.attachLab(tl, l, periodOf(l.CollectedDate))
	}
	for _, v := range doc.Vitals.All {
		b.attachVital(tl, v, periodOf(v.Date))
	}

	currentLabel := periodOf(b.catalog.Now())
	for _, m := range data.medications.Active {
		if !b.medicationMatches(tl, m) {
			continue
		}
		tl.Period(currentLabel).Medications.Current = append(tl.Period(currentLabel).Medications.Current, m)
		b.attachMedicationEvents(tl, m, periodOf)
	}
	for _, m := range data.medications.Historical {
		if b.medicationMatches(tl, m) {
			b.attachMedicationEvents(tl, m, periodOf)
		}
	}

	for _, img := range data.imaging {
		if b.mentions(tl, img.Study+" "+img.Impression) {
			bucket := tl.Period(periodOf(img.Date))
			bucket.Imaging = append(bucket.Imaging, img)
		}
	}
	for _, proc := range data.procedures {
		if b.mentions(tl, proc.Name+" "+proc.Outcome) {
			bucket := tl.Period(periodOf(proc.Date))
			bucket.Procedures = append(bucket.Procedures, proc)
		}
	}

	for _, p := range tl.Periods() {
		sortPeriod(p)
		p.Status = derivePeriodStatus(p)
	}
}

func (b *documentBuilder) attachMedicationEvents(tl *ProblemTimeline, m models.Medication, periodOf func(time.Time) string) {
	if !m.StartDate.IsZero() {
		p := tl.Period(periodOf(m.StartDate))
		p.Medications.Started = append(p.Medications.Started, m)
	}
	if !m.EndDate.IsZero() {
		p := tl.Period(periodOf(m.EndDate))
		p.Medications.Stopped = append(p.Medications.Stopped, m)
	}
	if !m.DoseChangedDate.IsZero() {
		p := tl.Period(periodOf(m.DoseChangedDate))
		p.Medications.Adjusted = append(p.Medications.Adjusted, m)
	}
}

// attachLab adds l to tl's bucket when the lab is relevant to its category.
func (b *documentBuilder) attachLab(tl *ProblemTimeline, l models.LabResult, label string) bool {
	if !b.classifier.IsRelatedLab(tl.Category, l.Name) {
		return false
	}
	p := tl.Period(label)
	if p == nil {
		return false
	}
	p.Labs = append(p.Labs, l)
	return true
}

// attachVital adds v to tl's bucket when it measured a field relevant to the
// problem's category.
func (b *documentBuilder) attachVital(tl *ProblemTimeline, v models.VitalSign, label string) bool {
	fields := b.classifier.RelatedVitals(tl.Category)
	if len(fields) == 0 || !v.Has(fields...) {
		return false
	}
	p := tl.Period(label)
	if p == nil {
		return false
	}
	p.Vitals = append(p.Vitals, v)
	return true
}

func sortPeriod(p *ProblemPeriodData) {
	sort.SliceStable(p.Encounters, func(i, j int) bool { return p.Encounters[i].Date.After(p.Encounters[j].Date) })
	sort.SliceStable(p.Notes, func(i, j int) bool { return p.Notes[i].Date.After(p.Notes[j].Date) })
	sort.SliceStable(p.Labs, func(i, j int) bool { return p.Labs[i].CollectedDate.After(p.Labs[j].CollectedDate) })
	sort.SliceStable(p.Vitals, func(i, j int) bool { return p.Vitals[i].Date.After(p.Vitals[j].Date) })
}

// derivePeriodStatus applies the status rules: an out-of-range lab makes the
// period concerning, otherwise any encounter makes it active.
func derivePeriodStatus(p *ProblemPeriodData) PeriodStatus {
	if p.HasOutOfRangeLab() {
		var flagged []string
		for _, l := range p.Labs {
			if IsOutOfRange(l.Flag) {
				flagged = append(flagged, fmt.Sprintf("%s %s %s", l.Name, strings.TrimSpace(l.Value), l.Flag))
			}
		}
		return PeriodStatus{
			Trend:   StatusConcerning,
			Control: ControlPoor,
			Text:    "out-of-range: " + strings.Join(flagged, ", "),
		}
	}
	if len(p.Encounters) > 0 {
		return PeriodStatus{
			Trend:   StatusActive,
			Control: ControlMonitoring,
			Text:    fmt.Sprintf("%d encounter(s)", len(p.Encounters)),
		}
	}
	return PeriodStatus{Trend: StatusStable, Control: ControlControlled}
}

// encounterMatches reports whether any diagnosis of enc names or codes the
// problem.
func encounterMatches(tl *ProblemTimeline, enc models.Encounter) bool {
	name := strings.ToLower(strings.TrimSpace(tl.Name))
	for _, dx := range enc.Diagnoses {
		dxName := strings.ToLower(strings.TrimSpace(dx.Name))
		if name != "" && dxName != "" && (strings.Contains(dxName, name) || strings.Contains(name, dxName)) {
			return true
		}
		if icdMatches(tl.ICD10, dx.ICD10) {
			return true
		}
	}
	return false
}

// icdMatches compares two ICD-10 codes at category level: one must be a
// prefix of the other and they must share at least three characters.
func icdMatches(a, b string) bool {
	na := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(a), ".", ""))
	nb := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(b), ".", ""))
	if len(na) < 3 || len(nb) < 3 {
		return false
	}
	return strings.HasPrefix(na, nb) || strings.HasPrefix(nb, na)
}

// medicationMatches attributes a medication to a problem. A stated
// indication decides on its own; without one the drug association table is
// consulted.
func (b *documentBuilder) medicationMatches(tl *ProblemTimeline, m models.Medication) bool {
	indication := strings.ToLower(strings.TrimSpace(m.Indication))
	if indication != "" {
		name := strings.ToLower(tl.Name)
		if strings.Contains(indication, name) || strings.Contains(name, indication) {
			return true
		}
		return tl.Category != CategoryOther && b.classifier.MentionsCategory(indication, tl.Category)
	}
	return tl.Category != CategoryOther && b.classifier.MedicationCategory(m.Name) == tl.Category
}

// mentions reports whether text names the problem or one of its category
// keywords.
func (b *documentBuilder) mentions(tl *ProblemTimeline, text string) bool {
	_, _, ok := b.firstHit(tl, strings.ToLower(text))
	return ok
}

// firstHit finds the earliest occurrence in lower of the problem's name or
// any category keyword.
func (b *documentBuilder) firstHit(tl *ProblemTimeline, lower string) (int, int, bool) {
	best, bestLen := -1, 0
	try := func(term string) {
		if term == "" {
			return
		}
		if i := strings.Index(lower, term); i >= 0 && (best < 0 || i < best) {
			best, bestLen = i, len(term)
		}
	}
	try(strings.ToLower(strings.TrimSpace(tl.Name)))
	for _, kw := range b.classifier.Keywords(tl.Category) {
		try(kw)
	}
	return best, bestLen, best >= 0
}

// excerpt returns the text around the first mention of the problem: about
// 50 characters before and 150 after.
func (b *documentBuilder) excerpt(tl *ProblemTimeline, text string) (string, bool) {
	if text == "" {
		return "", false
	}
	lower := strings.ToLower(text)
	source := text
	if len(lower) != len(text) {
		source = lower
	}
	idx, _, ok := b.firstHit(tl, lower)
	if !ok {
		return "", false
	}
	start := idx - excerptBefore
	if start < 0 {
		start = 0
	}
	end := idx + excerptAfter
	if end > len(source) {
		end = len(source)
	}
	for start > 0 && !utf8.RuneStart(source[start]) {
		start--
	}
	for end < len(source) && !utf8.RuneStart(source[end]) {
		end++
	}
	out := strings.Join(strings.Fields(source[start:end]), " ")
	if start > 0 {
		out = "..." + out
	}
	if end < len(source) {
		out += "..."
	}
	return out, true
}
