package core

import (
	"sort"
	"strings"
	"time"

	"github.com/valter-silva-au/patient-brain/pkg/models"
)

// StatusTrend is the derived direction of a problem within one period.
type StatusTrend string

const (
	StatusStable     StatusTrend = "stable"
	StatusActive     StatusTrend = "active"
	StatusConcerning StatusTrend = "concerning"
)

// ControlLevel is the derived control of a problem within one period.
type ControlLevel string

const (
	ControlControlled ControlLevel = "controlled"
	ControlMonitoring ControlLevel = "monitoring"
	ControlPoor       ControlLevel = "poorly-controlled"
)

// PeriodStatus summarizes a problem within one period.
type PeriodStatus struct {
	Trend   StatusTrend
	Control ControlLevel
	Text    string
}

// NoteExcerpt is the part of a note that mentions a problem.
type NoteExcerpt struct {
	NoteID  string
	Date    time.Time
	Type    string
	Author  string
	Excerpt string
}

// MedicationChanges groups a problem's medication events within a period.
type MedicationChanges struct {
	Started  []models.Medication
	Stopped  []models.Medication
	Adjusted []models.Medication
	Current  []models.Medication
}

// Count returns the number of start, stop and adjust events.
func (m MedicationChanges) Count() int {
	return len(m.Started) + len(m.Stopped) + len(m.Adjusted)
}

// ProblemPeriodData is one problem's data within one period.
type ProblemPeriodData struct {
	Period      string
	Encounters  []models.Encounter
	Notes       []NoteExcerpt
	Labs        []models.LabResult
	Medications MedicationChanges
	Vitals      []models.VitalSign
	Imaging     []models.ImagingStudy
	Procedures  []models.Procedure
	Status      PeriodStatus
}

func newProblemPeriodData(period string) *ProblemPeriodData {
	return &ProblemPeriodData{
		Period:     period,
		Encounters: []models.Encounter{},
		Notes:      []NoteExcerpt{},
		Labs:       []models.LabResult{},
		Medications: MedicationChanges{
			Started:  []models.Medication{},
			Stopped:  []models.Medication{},
			Adjusted: []models.Medication{},
			Current:  []models.Medication{},
		},
		Vitals:     []models.VitalSign{},
		Imaging:    []models.ImagingStudy{},
		Procedures: []models.Procedure{},
		Status:     PeriodStatus{Trend: StatusStable, Control: ControlControlled},
	}
}

// IsEmpty reports whether the period holds no data for the problem.
func (p *ProblemPeriodData) IsEmpty() bool {
	return len(p.Encounters) == 0 && len(p.Notes) == 0 && len(p.Labs) == 0 &&
		p.Medications.Count() == 0 && len(p.Medications.Current) == 0 &&
		len(p.Vitals) == 0 && len(p.Imaging) == 0 && len(p.Procedures) == 0
}

// EventCount returns the number of encounters, notes and procedures.
func (p *ProblemPeriodData) EventCount() int {
	return len(p.Encounters) + len(p.Notes) + len(p.Procedures)
}

// HasOutOfRangeLab reports whether any lab in the period is flagged.
func (p *ProblemPeriodData) HasOutOfRangeLab() bool {
	for _, l := range p.Labs {
		if IsOutOfRange(l.Flag) {
			return true
		}
	}
	return false
}

// ProblemTimeline is one problem with its per-period buckets.
type ProblemTimeline struct {
	ID           string
	Name         string
	ICD10        string
	OnsetDate    time.Time
	ResolvedDate time.Time
	Status       string
	Priority     string
	Category     ProblemCategory
	Notes        string

	periodOrder []string
	periods     map[string]*ProblemPeriodData
}

func newProblemTimeline(p models.Problem, status string, cat ProblemCategory, labels []string) *ProblemTimeline {
	if cat == "" {
		cat = CategoryOther
	}
	tl := &ProblemTimeline{
		ID:           p.ID,
		Name:         p.Name,
		ICD10:        p.ICD10,
		OnsetDate:    p.OnsetDate,
		ResolvedDate: p.ResolvedDate,
		Status:       status,
		Priority:     p.Priority,
		Category:     cat,
		Notes:        p.Notes,
		periodOrder:  append([]string(nil), labels...),
		periods:      make(map[string]*ProblemPeriodData, len(labels)),
	}
	for _, l := range labels {
		tl.periods[l] = newProblemPeriodData(l)
	}
	return tl
}

// Period returns the bucket for label, or nil.
func (t *ProblemTimeline) Period(label string) *ProblemPeriodData {
	return t.periods[label]
}

// Periods returns the buckets in catalog order.
func (t *ProblemTimeline) Periods() []*ProblemPeriodData {
	out := make([]*ProblemPeriodData, 0, len(t.periodOrder))
	for _, l := range t.periodOrder {
		out = append(out, t.periods[l])
	}
	return out
}

// IsActive reports whether the problem is on the active list.
func (t *ProblemTimeline) IsActive() bool {
	return t.Status == ProblemStatusActive
}

// Problem list statuses.
const (
	ProblemStatusActive   = "active"
	ProblemStatusResolved = "resolved"
)

// Metadata describes the document itself.
type Metadata struct {
	GeneratedAt    time.Time
	UpdatedAt      time.Time
	// Watermark is the later of the last build or refresh time and the
	// newest vital or lab merged so far. Refresh only takes records after it.
	Watermark      time.Time
	PatientID      string
	EncounterID    string
	EncounterStart time.Time
	Version        string
	FailedSources  []string
}

// SourceFailed reports whether the named source failed during the last build.
func (m Metadata) SourceFailed(name string) bool {
	for _, s := range m.FailedSources {
		if s == name {
			return true
		}
	}
	return false
}

// PatientSnapshot is the demographic and safety picture copied from the chart.
type PatientSnapshot struct {
	Demographics      *models.Demographics
	Allergies         []models.Allergy
	CodeStatus        string
	AdvanceDirectives string
	SocialHistory     models.SocialHistory
	FamilyHistory     []models.FamilyHistoryEntry
}

// VitalStream holds all vitals most recent first, plus an index of positions
// per period label.
type VitalStream struct {
	All      []models.VitalSign
	ByPeriod map[string][]int
}

// MedicationChange is one dated medication event.
type MedicationChange struct {
	Date       time.Time
	Kind       string
	Medication models.Medication
}

// Medication change kinds.
const (
	ChangeStarted  = "started"
	ChangeStopped  = "stopped"
	ChangeAdjusted = "adjusted"
)

// MedicationStream holds the medication lists and recent changes, most
// recent first.
type MedicationStream struct {
	Current       []models.Medication
	Historical    []models.Medication
	RecentChanges []MedicationChange
}

// ClinicalNarrative is assistant- or clinician-written text. It is rendered
// verbatim and never interpreted.
type ClinicalNarrative struct {
	TrajectoryAssessment string
	KeyFindings          []string
	OpenQuestions        []string
	PatientVoice         string
	NursingAssessment    string
}

// IsEmpty reports whether nothing has been written.
func (n ClinicalNarrative) IsEmpty() bool {
	return n.TrajectoryAssessment == "" && len(n.KeyFindings) == 0 && len(n.OpenQuestions) == 0 &&
		n.PatientVoice == "" && n.NursingAssessment == ""
}

// DictationEntry is one captured piece of the clinician's narrated reasoning.
type DictationEntry struct {
	ID   string
	Time time.Time
	Text string
}

// SafetyFlag is an active safety concern raised during the session.
type SafetyFlag struct {
	ID       string
	Raised   time.Time
	Severity string
	Message  string
}

// ConversationTurn is one utterance in a patient or nurse conversation.
type ConversationTurn struct {
	Time    time.Time
	Speaker string
	Text    string
}

// SessionContext is what happened during the current session.
type SessionContext struct {
	DictationLog        []DictationEntry
	SafetyFlags         []SafetyFlag
	Reviewed            []string
	Pending             []string
	PatientConversation []ConversationTurn
	NurseConversation   []ConversationTurn
	AIObservations      []string
}

// IsEmpty reports whether the session has recorded nothing.
func (s SessionContext) IsEmpty() bool {
	return len(s.DictationLog) == 0 && len(s.SafetyFlags) == 0 && len(s.Reviewed) == 0 &&
		len(s.Pending) == 0 && len(s.PatientConversation) == 0 && len(s.NurseConversation) == 0 &&
		len(s.AIObservations) == 0
}

// ProblemInsight is the assistant's running note on one problem.
type ProblemInsight struct {
	ProblemID string
	Text      string
	UpdatedAt time.Time
}

// Decision is one entry of the rolling decision log.
type Decision struct {
	ID        string
	Time      time.Time
	Decision  string
	Rationale string
}

// InteractionSummary condenses one past assistant exchange.
type InteractionSummary struct {
	ID      string
	Time    time.Time
	Kind    string
	Summary string
}

// AccumulatedMemory is what the assistant has written back about the patient.
type AccumulatedMemory struct {
	PatientSummary       string
	ProblemInsights      []ProblemInsight
	DecisionLog          []Decision
	InteractionSummaries []InteractionSummary
}

// IsEmpty reports whether no memory has been written.
func (m AccumulatedMemory) IsEmpty() bool {
	return m.PatientSummary == "" && len(m.ProblemInsights) == 0 &&
		len(m.DecisionLog) == 0 && len(m.InteractionSummaries) == 0
}

// Insight returns the insight recorded for problemID.
func (m AccumulatedMemory) Insight(problemID string) (ProblemInsight, bool) {
	for _, in := range m.ProblemInsights {
		if in.ProblemID == problemID {
			return in, true
		}
	}
	return ProblemInsight{}, false
}

// LongitudinalDocument is the root aggregate for one patient session.
type LongitudinalDocument struct {
	Metadata    Metadata
	Patient     PatientSnapshot
	Vitals      VitalStream
	Medications MedicationStream
	Imaging     []models.ImagingStudy
	Procedures  []models.Procedure
	Encounters  []models.Encounter
	Narrative   ClinicalNarrative
	Session     SessionContext
	Memory      AccumulatedMemory

	problemOrder []string
	problems     map[string]*ProblemTimeline
	labOrder     []string
	labs         map[string]*LabTrend
}

// NewDocument returns a document with every collection allocated.
func NewDocument(patientID, encounterID string) *LongitudinalDocument {
	return &LongitudinalDocument{
		Metadata: Metadata{
			PatientID:     patientID,
			EncounterID:   encounterID,
			FailedSources: []string{},
		},
		Patient: PatientSnapshot{
			Allergies:     []models.Allergy{},
			FamilyHistory: []models.FamilyHistoryEntry{},
		},
		Vitals: VitalStream{
			All:      []models.VitalSign{},
			ByPeriod: map[string][]int{},
		},
		Medications: MedicationStream{
			Current:       []models.Medication{},
			Historical:    []models.Medication{},
			RecentChanges: []MedicationChange{},
		},
		Imaging:    []models.ImagingStudy{},
		Procedures: []models.Procedure{},
		Encounters: []models.Encounter{},
		Narrative: ClinicalNarrative{
			KeyFindings:   []string{},
			OpenQuestions: []string{},
		},
		Session: SessionContext{
			DictationLog:        []DictationEntry{},
			SafetyFlags:         []SafetyFlag{},
			Reviewed:            []string{},
			Pending:             []string{},
			PatientConversation: []ConversationTurn{},
			NurseConversation:   []ConversationTurn{},
			AIObservations:      []string{},
		},
		Memory: AccumulatedMemory{
			ProblemInsights:      []ProblemInsight{},
			DecisionLog:          []Decision{},
			InteractionSummaries: []InteractionSummary{},
		},
		problems: map[string]*ProblemTimeline{},
		labs:     map[string]*LabTrend{},
	}
}

// AddProblem inserts or replaces a timeline, keeping first-insertion order.
func (d *LongitudinalDocument) AddProblem(tl *ProblemTimeline) {
	if _, ok := d.problems[tl.ID]; !ok {
		d.problemOrder = append(d.problemOrder, tl.ID)
	}
	d.problems[tl.ID] = tl
}

// Problem returns the timeline for id.
func (d *LongitudinalDocument) Problem(id string) (*ProblemTimeline, bool) {
	tl, ok := d.problems[id]
	return tl, ok
}

// Problems returns all timelines in insertion order.
func (d *LongitudinalDocument) Problems() []*ProblemTimeline {
	out := make([]*ProblemTimeline, 0, len(d.problemOrder))
	for _, id := range d.problemOrder {
		out = append(out, d.problems[id])
	}
	return out
}

// ActiveProblems returns the timelines on the active list.
func (d *LongitudinalDocument) ActiveProblems() []*ProblemTimeline {
	var out []*ProblemTimeline
	for _, tl := range d.Problems() {
		if tl.IsActive() {
			out = append(out, tl)
		}
	}
	return out
}

// LabTrend returns the trend for name, matched case-insensitively.
func (d *LongitudinalDocument) LabTrend(name string) (*LabTrend, bool) {
	t, ok := d.labs[labKey(name)]
	return t, ok
}

// LabTrends returns all trends in first-seen order.
func (d *LongitudinalDocument) LabTrends() []*LabTrend {
	out := make([]*LabTrend, 0, len(d.labOrder))
	for _, k := range d.labOrder {
		out = append(out, d.labs[k])
	}
	return out
}

// labTrendFor returns the trend for name, creating it when absent.
func (d *LongitudinalDocument) labTrendFor(name string) *LabTrend {
	k := labKey(name)
	if t, ok := d.labs[k]; ok {
		return t
	}
	t := NewLabTrend(name)
	d.labs[k] = t
	d.labOrder = append(d.labOrder, k)
	return t
}

// insertVital adds v to the stream keeping most-recent-first order and
// rebuilds the period index.
func (d *LongitudinalDocument) insertVital(v models.VitalSign, periodOf func(time.Time) string) {
	d.Vitals.All = append(d.Vitals.All, v)
	sort.SliceStable(d.Vitals.All, func(i, j int) bool {
		return d.Vitals.All[i].Date.After(d.Vitals.All[j].Date)
	})
	d.reindexVitals(periodOf)
}

func (d *LongitudinalDocument) reindexVitals(periodOf func(time.Time) string) {
	idx := make(map[string][]int)
	for i, v := range d.Vitals.All {
		label := periodOf(v.Date)
		idx[label] = append(idx[label], i)
	}
	d.Vitals.ByPeriod = idx
}

// VitalsInPeriod returns the vitals indexed under label, most recent first.
func (d *LongitudinalDocument) VitalsInPeriod(label string) []models.VitalSign {
	var out []models.VitalSign
	for _, i := range d.Vitals.ByPeriod[label] {
		out = append(out, d.Vitals.All[i])
	}
	return out
}

func labKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
