package core

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/valter-silva-au/patient-brain/pkg/models"
)

// Conversation channels accepted by AddConversationTurn.
const (
	ConversationPatient = "patient"
	ConversationNurse   = "nurse"
)

// MemoryWriter applies assistant and clinician write-back to a document.
// Written text is treated as opaque: it is trimmed and size-bounded, never
// interpreted.
type MemoryWriter struct {
	now          Clock
	events       EventLogger // may be nil
	maxChars     int
	decisions    int
	interactions int
}

// NewMemoryWriter creates a MemoryWriter. cfg may be nil to use defaults.
func NewMemoryWriter(now Clock, cfg *models.GlobalConfig, events EventLogger) *MemoryWriter {
	if cfg == nil {
		cfg = models.DefaultGlobalConfig()
	}
	return &MemoryWriter{
		now:          now,
		events:       events,
		maxChars:     cfg.Memory.MaxInsightChars,
		decisions:    cfg.Memory.DecisionLogSize,
		interactions: cfg.Memory.InteractionLogSize,
	}
}

func (w *MemoryWriter) bound(field, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("writing %s: text must not be empty", field)
	}
	if w.maxChars > 0 && utf8.RuneCountInString(text) > w.maxChars {
		runes := []rune(text)
		text = string(runes[:w.maxChars]) + "..."
	}
	return text, nil
}

func (w *MemoryWriter) logWrite(doc *LongitudinalDocument, kind string, data map[string]any) {
	if w.events == nil {
		return
	}
	if data == nil {
		data = map[string]any{}
	}
	data["patient_id"] = doc.Metadata.PatientID
	data["kind"] = kind
	_ = w.events.LogEvent("memory.written", data)
}

// SetPatientSummary replaces the accumulated patient summary.
func (w *MemoryWriter) SetPatientSummary(doc *LongitudinalDocument, text string) error {
	text, err := w.bound("patient summary", text)
	if err != nil {
		return err
	}
	doc.Memory.PatientSummary = text
	w.logWrite(doc, "summary", map[string]any{"chars": len(text)})
	return nil
}

// UpsertInsight sets the insight of a known problem.
func (w *MemoryWriter) UpsertInsight(doc *LongitudinalDocument, problemID, text string) error {
	if _, ok := doc.Problem(problemID); !ok {
		return fmt.Errorf("writing insight: problem %q not found", problemID)
	}
	text, err := w.bound("insight", text)
	if err != nil {
		return err
	}
	now := w.now()
	for i := range doc.Memory.ProblemInsights {
		if doc.Memory.ProblemInsights[i].ProblemID == problemID {
			doc.Memory.ProblemInsights[i].Text = text
			doc.Memory.ProblemInsights[i].UpdatedAt = now
			w.logWrite(doc, "insight", map[string]any{"problem_id": problemID})
			return nil
		}
	}
	doc.Memory.ProblemInsights = append(doc.Memory.ProblemInsights, ProblemInsight{
		ProblemID: problemID, Text: text, UpdatedAt: now,
	})
	w.logWrite(doc, "insight", map[string]any{"problem_id": problemID})
	return nil
}

// AppendDecision adds to the rolling decision log, dropping the oldest
// entries beyond the configured size.
func (w *MemoryWriter) AppendDecision(doc *LongitudinalDocument, decision, rationale string) (Decision, error) {
	decision, err := w.bound("decision", decision)
	if err != nil {
		return Decision{}, err
	}
	d := Decision{ID: uuid.NewString(), Time: w.now(), Decision: decision}
	if r := strings.TrimSpace(rationale); r != "" {
		d.Rationale, _ = w.bound("rationale", r)
	}
	doc.Memory.DecisionLog = keepLast(append(doc.Memory.DecisionLog, d), w.decisions)
	w.logWrite(doc, "decision", map[string]any{"id": d.ID})
	return d, nil
}

// AppendInteraction records a summary of an assistant exchange, keeping the
// configured number of recent entries.
func (w *MemoryWriter) AppendInteraction(doc *LongitudinalDocument, kind, summary string) (InteractionSummary, error) {
	summary, err := w.bound("interaction summary", summary)
	if err != nil {
		return InteractionSummary{}, err
	}
	in := InteractionSummary{ID: uuid.NewString(), Time: w.now(), Kind: strings.TrimSpace(kind), Summary: summary}
	doc.Memory.InteractionSummaries = keepLast(append(doc.Memory.InteractionSummaries, in), w.interactions)
	w.logWrite(doc, "interaction", map[string]any{"id": in.ID})
	return in, nil
}

// SetNarrative replaces the clinical narrative. Empty fields clear the
// corresponding part.
func (w *MemoryWriter) SetNarrative(doc *LongitudinalDocument, n ClinicalNarrative) {
	clip := func(s string) string {
		out, err := w.bound("narrative", s)
		if err != nil {
			return ""
		}
		return out
	}
	clipAll := func(in []string) []string {
		out := []string{}
		for _, s := range in {
			if c := clip(s); c != "" {
				out = append(out, c)
			}
		}
		return out
	}
	doc.Narrative = ClinicalNarrative{
		TrajectoryAssessment: clip(n.TrajectoryAssessment),
		KeyFindings:          clipAll(n.KeyFindings),
		OpenQuestions:        clipAll(n.OpenQuestions),
		PatientVoice:         clip(n.PatientVoice),
		NursingAssessment:    clip(n.NursingAssessment),
	}
	w.logWrite(doc, "narrative", nil)
}

// RecordDictation appends to the session dictation log.
func (w *MemoryWriter) RecordDictation(doc *LongitudinalDocument, text string) (DictationEntry, error) {
	text, err := w.bound("dictation", text)
	if err != nil {
		return DictationEntry{}, err
	}
	e := DictationEntry{ID: uuid.NewString(), Time: w.now(), Text: text}
	doc.Session.DictationLog = append(doc.Session.DictationLog, e)
	w.logWrite(doc, "dictation", map[string]any{"id": e.ID})
	return e, nil
}

// RaiseSafetyFlag adds an active safety flag.
func (w *MemoryWriter) RaiseSafetyFlag(doc *LongitudinalDocument, severity, message string) (SafetyFlag, error) {
	message, err := w.bound("safety flag", message)
	if err != nil {
		return SafetyFlag{}, err
	}
	f := SafetyFlag{ID: uuid.NewString(), Raised: w.now(), Severity: strings.ToLower(strings.TrimSpace(severity)), Message: message}
	doc.Session.SafetyFlags = append(doc.Session.SafetyFlags, f)
	w.logWrite(doc, "safety_flag", map[string]any{"id": f.ID, "severity": f.Severity})
	return f, nil
}

// ClearSafetyFlag removes the flag with id.
func (w *MemoryWriter) ClearSafetyFlag(doc *LongitudinalDocument, id string) error {
	flags := doc.Session.SafetyFlags
	for i, f := range flags {
		if f.ID == id {
			doc.Session.SafetyFlags = append(flags[:i:i], flags[i+1:]...)
			w.logWrite(doc, "safety_flag_cleared", map[string]any{"id": id})
			return nil
		}
	}
	return fmt.Errorf("clearing safety flag: %q not found", id)
}

// AddObservation appends an assistant observation to the session.
func (w *MemoryWriter) AddObservation(doc *LongitudinalDocument, text string) error {
	text, err := w.bound("observation", text)
	if err != nil {
		return err
	}
	doc.Session.AIObservations = append(doc.Session.AIObservations, text)
	w.logWrite(doc, "observation", nil)
	return nil
}

// AddPending adds an item to the pending checklist.
func (w *MemoryWriter) AddPending(doc *LongitudinalDocument, item string) error {
	item, err := w.bound("pending item", item)
	if err != nil {
		return err
	}
	doc.Session.Pending = append(doc.Session.Pending, item)
	return nil
}

// MarkReviewed moves item from pending to reviewed, adding it to reviewed
// when it was not pending.
func (w *MemoryWriter) MarkReviewed(doc *LongitudinalDocument, item string) error {
	item, err := w.bound("reviewed item", item)
	if err != nil {
		return err
	}
	pending := doc.Session.Pending[:0:0]
	for _, p := range doc.Session.Pending {
		if !strings.EqualFold(p, item) {
			pending = append(pending, p)
		}
	}
	doc.Session.Pending = pending
	doc.Session.Reviewed = append(doc.Session.Reviewed, item)
	return nil
}

// AddConversationTurn appends to the patient or nurse transcript.
func (w *MemoryWriter) AddConversationTurn(doc *LongitudinalDocument, channel, speaker, text string) error {
	text, err := w.bound("conversation", text)
	if err != nil {
		return err
	}
	turn := ConversationTurn{Time: w.now(), Speaker: strings.TrimSpace(speaker), Text: text}
	switch channel {
	case ConversationPatient:
		doc.Session.PatientConversation = append(doc.Session.PatientConversation, turn)
	case ConversationNurse:
		doc.Session.NurseConversation = append(doc.Session.NurseConversation, turn)
	default:
		return fmt.Errorf("adding conversation turn: unknown channel %q", channel)
	}
	return nil
}

func keepLast[T any](s []T, n int) []T {
	if n <= 0 || len(s) <= n {
		return s
	}
	return append(s[:0:0], s[len(s)-n:]...)
}
