package core

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/valter-silva-au/patient-brain/pkg/models"
)

// TaskKind selects a working-memory tier.
type TaskKind string

const (
	TaskAsk       TaskKind = "ask"
	TaskDictate   TaskKind = "dictate"
	TaskRefresh   TaskKind = "refresh"
	TaskWriteNote TaskKind = "write_note"
)

// ParseTaskKind maps a tier name to a TaskKind. "writeNote" and "write-note"
// are accepted as spellings of write_note.
func ParseTaskKind(s string) (TaskKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ask":
		return TaskAsk, nil
	case "dictate":
		return TaskDictate, nil
	case "refresh":
		return TaskRefresh, nil
	case "write_note", "writenote", "write-note":
		return TaskWriteNote, nil
	default:
		return "", fmt.Errorf("unknown task kind %q: must be one of ask, dictate, refresh, write_note", s)
	}
}

// Extra carries the task-specific input of a tier.
type Extra struct {
	Question  string
	Dictation string
}

const truncationMarker = "\n...(truncated)"

// Assembler builds size-budgeted working-memory views of a document.
type Assembler struct {
	renderer      *Renderer
	classifier    *CategoryClassifier
	budgets       models.BudgetConfig
	decisionLog   int
	interactions  int
	recentVitals  int
	insightRecaps int
}

// NewAssembler creates an Assembler. cfg may be nil to use defaults.
func NewAssembler(renderer *Renderer, classifier *CategoryClassifier, cfg *models.GlobalConfig) *Assembler {
	if cfg == nil {
		cfg = models.DefaultGlobalConfig()
	}
	return &Assembler{
		renderer:      renderer,
		classifier:    classifier,
		budgets:       cfg.Budgets,
		decisionLog:   cfg.Memory.DecisionLogSize,
		interactions:  cfg.Memory.InteractionLogSize,
		recentVitals:  3,
		insightRecaps: 3,
	}
}

// Budget returns the character budget of kind.
func (a *Assembler) Budget(kind TaskKind) int {
	switch kind {
	case TaskAsk:
		return a.budgets.Ask
	case TaskDictate:
		return a.budgets.Dictate
	case TaskRefresh:
		return a.budgets.Refresh
	case TaskWriteNote:
		return a.budgets.WriteNote
	default:
		return 0
	}
}

// Assemble returns the working memory for kind. The only error is an
// unknown kind; an unmatched question or dictation falls back to a compact
// overview.
func (a *Assembler) Assemble(doc *LongitudinalDocument, kind TaskKind, extra Extra) (string, error) {
	switch kind {
	case TaskAsk:
		return a.ask(doc, extra.Question), nil
	case TaskDictate:
		return a.dictate(doc, extra.Dictation), nil
	case TaskRefresh:
		return a.refresh(doc), nil
	case TaskWriteNote:
		// Identical to the renderer output; never trimmed.
		return a.renderer.Render(doc), nil
	default:
		return "", fmt.Errorf("assembling working memory: unknown task kind %q", kind)
	}
}

// IdentifyMentionedProblems returns the problems whose name or category
// keywords occur in text, in document order.
func (a *Assembler) IdentifyMentionedProblems(doc *LongitudinalDocument, text string) []*ProblemTimeline {
	lower := strings.ToLower(text)
	if strings.TrimSpace(lower) == "" {
		return nil
	}
	var out []*ProblemTimeline
	for _, tl := range doc.Problems() {
		name := strings.ToLower(strings.TrimSpace(tl.Name))
		if (name != "" && strings.Contains(lower, name)) || a.classifier.MentionsCategory(lower, tl.Category) {
			out = append(out, tl)
		}
	}
	return out
}

func (a *Assembler) ask(doc *LongitudinalDocument, question string) string {
	blocks := []block{
		{text: a.summaryOrHeader(doc), protected: true},
		{text: a.renderer.Safety(doc), protected: true},
	}

	mentioned := a.IdentifyMentionedProblems(doc, question)
	topics := detectTopics(doc, question)
	var topical []string
	if topics.labs {
		named := namedLabTrends(doc, question)
		if len(named) > 0 {
			topical = append(topical, a.renderer.LabTrends(named))
			var details strings.Builder
			details.WriteString("## Lab Detail\n")
			for _, t := range named {
				details.WriteString("\n" + t.Detailed() + "\n")
			}
			topical = append(topical, details.String())
		} else {
			topical = append(topical, a.renderer.LabTrends(doc.LabTrends()))
		}
	}
	if topics.meds {
		topical = append(topical, a.renderer.Medications(doc))
	}
	if topics.vitals {
		topical = append(topical, a.renderer.Vitals(doc))
	}
	if len(mentioned) > 0 {
		topical = append(topical, a.renderer.ProblemMatrix(doc, mentioned))
	}
	if strings.TrimSpace(joinSections(topical...)) == "" {
		topical = []string{a.overview(doc)}
	}
	for _, t := range topical {
		blocks = append(blocks, block{text: t})
	}

	blocks = append(blocks,
		block{text: a.sessionActivity(doc)},
		block{text: a.insightRecap(doc, mentioned)},
	)
	return fitBudget(a.budgets.Ask, blocks...)
}

func (a *Assembler) dictate(doc *LongitudinalDocument, dictation string) string {
	problems := a.IdentifyMentionedProblems(doc, dictation)
	if len(problems) == 0 {
		problems = doc.ActiveProblems()
	}
	problemBlock := a.renderer.ProblemMatrix(doc, problems)
	if problemBlock == "" {
		problemBlock = a.overview(doc)
	}
	blocks := []block{
		{text: a.summaryOrHeader(doc), protected: true},
		{text: a.renderer.Safety(doc), protected: true},
		{text: problemBlock},
		{text: a.recentSnapshot(doc)},
		{text: a.currentMedications(doc)},
		{text: a.sessionActivity(doc)},
		{text: a.insightRecap(doc, problems)},
	}
	return fitBudget(a.budgets.Dictate, blocks...)
}

func (a *Assembler) refresh(doc *LongitudinalDocument) string {
	r := a.renderer
	rest := joinSections(
		r.ProblemMatrix(doc, doc.Problems()),
		r.LabTrends(doc.LabTrends()),
		r.Vitals(doc),
		r.Medications(doc),
		r.Narrative(doc),
		r.SessionContext(doc),
	)
	return fitBudget(a.budgets.Refresh,
		block{text: r.Header(doc), protected: true},
		block{text: r.Safety(doc), protected: true},
		block{text: rest},
		block{text: a.MemoryBlock(doc)},
	)
}

func (a *Assembler) summaryOrHeader(doc *LongitudinalDocument) string {
	if s := strings.TrimSpace(doc.Memory.PatientSummary); s != "" {
		return "## Patient Summary\n\n" + s + "\n"
	}
	return a.renderer.Header(doc)
}

// overview is the compact fallback: active problems plus recent data.
func (a *Assembler) overview(doc *LongitudinalDocument) string {
	var sb strings.Builder
	sb.WriteString("## Overview\n\n")
	active := doc.ActiveProblems()
	if len(active) == 0 {
		sb.WriteString("No active problems.\n")
	} else {
		sb.WriteString("Active problems:\n")
		for _, tl := range active {
			sb.WriteString(fmt.Sprintf("- %s (%s): %s\n", tl.Name, tl.Category, Trajectory(tl)))
		}
	}
	sb.WriteString("\n")
	sb.WriteString(a.recentSnapshot(doc))
	return sb.String()
}

// recentSnapshot lists the latest vitals and every lab whose latest value
// is out of range.
func (a *Assembler) recentSnapshot(doc *LongitudinalDocument) string {
	var sb strings.Builder
	sb.WriteString("## Recent Data\n\n")
	vitals := doc.Vitals.All
	if len(vitals) > a.recentVitals {
		vitals = vitals[:a.recentVitals]
	}
	if len(vitals) == 0 {
		sb.WriteString("No vitals recorded.\n")
	} else {
		sb.WriteString("Latest vitals:\n")
		for _, v := range vitals {
			sb.WriteString("- " + compactVitals(v) + "\n")
		}
	}

	var abnormal []string
	for _, t := range doc.LabTrends() {
		if latest, ok := t.Latest(); ok && IsOutOfRange(latest.Flag) {
			abnormal = append(abnormal, t.Summary())
		}
	}
	if len(abnormal) == 0 {
		sb.WriteString("\nNo abnormal recent labs.\n")
	} else {
		sb.WriteString("\nAbnormal labs:\n")
		for _, s := range abnormal {
			sb.WriteString("- " + s + "\n")
		}
	}
	return sb.String()
}

func compactVitals(v models.VitalSign) string {
	parts := []string{v.Date.Format("2006-01-02 15:04")}
	if v.Systolic != 0 || v.Diastolic != 0 {
		parts = append(parts, fmt.Sprintf("BP %s/%s", vitalCell(v.Systolic), vitalCell(v.Diastolic)))
	}
	add := func(label string, val float64) {
		if val != 0 {
			parts = append(parts, label+" "+vitalCell(val))
		}
	}
	add("HR", v.HeartRate)
	add("RR", v.RespiratoryRate)
	add("SpO2", v.SpO2)
	add("T", v.Temperature)
	add("Wt", v.Weight)
	return strings.Join(parts, ", ")
}

func (a *Assembler) currentMedications(doc *LongitudinalDocument) string {
	if len(doc.Medications.Current) == 0 {
		return "## Current Medications\n\nNo active medications recorded.\n"
	}
	var sb strings.Builder
	sb.WriteString("## Current Medications\n\n")
	for _, m := range doc.Medications.Current {
		sb.WriteString("- " + m.Describe() + "\n")
	}
	return sb.String()
}

// sessionActivity summarizes the session without transcripts.
func (a *Assembler) sessionActivity(doc *LongitudinalDocument) string {
	s := doc.Session
	if s.IsEmpty() {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Session Activity\n\n")
	sb.WriteString(fmt.Sprintf("%d dictation entries, %d reviewed, %d pending.\n", len(s.DictationLog), len(s.Reviewed), len(s.Pending)))
	start := max(len(s.DictationLog)-3, 0)
	for _, d := range s.DictationLog[start:] {
		sb.WriteString("- " + d.Text + "\n")
	}
	for _, p := range s.Pending {
		sb.WriteString("- [ ] " + p + "\n")
	}
	return sb.String()
}

// insightRecap lists prior insights for problems, or the most recent ones
// when problems is empty, followed by the latest decisions.
func (a *Assembler) insightRecap(doc *LongitudinalDocument, problems []*ProblemTimeline) string {
	m := doc.Memory
	var lines []string
	if len(problems) > 0 {
		for _, tl := range problems {
			if in, ok := m.Insight(tl.ID); ok && in.Text != "" {
				lines = append(lines, fmt.Sprintf("- %s: %s", tl.Name, in.Text))
			}
		}
	} else {
		start := max(len(m.ProblemInsights)-a.insightRecaps, 0)
		for _, in := range m.ProblemInsights[start:] {
			name := in.ProblemID
			if tl, ok := doc.Problem(in.ProblemID); ok {
				name = tl.Name
			}
			lines = append(lines, fmt.Sprintf("- %s: %s", name, in.Text))
		}
	}
	start := max(len(m.DecisionLog)-a.insightRecaps, 0)
	for _, d := range m.DecisionLog[start:] {
		lines = append(lines, fmt.Sprintf("- Decision %s: %s", d.Time.Format(dateLayout), d.Decision))
	}
	if len(lines) == 0 {
		return ""
	}
	return "## Prior Insights\n\n" + strings.Join(lines, "\n") + "\n"
}

// MemoryBlock renders the accumulated memory: summary, per-problem insights,
// the rolling decision log and recent interactions.
func (a *Assembler) MemoryBlock(doc *LongitudinalDocument) string {
	m := doc.Memory
	if m.IsEmpty() {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Accumulated Memory\n")
	if m.PatientSummary != "" {
		sb.WriteString("\n### Patient Summary\n\n" + m.PatientSummary + "\n")
	}
	if len(m.ProblemInsights) > 0 {
		sb.WriteString("\n### Problem Insights\n\n")
		for _, in := range m.ProblemInsights {
			name := in.ProblemID
			if tl, ok := doc.Problem(in.ProblemID); ok {
				name = tl.Name
			}
			sb.WriteString(fmt.Sprintf("- %s (%s): %s\n", name, in.UpdatedAt.Format(dateLayout), in.Text))
		}
	}
	if len(m.DecisionLog) > 0 {
		sb.WriteString("\n### Decision Log\n\n")
		start := max(len(m.DecisionLog)-a.decisionLog, 0)
		for _, d := range m.DecisionLog[start:] {
			line := fmt.Sprintf("- %s %s", d.Time.Format("2006-01-02 15:04"), d.Decision)
			if d.Rationale != "" {
				line += " (" + d.Rationale + ")"
			}
			sb.WriteString(line + "\n")
		}
	}
	if len(m.InteractionSummaries) > 0 {
		sb.WriteString("\n### Recent Interactions\n\n")
		start := max(len(m.InteractionSummaries)-a.interactions, 0)
		for _, in := range m.InteractionSummaries[start:] {
			sb.WriteString(fmt.Sprintf("- %s [%s] %s\n", in.Time.Format("2006-01-02 15:04"), in.Kind, in.Summary))
		}
	}
	return sb.String()
}

// block is one assembled section. Protected blocks are never truncated.
type block struct {
	text      string
	protected bool
}

// fitBudget joins blocks with the section separator so that the result stays
// within budget characters. Protected blocks are always kept whole; the
// first unprotected block that does not fit is cut and marked, and later
// unprotected blocks are dropped. A non-positive budget disables the limit.
func fitBudget(budget int, blocks ...block) string {
	var kept []block
	for _, b := range blocks {
		if t := strings.TrimSpace(b.text); t != "" {
			kept = append(kept, block{text: t, protected: b.protected})
		}
	}
	if budget <= 0 {
		texts := make([]string, len(kept))
		for i, b := range kept {
			texts[i] = b.text
		}
		return strings.Join(texts, sectionSeparator)
	}

	remaining := budget
	if len(kept) > 1 {
		remaining -= (len(kept) - 1) * len(sectionSeparator)
	}
	for _, b := range kept {
		if b.protected {
			remaining -= len(b.text)
		}
	}

	var out []string
	for _, b := range kept {
		switch {
		case b.protected:
			out = append(out, b.text)
		case remaining <= 0:
		case len(b.text) <= remaining:
			out = append(out, b.text)
			remaining -= len(b.text)
		default:
			if keep := remaining - len(truncationMarker); keep > 0 {
				out = append(out, truncateBytes(b.text, keep)+truncationMarker)
			}
			remaining = 0
		}
	}
	return strings.Join(out, sectionSeparator)
}

// truncateBytes cuts s to at most n bytes on a rune boundary.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return strings.TrimRightFunc(s[:n], unicode.IsSpace)
}

// topicSet records which data domains a question touches.
type topicSet struct {
	labs   bool
	meds   bool
	vitals bool
}

var (
	labTopicWords = []string{
		"lab", "labs", "level", "levels", "potassium", "sodium", "creatinine", "bnp", "troponin",
		"hemoglobin", "glucose", "a1c", "inr", "wbc", "platelet", "electrolyte", "cbc", "bmp",
		"cmp", "kidney function", "renal function", "liver function", "lfts", "lipid",
		"cholesterol", "magnesium", "k", "na", "cr", "hgb",
	}
	medTopicWords = []string{
		"med", "meds", "medication", "medications", "drug", "drugs", "dose", "dosing",
		"prescri", "taking", "diuretic", "statin", "insulin", "anticoagula", "antibiotic",
		"regimen",
	}
	vitalTopicWords = []string{
		"vital", "vitals", "bp", "blood pressure", "heart rate", "hr", "pulse", "spo2",
		"oxygen", "sat", "sats", "saturation", "temp", "temperature", "fever", "weight",
		"respiratory rate", "rr", "pain",
	}
	labAliases = map[string]string{
		"k":   "potassium",
		"na":  "sodium",
		"cr":  "creatinine",
		"hgb": "hemoglobin",
		"a1c": "hba1c",
	}
)

func detectTopics(doc *LongitudinalDocument, question string) topicSet {
	q := newQueryText(question)
	var t topicSet
	t.labs = q.matchesAny(labTopicWords) || len(namedLabTrends(doc, question)) > 0
	t.meds = q.matchesAny(medTopicWords)
	if !t.meds {
		for _, m := range doc.Medications.Current {
			if first := firstWord(m.Name); first != "" && q.matches(first) {
				t.meds = true
				break
			}
		}
	}
	t.vitals = q.matchesAny(vitalTopicWords)
	return t
}

// namedLabTrends returns the document's trends named in question.
func namedLabTrends(doc *LongitudinalDocument, question string) []*LabTrend {
	q := newQueryText(question)
	var out []*LabTrend
	for _, t := range doc.LabTrends() {
		key := labKey(t.Name)
		hit := q.matches(key)
		for alias, target := range labAliases {
			if target == key && q.matches(alias) {
				hit = true
			}
		}
		if hit {
			out = append(out, t)
		}
	}
	return out
}

func firstWord(s string) string {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// queryText matches keywords against free text. Keywords of three
// characters or fewer must match a whole word.
type queryText struct {
	lower string
	words map[string]bool
}

func newQueryText(s string) queryText {
	lower := strings.ToLower(s)
	words := map[string]bool{}
	for _, w := range strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		words[w] = true
	}
	return queryText{lower: lower, words: words}
}

func (q queryText) matches(keyword string) bool {
	if keyword == "" {
		return false
	}
	if len(keyword) <= 3 {
		return q.words[keyword]
	}
	return strings.Contains(q.lower, keyword)
}

func (q queryText) matchesAny(keywords []string) bool {
	for _, k := range keywords {
		if q.matches(k) {
			return true
		}
	}
	return false
}
