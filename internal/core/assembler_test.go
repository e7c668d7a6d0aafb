package core

import (
	"strings"
	"testing"

	"github.com/valter-silva-au/patient-brain/pkg/models"
)

func TestParseTaskKind(t *testing.T) {
	tests := map[string]TaskKind{
		"ask":        TaskAsk,
		" Dictate ":  TaskDictate,
		"refresh":    TaskRefresh,
		"write_note": TaskWriteNote,
		"writeNote":  TaskWriteNote,
		"write-note": TaskWriteNote,
	}
	for in, want := range tests {
		got, err := ParseTaskKind(in)
		if err != nil || got != want {
			t.Errorf("ParseTaskKind(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseTaskKind("summarize"); err == nil {
		t.Error("expected error for unknown tier")
	}
}

func TestAssemble_UnknownKind(t *testing.T) {
	e := setupEngine(t, sampleChart(testNow), nil)
	if _, err := e.assembler.Assemble(e.build(t), TaskKind("summarize"), Extra{}); err == nil {
		t.Fatal("expected error for unknown task kind")
	}
}

func TestAssemble_AskAboutLab(t *testing.T) {
	e := setupEngine(t, sampleChart(testNow), nil)
	out, err := e.assembler.Assemble(e.build(t), TaskAsk, Extra{Question: "What is the potassium trend?"})
	if err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{"# Patient: Maria Santos", "## Safety", "## Lab Trends", "## Lab Detail", "Potassium - trend: falling significantly"} {
		if !strings.Contains(out, want) {
			t.Errorf("ask missing %q:\n%s", want, out)
		}
	}
	for _, absent := range []string{"## Problem Matrix", "| BNP", "## Overview"} {
		if strings.Contains(out, absent) {
			t.Errorf("ask should not include %q:\n%s", absent, out)
		}
	}
}

func TestAssemble_AskAboutProblem(t *testing.T) {
	e := setupEngine(t, sampleChart(testNow), nil)
	doc := e.build(t)
	if err := e.writer.UpsertInsight(doc, "chf", "Responds to 40 mg IV furosemide"); err != nil {
		t.Fatal(err)
	}

	out, err := e.assembler.Assemble(doc, TaskAsk, Extra{Question: "How is her heart doing?"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "#### Congestive heart failure") {
		t.Errorf("expected the heart failure block:\n%s", out)
	}
	if strings.Contains(out, "Chronic kidney disease") {
		t.Errorf("unrelated problem included:\n%s", out)
	}
	if !strings.Contains(out, "## Prior Insights") || !strings.Contains(out, "- Congestive heart failure: Responds to 40 mg IV furosemide") {
		t.Errorf("expected prior insight recap:\n%s", out)
	}
}

func TestAssemble_AskFallsBackToOverview(t *testing.T) {
	e := setupEngine(t, sampleChart(testNow), nil)
	out, err := e.assembler.Assemble(e.build(t), TaskAsk, Extra{Question: "hello there"})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"## Overview", "Active problems:", "Abnormal labs:", "Potassium: 3.1 mmol/L (L)"} {
		if !strings.Contains(out, want) {
			t.Errorf("overview missing %q:\n%s", want, out)
		}
	}
}

func TestAssemble_AskPrefersPatientSummary(t *testing.T) {
	e := setupEngine(t, sampleChart(testNow), nil)
	doc := e.build(t)
	if err := e.writer.SetPatientSummary(doc, "75F HFrEF, CKD3, admitted with volume overload."); err != nil {
		t.Fatal(err)
	}
	out, _ := e.assembler.Assemble(doc, TaskAsk, Extra{Question: "any meds changed?"})
	if !strings.Contains(out, "## Patient Summary") || strings.Contains(out, "# Patient: Maria Santos") {
		t.Errorf("expected summary in place of header:\n%s", out)
	}
	if !strings.Contains(out, "## Medications") {
		t.Errorf("expected medications for a medication question:\n%s", out)
	}
}

func TestAssemble_AskRespectsBudget(t *testing.T) {
	cfg := models.DefaultGlobalConfig()
	cfg.Budgets.Ask = 400
	e := setupEngine(t, sampleChart(testNow), cfg)
	out, err := e.assembler.Assemble(e.build(t), TaskAsk, Extra{Question: "potassium?"})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) > 400 {
		t.Errorf("ask output %d chars exceeds budget 400", len(out))
	}
	if !strings.Contains(out, "Penicillin") {
		t.Error("safety must survive truncation")
	}
	if !strings.Contains(out, "...(truncated)") {
		t.Errorf("expected truncation marker:\n%s", out)
	}
}

func TestAssemble_Dictate(t *testing.T) {
	e := setupEngine(t, sampleChart(testNow), nil)
	doc := e.build(t)

	out, _ := e.assembler.Assemble(doc, TaskDictate, Extra{Dictation: "Worsening kidney function, will hold lisinopril."})
	if !strings.Contains(out, "#### Chronic kidney disease stage 3") {
		t.Errorf("expected the kidney problem block:\n%s", out)
	}
	if strings.Contains(out, "#### Congestive heart failure") {
		t.Errorf("unmentioned problem included:\n%s", out)
	}
	for _, want := range []string{"## Recent Data", "Latest vitals:", "## Current Medications", "- Furosemide 40 mg PO daily"} {
		if !strings.Contains(out, want) {
			t.Errorf("dictate missing %q:\n%s", want, out)
		}
	}

	out, _ = e.assembler.Assemble(doc, TaskDictate, Extra{Dictation: "Patient resting comfortably."})
	if !strings.Contains(out, "#### Congestive heart failure") || !strings.Contains(out, "#### Chronic kidney disease stage 3") {
		t.Errorf("expected all active problems when nothing is mentioned:\n%s", out)
	}
}

func TestAssemble_RefreshIncludesMemory(t *testing.T) {
	e := setupEngine(t, sampleChart(testNow), nil)
	doc := e.build(t)
	if err := e.writer.SetPatientSummary(doc, "Stable overnight."); err != nil {
		t.Fatal(err)
	}
	if _, err := e.writer.AppendDecision(doc, "Hold lisinopril", "potassium trend"); err != nil {
		t.Fatal(err)
	}

	out, _ := e.assembler.Assemble(doc, TaskRefresh, Extra{})
	for _, want := range []string{"# Patient: Maria Santos", "## Problem Matrix", "## Accumulated Memory", "### Patient Summary", "### Decision Log", "Hold lisinopril (potassium trend)"} {
		if !strings.Contains(out, want) {
			t.Errorf("refresh missing %q", want)
		}
	}
}

func TestAssemble_WriteNoteMatchesRenderUntrimmed(t *testing.T) {
	cfg := models.DefaultGlobalConfig()
	cfg.Budgets.WriteNote = 10
	e := setupEngine(t, sampleChart(testNow), cfg)
	doc := e.build(t)

	out, err := e.assembler.Assemble(doc, TaskWriteNote, Extra{})
	if err != nil {
		t.Fatal(err)
	}
	if out != e.renderer.Render(doc) {
		t.Error("write_note must equal the full rendered document")
	}
}

func TestDetectTopics_ShortKeywordsMatchWholeWords(t *testing.T) {
	e := setupEngine(t, sampleChart(testNow), nil)
	doc := e.build(t)

	if detectTopics(doc, "kindly check the chart").labs {
		t.Error("\"k\" inside a word should not trigger labs")
	}
	if !detectTopics(doc, "what is her k today?").labs {
		t.Error("standalone \"k\" should trigger labs")
	}
	if !detectTopics(doc, "is she taking anything new").meds {
		t.Error("expected medication topic")
	}
	if !detectTopics(doc, "is the furosemide working").meds {
		t.Error("expected a current drug name to trigger medications")
	}
	if !detectTopics(doc, "bp overnight?").vitals {
		t.Error("expected vitals topic")
	}
	if got := namedLabTrends(doc, "latest K and BNP"); len(got) != 2 {
		t.Errorf("expected alias and name matches, got %d trends", len(got))
	}
}

func TestFitBudget(t *testing.T) {
	long := strings.Repeat("x", 100)

	got := fitBudget(40, block{text: long})
	if len(got) != 40 || !strings.HasSuffix(got, truncationMarker) {
		t.Errorf("expected 40-char truncated block, got %d: %q", len(got), got)
	}

	got = fitBudget(40, block{text: long}, block{text: "tail"})
	if strings.Contains(got, "tail") {
		t.Error("blocks after the cut should be dropped")
	}

	protected := strings.Repeat("p", 30)
	got = fitBudget(10, block{text: protected, protected: true}, block{text: "extra"})
	if got != protected {
		t.Errorf("expected only the whole protected block, got %q", got)
	}

	got = fitBudget(0, block{text: "a"}, block{text: "  "}, block{text: "b"})
	if got != "a"+sectionSeparator+"b" {
		t.Errorf("expected unlimited join skipping blanks, got %q", got)
	}
}

func TestTruncateBytes_RuneBoundary(t *testing.T) {
	s := "ab↓↓cd"
	got := truncateBytes(s, 4)
	if got != "ab" {
		t.Errorf("truncateBytes(%q, 4) = %q, want %q", s, got, "ab")
	}
}
