// Package mcp provides an MCP (Model Context Protocol) server that exposes
// the patient context engine as tools for clinical assistants.
package mcp

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/valter-silva-au/patient-brain/internal/core"
	"github.com/valter-silva-au/patient-brain/internal/observability"
)

// PatientDirectory lists the patients a chart source knows about.
type PatientDirectory interface {
	Patients(ctx context.Context) ([]string, error)
}

// Server wraps the session manager and exposes it as MCP tools.
type Server struct {
	server      *gomcp.Server
	sessions    *core.SessionManager
	directory   PatientDirectory
	metricsCalc observability.MetricsCalculator
	alertEngine observability.AlertEngine
}

// NewServer creates a new MCP server. directory may be nil to skip the
// known-patient check; metricsCalc and alertEngine may be nil if
// observability is disabled.
func NewServer(sessions *core.SessionManager, directory PatientDirectory, metricsCalc observability.MetricsCalculator, alertEngine observability.AlertEngine, version string) *Server {
	if version == "" {
		version = "dev"
	}

	s := &Server{
		sessions:    sessions,
		directory:   directory,
		metricsCalc: metricsCalc,
		alertEngine: alertEngine,
	}

	s.server = gomcp.NewServer(
		&gomcp.Implementation{Name: "pbrain", Version: version},
		nil,
	)

	s.registerTools()

	return s
}

// Run starts the MCP server on stdio, blocking until the client disconnects
// or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

// MCPServer returns the underlying mcp.Server for testing purposes.
func (s *Server) MCPServer() *gomcp.Server {
	return s.server
}

// --- Tool input/output types ---

type assembleContextInput struct {
	PatientID   string `json:"patient_id" jsonschema:"required,the patient identifier"`
	EncounterID string `json:"encounter_id,omitempty" jsonschema:"the current encounter identifier, if any"`
	Tier        string `json:"tier" jsonschema:"required,the working-memory tier (ask, dictate, refresh, write_note)"`
	Question    string `json:"question,omitempty" jsonschema:"the clinician question for the ask tier"`
	Dictation   string `json:"dictation,omitempty" jsonschema:"the narrated reasoning for the dictate tier"`
}

type assembleContextOutput struct {
	PatientID string `json:"patient_id"`
	Tier      string `json:"tier"`
	Context   string `json:"context"`
	Chars     int    `json:"chars"`
	Budget    int    `json:"budget"`
}

type refreshDocumentInput struct {
	PatientID string `json:"patient_id" jsonschema:"required,the patient identifier"`
	Full      bool   `json:"full,omitempty" jsonschema:"reload every source instead of merging new vitals and labs"`
}

type refreshDocumentOutput struct {
	PatientID     string   `json:"patient_id"`
	Version       string   `json:"version"`
	Watermark     string   `json:"watermark"`
	UpdatedAt     string   `json:"updated_at"`
	FailedSources []string `json:"failed_sources"`
}

type getLabTrendInput struct {
	PatientID string `json:"patient_id" jsonschema:"required,the patient identifier"`
	Lab       string `json:"lab" jsonschema:"required,the lab name (e.g. Potassium)"`
}

type labValueOutput struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
	Flag  string  `json:"flag,omitempty"`
}

type labTrendOutput struct {
	Name     string           `json:"name"`
	Trend    string           `json:"trend"`
	Arrow    string           `json:"arrow"`
	Baseline *float64         `json:"baseline,omitempty"`
	Summary  string           `json:"summary"`
	Values   []labValueOutput `json:"values"`
}

type writeMemoryInput struct {
	PatientID string `json:"patient_id" jsonschema:"required,the patient identifier"`
	Kind      string `json:"kind" jsonschema:"required,what to write (summary, insight, decision, interaction, narrative, observation)"`
	Text      string `json:"text" jsonschema:"required,the text to store"`
	ProblemID string `json:"problem_id,omitempty" jsonschema:"the problem identifier, required for insight"`
	Rationale string `json:"rationale,omitempty" jsonschema:"the rationale of a decision"`
	Field     string `json:"field,omitempty" jsonschema:"the narrative field (trajectory, key_finding, open_question, patient_voice, nursing)"`
}

type messageOutput struct {
	Message string `json:"message"`
}

type recordDictationInput struct {
	PatientID string `json:"patient_id" jsonschema:"required,the patient identifier"`
	Text      string `json:"text" jsonschema:"required,the dictated text"`
}

type recordDictationOutput struct {
	ID   string `json:"id"`
	Time string `json:"time"`
}

type raiseSafetyFlagInput struct {
	PatientID string `json:"patient_id" jsonschema:"required,the patient identifier"`
	Severity  string `json:"severity,omitempty" jsonschema:"the flag severity (high, medium, low)"`
	Message   string `json:"message" jsonschema:"required,the safety concern"`
}

type getMetricsInput struct {
	Since     string `json:"since,omitempty" jsonschema:"time window for metrics (e.g. 7d, 30d, 24h). Defaults to 7d."`
	PatientID string `json:"patient_id,omitempty" jsonschema:"restrict metrics to one patient"`
}

type metricsOutput struct {
	EventCount         int            `json:"event_count"`
	Patients           int            `json:"patients"`
	DocumentsBuilt     int            `json:"documents_built"`
	Refreshes          int            `json:"refreshes"`
	Rebuilds           int            `json:"rebuilds"`
	RecordsMerged      int            `json:"records_merged"`
	SourceFailures     int            `json:"source_failures"`
	FailuresBySource   map[string]int `json:"failures_by_source"`
	Assemblies         int            `json:"assemblies"`
	AssembliesByTier   map[string]int `json:"assemblies_by_tier"`
	AverageCharsByTier map[string]int `json:"average_chars_by_tier"`
	OverBudget         int            `json:"over_budget"`
	MemoryWrites       int            `json:"memory_writes"`
	OldestEvent        string         `json:"oldest_event,omitempty"`
	NewestEvent        string         `json:"newest_event,omitempty"`
}

type getAlertsInput struct{}

type alertOutput struct {
	ID          string `json:"id"`
	Condition   string `json:"condition"`
	Severity    string `json:"severity"`
	Message     string `json:"message"`
	PatientID   string `json:"patient_id,omitempty"`
	TriggeredAt string `json:"triggered_at"`
}

type getAlertsOutput struct {
	Alerts []alertOutput `json:"alerts"`
	Count  int           `json:"count"`
}

// --- Tool registration ---

func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "assemble_context",
		Description: "Assemble size-budgeted patient context for a task tier: ask (quick question), dictate (narrated reasoning), refresh (full resync with memory) or write_note (full document).",
	}, s.handleAssembleContext)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "refresh_document",
		Description: "Merge vitals and labs recorded since the last refresh into the patient document, or rebuild it from every source.",
	}, s.handleRefreshDocument)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_lab_trend",
		Description: "Get the value history, trend direction and baseline of one lab.",
	}, s.handleGetLabTrend)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "write_memory",
		Description: "Write back a patient summary, problem insight, decision, interaction summary, narrative field or observation.",
	}, s.handleWriteMemory)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "record_dictation",
		Description: "Append the clinician's dictated reasoning to the session log.",
	}, s.handleRecordDictation)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "raise_safety_flag",
		Description: "Raise an active safety flag that is shown in every assembled context.",
	}, s.handleRaiseSafetyFlag)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_metrics",
		Description: "Get aggregated metrics from the event log: builds, refreshes, source failures and assemblies by tier.",
	}, s.handleGetMetrics)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_alerts",
		Description: "Evaluate and return data-quality alerts (repeated source failures, over-budget contexts, stale documents).",
	}, s.handleGetAlerts)
}

// session opens the session for patientID after checking that the patient
// exists.
func (s *Server) session(ctx context.Context, patientID, encounterID string) (*core.PatientSession, error) {
	if patientID == "" {
		return nil, fmt.Errorf("patient_id is required")
	}
	if s.directory != nil {
		ids, err := s.directory.Patients(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing patients: %w", err)
		}
		if !slices.Contains(ids, patientID) {
			return nil, fmt.Errorf("patient %s not found", patientID)
		}
	}
	return s.sessions.Open(ctx, patientID, encounterID), nil
}

// --- Tool handlers ---

func (s *Server) handleAssembleContext(ctx context.Context, _ *gomcp.CallToolRequest, input assembleContextInput) (*gomcp.CallToolResult, assembleContextOutput, error) {
	kind, err := core.ParseTaskKind(input.Tier)
	if err != nil {
		return errorResult(err.Error()), assembleContextOutput{}, nil
	}
	sess, err := s.session(ctx, input.PatientID, input.EncounterID)
	if err != nil {
		return errorResult(err.Error()), assembleContextOutput{}, nil
	}

	text, err := sess.Assemble(kind, core.Extra{Question: input.Question, Dictation: input.Dictation})
	if err != nil {
		return errorResult(fmt.Sprintf("assembling context: %s", err)), assembleContextOutput{}, nil
	}

	out := assembleContextOutput{
		PatientID: input.PatientID,
		Tier:      string(kind),
		Context:   text,
		Chars:     len(text),
		Budget:    sess.Budget(kind),
	}
	return nil, out, nil
}

func (s *Server) handleRefreshDocument(ctx context.Context, _ *gomcp.CallToolRequest, input refreshDocumentInput) (*gomcp.CallToolResult, refreshDocumentOutput, error) {
	sess, err := s.session(ctx, input.PatientID, "")
	if err != nil {
		return errorResult(err.Error()), refreshDocumentOutput{}, nil
	}

	var meta core.Metadata
	if input.Full {
		meta = sess.Rebuild(ctx)
	} else {
		meta = sess.Refresh(ctx)
	}

	out := refreshDocumentOutput{
		PatientID:     meta.PatientID,
		Version:       meta.Version,
		Watermark:     meta.Watermark.Format(time.RFC3339),
		UpdatedAt:     meta.UpdatedAt.Format(time.RFC3339),
		FailedSources: append([]string{}, meta.FailedSources...),
	}
	return nil, out, nil
}

func (s *Server) handleGetLabTrend(ctx context.Context, _ *gomcp.CallToolRequest, input getLabTrendInput) (*gomcp.CallToolResult, labTrendOutput, error) {
	if input.Lab == "" {
		return errorResult("lab is required"), labTrendOutput{}, nil
	}
	sess, err := s.session(ctx, input.PatientID, "")
	if err != nil {
		return errorResult(err.Error()), labTrendOutput{}, nil
	}

	trend, ok := sess.LabTrend(input.Lab)
	if !ok {
		return errorResult(fmt.Sprintf("no results for lab %q", input.Lab)), labTrendOutput{}, nil
	}

	out := labTrendOutput{
		Name:     trend.Name,
		Trend:    string(trend.Trend),
		Arrow:    trend.Trend.Arrow(),
		Baseline: trend.Baseline,
		Summary:  trend.Summary(),
		Values:   make([]labValueOutput, len(trend.Values)),
	}
	for i, v := range trend.Values {
		out.Values[i] = labValueOutput{
			Date:  v.Date.Format(time.RFC3339),
			Value: v.Value,
			Unit:  v.Unit,
			Flag:  v.Flag,
		}
	}
	return nil, out, nil
}

func (s *Server) handleWriteMemory(ctx context.Context, _ *gomcp.CallToolRequest, input writeMemoryInput) (*gomcp.CallToolResult, messageOutput, error) {
	sess, err := s.session(ctx, input.PatientID, "")
	if err != nil {
		return errorResult(err.Error()), messageOutput{}, nil
	}

	kind := strings.ToLower(strings.TrimSpace(input.Kind))
	err = sess.Write(func(doc *core.LongitudinalDocument, w *core.MemoryWriter) error {
		switch kind {
		case "summary":
			return w.SetPatientSummary(doc, input.Text)
		case "insight":
			return w.UpsertInsight(doc, input.ProblemID, input.Text)
		case "decision":
			_, err := w.AppendDecision(doc, input.Text, input.Rationale)
			return err
		case "interaction":
			_, err := w.AppendInteraction(doc, "assistant", input.Text)
			return err
		case "observation":
			return w.AddObservation(doc, input.Text)
		case "narrative":
			return writeNarrativeField(doc, w, input.Field, input.Text)
		default:
			return fmt.Errorf("unknown kind %q: must be one of summary, insight, decision, interaction, narrative, observation", input.Kind)
		}
	})
	if err != nil {
		return errorResult(err.Error()), messageOutput{}, nil
	}
	return nil, messageOutput{Message: fmt.Sprintf("%s written for patient %s", kind, input.PatientID)}, nil
}

// writeNarrativeField updates one field of the narrative, keeping the rest.
func writeNarrativeField(doc *core.LongitudinalDocument, w *core.MemoryWriter, field, text string) error {
	n := doc.Narrative
	switch field {
	case "", "trajectory":
		n.TrajectoryAssessment = text
	case "key_finding":
		n.KeyFindings = append(append([]string{}, n.KeyFindings...), text)
	case "open_question":
		n.OpenQuestions = append(append([]string{}, n.OpenQuestions...), text)
	case "patient_voice":
		n.PatientVoice = text
	case "nursing":
		n.NursingAssessment = text
	default:
		return fmt.Errorf("unknown narrative field %q", field)
	}
	w.SetNarrative(doc, n)
	return nil
}

func (s *Server) handleRecordDictation(ctx context.Context, _ *gomcp.CallToolRequest, input recordDictationInput) (*gomcp.CallToolResult, recordDictationOutput, error) {
	sess, err := s.session(ctx, input.PatientID, "")
	if err != nil {
		return errorResult(err.Error()), recordDictationOutput{}, nil
	}

	var entry core.DictationEntry
	err = sess.Write(func(doc *core.LongitudinalDocument, w *core.MemoryWriter) error {
		var err error
		entry, err = w.RecordDictation(doc, input.Text)
		return err
	})
	if err != nil {
		return errorResult(err.Error()), recordDictationOutput{}, nil
	}
	return nil, recordDictationOutput{ID: entry.ID, Time: entry.Time.Format(time.RFC3339)}, nil
}

func (s *Server) handleRaiseSafetyFlag(ctx context.Context, _ *gomcp.CallToolRequest, input raiseSafetyFlagInput) (*gomcp.CallToolResult, messageOutput, error) {
	sess, err := s.session(ctx, input.PatientID, "")
	if err != nil {
		return errorResult(err.Error()), messageOutput{}, nil
	}

	var flag core.SafetyFlag
	err = sess.Write(func(doc *core.LongitudinalDocument, w *core.MemoryWriter) error {
		var err error
		flag, err = w.RaiseSafetyFlag(doc, input.Severity, input.Message)
		return err
	})
	if err != nil {
		return errorResult(err.Error()), messageOutput{}, nil
	}
	return nil, messageOutput{Message: fmt.Sprintf("safety flag %s raised", flag.ID)}, nil
}

func (s *Server) handleGetMetrics(_ context.Context, _ *gomcp.CallToolRequest, input getMetricsInput) (*gomcp.CallToolResult, metricsOutput, error) {
	if s.metricsCalc == nil {
		return errorResult("metrics calculator not available (observability may be disabled)"), emptyMetricsOutput(), nil
	}

	sinceStr := input.Since
	if sinceStr == "" {
		sinceStr = "7d"
	}

	sinceTime, err := ParseSince(sinceStr, time.Now().UTC())
	if err != nil {
		return errorResult(fmt.Sprintf("parsing since duration: %s", err)), emptyMetricsOutput(), nil
	}

	var metrics *observability.Metrics
	if input.PatientID != "" {
		metrics, err = s.metricsCalc.CalculateForPatient(input.PatientID, sinceTime)
	} else {
		metrics, err = s.metricsCalc.Calculate(sinceTime)
	}
	if err != nil {
		return errorResult(fmt.Sprintf("calculating metrics: %s", err)), emptyMetricsOutput(), nil
	}

	out := metricsOutput{
		EventCount:         metrics.EventCount,
		Patients:           metrics.Patients,
		DocumentsBuilt:     metrics.DocumentsBuilt,
		Refreshes:          metrics.Refreshes,
		Rebuilds:           metrics.Rebuilds,
		RecordsMerged:      metrics.RecordsMerged,
		SourceFailures:     metrics.SourceFailures,
		FailuresBySource:   metrics.FailuresBySource,
		Assemblies:         metrics.Assemblies,
		AssembliesByTier:   metrics.AssembliesByTier,
		AverageCharsByTier: metrics.AverageCharsByTier,
		OverBudget:         metrics.OverBudget,
		MemoryWrites:       metrics.MemoryWrites,
	}
	if metrics.OldestEvent != nil {
		out.OldestEvent = metrics.OldestEvent.Format(time.RFC3339)
	}
	if metrics.NewestEvent != nil {
		out.NewestEvent = metrics.NewestEvent.Format(time.RFC3339)
	}

	return nil, out, nil
}

func (s *Server) handleGetAlerts(_ context.Context, _ *gomcp.CallToolRequest, _ getAlertsInput) (*gomcp.CallToolResult, getAlertsOutput, error) {
	if s.alertEngine == nil {
		return errorResult("alert engine not available (observability may be disabled)"), getAlertsOutput{}, nil
	}

	alerts, err := s.alertEngine.Evaluate()
	if err != nil {
		return errorResult(fmt.Sprintf("evaluating alerts: %s", err)), getAlertsOutput{}, nil
	}

	out := getAlertsOutput{
		Alerts: make([]alertOutput, len(alerts)),
		Count:  len(alerts),
	}
	for i, a := range alerts {
		out.Alerts[i] = alertOutput{
			ID:          a.ID,
			Condition:   a.Condition,
			Severity:    string(a.Severity),
			Message:     a.Message,
			PatientID:   a.PatientID,
			TriggeredAt: a.TriggeredAt.Format(time.RFC3339),
		}
	}

	return nil, out, nil
}

// --- Helpers ---

func emptyMetricsOutput() metricsOutput {
	return metricsOutput{
		FailuresBySource:   make(map[string]int),
		AssembliesByTier:   make(map[string]int),
		AverageCharsByTier: make(map[string]int),
	}
}

func errorResult(msg string) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: msg}},
		IsError: true,
	}
}

// ParseSince parses a human-friendly duration string like "7d", "30d", or
// "24h" into the corresponding time before now.
func ParseSince(s string, now time.Time) (time.Time, error) {
	if len(s) < 2 {
		return time.Time{}, fmt.Errorf("invalid duration %q", s)
	}

	suffix := s[len(s)-1]
	numStr := s[:len(s)-1]
	var num int
	if _, err := fmt.Sscanf(numStr, "%d", &num); err != nil {
		return time.Time{}, fmt.Errorf("invalid duration %q: %w", s, err)
	}

	switch suffix {
	case 'd':
		return now.AddDate(0, 0, -num), nil
	case 'h':
		return now.Add(-time.Duration(num) * time.Hour), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported duration suffix %q (use d or h)", string(suffix))
	}
}
