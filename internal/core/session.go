package core

import (
	"context"
	"sync"
	"time"
)

// PatientSession owns one patient's document and serializes mutation of it.
// Renders and assemblies take a read lock; builds, refreshes and write-back
// take the write lock.
type PatientSession struct {
	mu        sync.RWMutex
	doc       *LongitudinalDocument
	builder   DocumentBuilder
	renderer  *Renderer
	assembler *Assembler
	writer    *MemoryWriter
	events    EventLogger // may be nil
}

// OpenSession builds the document for patientID and returns a session
// around it.
func OpenSession(ctx context.Context, builder DocumentBuilder, renderer *Renderer, assembler *Assembler, writer *MemoryWriter, events EventLogger, patientID, encounterID string) *PatientSession {
	return &PatientSession{
		doc:       builder.BuildFull(ctx, patientID, encounterID),
		builder:   builder,
		renderer:  renderer,
		assembler: assembler,
		writer:    writer,
		events:    events,
	}
}

// PatientID returns the session's patient.
func (s *PatientSession) PatientID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Metadata.PatientID
}

// Refresh merges data newer than the document's watermark.
func (s *PatientSession) Refresh(ctx context.Context) Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.builder.Refresh(ctx, s.doc)
	return s.doc.Metadata
}

// Rebuild reloads every source, keeping narrative, session and memory.
func (s *PatientSession) Rebuild(ctx context.Context) Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Metadata.Watermark = time.Time{}
	s.builder.UpdateSince(ctx, s.doc, time.Time{})
	return s.doc.Metadata
}

// Render returns the full rendered document.
func (s *PatientSession) Render() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.renderer.Render(s.doc)
}

// Assemble returns the working memory for kind.
func (s *PatientSession) Assemble(kind TaskKind, extra Extra) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out, err := s.assembler.Assemble(s.doc, kind, extra)
	if err != nil {
		return "", err
	}
	if s.events != nil {
		_ = s.events.LogEvent("memory.assembled", map[string]any{
			"patient_id": s.doc.Metadata.PatientID,
			"tier":       string(kind),
			"chars":      len(out),
			"budget":     s.assembler.Budget(kind),
		})
	}
	return out, nil
}

// Budget returns the character budget of kind.
func (s *PatientSession) Budget(kind TaskKind) int {
	return s.assembler.Budget(kind)
}

// View calls fn with the document under the read lock. fn must not retain
// or modify the document.
func (s *PatientSession) View(fn func(doc *LongitudinalDocument)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.doc)
}

// Write calls fn with the document and the memory writer under the write
// lock.
func (s *PatientSession) Write(fn func(doc *LongitudinalDocument, w *MemoryWriter) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.doc, s.writer)
}

// LabTrend returns a copy of the named trend.
func (s *PatientSession) LabTrend(name string) (LabTrend, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.doc.LabTrend(name)
	if !ok {
		return LabTrend{}, false
	}
	cp := *t
	cp.Values = append([]LabValue(nil), t.Values...)
	cp.CriticalEvents = append([]LabValue(nil), t.CriticalEvents...)
	if t.Baseline != nil {
		b := *t.Baseline
		cp.Baseline = &b
	}
	return cp, true
}

// SessionManager keeps one open session per patient.
type SessionManager struct {
	mu        sync.Mutex
	sessions  map[string]*PatientSession
	builder   DocumentBuilder
	renderer  *Renderer
	assembler *Assembler
	writer    *MemoryWriter
	events    EventLogger
}

// NewSessionManager creates a SessionManager.
func NewSessionManager(builder DocumentBuilder, renderer *Renderer, assembler *Assembler, writer *MemoryWriter, events EventLogger) *SessionManager {
	return &SessionManager{
		sessions:  make(map[string]*PatientSession),
		builder:   builder,
		renderer:  renderer,
		assembler: assembler,
		writer:    writer,
		events:    events,
	}
}

// Open returns the session for patientID, building it on first use. An
// existing session is reused unless encounterID differs from the one it was
// opened with.
func (m *SessionManager) Open(ctx context.Context, patientID, encounterID string) *PatientSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[patientID]; ok {
		var current string
		s.View(func(doc *LongitudinalDocument) { current = doc.Metadata.EncounterID })
		if encounterID == "" || encounterID == current {
			return s
		}
	}
	s := OpenSession(ctx, m.builder, m.renderer, m.assembler, m.writer, m.events, patientID, encounterID)
	m.sessions[patientID] = s
	return s
}

// Close drops the session for patientID.
func (m *SessionManager) Close(patientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, patientID)
}
