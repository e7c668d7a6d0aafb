package observability

import (
	"encoding/json"
	"fmt"
	"time"
)

// Metrics holds calculated metrics derived from the event log.
type Metrics struct {
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
	WritesByKind       map[string]int `json:"writes_by_kind"`
	ChartsImported     int            `json:"charts_imported"`
	OldestEvent        *time.Time     `json:"oldest_event,omitempty"`
	NewestEvent        *time.Time     `json:"newest_event,omitempty"`
}

// MetricsCalculator derives metrics from the event log.
type MetricsCalculator interface {
	Calculate(since time.Time) (*Metrics, error)
	CalculateForPatient(patientID string, since time.Time) (*Metrics, error)
}

// metricsCalculator implements MetricsCalculator by reading from an EventLog.
type metricsCalculator struct {
	eventLog EventLog
}

// NewMetricsCalculator creates a new MetricsCalculator that reads from the given EventLog.
func NewMetricsCalculator(eventLog EventLog) MetricsCalculator {
	return &metricsCalculator{eventLog: eventLog}
}

// Calculate aggregates every event since the given time.
func (mc *metricsCalculator) Calculate(since time.Time) (*Metrics, error) {
	return mc.calculate(EventFilter{Since: &since})
}

// CalculateForPatient aggregates the events of one patient since the given time.
func (mc *metricsCalculator) CalculateForPatient(patientID string, since time.Time) (*Metrics, error) {
	return mc.calculate(EventFilter{Since: &since, PatientID: patientID})
}

func (mc *metricsCalculator) calculate(filter EventFilter) (*Metrics, error) {
	events, err := mc.eventLog.Read(filter)
	if err != nil {
		return nil, fmt.Errorf("reading events for metrics: %w", err)
	}

	m := &Metrics{
		FailuresBySource:   make(map[string]int),
		AssembliesByTier:   make(map[string]int),
		AverageCharsByTier: make(map[string]int),
		WritesByKind:       make(map[string]int),
	}
	m.EventCount = len(events)

	patients := make(map[string]bool)
	charsByTier := make(map[string]int)

	for i, event := range events {
		if i == 0 {
			t := event.Time
			m.OldestEvent = &t
		}
		t := event.Time
		m.NewestEvent = &t

		if id := event.PatientID(); id != "" {
			patients[id] = true
		}

		switch event.Type {
		case EventDocumentBuilt:
			m.DocumentsBuilt++
		case EventDocumentRefresh:
			m.Refreshes++
			if n, ok := IntField(event.Data, "added"); ok {
				m.RecordsMerged += n
			}
		case EventDocumentRebuilt:
			m.Rebuilds++
		case EventSourceFailed:
			m.SourceFailures++
			if source, ok := event.Data["source"].(string); ok {
				m.FailuresBySource[source]++
			}
		case EventMemoryAssembled:
			m.Assemblies++
			tier, _ := event.Data["tier"].(string)
			m.AssembliesByTier[tier]++
			chars, _ := IntField(event.Data, "chars")
			charsByTier[tier] += chars
			if budget, ok := IntField(event.Data, "budget"); ok && budget > 0 && chars > budget {
				m.OverBudget++
			}
		case EventMemoryWritten:
			m.MemoryWrites++
			if kind, ok := event.Data["kind"].(string); ok {
				m.WritesByKind[kind]++
			}
		case EventChartImported:
			m.ChartsImported++
		}
	}

	for tier, n := range m.AssembliesByTier {
		if n > 0 {
			m.AverageCharsByTier[tier] = charsByTier[tier] / n
		}
	}
	m.Patients = len(patients)

	return m, nil
}

// IntField reads a numeric event field. Values read back from the log are
// float64; values still in memory may be any integer type.
func IntField(data map[string]any, key string) (int, bool) {
	switch v := data[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	default:
		return 0, false
	}
}
