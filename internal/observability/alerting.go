package observability

import (
	"fmt"
	"sort"
	"time"
)

// AlertSeverity represents the urgency of an alert.
type AlertSeverity string

const (
	SeverityHigh   AlertSeverity = "high"
	SeverityMedium AlertSeverity = "medium"
	SeverityLow    AlertSeverity = "low"
)

// Alert represents a triggered alert condition.
type Alert struct {
	ID          string        `json:"id"`
	Condition   string        `json:"condition"`
	Severity    AlertSeverity `json:"severity"`
	Message     string        `json:"message"`
	PatientID   string        `json:"patient_id,omitempty"`
	TriggeredAt time.Time     `json:"triggered_at"`
}

// AlertThresholds configures when alerts should fire.
type AlertThresholds struct {
	SourceFailures     int `yaml:"source_failures" json:"source_failures"`
	FailureWindowHours int `yaml:"failure_window_hours" json:"failure_window_hours"`
	StaleDocumentHours int `yaml:"stale_document_hours" json:"stale_document_hours"`
}

// DefaultAlertThresholds returns sensible defaults for alert thresholds.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		SourceFailures:     3,
		FailureWindowHours: 24,
		StaleDocumentHours: 12,
	}
}

// AlertEngine evaluates data-quality conditions against the event log.
type AlertEngine interface {
	Evaluate() ([]Alert, error)
}

// alertEngine implements AlertEngine by reading events and checking thresholds.
type alertEngine struct {
	eventLog   EventLog
	thresholds AlertThresholds
	now        func() time.Time
}

// NewAlertEngine creates a new AlertEngine with the given EventLog and thresholds.
func NewAlertEngine(eventLog EventLog, thresholds AlertThresholds) AlertEngine {
	return &alertEngine{
		eventLog:   eventLog,
		thresholds: thresholds,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate checks all alert conditions and returns the triggered alerts,
// sorted by ID.
func (ae *alertEngine) Evaluate() ([]Alert, error) {
	now := ae.now()
	var alerts []Alert

	failureAlerts, err := ae.checkRepeatedSourceFailures(now)
	if err != nil {
		return nil, fmt.Errorf("checking source failures: %w", err)
	}
	alerts = append(alerts, failureAlerts...)

	budgetAlerts, err := ae.checkOverBudgetAssemblies(now)
	if err != nil {
		return nil, fmt.Errorf("checking assembly budgets: %w", err)
	}
	alerts = append(alerts, budgetAlerts...)

	staleAlerts, err := ae.checkStaleDocuments(now)
	if err != nil {
		return nil, fmt.Errorf("checking stale documents: %w", err)
	}
	alerts = append(alerts, staleAlerts...)

	sort.Slice(alerts, func(i, j int) bool { return alerts[i].ID < alerts[j].ID })
	return alerts, nil
}

// checkRepeatedSourceFailures fires when one source failed for one patient
// at least the threshold number of times inside the window.
func (ae *alertEngine) checkRepeatedSourceFailures(now time.Time) ([]Alert, error) {
	since := now.Add(-time.Duration(ae.thresholds.FailureWindowHours) * time.Hour)
	events, err := ae.eventLog.Read(EventFilter{Type: EventSourceFailed, Since: &since})
	if err != nil {
		return nil, err
	}

	type key struct{ patient, source string }
	counts := make(map[key]int)
	for _, event := range events {
		source, _ := event.Data["source"].(string)
		counts[key{event.PatientID(), source}]++
	}

	var alerts []Alert
	for k, n := range counts {
		if n < ae.thresholds.SourceFailures {
			continue
		}
		alerts = append(alerts, Alert{
			ID:          fmt.Sprintf("source-%s-%s", k.patient, k.source),
			Condition:   "source_failing",
			Severity:    SeverityHigh,
			Message:     fmt.Sprintf("%s source failed %d times for patient %s in the last %d hours", k.source, n, k.patient, ae.thresholds.FailureWindowHours),
			PatientID:   k.patient,
			TriggeredAt: now,
		})
	}
	return alerts, nil
}

// checkOverBudgetAssemblies fires when an assembled tier exceeded its
// budget, which only happens when the untruncatable safety block alone is
// larger than the budget.
func (ae *alertEngine) checkOverBudgetAssemblies(now time.Time) ([]Alert, error) {
	since := now.Add(-time.Duration(ae.thresholds.FailureWindowHours) * time.Hour)
	events, err := ae.eventLog.Read(EventFilter{Type: EventMemoryAssembled, Since: &since})
	if err != nil {
		return nil, err
	}

	type key struct{ patient, tier string }
	worst := make(map[key][2]int)
	for _, event := range events {
		chars, _ := IntField(event.Data, "chars")
		budget, ok := IntField(event.Data, "budget")
		if !ok || budget <= 0 || chars <= budget {
			continue
		}
		tier, _ := event.Data["tier"].(string)
		k := key{event.PatientID(), tier}
		if chars > worst[k][0] {
			worst[k] = [2]int{chars, budget}
		}
	}

	var alerts []Alert
	for k, v := range worst {
		alerts = append(alerts, Alert{
			ID:          fmt.Sprintf("budget-%s-%s", k.patient, k.tier),
			Condition:   "assembly_over_budget",
			Severity:    SeverityMedium,
			Message:     fmt.Sprintf("%s context for patient %s reached %d characters against a budget of %d", k.tier, k.patient, v[0], v[1]),
			PatientID:   k.patient,
			TriggeredAt: now,
		})
	}
	return alerts, nil
}

// checkStaleDocuments fires when context was assembled for a patient whose
// document had not been built or refreshed for longer than the threshold.
func (ae *alertEngine) checkStaleDocuments(now time.Time) ([]Alert, error) {
	events, err := ae.eventLog.Read(EventFilter{})
	if err != nil {
		return nil, err
	}

	lastUpdate := make(map[string]time.Time)
	lastServed := make(map[string]time.Time)
	for _, event := range events {
		id := event.PatientID()
		if id == "" {
			continue
		}
		switch event.Type {
		case EventDocumentBuilt, EventDocumentRefresh, EventDocumentRebuilt:
			if event.Time.After(lastUpdate[id]) {
				lastUpdate[id] = event.Time
			}
		case EventMemoryAssembled:
			if event.Time.After(lastServed[id]) {
				lastServed[id] = event.Time
			}
		}
	}

	threshold := time.Duration(ae.thresholds.StaleDocumentHours) * time.Hour
	var alerts []Alert
	for id, served := range lastServed {
		updated, ok := lastUpdate[id]
		if !ok || served.Sub(updated) <= threshold {
			continue
		}
		alerts = append(alerts, Alert{
			ID:          fmt.Sprintf("stale-%s", id),
			Condition:   "document_stale",
			Severity:    SeverityLow,
			Message:     fmt.Sprintf("context for patient %s was served from a document last updated %s", id, updated.Format(time.RFC3339)),
			PatientID:   id,
			TriggeredAt: now,
		})
	}
	return alerts, nil
}
