package cli

import (
	"context"

	"github.com/valter-silva-au/patient-brain/internal/core"
	"github.com/valter-silva-au/patient-brain/internal/observability"
)

// PatientDirectory lists the patients known to the configured chart source.
type PatientDirectory interface {
	Patients(ctx context.Context) ([]string, error)
}

// Service instances, set during app initialization in app.go.
var (
	Sessions  *core.SessionManager
	Directory PatientDirectory

	// ChartDBPath is the chart database that import writes to.
	ChartDBPath string
)

// Observability service instances, set during app initialization in app.go.
var (
	EventLog    observability.EventLog
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator
)
