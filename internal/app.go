// Package internal provides the App struct that wires all components of the
// Patient Brain system together and initializes the CLI layer.
package internal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/valter-silva-au/patient-brain/internal/cli"
	"github.com/valter-silva-au/patient-brain/internal/core"
	"github.com/valter-silva-au/patient-brain/internal/observability"
	"github.com/valter-silva-au/patient-brain/internal/storage"
	"github.com/valter-silva-au/patient-brain/pkg/models"
)

// EventLogFileName is the JSONL event log written under the base path.
const EventLogFileName = ".pbrain_events.jsonl"

// ChartStore is a chart source that can also list its patients.
type ChartStore interface {
	core.ChartSource
	Patients(ctx context.Context) ([]string, error)
}

// App holds all service dependencies for the Patient Brain system.
type App struct {
	BasePath string

	// Configuration
	ConfigMgr core.ConfigurationManager
	Config    *models.GlobalConfig

	// Storage layer
	Charts   ChartStore
	chartsDB *storage.SQLiteChartSource

	// Core services
	Catalog    *core.PeriodCatalog
	Classifier *core.CategoryClassifier
	Builder    core.DocumentBuilder
	Renderer   *core.Renderer
	Assembler  *core.Assembler
	Writer     *core.MemoryWriter
	Sessions   *core.SessionManager

	// Observability
	EventLog    observability.EventLog
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator
}

// NewApp creates and wires all components of the Patient Brain system.
// basePath is the root directory holding .pbrainconfig, the chart store and
// the event log.
func NewApp(basePath string) (*App, error) {
	app := &App{BasePath: basePath}

	// --- Configuration ---
	app.ConfigMgr = core.NewConfigurationManager(basePath)
	cfg, err := app.ConfigMgr.LoadGlobalConfig()
	if err != nil {
		return nil, err
	}
	if err := app.ConfigMgr.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	app.Config = cfg

	// --- Storage layer ---
	switch cfg.Source.Kind {
	case models.SourceSQLite:
		db, err := storage.OpenSQLiteChartSource(cfg.Source.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("opening chart database: %w", err)
		}
		app.chartsDB = db
		app.Charts = db
	default:
		app.Charts = storage.NewFileChartSource(cfg.Source.ChartDir)
	}

	// --- Observability ---
	app.EventLog, err = observability.NewJSONLEventLog(filepath.Join(basePath, EventLogFileName))
	if err != nil {
		// Non-fatal: disable observability if log can't be created.
		app.EventLog = nil
	}
	if app.EventLog != nil {
		app.AlertEngine = observability.NewAlertEngine(app.EventLog, observability.DefaultAlertThresholds())
		app.MetricsCalc = observability.NewMetricsCalculator(app.EventLog)
	}
	var events core.EventLogger
	if app.EventLog != nil {
		events = &eventLogAdapter{log: app.EventLog}
	}

	// --- Core services ---
	clock := func() time.Time { return time.Now().UTC() }
	app.Catalog = core.NewPeriodCatalog(core.DefaultPeriods(), clock)
	app.Classifier = core.NewDefaultClassifier()
	app.Builder = core.NewDocumentBuilder(app.Charts, app.Catalog, app.Classifier, cfg, events)
	app.Renderer = core.NewRenderer(app.Catalog, app.Classifier, cfg)
	app.Assembler = core.NewAssembler(app.Renderer, app.Classifier, cfg)
	app.Writer = core.NewMemoryWriter(clock, cfg, events)
	app.Sessions = core.NewSessionManager(app.Builder, app.Renderer, app.Assembler, app.Writer, events)

	// --- Wire CLI package-level variables ---
	cli.Sessions = app.Sessions
	cli.Directory = app.Charts
	cli.ChartDBPath = cfg.Source.SQLitePath

	cli.EventLog = app.EventLog
	cli.AlertEngine = app.AlertEngine
	cli.MetricsCalc = app.MetricsCalc

	return app, nil
}

// Close releases resources held by the App: the chart database and the
// event log file handle. It is safe to call on an App without either.
func (a *App) Close() error {
	var firstErr error
	if a.chartsDB != nil {
		firstErr = a.chartsDB.Close()
	}
	if a.EventLog != nil {
		if err := a.EventLog.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ResolveBasePath determines the base path for the Patient Brain data
// directory. It checks for the PBRAIN_HOME env var, then walks up from the
// current directory looking for .pbrainconfig, then falls back to the
// current directory.
func ResolveBasePath() string {
	if home := os.Getenv("PBRAIN_HOME"); home != "" {
		return home
	}
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, core.ConfigFileName)); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	cwd, _ := os.Getwd()
	return cwd
}

// --- Adapters ---

// eventLogAdapter adapts observability.EventLog to core.EventLogger.
type eventLogAdapter struct {
	log observability.EventLog
}

func (a *eventLogAdapter) LogEvent(eventType string, data map[string]any) error {
	return a.log.Write(observability.Event{
		Time:    time.Now().UTC(),
		Level:   observability.LevelFor(eventType),
		Type:    eventType,
		Message: eventType,
		Data:    data,
	})
}
