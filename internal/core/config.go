// Package core contains the clinical context engine: the time period
// catalog, problem classification, lab trends, the longitudinal document
// and its builder, the renderer, the working-memory assembler, write-back,
// patient sessions and configuration.
package core

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"github.com/valter-silva-au/patient-brain/pkg/models"
)

// ConfigFileName is the name of the global configuration file.
const ConfigFileName = ".pbrainconfig"

// ConfigurationManager loads and validates configuration from the
// .pbrainconfig file.
type ConfigurationManager interface {
	LoadGlobalConfig() (*models.GlobalConfig, error)
	ValidateConfig(cfg *models.GlobalConfig) error
}

// viperConfigManager implements ConfigurationManager using Viper for
// reading YAML configuration files.
type viperConfigManager struct {
	// basePath is the root directory where .pbrainconfig resides.
	basePath string
}

// NewConfigurationManager creates a new ConfigurationManager that reads
// configuration files relative to basePath.
func NewConfigurationManager(basePath string) ConfigurationManager {
	return &viperConfigManager{basePath: basePath}
}

// LoadGlobalConfig reads .pbrainconfig from the base path using Viper.
// If the file does not exist, defaults are returned. Relative source paths
// are resolved against the base path.
func (cm *viperConfigManager) LoadGlobalConfig() (*models.GlobalConfig, error) {
	cfg := models.DefaultGlobalConfig()

	v := viper.New()
	v.SetConfigName(ConfigFileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(cm.basePath)

	v.SetDefault("source.kind", string(cfg.Source.Kind))
	v.SetDefault("source.chart_dir", cfg.Source.ChartDir)
	v.SetDefault("source.sqlite_path", cfg.Source.SQLitePath)
	v.SetDefault("render.lab_dates", cfg.Render.LabDates)
	v.SetDefault("render.vital_rows", cfg.Render.VitalRows)
	v.SetDefault("render.note_excerpts", cfg.Render.NoteExcerpts)
	v.SetDefault("render.recent_change_days", cfg.Render.RecentChangeDays)
	v.SetDefault("builder.note_hydration_days", cfg.Builder.NoteHydrationDays)
	v.SetDefault("builder.note_workers", cfg.Builder.NoteWorkers)
	v.SetDefault("budgets.ask", cfg.Budgets.Ask)
	v.SetDefault("budgets.dictate", cfg.Budgets.Dictate)
	v.SetDefault("budgets.refresh", cfg.Budgets.Refresh)
	v.SetDefault("budgets.write_note", cfg.Budgets.WriteNote)
	v.SetDefault("memory.max_insight_chars", cfg.Memory.MaxInsightChars)
	v.SetDefault("memory.decision_log_size", cfg.Memory.DecisionLogSize)
	v.SetDefault("memory.interaction_log_size", cfg.Memory.InteractionLogSize)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading %s: %w", ConfigFileName, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", ConfigFileName, err)
	}
	cfg.Source.Kind = models.SourceKind(strings.ToLower(string(cfg.Source.Kind)))
	cfg.Source.ChartDir = cm.resolve(cfg.Source.ChartDir)
	cfg.Source.SQLitePath = cm.resolve(cfg.Source.SQLitePath)

	return cfg, nil
}

func (cm *viperConfigManager) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(cm.basePath, path)
}

// ValidateConfig checks cfg for invalid values and returns an error naming
// every offending key.
func (cm *viperConfigManager) ValidateConfig(cfg *models.GlobalConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	var errs []string

	switch cfg.Source.Kind {
	case models.SourceYAML:
		if cfg.Source.ChartDir == "" {
			errs = append(errs, "source.chart_dir must not be empty")
		}
	case models.SourceSQLite:
		if cfg.Source.SQLitePath == "" {
			errs = append(errs, "source.sqlite_path must not be empty")
		}
	default:
		errs = append(errs, fmt.Sprintf("source.kind %q is invalid, must be one of: yaml, sqlite", cfg.Source.Kind))
	}

	positive := []struct {
		key   string
		value int
	}{
		{"render.lab_dates", cfg.Render.LabDates},
		{"render.vital_rows", cfg.Render.VitalRows},
		{"render.recent_change_days", cfg.Render.RecentChangeDays},
		{"builder.note_hydration_days", cfg.Builder.NoteHydrationDays},
		{"builder.note_workers", cfg.Builder.NoteWorkers},
		{"budgets.ask", cfg.Budgets.Ask},
		{"budgets.dictate", cfg.Budgets.Dictate},
		{"budgets.refresh", cfg.Budgets.Refresh},
		{"budgets.write_note", cfg.Budgets.WriteNote},
		{"memory.max_insight_chars", cfg.Memory.MaxInsightChars},
		{"memory.decision_log_size", cfg.Memory.DecisionLogSize},
		{"memory.interaction_log_size", cfg.Memory.InteractionLogSize},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs = append(errs, fmt.Sprintf("%s must be positive, got %d", p.key, p.value))
		}
	}
	if cfg.Render.NoteExcerpts < 0 {
		errs = append(errs, fmt.Sprintf("render.note_excerpts must be non-negative, got %d", cfg.Render.NoteExcerpts))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
