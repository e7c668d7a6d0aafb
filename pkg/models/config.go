package models

// SourceKind selects the chart source backend.
type SourceKind string

const (
	SourceYAML   SourceKind = "yaml"
	SourceSQLite SourceKind = "sqlite"
)

// SourceConfig holds chart source settings.
type SourceConfig struct {
	Kind       SourceKind `yaml:"kind" mapstructure:"kind"`
	ChartDir   string     `yaml:"chart_dir" mapstructure:"chart_dir"`
	SQLitePath string     `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// RenderConfig caps the size of individual rendered sections.
type RenderConfig struct {
	LabDates         int `yaml:"lab_dates" mapstructure:"lab_dates"`
	VitalRows        int `yaml:"vital_rows" mapstructure:"vital_rows"`
	NoteExcerpts     int `yaml:"note_excerpts" mapstructure:"note_excerpts"`
	RecentChangeDays int `yaml:"recent_change_days" mapstructure:"recent_change_days"`
}

// BuilderConfig controls full builds.
type BuilderConfig struct {
	NoteHydrationDays int `yaml:"note_hydration_days" mapstructure:"note_hydration_days"`
	NoteWorkers       int `yaml:"note_workers" mapstructure:"note_workers"`
}

// BudgetConfig holds the character budget of each working-memory tier.
type BudgetConfig struct {
	Ask       int `yaml:"ask" mapstructure:"ask"`
	Dictate   int `yaml:"dictate" mapstructure:"dictate"`
	Refresh   int `yaml:"refresh" mapstructure:"refresh"`
	WriteNote int `yaml:"write_note" mapstructure:"write_note"`
}

// MemoryConfig bounds assistant write-back.
type MemoryConfig struct {
	MaxInsightChars    int `yaml:"max_insight_chars" mapstructure:"max_insight_chars"`
	DecisionLogSize    int `yaml:"decision_log_size" mapstructure:"decision_log_size"`
	InteractionLogSize int `yaml:"interaction_log_size" mapstructure:"interaction_log_size"`
}

// GlobalConfig holds system-wide settings read from .pbrainconfig via Viper.
type GlobalConfig struct {
	Source  SourceConfig  `yaml:"source" mapstructure:"source"`
	Render  RenderConfig  `yaml:"render" mapstructure:"render"`
	Builder BuilderConfig `yaml:"builder" mapstructure:"builder"`
	Budgets BudgetConfig  `yaml:"budgets" mapstructure:"budgets"`
	Memory  MemoryConfig  `yaml:"memory" mapstructure:"memory"`
}

// DefaultGlobalConfig returns a GlobalConfig populated with sensible defaults.
func DefaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		Source: SourceConfig{
			Kind:       SourceYAML,
			ChartDir:   "charts",
			SQLitePath: "charts.db",
		},
		Render: RenderConfig{
			LabDates:         6,
			VitalRows:        10,
			NoteExcerpts:     3,
			RecentChangeDays: 90,
		},
		Builder: BuilderConfig{
			NoteHydrationDays: 90,
			NoteWorkers:       4,
		},
		Budgets: BudgetConfig{
			Ask:       8000,
			Dictate:   16000,
			Refresh:   60000,
			WriteNote: 80000,
		},
		Memory: MemoryConfig{
			MaxInsightChars:    2000,
			DecisionLogSize:    20,
			InteractionLogSize: 10,
		},
	}
}
