package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/valter-silva-au/patient-brain/pkg/models"
	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// Record sections stored in the records table.
const (
	sectionAllergies         = "allergies"
	sectionProblemsActive    = "problems_active"
	sectionProblemsResolved  = "problems_resolved"
	sectionMedsActive        = "medications_active"
	sectionMedsHistorical    = "medications_historical"
	sectionVitals            = "vitals"
	sectionLabs              = "labs"
	sectionEncounters        = "encounters"
	sectionImaging           = "imaging"
	sectionProcedures        = "procedures"
	sectionFamilyHistory     = "family_history"
	recordTimeLayout         = "2006-01-02T15:04:05.000000000Z07:00"
	sqliteDriverName         = "sqlite"
	defaultSQLiteBusyTimeout = 5000
)

// SQLiteChartSource serves charts from a SQLite database. Charts are loaded
// into it with ImportChart.
type SQLiteChartSource struct {
	db *sql.DB
}

// OpenSQLiteChartSource opens or creates the chart database at path and
// applies the schema.
func OpenSQLiteChartSource(path string) (*SQLiteChartSource, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("chartdb: create data dir: %w", err)
		}
	}
	db, err := openDB(sqliteDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("chartdb: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", defaultSQLiteBusyTimeout),
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("chartdb: pragma %q: %w", p, err)
		}
	}

	s := &SQLiteChartSource{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("chartdb: migration: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *SQLiteChartSource) Close() error {
	return s.db.Close()
}

func (s *SQLiteChartSource) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS patients (
			id             TEXT PRIMARY KEY,
			demographics   TEXT,
			social_history TEXT,
			imported_at    TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS records (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			patient_id  TEXT NOT NULL REFERENCES patients(id) ON DELETE CASCADE,
			section     TEXT NOT NULL,
			recorded_at TEXT,
			payload     TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_records_patient_section ON records(patient_id, section, recorded_at);

		CREATE TABLE IF NOT EXISTS notes (
			patient_id TEXT NOT NULL REFERENCES patients(id) ON DELETE CASCADE,
			id         TEXT NOT NULL,
			date       TEXT NOT NULL,
			type       TEXT,
			author     TEXT,
			title      TEXT,
			content    TEXT,
			PRIMARY KEY (patient_id, id)
		);
		CREATE INDEX IF NOT EXISTS idx_notes_patient_date ON notes(patient_id, date);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ImportChart replaces everything stored for chart.PatientID with chart.
func (s *SQLiteChartSource) ImportChart(ctx context.Context, chart *models.Chart) error {
	if err := validPatientID(chart.PatientID); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("chartdb: import %s: begin: %w", chart.PatientID, err)
	}
	defer func() { _ = tx.Rollback() }()

	// Foreign keys are enabled per connection, so children are cleared
	// explicitly rather than relying on the cascade.
	for _, table := range []string{"records", "notes"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE patient_id = ?`, chart.PatientID); err != nil {
			return fmt.Errorf("chartdb: import %s: clearing %s: %w", chart.PatientID, table, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM patients WHERE id = ?`, chart.PatientID); err != nil {
		return fmt.Errorf("chartdb: import %s: clearing: %w", chart.PatientID, err)
	}

	demo, err := jsonOrNull(chart.Demographics)
	if err != nil {
		return fmt.Errorf("chartdb: import %s: %w", chart.PatientID, err)
	}
	social, err := jsonOrNull(chart.SocialHistory)
	if err != nil {
		return fmt.Errorf("chartdb: import %s: %w", chart.PatientID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO patients (id, demographics, social_history, imported_at) VALUES (?, ?, ?, ?)`,
		chart.PatientID, demo, social, time.Now().UTC().Format(recordTimeLayout),
	); err != nil {
		return fmt.Errorf("chartdb: import %s: patient: %w", chart.PatientID, err)
	}

	ins := recordInserter{ctx: ctx, tx: tx, patientID: chart.PatientID}
	insertAll(&ins, sectionAllergies, chart.Allergies, nil)
	insertAll(&ins, sectionProblemsActive, chart.Problems.Active, func(p models.Problem) time.Time { return p.OnsetDate })
	insertAll(&ins, sectionProblemsResolved, chart.Problems.Resolved, func(p models.Problem) time.Time { return p.OnsetDate })
	insertAll(&ins, sectionMedsActive, chart.Medications.Active, func(m models.Medication) time.Time { return m.StartDate })
	insertAll(&ins, sectionMedsHistorical, chart.Medications.Historical, func(m models.Medication) time.Time { return m.StartDate })
	insertAll(&ins, sectionVitals, chart.Vitals, func(v models.VitalSign) time.Time { return v.Date })
	insertAll(&ins, sectionLabs, chart.Labs, func(l models.LabResult) time.Time { return l.CollectedDate })
	insertAll(&ins, sectionEncounters, chart.Encounters, func(e models.Encounter) time.Time { return e.Date })
	insertAll(&ins, sectionImaging, chart.Imaging, func(i models.ImagingStudy) time.Time { return i.Date })
	insertAll(&ins, sectionProcedures, chart.Procedures, func(p models.Procedure) time.Time { return p.Date })
	insertAll(&ins, sectionFamilyHistory, chart.FamilyHistory, nil)
	if ins.err != nil {
		return fmt.Errorf("chartdb: import %s: %w", chart.PatientID, ins.err)
	}

	for _, n := range chart.Notes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO notes (patient_id, id, date, type, author, title, content) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			chart.PatientID, n.ID, n.Date.UTC().Format(recordTimeLayout), n.Type, n.Author, n.Title, n.Content,
		); err != nil {
			return fmt.Errorf("chartdb: import %s: note %s: %w", chart.PatientID, n.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("chartdb: import %s: commit: %w", chart.PatientID, err)
	}
	return nil
}

type recordInserter struct {
	ctx       context.Context
	tx        *sql.Tx
	patientID string
	err       error
}

// insertAll stores items under section. The first failure sticks in ins.err
// and later calls do nothing.
func insertAll[T any](ins *recordInserter, section string, items []T, dateOf func(T) time.Time) {
	for _, item := range items {
		if ins.err != nil {
			return
		}
		payload, err := json.Marshal(item)
		if err != nil {
			ins.err = fmt.Errorf("encoding %s: %w", section, err)
			return
		}
		var recorded any
		if dateOf != nil {
			if t := dateOf(item); !t.IsZero() {
				recorded = t.UTC().Format(recordTimeLayout)
			}
		}
		if _, err := ins.tx.ExecContext(ins.ctx,
			`INSERT INTO records (patient_id, section, recorded_at, payload) VALUES (?, ?, ?, ?)`,
			ins.patientID, section, recorded, string(payload),
		); err != nil {
			ins.err = fmt.Errorf("inserting %s: %w", section, err)
			return
		}
	}
}

func jsonOrNull[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Patients lists the imported patient IDs, sorted.
func (s *SQLiteChartSource) Patients(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM patients ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("chartdb: listing patients: %w", err)
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("chartdb: listing patients: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// patientColumn decodes a JSON column of the patients row.
func patientColumn[T any](ctx context.Context, db *sql.DB, patientID, column string) (*T, error) {
	var raw sql.NullString
	err := db.QueryRowContext(ctx, `SELECT `+column+` FROM patients WHERE id = ?`, patientID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chartdb: %s: %w", patientID, ErrPatientNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("chartdb: reading %s for %s: %w", column, patientID, err)
	}
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var out T
	if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
		return nil, fmt.Errorf("chartdb: decoding %s for %s: %w", column, patientID, err)
	}
	return &out, nil
}

// requirePatient returns ErrPatientNotFound unless patientID was imported.
func requirePatient(ctx context.Context, db *sql.DB, patientID string) error {
	var one int
	err := db.QueryRowContext(ctx, `SELECT 1 FROM patients WHERE id = ?`, patientID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("chartdb: %s: %w", patientID, ErrPatientNotFound)
	}
	if err != nil {
		return fmt.Errorf("chartdb: looking up %s: %w", patientID, err)
	}
	return nil
}

// section loads every record of one section in insertion order.
func section[T any](ctx context.Context, db *sql.DB, patientID, name string) ([]T, error) {
	if err := requirePatient(ctx, db, patientID); err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT payload FROM records WHERE patient_id = ? AND section = ? ORDER BY id`,
		patientID, name)
	if err != nil {
		return nil, fmt.Errorf("chartdb: reading %s for %s: %w", name, patientID, err)
	}
	defer rows.Close()
	out := []T{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("chartdb: reading %s for %s: %w", name, patientID, err)
		}
		var item T
		if err := json.Unmarshal([]byte(payload), &item); err != nil {
			return nil, fmt.Errorf("chartdb: decoding %s for %s: %w", name, patientID, err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *SQLiteChartSource) Demographics(ctx context.Context, patientID string) (*models.Demographics, error) {
	return patientColumn[models.Demographics](ctx, s.db, patientID, "demographics")
}

func (s *SQLiteChartSource) SocialHistory(ctx context.Context, patientID string) (*models.SocialHistory, error) {
	return patientColumn[models.SocialHistory](ctx, s.db, patientID, "social_history")
}

func (s *SQLiteChartSource) Allergies(ctx context.Context, patientID string) ([]models.Allergy, error) {
	return section[models.Allergy](ctx, s.db, patientID, sectionAllergies)
}

func (s *SQLiteChartSource) Problems(ctx context.Context, patientID string) (models.ProblemList, error) {
	active, err := section[models.Problem](ctx, s.db, patientID, sectionProblemsActive)
	if err != nil {
		return models.ProblemList{}, err
	}
	resolved, err := section[models.Problem](ctx, s.db, patientID, sectionProblemsResolved)
	if err != nil {
		return models.ProblemList{}, err
	}
	return models.ProblemList{Active: active, Resolved: resolved}, nil
}

func (s *SQLiteChartSource) Medications(ctx context.Context, patientID string) (models.MedicationList, error) {
	active, err := section[models.Medication](ctx, s.db, patientID, sectionMedsActive)
	if err != nil {
		return models.MedicationList{}, err
	}
	historical, err := section[models.Medication](ctx, s.db, patientID, sectionMedsHistorical)
	if err != nil {
		return models.MedicationList{}, err
	}
	return models.MedicationList{Active: active, Historical: historical}, nil
}

func (s *SQLiteChartSource) Vitals(ctx context.Context, patientID string) ([]models.VitalSign, error) {
	return section[models.VitalSign](ctx, s.db, patientID, sectionVitals)
}

func (s *SQLiteChartSource) Labs(ctx context.Context, patientID string) ([]models.LabResult, error) {
	return section[models.LabResult](ctx, s.db, patientID, sectionLabs)
}

func (s *SQLiteChartSource) Encounters(ctx context.Context, patientID string) ([]models.Encounter, error) {
	return section[models.Encounter](ctx, s.db, patientID, sectionEncounters)
}

func (s *SQLiteChartSource) Imaging(ctx context.Context, patientID string) ([]models.ImagingStudy, error) {
	return section[models.ImagingStudy](ctx, s.db, patientID, sectionImaging)
}

func (s *SQLiteChartSource) Procedures(ctx context.Context, patientID string) ([]models.Procedure, error) {
	return section[models.Procedure](ctx, s.db, patientID, sectionProcedures)
}

func (s *SQLiteChartSource) FamilyHistory(ctx context.Context, patientID string) ([]models.FamilyHistoryEntry, error) {
	return section[models.FamilyHistoryEntry](ctx, s.db, patientID, sectionFamilyHistory)
}

// NotesIndex returns note metadata, most recent first, without content.
func (s *SQLiteChartSource) NotesIndex(ctx context.Context, patientID string) ([]models.Note, error) {
	if err := requirePatient(ctx, s.db, patientID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, date, COALESCE(type, ''), COALESCE(author, ''), COALESCE(title, '')
		 FROM notes WHERE patient_id = ? ORDER BY date DESC, id`, patientID)
	if err != nil {
		return nil, fmt.Errorf("chartdb: reading notes for %s: %w", patientID, err)
	}
	defer rows.Close()
	out := []models.Note{}
	for rows.Next() {
		var n models.Note
		var date string
		if err := rows.Scan(&n.ID, &date, &n.Type, &n.Author, &n.Title); err != nil {
			return nil, fmt.Errorf("chartdb: reading notes for %s: %w", patientID, err)
		}
		// RFC3339Nano also reads rows written before the fixed-width layout.
		if n.Date, err = time.Parse(time.RFC3339Nano, date); err != nil {
			return nil, fmt.Errorf("chartdb: note %s date %q: %w", n.ID, date, err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// NoteContent returns the full text of one note.
func (s *SQLiteChartSource) NoteContent(ctx context.Context, patientID, noteID string) (string, error) {
	var content sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM notes WHERE patient_id = ? AND id = ?`, patientID, noteID).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("chartdb: note %s not found for patient %s", noteID, patientID)
	}
	if err != nil {
		return "", fmt.Errorf("chartdb: reading note %s: %w", noteID, err)
	}
	return content.String, nil
}
