package models

import "time"

// Demographics is the patient identity block supplied by the chart.
type Demographics struct {
	MRN                 string    `yaml:"mrn" json:"mrn"`
	FirstName           string    `yaml:"first_name" json:"first_name"`
	MiddleName          string    `yaml:"middle_name,omitempty" json:"middle_name,omitempty"`
	LastName            string    `yaml:"last_name" json:"last_name"`
	DateOfBirth         time.Time `yaml:"date_of_birth" json:"date_of_birth"`
	Sex                 string    `yaml:"sex" json:"sex"`
	PrimaryCareProvider string    `yaml:"primary_care_provider,omitempty" json:"primary_care_provider,omitempty"`
	Insurance           string    `yaml:"insurance,omitempty" json:"insurance,omitempty"`
	EmergencyContact    string    `yaml:"emergency_contact,omitempty" json:"emergency_contact,omitempty"`
	CodeStatus          string    `yaml:"code_status,omitempty" json:"code_status,omitempty"`
	AdvanceDirectives   string    `yaml:"advance_directives,omitempty" json:"advance_directives,omitempty"`
}

// FullName joins the name parts that are present.
func (d Demographics) FullName() string {
	name := d.FirstName
	if d.MiddleName != "" {
		name += " " + d.MiddleName
	}
	if d.LastName != "" {
		if name != "" {
			name += " "
		}
		name += d.LastName
	}
	return name
}

// Allergy is a single recorded allergy or intolerance.
type Allergy struct {
	Substance string `yaml:"substance" json:"substance"`
	Type      string `yaml:"type,omitempty" json:"type,omitempty"`
	Reaction  string `yaml:"reaction,omitempty" json:"reaction,omitempty"`
	Severity  string `yaml:"severity,omitempty" json:"severity,omitempty"`
}

// Problem is an entry on the active or resolved problem list.
type Problem struct {
	ID           string    `yaml:"id" json:"id"`
	Name         string    `yaml:"name" json:"name"`
	ICD10        string    `yaml:"icd10,omitempty" json:"icd10,omitempty"`
	OnsetDate    time.Time `yaml:"onset_date,omitempty" json:"onset_date,omitempty"`
	ResolvedDate time.Time `yaml:"resolved_date,omitempty" json:"resolved_date,omitempty"`
	Priority     string    `yaml:"priority,omitempty" json:"priority,omitempty"`
	Notes        string    `yaml:"notes,omitempty" json:"notes,omitempty"`
}

// ProblemList groups active and resolved problems.
type ProblemList struct {
	Active   []Problem `yaml:"active" json:"active"`
	Resolved []Problem `yaml:"resolved" json:"resolved"`
}

// Medication is an active or historical medication order. EndDate and
// DiscontinuedReason are only set on historical entries.
type Medication struct {
	Name               string    `yaml:"name" json:"name"`
	Dose               string    `yaml:"dose,omitempty" json:"dose,omitempty"`
	Route              string    `yaml:"route,omitempty" json:"route,omitempty"`
	Frequency          string    `yaml:"frequency,omitempty" json:"frequency,omitempty"`
	Indication         string    `yaml:"indication,omitempty" json:"indication,omitempty"`
	StartDate          time.Time `yaml:"start_date,omitempty" json:"start_date,omitempty"`
	EndDate            time.Time `yaml:"end_date,omitempty" json:"end_date,omitempty"`
	DiscontinuedReason string    `yaml:"discontinued_reason,omitempty" json:"discontinued_reason,omitempty"`
	DoseChangedDate    time.Time `yaml:"dose_changed_date,omitempty" json:"dose_changed_date,omitempty"`
}

// Describe returns "name dose route frequency" with empty parts skipped.
func (m Medication) Describe() string {
	s := m.Name
	for _, part := range []string{m.Dose, m.Route, m.Frequency} {
		if part != "" {
			s += " " + part
		}
	}
	return s
}

// MedicationList groups active and historical medications.
type MedicationList struct {
	Active     []Medication `yaml:"active" json:"active"`
	Historical []Medication `yaml:"historical" json:"historical"`
}

// VitalSign is one set of vitals. A zero value in any measurement field
// means the measurement was not taken.
type VitalSign struct {
	Date            time.Time `yaml:"date" json:"date"`
	Systolic        float64   `yaml:"systolic,omitempty" json:"systolic,omitempty"`
	Diastolic       float64   `yaml:"diastolic,omitempty" json:"diastolic,omitempty"`
	HeartRate       float64   `yaml:"heart_rate,omitempty" json:"heart_rate,omitempty"`
	RespiratoryRate float64   `yaml:"respiratory_rate,omitempty" json:"respiratory_rate,omitempty"`
	SpO2            float64   `yaml:"spo2,omitempty" json:"spo2,omitempty"`
	Temperature     float64   `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	Weight          float64   `yaml:"weight,omitempty" json:"weight,omitempty"`
	PainScore       float64   `yaml:"pain_score,omitempty" json:"pain_score,omitempty"`
}

// VitalField names one measurement of a VitalSign.
type VitalField string

const (
	VitalSystolic        VitalField = "systolic"
	VitalDiastolic       VitalField = "diastolic"
	VitalHeartRate       VitalField = "heartRate"
	VitalRespiratoryRate VitalField = "respiratoryRate"
	VitalSpO2            VitalField = "spO2"
	VitalTemperature     VitalField = "temperature"
	VitalWeight          VitalField = "weight"
	VitalPainScore       VitalField = "painScore"
)

// Value returns the measurement for field, or 0 when it was not taken.
func (v VitalSign) Value(field VitalField) float64 {
	switch field {
	case VitalSystolic:
		return v.Systolic
	case VitalDiastolic:
		return v.Diastolic
	case VitalHeartRate:
		return v.HeartRate
	case VitalRespiratoryRate:
		return v.RespiratoryRate
	case VitalSpO2:
		return v.SpO2
	case VitalTemperature:
		return v.Temperature
	case VitalWeight:
		return v.Weight
	case VitalPainScore:
		return v.PainScore
	default:
		return 0
	}
}

// Has reports whether any of the given fields was measured.
func (v VitalSign) Has(fields ...VitalField) bool {
	for _, f := range fields {
		if v.Value(f) != 0 {
			return true
		}
	}
	return false
}

// LabResult is a raw lab observation. Value is kept as text because sources
// report things like "<0.01" or "4.5 mmol".
type LabResult struct {
	Name           string    `yaml:"name" json:"name"`
	Value          string    `yaml:"value" json:"value"`
	Unit           string    `yaml:"unit,omitempty" json:"unit,omitempty"`
	CollectedDate  time.Time `yaml:"collected_date" json:"collected_date"`
	Flag           string    `yaml:"flag,omitempty" json:"flag,omitempty"`
	ReferenceRange string    `yaml:"reference_range,omitempty" json:"reference_range,omitempty"`
}

// Note is a clinical note. The notes index carries metadata only; Content is
// filled when the note is fetched by ID.
type Note struct {
	ID      string    `yaml:"id" json:"id"`
	Date    time.Time `yaml:"date" json:"date"`
	Type    string    `yaml:"type,omitempty" json:"type,omitempty"`
	Author  string    `yaml:"author,omitempty" json:"author,omitempty"`
	Title   string    `yaml:"title,omitempty" json:"title,omitempty"`
	Content string    `yaml:"content,omitempty" json:"content,omitempty"`
}

// Diagnosis is a coded diagnosis attached to an encounter.
type Diagnosis struct {
	Name  string `yaml:"name" json:"name"`
	ICD10 string `yaml:"icd10,omitempty" json:"icd10,omitempty"`
}

// Encounter is a visit or admission.
type Encounter struct {
	ID        string      `yaml:"id,omitempty" json:"id,omitempty"`
	Date      time.Time   `yaml:"date" json:"date"`
	Type      string      `yaml:"type,omitempty" json:"type,omitempty"`
	Provider  string      `yaml:"provider,omitempty" json:"provider,omitempty"`
	Reason    string      `yaml:"reason,omitempty" json:"reason,omitempty"`
	Diagnoses []Diagnosis `yaml:"diagnoses,omitempty" json:"diagnoses,omitempty"`
}

// ImagingStudy is passed through from the chart.
type ImagingStudy struct {
	Date       time.Time `yaml:"date" json:"date"`
	Modality   string    `yaml:"modality,omitempty" json:"modality,omitempty"`
	Study      string    `yaml:"study" json:"study"`
	Impression string    `yaml:"impression,omitempty" json:"impression,omitempty"`
}

// Procedure is passed through from the chart.
type Procedure struct {
	Date     time.Time `yaml:"date" json:"date"`
	Name     string    `yaml:"name" json:"name"`
	Provider string    `yaml:"provider,omitempty" json:"provider,omitempty"`
	Outcome  string    `yaml:"outcome,omitempty" json:"outcome,omitempty"`
}

// SocialHistory is passed through from the chart.
type SocialHistory struct {
	Tobacco    string `yaml:"tobacco,omitempty" json:"tobacco,omitempty"`
	Alcohol    string `yaml:"alcohol,omitempty" json:"alcohol,omitempty"`
	Substances string `yaml:"substances,omitempty" json:"substances,omitempty"`
	Occupation string `yaml:"occupation,omitempty" json:"occupation,omitempty"`
	Living     string `yaml:"living,omitempty" json:"living,omitempty"`
}

// IsZero reports whether no social history was recorded.
func (s SocialHistory) IsZero() bool {
	return s == SocialHistory{}
}

// FamilyHistoryEntry is one relative's condition.
type FamilyHistoryEntry struct {
	Relation  string `yaml:"relation" json:"relation"`
	Condition string `yaml:"condition" json:"condition"`
}

// Chart is the full set of source records for one patient, as stored in a
// chart file or imported into the chart database.
type Chart struct {
	PatientID     string               `yaml:"patient_id"`
	Demographics  *Demographics        `yaml:"demographics,omitempty"`
	Allergies     []Allergy            `yaml:"allergies,omitempty"`
	Problems      ProblemList          `yaml:"problems"`
	Medications   MedicationList       `yaml:"medications"`
	Vitals        []VitalSign          `yaml:"vitals,omitempty"`
	Labs          []LabResult          `yaml:"labs,omitempty"`
	Notes         []Note               `yaml:"notes,omitempty"`
	Encounters    []Encounter          `yaml:"encounters,omitempty"`
	Imaging       []ImagingStudy       `yaml:"imaging,omitempty"`
	Procedures    []Procedure          `yaml:"procedures,omitempty"`
	SocialHistory *SocialHistory       `yaml:"social_history,omitempty"`
	FamilyHistory []FamilyHistoryEntry `yaml:"family_history,omitempty"`
}
