package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/valter-silva-au/patient-brain/pkg/models"
)

const (
	dateLayout       = "2006-01-02"
	sectionSeparator = "\n\n---\n\n"
)

// Renderer turns a LongitudinalDocument into text. Every method is a pure
// function of the document and safe for concurrent use on a snapshot.
type Renderer struct {
	catalog          *PeriodCatalog
	classifier       *CategoryClassifier
	labDates         int
	vitalRows        int
	noteExcerpts     int
	recentChangeDays int
}

// NewRenderer creates a Renderer. cfg may be nil to use defaults.
func NewRenderer(catalog *PeriodCatalog, classifier *CategoryClassifier, cfg *models.GlobalConfig) *Renderer {
	if cfg == nil {
		cfg = models.DefaultGlobalConfig()
	}
	return &Renderer{
		catalog:          catalog,
		classifier:       classifier,
		labDates:         max(cfg.Render.LabDates, 1),
		vitalRows:        max(cfg.Render.VitalRows, 1),
		noteExcerpts:     max(cfg.Render.NoteExcerpts, 0),
		recentChangeDays: cfg.Render.RecentChangeDays,
	}
}

// Render composes the full document. The header and safety sections are
// always present; the rest are omitted when they have nothing to say.
func (r *Renderer) Render(doc *LongitudinalDocument) string {
	sections := []string{
		r.Header(doc),
		r.Safety(doc),
		r.ProblemMatrix(doc, doc.Problems()),
		r.LabTrends(doc.LabTrends()),
		r.Vitals(doc),
		r.Medications(doc),
		r.Narrative(doc),
		r.SessionContext(doc),
	}
	return joinSections(sections...)
}

// joinSections joins the non-empty sections with the section separator.
func joinSections(sections ...string) string {
	var kept []string
	for _, s := range sections {
		if s = strings.TrimSpace(s); s != "" {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, sectionSeparator)
}

// Header renders the patient identity block. A document without
// demographics gets a placeholder.
func (r *Renderer) Header(doc *LongitudinalDocument) string {
	var sb strings.Builder
	demo := doc.Patient.Demographics
	if demo == nil {
		sb.WriteString("# Patient Record\n\n")
		sb.WriteString(fmt.Sprintf("Patient ID: %s (demographics unavailable)\n", valueOr(doc.Metadata.PatientID, "unknown")))
		r.writeEncounterLine(&sb, doc)
		return sb.String()
	}

	sb.WriteString(fmt.Sprintf("# Patient: %s\n\n", valueOr(demo.FullName(), "Unknown")))
	line := []string{}
	if demo.MRN != "" {
		line = append(line, "MRN "+demo.MRN)
	}
	if !demo.DateOfBirth.IsZero() {
		line = append(line, fmt.Sprintf("DOB %s (%d y)", demo.DateOfBirth.Format(dateLayout), ageAt(demo.DateOfBirth, r.catalog.Now())))
	}
	if demo.Sex != "" {
		line = append(line, demo.Sex)
	}
	if len(line) > 0 {
		sb.WriteString(strings.Join(line, " | ") + "\n")
	}
	if demo.PrimaryCareProvider != "" {
		sb.WriteString("PCP: " + demo.PrimaryCareProvider + "\n")
	}
	if demo.Insurance != "" {
		sb.WriteString("Insurance: " + demo.Insurance + "\n")
	}
	if demo.EmergencyContact != "" {
		sb.WriteString("Emergency contact: " + demo.EmergencyContact + "\n")
	}
	r.writeEncounterLine(&sb, doc)
	return sb.String()
}

func (r *Renderer) writeEncounterLine(sb *strings.Builder, doc *LongitudinalDocument) {
	if doc.Metadata.EncounterID == "" {
		return
	}
	if doc.Metadata.EncounterStart.IsZero() {
		sb.WriteString(fmt.Sprintf("Encounter: %s\n", doc.Metadata.EncounterID))
		return
	}
	sb.WriteString(fmt.Sprintf("Encounter: %s (since %s)\n", doc.Metadata.EncounterID, doc.Metadata.EncounterStart.Format(dateLayout)))
}

func ageAt(dob, now time.Time) int {
	years := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		years--
	}
	return years
}

// Safety renders allergies, code status and active safety flags in full.
func (r *Renderer) Safety(doc *LongitudinalDocument) string {
	var sb strings.Builder
	sb.WriteString("## Safety\n\n")

	sb.WriteString("### Allergies\n\n")
	switch {
	case doc.Metadata.SourceFailed(SourceAllergies):
		sb.WriteString("WARNING: allergy data unavailable, verify allergies before ordering.\n")
	case len(doc.Patient.Allergies) == 0:
		sb.WriteString("No known allergies.\n")
	default:
		for _, a := range doc.Patient.Allergies {
			line := "- " + a.Substance
			var details []string
			if a.Reaction != "" {
				details = append(details, a.Reaction)
			}
			if a.Severity != "" {
				details = append(details, a.Severity)
			}
			if a.Type != "" {
				details = append(details, a.Type)
			}
			if len(details) > 0 {
				line += " (" + strings.Join(details, ", ") + ")"
			}
			sb.WriteString(line + "\n")
		}
	}

	sb.WriteString("\nCode status: " + valueOr(doc.Patient.CodeStatus, "not documented") + "\n")
	if doc.Patient.AdvanceDirectives != "" {
		sb.WriteString("Advance directives: " + doc.Patient.AdvanceDirectives + "\n")
	}

	if len(doc.Session.SafetyFlags) > 0 {
		sb.WriteString("\n### Active Safety Flags\n\n")
		for _, f := range doc.Session.SafetyFlags {
			sb.WriteString(fmt.Sprintf("- [%s] %s (%s)\n", strings.ToUpper(valueOr(f.Severity, "info")), f.Message, f.Raised.Format(dateLayout)))
		}
	}
	return sb.String()
}

func valueOr(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
