package core

import (
	"fmt"
	"sort"
	"strings"

	"github.com/valter-silva-au/patient-brain/pkg/models"
)

// Medications renders current medications grouped by indication and the
// recent changes list. It returns an empty string when nothing is recorded.
func (r *Renderer) Medications(doc *LongitudinalDocument) string {
	meds := doc.Medications
	if len(meds.Current) == 0 && len(meds.RecentChanges) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## Medications\n")

	if len(meds.Current) > 0 {
		groups := map[string][]models.Medication{}
		var order []string
		for _, m := range meds.Current {
			key := valueOr(strings.TrimSpace(m.Indication), "Unspecified indication")
			if _, ok := groups[key]; !ok {
				order = append(order, key)
			}
			groups[key] = append(groups[key], m)
		}
		sort.Strings(order)
		for _, key := range order {
			sb.WriteString(fmt.Sprintf("\n### %s\n\n", key))
			for _, m := range groups[key] {
				line := "- " + m.Describe()
				if !m.StartDate.IsZero() {
					line += " (since " + m.StartDate.Format(dateLayout) + ")"
				}
				sb.WriteString(line + "\n")
			}
		}
	}

	if len(meds.RecentChanges) > 0 {
		sb.WriteString(fmt.Sprintf("\n### Recent Changes (last %d days)\n\n", r.recentChangeDays))
		for _, c := range meds.RecentChanges {
			line := fmt.Sprintf("- %s %s %s", c.Date.Format(dateLayout), c.Kind, c.Medication.Describe())
			if c.Kind == ChangeStopped && c.Medication.DiscontinuedReason != "" {
				line += " (" + c.Medication.DiscontinuedReason + ")"
			}
			sb.WriteString(line + "\n")
		}
	}
	return sb.String()
}

// Narrative renders the written clinical narrative verbatim, or a
// trajectory line per active problem when nothing has been written.
func (r *Renderer) Narrative(doc *LongitudinalDocument) string {
	n := doc.Narrative
	var sb strings.Builder
	sb.WriteString("## Clinical Narrative\n\n")

	if n.IsEmpty() {
		active := doc.ActiveProblems()
		if len(active) == 0 {
			return ""
		}
		sb.WriteString("Trajectory (derived):\n")
		for _, tl := range active {
			sb.WriteString(fmt.Sprintf("- %s: %s\n", tl.Name, Trajectory(tl)))
		}
		return sb.String()
	}

	if n.TrajectoryAssessment != "" {
		sb.WriteString("### Trajectory Assessment\n\n" + n.TrajectoryAssessment + "\n\n")
	}
	if len(n.KeyFindings) > 0 {
		sb.WriteString("### Key Findings\n\n")
		for _, f := range n.KeyFindings {
			sb.WriteString("- " + f + "\n")
		}
		sb.WriteString("\n")
	}
	if len(n.OpenQuestions) > 0 {
		sb.WriteString("### Open Questions\n\n")
		for _, q := range n.OpenQuestions {
			sb.WriteString("- " + q + "\n")
		}
		sb.WriteString("\n")
	}
	if n.PatientVoice != "" {
		sb.WriteString("### Patient Voice\n\n" + n.PatientVoice + "\n\n")
	}
	if n.NursingAssessment != "" {
		sb.WriteString("### Nursing Assessment\n\n" + n.NursingAssessment + "\n")
	}
	return sb.String()
}

// SessionContext renders what happened during the current session. It
// returns an empty string for an idle session.
func (r *Renderer) SessionContext(doc *LongitudinalDocument) string {
	s := doc.Session
	if s.IsEmpty() {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Session Context\n")

	if len(s.DictationLog) > 0 {
		sb.WriteString("\n### Dictation\n\n")
		for _, d := range s.DictationLog {
			sb.WriteString(fmt.Sprintf("- %s %s\n", d.Time.Format("15:04"), d.Text))
		}
	}
	writeConversation(&sb, "Patient Conversation", s.PatientConversation)
	writeConversation(&sb, "Nurse Conversation", s.NurseConversation)
	if len(s.AIObservations) > 0 {
		sb.WriteString("\n### Assistant Observations\n\n")
		for _, o := range s.AIObservations {
			sb.WriteString("- " + o + "\n")
		}
	}
	if len(s.Reviewed) > 0 || len(s.Pending) > 0 {
		sb.WriteString("\n### Checklist\n\n")
		for _, item := range s.Reviewed {
			sb.WriteString("- [x] " + item + "\n")
		}
		for _, item := range s.Pending {
			sb.WriteString("- [ ] " + item + "\n")
		}
	}
	return sb.String()
}

func writeConversation(sb *strings.Builder, title string, turns []ConversationTurn) {
	if len(turns) == 0 {
		return
	}
	sb.WriteString(fmt.Sprintf("\n### %s\n\n", title))
	for _, t := range turns {
		sb.WriteString(fmt.Sprintf("%s: %s\n", valueOr(t.Speaker, "unknown"), t.Text))
	}
}
