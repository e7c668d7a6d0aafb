package core

import (
	"fmt"
	"sort"
	"strings"
)

// categoryOrder is the clinical priority order of the problem matrix.
var categoryOrder = []ProblemCategory{
	CategoryCardiovascular,
	CategoryPulmonary,
	CategoryRenal,
	CategoryInfectious,
	CategoryEndocrine,
	CategoryHematologic,
	CategoryNeurological,
	CategoryGastrointestinal,
	CategoryOncologic,
	CategoryPsychiatric,
	CategoryMusculoskeletal,
	CategoryOther,
}

// CategoryTitle returns the display heading of a category.
func CategoryTitle(c ProblemCategory) string {
	s := string(c)
	if s == "" {
		return "Other"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// ProblemMatrix renders the given problems grouped by category. It returns
// an empty string when problems is empty.
func (r *Renderer) ProblemMatrix(doc *LongitudinalDocument, problems []*ProblemTimeline) string {
	if len(problems) == 0 {
		return ""
	}
	byCat := make(map[ProblemCategory][]*ProblemTimeline)
	for _, tl := range problems {
		byCat[tl.Category] = append(byCat[tl.Category], tl)
	}

	var sb strings.Builder
	sb.WriteString("## Problem Matrix\n")
	for _, cat := range categoryOrder {
		list := byCat[cat]
		if len(list) == 0 {
			continue
		}
		sb.WriteString(fmt.Sprintf("\n### %s\n", CategoryTitle(cat)))
		for _, tl := range list {
			sb.WriteString("\n")
			sb.WriteString(r.problemBlock(doc, tl))
		}
	}
	return sb.String()
}

func (r *Renderer) problemBlock(doc *LongitudinalDocument, tl *ProblemTimeline) string {
	var sb strings.Builder
	title := tl.Name
	if tl.ICD10 != "" {
		title += " (" + tl.ICD10 + ")"
	}
	sb.WriteString(fmt.Sprintf("#### %s [%s]\n", title, tl.Status))
	if !tl.OnsetDate.IsZero() {
		sb.WriteString("Onset: " + tl.OnsetDate.Format(dateLayout))
		if !tl.ResolvedDate.IsZero() {
			sb.WriteString(", resolved: " + tl.ResolvedDate.Format(dateLayout))
		}
		sb.WriteString("\n")
	}
	if in, ok := doc.Memory.Insight(tl.ID); ok && in.Text != "" {
		sb.WriteString("Insight: " + in.Text + "\n")
	}

	rows := 0
	var table strings.Builder
	table.WriteString("\n| Period | Status | Events | Labs | Med changes |\n")
	table.WriteString("|--------|--------|--------|------|-------------|\n")
	for _, p := range tl.Periods() {
		if p.IsEmpty() {
			continue
		}
		rows++
		table.WriteString(fmt.Sprintf("| %s | %s | %d | %s | %s |\n",
			p.Period, statusCell(p.Status), p.EventCount(), labSummaryCell(p), medChangeCell(p.Medications)))
	}
	if rows == 0 {
		sb.WriteString("No data recorded in any period.\n")
	} else {
		sb.WriteString(table.String())
	}

	excerpts := r.recentExcerpts(tl)
	if len(excerpts) > 0 {
		sb.WriteString("\nRecent notes:\n")
		for _, n := range excerpts {
			sb.WriteString(fmt.Sprintf("- %s %s: %s\n", n.Date.Format(dateLayout), valueOr(n.Type, "note"), n.Excerpt))
		}
	}
	return sb.String()
}

func statusCell(s PeriodStatus) string {
	cell := fmt.Sprintf("%s/%s", s.Trend, s.Control)
	if s.Text != "" {
		cell += ": " + s.Text
	}
	return cell
}

// labSummaryCell lists the latest value of up to three distinct labs.
func labSummaryCell(p *ProblemPeriodData) string {
	seen := map[string]bool{}
	var parts []string
	for _, l := range p.Labs {
		k := labKey(l.Name)
		if seen[k] {
			continue
		}
		seen[k] = true
		part := l.Name + " " + strings.TrimSpace(l.Value)
		if l.Flag != "" {
			part += " " + l.Flag
		}
		parts = append(parts, part)
		if len(parts) == 3 {
			break
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, "; ")
}

func medChangeCell(m MedicationChanges) string {
	var parts []string
	if n := len(m.Started); n > 0 {
		parts = append(parts, fmt.Sprintf("+%d started", n))
	}
	if n := len(m.Stopped); n > 0 {
		parts = append(parts, fmt.Sprintf("-%d stopped", n))
	}
	if n := len(m.Adjusted); n > 0 {
		parts = append(parts, fmt.Sprintf("~%d adjusted", n))
	}
	if n := len(m.Current); n > 0 {
		parts = append(parts, fmt.Sprintf("%d current", n))
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ", ")
}

func (r *Renderer) recentExcerpts(tl *ProblemTimeline) []NoteExcerpt {
	var all []NoteExcerpt
	for _, p := range tl.Periods() {
		all = append(all, p.Notes...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Date.After(all[j].Date) })
	if len(all) > r.noteExcerpts {
		all = all[:r.noteExcerpts]
	}
	return all
}

// latestNonEmpty returns the most recent period holding data, or nil.
func latestNonEmpty(tl *ProblemTimeline) *ProblemPeriodData {
	for _, p := range tl.Periods() {
		if !p.IsEmpty() {
			return p
		}
	}
	return nil
}

// Trajectory derives a one-line course description from period statuses.
func Trajectory(tl *ProblemTimeline) string {
	p := latestNonEmpty(tl)
	if p == nil {
		return "no recent data"
	}
	concerning := 0
	for _, q := range tl.Periods() {
		if q.Status.Trend == StatusConcerning {
			concerning++
		}
	}
	switch p.Status.Trend {
	case StatusConcerning:
		s := fmt.Sprintf("concerning in %s", strings.ToLower(p.Period))
		if p.Status.Text != "" {
			s += " (" + p.Status.Text + ")"
		}
		if concerning > 1 {
			s += fmt.Sprintf(", concerning across %d periods", concerning)
		}
		return s
	case StatusActive:
		return fmt.Sprintf("active, being monitored in %s", strings.ToLower(p.Period))
	default:
		if concerning > 0 {
			return fmt.Sprintf("stable in %s after earlier concerning periods", strings.ToLower(p.Period))
		}
		return fmt.Sprintf("stable in %s", strings.ToLower(p.Period))
	}
}
