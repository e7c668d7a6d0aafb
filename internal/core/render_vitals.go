package core

import (
	"fmt"
	"math"
	"strings"

	"github.com/valter-silva-au/patient-brain/pkg/models"
)

const (
	weightChangeKg   = 2.0
	systolicHigh     = 140.0
	systolicLow      = 90.0
	spO2Low          = 92.0
	vitalsEmptyValue = "-"
)

// Vitals renders the most recent vital sets and a short narrative. It
// returns an empty string when no vitals are recorded.
func (r *Renderer) Vitals(doc *LongitudinalDocument) string {
	rows := doc.Vitals.All
	if len(rows) == 0 {
		return ""
	}
	if len(rows) > r.vitalRows {
		rows = rows[:r.vitalRows]
	}

	var sb strings.Builder
	sb.WriteString("## Vitals\n\n")
	sb.WriteString("| Date | BP | HR | RR | SpO2 | Temp | Wt | Pain |\n")
	sb.WriteString("|------|----|----|----|------|------|----|------|\n")
	for _, v := range rows {
		bp := vitalsEmptyValue
		if v.Systolic != 0 || v.Diastolic != 0 {
			bp = fmt.Sprintf("%s/%s", vitalCell(v.Systolic), vitalCell(v.Diastolic))
		}
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %s | %s | %s |\n",
			v.Date.Format("2006-01-02 15:04"), bp,
			vitalCell(v.HeartRate), vitalCell(v.RespiratoryRate), vitalCell(v.SpO2),
			vitalCell(v.Temperature), vitalCell(v.Weight), vitalCell(v.PainScore)))
	}

	if narrative := vitalsNarrative(rows); len(narrative) > 0 {
		sb.WriteString("\n")
		for _, line := range narrative {
			sb.WriteString("- " + line + "\n")
		}
	}
	return sb.String()
}

func vitalCell(v float64) string {
	if v == 0 {
		return vitalsEmptyValue
	}
	return formatValue(math.Round(v*10) / 10)
}

// vitalsNarrative derives weight, blood pressure and oxygenation remarks
// from rows, which are most recent first.
func vitalsNarrative(rows []models.VitalSign) []string {
	var out []string

	var weights []models.VitalSign
	var systolic []float64
	var lowSpO2 []float64
	for _, v := range rows {
		if v.Weight != 0 {
			weights = append(weights, v)
		}
		if v.Systolic != 0 {
			systolic = append(systolic, v.Systolic)
		}
		if v.SpO2 != 0 && v.SpO2 < spO2Low {
			lowSpO2 = append(lowSpO2, v.SpO2)
		}
	}

	if len(weights) >= 2 {
		newest, oldest := weights[0], weights[len(weights)-1]
		delta := newest.Weight - oldest.Weight
		switch {
		case delta > weightChangeKg:
			out = append(out, fmt.Sprintf("Weight gain of %s kg since %s", formatValue(math.Round(delta*10)/10), oldest.Date.Format(dateLayout)))
		case delta < -weightChangeKg:
			out = append(out, fmt.Sprintf("Weight loss of %s kg since %s", formatValue(math.Round(-delta*10)/10), oldest.Date.Format(dateLayout)))
		}
	}

	if len(systolic) > 0 {
		avg := math.Round(mean(systolic))
		switch {
		case avg >= systolicHigh:
			out = append(out, fmt.Sprintf("BP above goal (average systolic %s)", formatValue(avg)))
		case avg < systolicLow:
			out = append(out, fmt.Sprintf("BP low (average systolic %s)", formatValue(avg)))
		default:
			out = append(out, fmt.Sprintf("BP controlled (average systolic %s)", formatValue(avg)))
		}
	}

	if len(lowSpO2) > 0 {
		lowest := lowSpO2[0]
		for _, s := range lowSpO2 {
			lowest = math.Min(lowest, s)
		}
		out = append(out, fmt.Sprintf("SpO2 below %s%% on %d reading(s), lowest %s%%", formatValue(spO2Low), len(lowSpO2), formatValue(lowest)))
	}
	return out
}
