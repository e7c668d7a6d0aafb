package core

import (
	"fmt"
	"sort"
	"strings"
)

// LabPanel is a named group of labs rendered as one table.
type LabPanel struct {
	Name string
	Labs []string
}

// DefaultLabPanels returns the panels in rendering order. Labs outside every
// panel are rendered under "Other".
func DefaultLabPanels() []LabPanel {
	return []LabPanel{
		{Name: "Renal", Labs: []string{"Creatinine", "BUN", "eGFR"}},
		{Name: "Cardiac", Labs: []string{"BNP", "NT-proBNP", "Troponin", "CK-MB"}},
		{Name: "Diabetes", Labs: []string{"Glucose", "HbA1c"}},
		{Name: "CBC", Labs: []string{"WBC", "Hemoglobin", "Hematocrit", "Platelets"}},
		{Name: "Coagulation", Labs: []string{"INR", "PT", "PTT"}},
		{Name: "Electrolytes", Labs: []string{"Sodium", "Potassium", "Chloride", "Bicarbonate", "Magnesium", "Phosphorus", "Calcium"}},
		{Name: "Liver", Labs: []string{"AST", "ALT", "Alk Phos", "Bilirubin", "Albumin"}},
		{Name: "Lipids", Labs: []string{"Total Cholesterol", "LDL", "HDL", "Triglycerides"}},
	}
}

// panelFor returns the panel name of a lab, or "Other".
func panelFor(name string) string {
	for _, p := range DefaultLabPanels() {
		for _, l := range p.Labs {
			if strings.EqualFold(l, name) {
				return p.Name
			}
		}
	}
	return "Other"
}

// LabTrends renders the given trends as per-panel date tables. It returns an
// empty string when no trend holds a value.
func (r *Renderer) LabTrends(trends []*LabTrend) string {
	byPanel := make(map[string][]*LabTrend)
	for _, t := range trends {
		if len(t.Values) == 0 {
			continue
		}
		p := panelFor(t.Name)
		byPanel[p] = append(byPanel[p], t)
	}
	if len(byPanel) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## Lab Trends\n")
	order := make([]string, 0, len(DefaultLabPanels())+1)
	for _, p := range DefaultLabPanels() {
		order = append(order, p.Name)
	}
	order = append(order, "Other")
	for _, name := range order {
		list := byPanel[name]
		if len(list) == 0 {
			continue
		}
		sb.WriteString(fmt.Sprintf("\n### %s\n\n", name))
		sb.WriteString(r.labTable(list))
	}
	return sb.String()
}

// labTable renders labs as rows against the most recent distinct dates.
func (r *Renderer) labTable(trends []*LabTrend) string {
	dateSet := map[string]bool{}
	for _, t := range trends {
		for _, v := range t.Values {
			dateSet[v.Date.Format(dateLayout)] = true
		}
	}
	dates := make([]string, 0, len(dateSet))
	for d := range dateSet {
		dates = append(dates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	if len(dates) > r.labDates {
		dates = dates[:r.labDates]
	}

	var sb strings.Builder
	sb.WriteString("| Lab | " + strings.Join(dates, " | ") + " | Trend |\n")
	sb.WriteString("|-----|" + strings.Repeat("-----|", len(dates)) + "-------|\n")
	for _, t := range trends {
		// Values are most recent first, so the first hit per date is the
		// latest draw of that day.
		cells := make(map[string]string, len(dates))
		for _, v := range t.Values {
			d := v.Date.Format(dateLayout)
			if _, ok := cells[d]; ok {
				continue
			}
			cell := formatValue(v.Value)
			if v.Flag != "" {
				cell += " " + v.Flag
			}
			cells[d] = cell
		}
		row := make([]string, len(dates))
		for i, d := range dates {
			row[i] = valueOr(cells[d], "")
		}
		name := t.Name
		if latest, ok := t.Latest(); ok && latest.Unit != "" {
			name += " (" + latest.Unit + ")"
		}
		sb.WriteString(fmt.Sprintf("| %s | %s | %s %s |\n", name, strings.Join(row, " | "), t.Trend.Arrow(), t.Trend))
	}
	return sb.String()
}
