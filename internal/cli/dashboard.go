package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/valter-silva-au/patient-brain/internal/core"
)

// Dashboard panel indices.
const (
	panelProblems = iota
	panelLabs
	panelSafety
	panelCount
)

type dashboardModel struct {
	activePanel int
	width       int
	height      int

	// Data.
	snapshot *patientSnapshot

	// State.
	load    tea.Cmd
	reload  tea.Cmd
	loading bool
	err     error
}

type patientSnapshot struct {
	header    string
	problems  []problemRow
	labs      []labRow
	allergies []string
	flags     []flagRow
	failed    []string
}

type problemRow struct {
	category string
	name     string
	trend    string
}

type labRow struct {
	name   string
	latest string
	trend  string
}

type flagRow struct {
	severity string
	message  string
}

// dataLoadedMsg carries loaded data back to the model.
type dataLoadedMsg struct {
	snapshot *patientSnapshot
	err      error
}

// Style definitions.
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(1, 2)

	activePanelStyle = lipgloss.NewStyle().
				BorderStyle(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62")).
				Padding(1, 2)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			MarginBottom(1)

	trendConcerning = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	trendActive     = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	trendStable     = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	trendNone       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	severityHigh   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	severityMedium = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	severityLow    = lipgloss.NewStyle().Foreground(lipgloss.Color("69"))

	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// newDashboardModel creates a model that loads with load and reloads with
// reload.
func newDashboardModel(load, reload tea.Cmd) dashboardModel {
	return dashboardModel{
		activePanel: panelProblems,
		load:        load,
		reload:      reload,
		loading:     true,
	}
}

func (m dashboardModel) Init() tea.Cmd {
	return m.load
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "tab":
			m.activePanel = (m.activePanel + 1) % panelCount
			return m, nil
		case "shift+tab":
			m.activePanel = (m.activePanel - 1 + panelCount) % panelCount
			return m, nil
		case "r":
			m.loading = true
			return m, m.reload
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case dataLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.snapshot = msg.snapshot
		m.err = nil
		return m, nil
	}

	return m, nil
}

func (m dashboardModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	title := titleStyle.Render(" Patient Brain ")
	help := helpStyle.Render("tab: switch panel | r: refresh | q: quit")

	if m.loading {
		return fmt.Sprintf("%s\n\n  Loading chart...\n\n%s", title, help)
	}

	if m.err != nil {
		return fmt.Sprintf("%s\n\n  Error: %s\n\n%s", title, m.err, help)
	}

	if m.snapshot != nil && m.snapshot.header != "" {
		title += "  " + m.snapshot.header
	}

	problemsPanel := m.renderProblemsPanel()
	labsPanel := m.renderLabsPanel()
	safetyPanel := m.renderSafetyPanel()

	availableWidth := m.width - 2

	var body string
	if availableWidth > 120 {
		colWidth := availableWidth / 3
		problemsPanel = m.applyPanelStyle(panelProblems, problemsPanel, colWidth-4)
		labsPanel = m.applyPanelStyle(panelLabs, labsPanel, colWidth-4)
		safetyPanel = m.applyPanelStyle(panelSafety, safetyPanel, colWidth-4)
		body = lipgloss.JoinHorizontal(lipgloss.Top, problemsPanel, labsPanel, safetyPanel)
	} else {
		panelWidth := max(availableWidth-4, 20)
		problemsPanel = m.applyPanelStyle(panelProblems, problemsPanel, panelWidth)
		labsPanel = m.applyPanelStyle(panelLabs, labsPanel, panelWidth)
		safetyPanel = m.applyPanelStyle(panelSafety, safetyPanel, panelWidth)
		body = lipgloss.JoinVertical(lipgloss.Left, problemsPanel, labsPanel, safetyPanel)
	}

	return fmt.Sprintf("%s\n\n%s\n\n%s", title, body, help)
}

func (m dashboardModel) applyPanelStyle(panel int, content string, width int) string {
	style := panelStyle
	if m.activePanel == panel {
		style = activePanelStyle
	}
	return style.Width(width).Render(content)
}

func (m dashboardModel) renderProblemsPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Active Problems"))
	b.WriteString("\n")

	if m.snapshot == nil || len(m.snapshot.problems) == 0 {
		b.WriteString("  No active problems.")
		return b.String()
	}

	category := ""
	for _, p := range m.snapshot.problems {
		if p.category != category {
			category = p.category
			b.WriteString(fmt.Sprintf("  %s\n", category))
		}
		b.WriteString(fmt.Sprintf("    %s\n", p.name))
		b.WriteString("      " + styleForTrajectory(p.trend).Render(p.trend) + "\n")
	}

	return b.String()
}

func (m dashboardModel) renderLabsPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Lab Trends"))
	b.WriteString("\n")

	if m.snapshot == nil || len(m.snapshot.labs) == 0 {
		b.WriteString("  No lab results.")
		return b.String()
	}

	for _, l := range m.snapshot.labs {
		b.WriteString(fmt.Sprintf("  %-16s %-12s %s\n", l.name, l.latest, l.trend))
	}

	return b.String()
}

func (m dashboardModel) renderSafetyPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Safety"))
	b.WriteString("\n")

	if m.snapshot == nil {
		b.WriteString("  No data.")
		return b.String()
	}

	s := m.snapshot
	if len(s.allergies) == 0 {
		b.WriteString("  No known allergies.\n")
	}
	for _, a := range s.allergies {
		b.WriteString("  " + severityMedium.Render(a) + "\n")
	}

	if len(s.flags) > 0 {
		b.WriteString("\n")
	}
	for _, f := range s.flags {
		sev := styleForSeverity(f.severity).Render(fmt.Sprintf("[%s]", strings.ToUpper(f.severity)))
		b.WriteString(fmt.Sprintf("  %s %s\n", sev, f.message))
	}

	if len(s.failed) > 0 {
		b.WriteString("\n  " + severityHigh.Render("Unavailable: "+strings.Join(s.failed, ", ")))
	}

	return b.String()
}

func styleForTrajectory(trend string) lipgloss.Style {
	switch {
	case strings.HasPrefix(trend, "concerning"):
		return trendConcerning
	case strings.HasPrefix(trend, "active"):
		return trendActive
	case strings.HasPrefix(trend, "stable"):
		return trendStable
	default:
		return trendNone
	}
}

func styleForSeverity(severity string) lipgloss.Style {
	switch strings.ToLower(severity) {
	case "high":
		return severityHigh
	case "medium":
		return severityMedium
	case "low":
		return severityLow
	default:
		return lipgloss.NewStyle()
	}
}

// snapshotDocument copies what the dashboard shows out of doc.
func snapshotDocument(doc *core.LongitudinalDocument) *patientSnapshot {
	s := &patientSnapshot{failed: append([]string{}, doc.Metadata.FailedSources...)}

	if d := doc.Patient.Demographics; d != nil {
		s.header = fmt.Sprintf("%s  MRN %s", d.FullName(), d.MRN)
	} else {
		s.header = "Patient " + doc.Metadata.PatientID
	}

	for _, tl := range doc.ActiveProblems() {
		s.problems = append(s.problems, problemRow{
			category: core.CategoryTitle(tl.Category),
			name:     tl.Name,
			trend:    core.Trajectory(tl),
		})
	}

	sort.SliceStable(s.problems, func(i, j int) bool {
		return s.problems[i].category < s.problems[j].category
	})

	for _, t := range doc.LabTrends() {
		row := labRow{name: t.Name, trend: t.Trend.Arrow() + " " + string(t.Trend)}
		if v, ok := t.Latest(); ok {
			row.latest = strings.TrimSpace(fmt.Sprintf("%g %s", v.Value, v.Flag))
		}
		s.labs = append(s.labs, row)
	}

	for _, a := range doc.Patient.Allergies {
		label := a.Substance
		if a.Reaction != "" {
			label += " (" + a.Reaction + ")"
		}
		s.allergies = append(s.allergies, label)
	}

	for _, f := range doc.Session.SafetyFlags {
		s.flags = append(s.flags, flagRow{severity: f.Severity, message: f.Message})
	}

	return s
}

// loadPatient returns a command that snapshots sess, refreshing it first
// when refresh is set.
func loadPatient(sess *core.PatientSession, refresh bool) tea.Cmd {
	return func() tea.Msg {
		if refresh {
			sess.Refresh(context.Background())
		}
		var snap *patientSnapshot
		sess.View(func(doc *core.LongitudinalDocument) {
			snap = snapshotDocument(doc)
		})
		return dataLoadedMsg{snapshot: snap}
	}
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard <patient-id>",
	Short: "Interactive TUI dashboard for one patient",
	Long: `Launch an interactive terminal dashboard showing a patient's active
problems with their trajectory, lab trends, and allergies and safety flags.

Navigate between panels with Tab, refresh with r, quit with q.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := openPatient(cmdContext(cmd), args[0])
		if err != nil {
			return err
		}
		model := newDashboardModel(loadPatient(sess, false), loadPatient(sess, true))
		p := tea.NewProgram(model, tea.WithAltScreen())
		_, err = p.Run()
		return err
	},
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
}
