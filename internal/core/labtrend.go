package core

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// TrendDirection is the qualitative direction of a lab series.
type TrendDirection string

const (
	TrendInsufficient         TrendDirection = "insufficient data"
	TrendStable               TrendDirection = "stable"
	TrendRising               TrendDirection = "rising"
	TrendRisingSignificantly  TrendDirection = "rising significantly"
	TrendFalling              TrendDirection = "falling"
	TrendFallingSignificantly TrendDirection = "falling significantly"
	TrendFluctuating          TrendDirection = "fluctuating"
)

// Arrow returns the compact indicator used in rendered tables.
func (t TrendDirection) Arrow() string {
	switch t {
	case TrendStable:
		return "→"
	case TrendRising:
		return "↑"
	case TrendRisingSignificantly:
		return "↑↑"
	case TrendFalling:
		return "↓"
	case TrendFallingSignificantly:
		return "↓↓"
	case TrendFluctuating:
		return "↕"
	default:
		return "?"
	}
}

const (
	trendWindow          = 5
	fluctuationCV        = 0.20
	stableChangePct      = 5.0
	significantChangePct = 20.0
	baselineAge          = 30 * day
)

// LabValue is one numeric point of a lab series.
type LabValue struct {
	Date    time.Time
	Value   float64
	Unit    string
	Flag    string
	Context string
}

// LabTrend is the value history of one lab, most recent first.
type LabTrend struct {
	Name           string
	Values         []LabValue
	CriticalEvents []LabValue
	Trend          TrendDirection
	Baseline       *float64
}

// NewLabTrend returns an empty trend for name.
func NewLabTrend(name string) *LabTrend {
	return &LabTrend{
		Name:           name,
		Values:         []LabValue{},
		CriticalEvents: []LabValue{},
		Trend:          TrendInsufficient,
	}
}

var leadingNumber = regexp.MustCompile(`^[-+]?(\d+\.?\d*|\.\d+)([eE][-+]?\d+)?`)

// parseLabValue parses raw as a number, accepting a leading numeric prefix
// such as "4.5 mmol". Qualified values like "<0.01" do not parse.
func parseLabValue(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, !math.IsNaN(v) && !math.IsInf(v, 0)
	}
	m := leadingNumber.FindString(s)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// IsOutOfRange reports whether a lab flag marks the value abnormal or critical.
func IsOutOfRange(flag string) bool {
	switch strings.ToUpper(strings.TrimSpace(flag)) {
	case "H", "L", "HH", "LL", "A", "AA", "C", "CRIT", "CRITICAL", "PANIC", "HIGH", "LOW", "ABNORMAL":
		return true
	default:
		return false
	}
}

// AddValue records a point. Values that do not parse are dropped without
// error. The history stays sorted most recent first.
func (t *LabTrend) AddValue(date time.Time, raw, unit, flag, context string) bool {
	v, ok := parseLabValue(raw)
	if !ok {
		return false
	}
	point := LabValue{Date: date, Value: v, Unit: unit, Flag: strings.TrimSpace(flag), Context: context}
	t.Values = append(t.Values, point)
	sort.SliceStable(t.Values, func(i, j int) bool {
		return t.Values[i].Date.After(t.Values[j].Date)
	})
	if IsOutOfRange(flag) {
		t.CriticalEvents = append(t.CriticalEvents, point)
	}
	return true
}

// Latest returns the most recent point.
func (t *LabTrend) Latest() (LabValue, bool) {
	if len(t.Values) == 0 {
		return LabValue{}, false
	}
	return t.Values[0], true
}

// ComputeTrend classifies the most recent window of values.
func (t *LabTrend) ComputeTrend() TrendDirection {
	if len(t.Values) < 2 {
		return TrendInsufficient
	}
	n := len(t.Values)
	if n > trendWindow {
		n = trendWindow
	}
	window := make([]float64, n)
	for i := 0; i < n; i++ {
		window[i] = t.Values[i].Value
	}
	// A window moving in one direction is a trend however steep it is; only
	// a window that changes direction can fluctuate.
	if !strictlyMonotonic(window) && coefficientOfVariation(window) > fluctuationCV {
		return TrendFluctuating
	}

	newest, oldest := window[0], window[n-1]
	var pct float64
	switch {
	case oldest != 0:
		pct = (newest - oldest) / math.Abs(oldest) * 100
	case newest == 0:
		pct = 0
	default:
		pct = math.Copysign(math.Inf(1), newest)
	}

	abs := math.Abs(pct)
	switch {
	case abs < stableChangePct:
		return TrendStable
	case abs <= significantChangePct:
		if pct > 0 {
			return TrendRising
		}
		return TrendFalling
	default:
		if pct > 0 {
			return TrendRisingSignificantly
		}
		return TrendFallingSignificantly
	}
}

// strictlyMonotonic reports whether every step of xs moves the same way.
func strictlyMonotonic(xs []float64) bool {
	if len(xs) < 2 {
		return false
	}
	up, down := true, true
	for i := 1; i < len(xs); i++ {
		up = up && xs[i] > xs[i-1]
		down = down && xs[i] < xs[i-1]
	}
	return up || down
}

// ComputeBaseline returns the median of points older than 30 days before
// now, or nil when there are none.
func (t *LabTrend) ComputeBaseline(now time.Time) *float64 {
	cutoff := now.Add(-baselineAge)
	var old []float64
	for _, v := range t.Values {
		if v.Date.Before(cutoff) {
			old = append(old, v.Value)
		}
	}
	if len(old) == 0 {
		return nil
	}
	m := median(old)
	return &m
}

// Recompute refreshes the derived trend and baseline.
func (t *LabTrend) Recompute(now time.Time) {
	t.Trend = t.ComputeTrend()
	t.Baseline = t.ComputeBaseline(now)
}

// Summary renders the latest value with flag, trend arrow and up to three
// prior values, e.g. "Potassium: 3.2 mmol/L (L) ↓ [prev 3.6, 4.0]".
func (t *LabTrend) Summary() string {
	latest, ok := t.Latest()
	if !ok {
		return fmt.Sprintf("%s: no values", t.Name)
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s: %s", t.Name, formatValue(latest.Value)))
	if latest.Unit != "" {
		sb.WriteString(" " + latest.Unit)
	}
	if latest.Flag != "" {
		sb.WriteString(fmt.Sprintf(" (%s)", latest.Flag))
	}
	sb.WriteString(" " + t.Trend.Arrow())
	if len(t.Values) > 1 {
		end := len(t.Values)
		if end > 4 {
			end = 4
		}
		prev := make([]string, 0, end-1)
		for _, v := range t.Values[1:end] {
			prev = append(prev, formatValue(v.Value))
		}
		sb.WriteString(fmt.Sprintf(" [prev %s]", strings.Join(prev, ", ")))
	}
	return sb.String()
}

// Detailed renders the full history with trend, baseline and flags.
func (t *LabTrend) Detailed() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s - trend: %s %s", t.Name, t.Trend, t.Trend.Arrow()))
	if t.Baseline != nil {
		sb.WriteString(fmt.Sprintf(", baseline %s", formatValue(*t.Baseline)))
	}
	sb.WriteString("\n")
	for _, v := range t.Values {
		line := fmt.Sprintf("  %s  %s", v.Date.Format("2006-01-02"), formatValue(v.Value))
		if v.Unit != "" {
			line += " " + v.Unit
		}
		if v.Flag != "" {
			line += " [" + v.Flag + "]"
		}
		if v.Context != "" {
			line += " - " + v.Context
		}
		sb.WriteString(line + "\n")
	}
	if len(t.CriticalEvents) > 0 {
		sb.WriteString(fmt.Sprintf("  %d out-of-range result(s)\n", len(t.CriticalEvents)))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// formatValue prints a value without trailing zeros.
func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
