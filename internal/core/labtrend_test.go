package core

import (
	"math"
	"strings"
	"testing"
)

func trendOf(name string, values ...float64) *LabTrend {
	// values are given oldest first, one day apart, ending yesterday.
	t := NewLabTrend(name)
	for i, v := range values {
		date := testNow.AddDate(0, 0, -(len(values) - i))
		t.AddValue(date, formatValue(v), "", "", "")
	}
	t.Recompute(testNow)
	return t
}

func TestComputeTrend(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   TrendDirection
	}{
		{"single value", []float64{4.0}, TrendInsufficient},
		{"stable", []float64{4.0, 4.1}, TrendStable},
		{"falling", []float64{4.0, 3.6}, TrendFalling},
		{"rising", []float64{100, 110}, TrendRising},
		{"rising significantly", []float64{1.0, 1.3}, TrendRisingSignificantly},
		{"falling significantly", []float64{4.2, 3.8, 3.1}, TrendFallingSignificantly},
		{"fluctuating", []float64{10, 20, 10, 20}, TrendFluctuating},
		{"steady steep rise", []float64{100, 125, 150, 175, 200}, TrendRisingSignificantly},
		{"compounding rise", []float64{100, 121, 147, 178, 215}, TrendRisingSignificantly},
		{"steady steep fall", []float64{200, 150, 100, 60, 30}, TrendFallingSignificantly},
		{"two point doubling", []float64{10, 20}, TrendRisingSignificantly},
		{"high variance net rise", []float64{100, 180, 90, 170, 130}, TrendFluctuating},
		{"plateau then jump", []float64{100, 100, 100, 100, 200}, TrendFluctuating},
		{"zero to zero", []float64{0, 0}, TrendStable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := trendOf("X", tt.values...).Trend; got != tt.want {
				t.Errorf("trend of %v = %q, want %q", tt.values, got, tt.want)
			}
		})
	}
}

func TestComputeTrend_UsesRecentWindow(t *testing.T) {
	// An old spike outside the last five values does not make the series
	// fluctuate.
	tr := trendOf("Sodium", 160, 138, 139, 138, 139, 138)
	if tr.Trend != TrendStable {
		t.Errorf("expected stable, got %q", tr.Trend)
	}
}

func TestAddValue_DropsUnparseable(t *testing.T) {
	tr := NewLabTrend("Troponin")
	if tr.AddValue(testNow, "<0.01", "ng/mL", "", "") {
		t.Error("expected qualified value to be dropped")
	}
	if tr.AddValue(testNow, "pending", "", "", "") {
		t.Error("expected text value to be dropped")
	}
	if !tr.AddValue(testNow, "4.5 mmol", "mmol/L", "", "") {
		t.Error("expected leading numeric value to parse")
	}
	if len(tr.Values) != 1 || tr.Values[0].Value != 4.5 {
		t.Fatalf("unexpected values %+v", tr.Values)
	}
}

func TestAddValue_TracksCriticalEvents(t *testing.T) {
	tr := NewLabTrend("Potassium")
	tr.AddValue(testNow.AddDate(0, 0, -2), "3.1", "mmol/L", "L", "")
	tr.AddValue(testNow.AddDate(0, 0, -1), "4.0", "mmol/L", "", "")
	tr.AddValue(testNow, "6.8", "mmol/L", "HH", "")

	if len(tr.CriticalEvents) != 2 {
		t.Fatalf("expected 2 critical events, got %d", len(tr.CriticalEvents))
	}
	latest, ok := tr.Latest()
	if !ok || latest.Value != 6.8 {
		t.Errorf("expected latest 6.8, got %+v", latest)
	}
}

func TestComputeBaseline(t *testing.T) {
	odd := NewLabTrend("Creatinine")
	for i, v := range []string{"1.0", "1.4", "1.2"} {
		odd.AddValue(testNow.AddDate(0, 0, -40-i), v, "", "", "")
	}
	odd.AddValue(testNow.AddDate(0, 0, -1), "3.0", "", "", "")
	b := odd.ComputeBaseline(testNow)
	if b == nil || *b != 1.2 {
		t.Errorf("odd baseline = %v, want 1.2", b)
	}

	even := NewLabTrend("Creatinine")
	for i, v := range []string{"1.0", "1.4", "1.2", "2.0"} {
		even.AddValue(testNow.AddDate(0, 0, -40-i), v, "", "", "")
	}
	b = even.ComputeBaseline(testNow)
	if b == nil || math.Abs(*b-1.3) > 1e-9 {
		t.Errorf("even baseline = %v, want 1.3", b)
	}

	recent := trendOf("Creatinine", 1.0, 1.1)
	if recent.Baseline != nil {
		t.Errorf("expected no baseline without old values, got %v", *recent.Baseline)
	}
}

func TestLabTrend_Summary(t *testing.T) {
	tr := NewLabTrend("Potassium")
	tr.AddValue(testNow.AddDate(0, 0, -60), "4.2", "mmol/L", "", "")
	tr.AddValue(testNow.AddDate(0, 0, -20), "3.8", "mmol/L", "", "")
	tr.AddValue(testNow.AddDate(0, 0, -2), "3.1", "mmol/L", "L", "")
	tr.Recompute(testNow)

	want := "Potassium: 3.1 mmol/L (L) ↓↓ [prev 3.8, 4.2]"
	if got := tr.Summary(); got != want {
		t.Errorf("Summary() = %q, want %q", got, want)
	}
	if got := NewLabTrend("BNP").Summary(); got != "BNP: no values" {
		t.Errorf("empty Summary() = %q", got)
	}
}

func TestLabTrend_Detailed(t *testing.T) {
	tr := NewLabTrend("Potassium")
	tr.AddValue(testNow.AddDate(0, 0, -60), "4.2", "mmol/L", "", "ref 3.5-5.0")
	tr.AddValue(testNow.AddDate(0, 0, -2), "3.1", "mmol/L", "L", "")
	tr.Recompute(testNow)

	out := tr.Detailed()
	for _, want := range []string{"trend: falling significantly", "baseline 4.2", "3.1 mmol/L [L]", "ref 3.5-5.0", "1 out-of-range result(s)"} {
		if !strings.Contains(out, want) {
			t.Errorf("Detailed() missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, testNow.AddDate(0, 0, -2).Format(dateLayout)) > strings.Index(out, testNow.AddDate(0, 0, -60).Format(dateLayout)) {
		t.Error("expected most recent value first")
	}
}

func TestTrendDirection_Arrow(t *testing.T) {
	arrows := map[TrendDirection]string{
		TrendStable:               "→",
		TrendRising:               "↑",
		TrendRisingSignificantly:  "↑↑",
		TrendFalling:              "↓",
		TrendFallingSignificantly: "↓↓",
		TrendFluctuating:          "↕",
		TrendInsufficient:         "?",
	}
	for dir, want := range arrows {
		if got := dir.Arrow(); got != want {
			t.Errorf("%q.Arrow() = %q, want %q", dir, got, want)
		}
	}
}

func TestIsOutOfRange(t *testing.T) {
	for _, f := range []string{"H", "l", " LL ", "critical", "A"} {
		if !IsOutOfRange(f) {
			t.Errorf("expected %q to be out of range", f)
		}
	}
	for _, f := range []string{"", "N", "normal"} {
		if IsOutOfRange(f) {
			t.Errorf("expected %q to be in range", f)
		}
	}
}

func TestStats(t *testing.T) {
	if !math.IsNaN(mean(nil)) || !math.IsNaN(median(nil)) {
		t.Error("expected NaN for empty input")
	}
	if got := median([]float64{3, 1, 2}); got != 2 {
		t.Errorf("median odd = %v, want 2", got)
	}
	if got := median([]float64{4, 1, 3, 2}); got != 2.5 {
		t.Errorf("median even = %v, want 2.5", got)
	}
	if got := coefficientOfVariation([]float64{-1, 1}); got != 0 {
		t.Errorf("CV with zero mean = %v, want 0", got)
	}
	data := []float64{3, 1, 2}
	median(data)
	if data[0] != 3 {
		t.Error("median modified its input")
	}
}

func TestLabTrend_FallingPotassiumScenario(t *testing.T) {
	tr := NewLabTrend("Potassium")
	tr.AddValue(testNow.AddDate(0, 0, -10), "3.2", "mmol/L", "L", "")
	tr.AddValue(testNow.AddDate(0, 0, -40), "4.0", "mmol/L", "", "")
	tr.AddValue(testNow.AddDate(0, 0, -20), "3.6", "mmol/L", "", "")
	tr.Recompute(testNow)

	if tr.Trend != TrendFalling {
		t.Errorf("Trend = %q, want %q", tr.Trend, TrendFalling)
	}
	summary := tr.Summary()
	if !strings.Contains(summary, "(L)") || !strings.Contains(summary, "↓") {
		t.Errorf("summary should surface the flag and arrow, got %q", summary)
	}
	if tr.Baseline == nil || *tr.Baseline != 4.0 {
		t.Errorf("expected baseline 4.0 from the only value older than 30 days, got %v", tr.Baseline)
	}
}
