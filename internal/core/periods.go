package core

import (
	"sort"
	"time"
)

// Clock returns the current time. Services take one so rolling windows can
// be pinned in tests.
type Clock func() time.Time

// PeriodKind distinguishes how a period's window is computed.
type PeriodKind string

const (
	PeriodRolling          PeriodKind = "rolling"
	PeriodCurrentEncounter PeriodKind = "current_encounter"
	PeriodHistorical       PeriodKind = "historical"
)

// Period labels of the default catalog.
const (
	LabelCurrentEncounter = "Current Encounter"
	LabelPastWeek         = "Past Week"
	LabelPastMonth        = "Past Month"
	LabelPast3Months      = "Past 3 Months"
	LabelPastYear         = "Past Year"
	LabelHistorical       = "Historical"
)

// TimePeriod is one date-range bucket. Window is only meaningful for
// rolling periods.
type TimePeriod struct {
	Label    string
	Kind     PeriodKind
	Window   time.Duration
	Priority int
}

// PeriodBounds is the resolved window of a period. A zero Start means the
// window is open towards the past; a zero End means it is open towards the
// future.
type PeriodBounds struct {
	Start time.Time
	End   time.Time
}

const day = 24 * time.Hour

// DefaultPeriods returns the standard catalog, most recent first.
func DefaultPeriods() []TimePeriod {
	return []TimePeriod{
		{Label: LabelCurrentEncounter, Kind: PeriodCurrentEncounter, Priority: 1},
		{Label: LabelPastWeek, Kind: PeriodRolling, Window: 7 * day, Priority: 2},
		{Label: LabelPastMonth, Kind: PeriodRolling, Window: 30 * day, Priority: 3},
		{Label: LabelPast3Months, Kind: PeriodRolling, Window: 90 * day, Priority: 4},
		{Label: LabelPastYear, Kind: PeriodRolling, Window: 365 * day, Priority: 5},
		{Label: LabelHistorical, Kind: PeriodHistorical, Priority: 6},
	}
}

// PeriodCatalog resolves dates to periods. It is immutable once built.
type PeriodCatalog struct {
	periods  []TimePeriod
	fallback TimePeriod
	now      Clock
}

// NewPeriodCatalog builds a catalog from periods, ordered by priority. If no
// historical period is present one is appended so every date resolves.
func NewPeriodCatalog(periods []TimePeriod, now Clock) *PeriodCatalog {
	if now == nil {
		now = time.Now
	}
	sorted := make([]TimePeriod, len(periods))
	copy(sorted, periods)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})

	c := &PeriodCatalog{now: now}
	found := false
	for _, p := range sorted {
		if p.Kind == PeriodHistorical && !found {
			c.fallback = p
			found = true
		}
	}
	if !found {
		last := 0
		if len(sorted) > 0 {
			last = sorted[len(sorted)-1].Priority
		}
		c.fallback = TimePeriod{Label: LabelHistorical, Kind: PeriodHistorical, Priority: last + 1}
		sorted = append(sorted, c.fallback)
	}
	c.periods = sorted
	return c
}

// Periods returns the catalog in priority order.
func (c *PeriodCatalog) Periods() []TimePeriod {
	out := make([]TimePeriod, len(c.periods))
	copy(out, c.periods)
	return out
}

// Labels returns the period labels in priority order.
func (c *PeriodCatalog) Labels() []string {
	labels := make([]string, len(c.periods))
	for i, p := range c.periods {
		labels[i] = p.Label
	}
	return labels
}

// Now returns the catalog's notion of the current time.
func (c *PeriodCatalog) Now() time.Time {
	return c.now()
}

// Bounds computes the window of period relative to now. The current
// encounter period anchors to encounterStart; when that is zero the window
// is empty and ok is false.
func (c *PeriodCatalog) Bounds(period TimePeriod, encounterStart time.Time) (PeriodBounds, bool) {
	now := c.now()
	switch period.Kind {
	case PeriodRolling:
		return PeriodBounds{Start: now.Add(-period.Window), End: now}, true
	case PeriodCurrentEncounter:
		if encounterStart.IsZero() {
			return PeriodBounds{}, false
		}
		return PeriodBounds{Start: encounterStart, End: now}, true
	case PeriodHistorical:
		return PeriodBounds{}, true
	default:
		return PeriodBounds{}, false
	}
}

// Contains reports whether date falls inside period. Both ends are inclusive.
func (c *PeriodCatalog) Contains(date time.Time, period TimePeriod, encounterStart time.Time) bool {
	b, ok := c.Bounds(period, encounterStart)
	if !ok {
		return false
	}
	if !b.Start.IsZero() && date.Before(b.Start) {
		return false
	}
	if !b.End.IsZero() && date.After(b.End) {
		return false
	}
	return true
}

// PeriodForDate returns the label of the first period, in priority order,
// whose window contains date. It always returns a label.
func (c *PeriodCatalog) PeriodForDate(date time.Time, encounterStart time.Time) string {
	for _, p := range c.periods {
		if p.Kind == PeriodHistorical {
			continue
		}
		if c.Contains(date, p, encounterStart) {
			return p.Label
		}
	}
	return c.fallback.Label
}
