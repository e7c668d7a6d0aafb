package core

import (
	"context"
	"sort"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/valter-silva-au/patient-brain/pkg/models"
)

// UpdateSince merges vitals and labs recorded strictly after since into doc
// and advances the watermark. Records at or before the watermark are already
// in the document, so since never reaches back past it. A document that was
// never built is rebuilt in place; narrative, session and memory survive
// either way.
func (b *documentBuilder) UpdateSince(ctx context.Context, doc *LongitudinalDocument, since time.Time) *LongitudinalDocument {
	if doc == nil {
		return nil
	}
	if doc.Metadata.Watermark.IsZero() {
		return b.rebuild(ctx, doc)
	}
	if since.Before(doc.Metadata.Watermark) {
		since = doc.Metadata.Watermark
	}

	patientID := doc.Metadata.PatientID
	failed := &failureSet{}
	fail := b.failer(patientID, failed)

	var (
		vitals []models.VitalSign
		labs   []models.LabResult
	)
	var wg conc.WaitGroup
	wg.Go(func() {
		vitals = safeLoad(ctx, SourceVitals, func(ctx context.Context) ([]models.VitalSign, error) {
			return b.source.Vitals(ctx, patientID)
		}, fail)
	})
	wg.Go(func() {
		labs = safeLoad(ctx, SourceLabs, func(ctx context.Context) ([]models.LabResult, error) {
			return b.source.Labs(ctx, patientID)
		}, fail)
	})
	if r := wg.WaitAndRecover(); r != nil {
		fail("unknown", r.AsError())
	}

	var (
		newVitals []models.VitalSign
		newLabs   []models.LabResult
	)
	for _, v := range vitals {
		if v.Date.After(since) {
			b.AddVital(doc, v)
			newVitals = append(newVitals, v)
		}
	}
	for _, l := range labs {
		if l.CollectedDate.After(since) {
			b.AddLab(doc, l)
			newLabs = append(newLabs, l)
		}
	}

	now := b.catalog.Now()
	doc.Metadata.Watermark = watermark(laterOf(now, doc.Metadata.Watermark), newVitals, newLabs)
	doc.Metadata.UpdatedAt = now
	for _, name := range failed.list() {
		if !doc.Metadata.SourceFailed(name) {
			doc.Metadata.FailedSources = append(doc.Metadata.FailedSources, name)
		}
	}

	b.logEvent("document.refreshed", map[string]any{
		"patient_id": patientID,
		"since":      since.Format(time.RFC3339),
		"added":      len(newVitals) + len(newLabs),
	})
	return doc
}

// Refresh pulls everything newer than the document's watermark.
func (b *documentBuilder) Refresh(ctx context.Context, doc *LongitudinalDocument) *LongitudinalDocument {
	if doc == nil {
		return nil
	}
	return b.UpdateSince(ctx, doc, doc.Metadata.Watermark)
}

// watermark returns the later of floor and the newest vital or lab date, so
// records stamped ahead of the host clock are not merged a second time.
func watermark(floor time.Time, vitals []models.VitalSign, labs []models.LabResult) time.Time {
	w := floor
	for _, v := range vitals {
		w = laterOf(w, v.Date)
	}
	for _, l := range labs {
		w = laterOf(w, l.CollectedDate)
	}
	return w
}

func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

func (b *documentBuilder) rebuild(ctx context.Context, doc *LongitudinalDocument) *LongitudinalDocument {
	fresh := b.BuildFull(ctx, doc.Metadata.PatientID, doc.Metadata.EncounterID)
	fresh.Narrative = doc.Narrative
	fresh.Session = doc.Session
	fresh.Memory = doc.Memory
	*doc = *fresh
	b.logEvent("document.rebuilt", map[string]any{
		"patient_id": doc.Metadata.PatientID,
	})
	return doc
}

// AddVital inserts one vital set into the stream and into every problem
// bucket whose category tracks a field it measured.
func (b *documentBuilder) AddVital(doc *LongitudinalDocument, v models.VitalSign) {
	periodOf := b.periodFunc(doc)
	doc.insertVital(v, periodOf)
	label := periodOf(v.Date)
	for _, tl := range doc.Problems() {
		if b.attachVital(tl, v, label) {
			p := tl.Period(label)
			sort.SliceStable(p.Vitals, func(i, j int) bool { return p.Vitals[i].Date.After(p.Vitals[j].Date) })
		}
	}
}

// AddLab inserts one lab result into its trend and into every problem bucket
// whose category lists it, re-deriving the affected statuses.
func (b *documentBuilder) AddLab(doc *LongitudinalDocument, lab models.LabResult) {
	trend := doc.labTrendFor(lab.Name)
	if trend.AddValue(lab.CollectedDate, lab.Value, lab.Unit, lab.Flag, labContext(lab)) {
		trend.Recompute(b.catalog.Now())
	}
	label := b.periodFunc(doc)(lab.CollectedDate)
	for _, tl := range doc.Problems() {
		if b.attachLab(tl, lab, label) {
			p := tl.Period(label)
			sort.SliceStable(p.Labs, func(i, j int) bool { return p.Labs[i].CollectedDate.After(p.Labs[j].CollectedDate) })
			p.Status = derivePeriodStatus(p)
		}
	}
}
