package storage

import (
	"testing"
	"time"

	"github.com/valter-silva-au/patient-brain/pkg/models"
)

var chartDay = time.Date(2026, 3, 15, 8, 30, 0, 0, time.UTC)

// testChart is a small but complete chart touching every section.
func testChart(id string) *models.Chart {
	return &models.Chart{
		PatientID: id,
		Demographics: &models.Demographics{
			MRN: "MRN-" + id, FirstName: "Ana", LastName: "Reyes",
			DateOfBirth: time.Date(1948, 2, 9, 0, 0, 0, 0, time.UTC), Sex: "F", CodeStatus: "Full",
		},
		Allergies: []models.Allergy{{Substance: "Sulfa", Reaction: "hives"}},
		Problems: models.ProblemList{
			Active:   []models.Problem{{ID: "copd", Name: "COPD", ICD10: "J44.9"}},
			Resolved: []models.Problem{{ID: "uti", Name: "Urinary tract infection", ResolvedDate: chartDay.AddDate(0, -2, 0)}},
		},
		Medications: models.MedicationList{
			Active:     []models.Medication{{Name: "Tiotropium", Dose: "18 mcg", StartDate: chartDay.AddDate(-1, 0, 0)}},
			Historical: []models.Medication{{Name: "Nitrofurantoin", EndDate: chartDay.AddDate(0, -2, 0)}},
		},
		Vitals: []models.VitalSign{
			{Date: chartDay.AddDate(0, 0, -1), SpO2: 91, RespiratoryRate: 22},
			{Date: chartDay, SpO2: 94, RespiratoryRate: 18},
		},
		Labs: []models.LabResult{
			{Name: "pCO2", Value: "52", Unit: "mmHg", Flag: "H", CollectedDate: chartDay},
		},
		Notes: []models.Note{
			{ID: "old", Date: chartDay.AddDate(0, 0, -10), Type: "Progress", Content: "COPD stable."},
			{ID: "new", Date: chartDay, Type: "H&P", Author: "Dr. Ito", Content: "COPD exacerbation, started prednisone."},
		},
		Encounters:    []models.Encounter{{ID: "e1", Date: chartDay, Type: "inpatient"}},
		SocialHistory: &models.SocialHistory{Tobacco: "40 pack-years, quit 2015"},
		FamilyHistory: []models.FamilyHistoryEntry{{Relation: "father", Condition: "lung cancer"}},
	}
}

// assertChartSections checks the fields every source must return for
// testChart.
func assertChartSections(t *testing.T, got *models.Chart) {
	t.Helper()
	want := testChart(got.PatientID)
	if got.Demographics == nil || got.Demographics.FullName() != "Ana Reyes" || !got.Demographics.DateOfBirth.Equal(want.Demographics.DateOfBirth) {
		t.Errorf("Demographics = %+v", got.Demographics)
	}
	if len(got.Allergies) != 1 || got.Allergies[0].Substance != "Sulfa" {
		t.Errorf("Allergies = %+v", got.Allergies)
	}
	if len(got.Problems.Active) != 1 || len(got.Problems.Resolved) != 1 || got.Problems.Active[0].ICD10 != "J44.9" {
		t.Errorf("Problems = %+v", got.Problems)
	}
	if len(got.Medications.Active) != 1 || !got.Medications.Active[0].StartDate.Equal(want.Medications.Active[0].StartDate) {
		t.Errorf("Medications.Active = %+v", got.Medications.Active)
	}
	if len(got.Medications.Historical) != 1 || got.Medications.Historical[0].Name != "Nitrofurantoin" {
		t.Errorf("Medications.Historical = %+v", got.Medications.Historical)
	}
	if len(got.Vitals) != 2 || got.Vitals[1].SpO2 != 94 || !got.Vitals[1].Date.Equal(chartDay) {
		t.Errorf("Vitals = %+v", got.Vitals)
	}
	if len(got.Labs) != 1 || got.Labs[0].Value != "52" || got.Labs[0].Flag != "H" {
		t.Errorf("Labs = %+v", got.Labs)
	}
	if len(got.Encounters) != 1 || got.Encounters[0].ID != "e1" {
		t.Errorf("Encounters = %+v", got.Encounters)
	}
	if got.SocialHistory == nil || got.SocialHistory.Tobacco != want.SocialHistory.Tobacco {
		t.Errorf("SocialHistory = %+v", got.SocialHistory)
	}
	if len(got.FamilyHistory) != 1 || got.FamilyHistory[0].Condition != "lung cancer" {
		t.Errorf("FamilyHistory = %+v", got.FamilyHistory)
	}
}
