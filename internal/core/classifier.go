package core

import (
	"strings"

	"github.com/valter-silva-au/patient-brain/pkg/models"
)

// ProblemCategory is a clinical domain grouping.
type ProblemCategory string

const (
	CategoryCardiovascular   ProblemCategory = "cardiovascular"
	CategoryPulmonary        ProblemCategory = "pulmonary"
	CategoryRenal            ProblemCategory = "renal"
	CategoryEndocrine        ProblemCategory = "endocrine"
	CategoryInfectious       ProblemCategory = "infectious"
	CategoryNeurological     ProblemCategory = "neurological"
	CategoryGastrointestinal ProblemCategory = "gastrointestinal"
	CategoryHematologic      ProblemCategory = "hematologic"
	CategoryOncologic        ProblemCategory = "oncologic"
	CategoryPsychiatric      ProblemCategory = "psychiatric"
	CategoryMusculoskeletal  ProblemCategory = "musculoskeletal"
	CategoryOther            ProblemCategory = "other"
)

// CategoryDefinition holds the match keywords and relevant signals of one
// category.
type CategoryDefinition struct {
	Category ProblemCategory
	Keywords []string
	Labs     []string
	Vitals   []models.VitalField
}

// MedicationAssociation links a drug name fragment to the category it is
// usually prescribed for.
type MedicationAssociation struct {
	Fragment string
	Category ProblemCategory
}

// DefaultCategories returns the category table. Order matters: the first
// category with a matching keyword wins.
func DefaultCategories() []CategoryDefinition {
	return []CategoryDefinition{
		{
			Category: CategoryCardiovascular,
			Keywords: []string{"heart", "cardiac", "coronary", "hypertension", "htn", "atrial", "fibrillation", "chf", "myocardial", "angina", "cardiomyopathy", "arrhythmia", "hyperlipidemia"},
			Labs:     []string{"BNP", "NT-proBNP", "Troponin", "CK-MB", "Potassium", "Magnesium", "LDL", "Total Cholesterol"},
			Vitals:   []models.VitalField{models.VitalSystolic, models.VitalDiastolic, models.VitalHeartRate, models.VitalWeight},
		},
		{
			Category: CategoryPulmonary,
			Keywords: []string{"copd", "asthma", "pneumonia", "pulmonary", "respiratory", "lung", "bronch", "emphysema", "apnea", "hypoxi"},
			Labs:     []string{"pCO2", "pO2", "WBC", "Procalcitonin"},
			Vitals:   []models.VitalField{models.VitalSpO2, models.VitalRespiratoryRate, models.VitalTemperature},
		},
		{
			Category: CategoryRenal,
			Keywords: []string{"kidney", "renal", "ckd", "nephr", "dialysis", "hyperkalemia", "hypokalemia"},
			Labs:     []string{"Creatinine", "BUN", "eGFR", "Potassium", "Sodium", "Bicarbonate", "Phosphorus"},
			Vitals:   []models.VitalField{models.VitalWeight, models.VitalSystolic, models.VitalDiastolic},
		},
		{
			Category: CategoryEndocrine,
			Keywords: []string{"diabetes", "diabetic", "t2dm", "t1dm", "thyroid", "glycemi", "obesity", "adrenal"},
			Labs:     []string{"Glucose", "HbA1c", "TSH", "Free T4"},
			Vitals:   []models.VitalField{models.VitalWeight},
		},
		{
			Category: CategoryInfectious,
			Keywords: []string{"infection", "sepsis", "septic", "cellulitis", "urinary tract", "osteomyelitis", "bacteremia", "abscess"},
			Labs:     []string{"WBC", "Lactate", "Procalcitonin", "CRP"},
			Vitals:   []models.VitalField{models.VitalTemperature, models.VitalHeartRate, models.VitalSystolic},
		},
		{
			Category: CategoryNeurological,
			Keywords: []string{"stroke", "seizure", "epilep", "dementia", "neuropathy", "parkinson", "migraine", "alzheimer"},
			Vitals:   []models.VitalField{models.VitalSystolic, models.VitalDiastolic},
		},
		{
			Category: CategoryGastrointestinal,
			Keywords: []string{"liver", "hepat", "cirrhosis", "bowel", "pancreat", "gerd", "reflux", "colitis", "crohn", "gastro"},
			Labs:     []string{"AST", "ALT", "Alk Phos", "Bilirubin", "Albumin", "Lipase"},
			Vitals:   []models.VitalField{models.VitalWeight},
		},
		{
			Category: CategoryHematologic,
			Keywords: []string{"anemia", "thrombocytopenia", "dvt", "thrombo", "embolism", "coagul", "bleed", "hemophilia"},
			Labs:     []string{"Hemoglobin", "Hematocrit", "Platelets", "INR", "PT", "PTT", "Ferritin"},
			Vitals:   []models.VitalField{models.VitalHeartRate},
		},
		{
			Category: CategoryOncologic,
			Keywords: []string{"cancer", "carcinoma", "tumor", "lymphoma", "leukemia", "malignan", "metasta", "melanoma"},
			Labs:     []string{"Hemoglobin", "WBC", "Platelets"},
			Vitals:   []models.VitalField{models.VitalWeight},
		},
		{
			Category: CategoryPsychiatric,
			Keywords: []string{"depress", "anxiety", "bipolar", "schizo", "psych", "ptsd", "insomnia"},
		},
		{
			Category: CategoryMusculoskeletal,
			Keywords: []string{"arthritis", "osteopor", "fracture", "gout", "back pain", "lupus"},
			Labs:     []string{"Uric Acid", "CRP"},
			Vitals:   []models.VitalField{models.VitalPainScore},
		},
	}
}

// DefaultMedicationAssociations returns the drug fragment table used when a
// medication carries no usable indication.
func DefaultMedicationAssociations() []MedicationAssociation {
	assoc := func(cat ProblemCategory, fragments ...string) []MedicationAssociation {
		out := make([]MedicationAssociation, len(fragments))
		for i, f := range fragments {
			out[i] = MedicationAssociation{Fragment: f, Category: cat}
		}
		return out
	}
	var table []MedicationAssociation
	table = append(table, assoc(CategoryCardiovascular,
		"furosemide", "torsemide", "bumetanide", "metoprolol", "carvedilol", "lisinopril", "losartan",
		"valsartan", "sacubitril", "amlodipine", "spironolactone", "atorvastatin", "rosuvastatin",
		"digoxin", "hydralazine", "isosorbide", "amiodarone", "diltiazem")...)
	table = append(table, assoc(CategoryEndocrine,
		"metformin", "insulin", "glipizide", "glimepiride", "sitagliptin", "empagliflozin",
		"dapagliflozin", "semaglutide", "liraglutide", "levothyroxine")...)
	table = append(table, assoc(CategoryPulmonary,
		"albuterol", "tiotropium", "fluticasone", "budesonide", "ipratropium", "montelukast", "salmeterol")...)
	table = append(table, assoc(CategoryHematologic,
		"warfarin", "apixaban", "rivaroxaban", "heparin", "enoxaparin", "ferrous", "clopidogrel")...)
	table = append(table, assoc(CategoryRenal,
		"sevelamer", "calcitriol", "sodium bicarbonate", "patiromer")...)
	table = append(table, assoc(CategoryInfectious,
		"vancomycin", "ceftriaxone", "piperacillin", "azithromycin", "cefepime", "levofloxacin", "doxycycline")...)
	table = append(table, assoc(CategoryGastrointestinal,
		"omeprazole", "pantoprazole", "lactulose", "rifaximin", "ondansetron")...)
	table = append(table, assoc(CategoryPsychiatric,
		"sertraline", "escitalopram", "fluoxetine", "bupropion", "quetiapine", "trazodone")...)
	table = append(table, assoc(CategoryMusculoskeletal,
		"allopurinol", "colchicine", "alendronate")...)
	table = append(table, assoc(CategoryNeurological,
		"levetiracetam", "donepezil", "carbidopa", "gabapentin")...)
	return table
}

// CategoryClassifier maps problem names to categories and exposes each
// category's relevant signals.
type CategoryClassifier struct {
	table    []CategoryDefinition
	byCat    map[ProblemCategory]CategoryDefinition
	medAssoc []MedicationAssociation
}

// NewCategoryClassifier builds a classifier over the given tables. Keywords
// are matched lower-cased.
func NewCategoryClassifier(table []CategoryDefinition, meds []MedicationAssociation) *CategoryClassifier {
	c := &CategoryClassifier{
		byCat: make(map[ProblemCategory]CategoryDefinition, len(table)),
	}
	for _, def := range table {
		d := CategoryDefinition{
			Category: def.Category,
			Keywords: lowerAll(def.Keywords),
			Labs:     append([]string(nil), def.Labs...),
			Vitals:   append([]models.VitalField(nil), def.Vitals...),
		}
		c.table = append(c.table, d)
		if _, dup := c.byCat[d.Category]; !dup {
			c.byCat[d.Category] = d
		}
	}
	for _, m := range meds {
		c.medAssoc = append(c.medAssoc, MedicationAssociation{Fragment: strings.ToLower(m.Fragment), Category: m.Category})
	}
	return c
}

// NewDefaultClassifier returns a classifier over the default tables.
func NewDefaultClassifier() *CategoryClassifier {
	return NewCategoryClassifier(DefaultCategories(), DefaultMedicationAssociations())
}

// Categorize returns the first category whose keyword occurs in name, or
// CategoryOther.
func (c *CategoryClassifier) Categorize(name string) ProblemCategory {
	lower := strings.ToLower(name)
	for _, def := range c.table {
		for _, kw := range def.Keywords {
			if strings.Contains(lower, kw) {
				return def.Category
			}
		}
	}
	return CategoryOther
}

// Keywords returns the lower-cased match keywords of cat.
func (c *CategoryClassifier) Keywords(cat ProblemCategory) []string {
	return c.byCat[cat].Keywords
}

// RelatedLabs returns the lab names relevant to cat.
func (c *CategoryClassifier) RelatedLabs(cat ProblemCategory) []string {
	return c.byCat[cat].Labs
}

// RelatedVitals returns the vital fields relevant to cat.
func (c *CategoryClassifier) RelatedVitals(cat ProblemCategory) []models.VitalField {
	return c.byCat[cat].Vitals
}

// IsRelatedLab reports whether labName is one of cat's labs, ignoring case.
func (c *CategoryClassifier) IsRelatedLab(cat ProblemCategory, labName string) bool {
	for _, l := range c.byCat[cat].Labs {
		if strings.EqualFold(l, labName) {
			return true
		}
	}
	return false
}

// MedicationCategory returns the category associated with a drug name, or
// CategoryOther when the table has no match.
func (c *CategoryClassifier) MedicationCategory(drug string) ProblemCategory {
	lower := strings.ToLower(drug)
	for _, m := range c.medAssoc {
		if strings.Contains(lower, m.Fragment) {
			return m.Category
		}
	}
	return CategoryOther
}

// MentionsCategory reports whether text contains any keyword of cat.
func (c *CategoryClassifier) MentionsCategory(text string, cat ProblemCategory) bool {
	lower := strings.ToLower(text)
	for _, kw := range c.byCat[cat].Keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
