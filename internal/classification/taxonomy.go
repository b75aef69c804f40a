package classification

import "errors"

// Category is the discriminator of a Classification.
type Category string

const (
	CategoryTestResults   Category = "testresults"
	CategoryClinicalNotes Category = "clinical-notes"
	CategoryInsurance     Category = "insurance-document"
	CategoryNonMedical    Category = "non-medical"
)

// TestType refines CategoryTestResults.
type TestType string

const (
	TestLabs       TestType = "labs"
	TestImaging    TestType = "imaging"
	TestPhysical   TestType = "physical"
	TestFunctional TestType = "functional"
	TestOther      TestType = "other"
)

// NoteType refines CategoryClinicalNotes.
type NoteType string

const (
	NoteHealthSummary         NoteType = "health-summary"
	NoteVisitSummary          NoteType = "visit-summary"
	NoteDischargeInstructions NoteType = "discharge-instructions"
	NotePrescription          NoteType = "prescription"
	NoteReferral              NoteType = "referral"
	NoteLabOrder              NoteType = "lab-order"
	NoteMedicalHistory        NoteType = "medical-history"
	NoteOther                 NoteType = "other"
)

// legacyHealthSummary is a misspelling emitted by older prompts; it decodes to
// NoteHealthSummary.
const legacyHealthSummary = "health-summmary"

var (
	Categories = []string{string(CategoryTestResults), string(CategoryClinicalNotes), string(CategoryInsurance), string(CategoryNonMedical)}
	TestTypes  = []string{string(TestLabs), string(TestImaging), string(TestPhysical), string(TestFunctional), string(TestOther)}
	NoteTypes  = []string{
		string(NoteHealthSummary), string(NoteVisitSummary), string(NoteDischargeInstructions), string(NotePrescription),
		string(NoteReferral), string(NoteLabOrder), string(NoteMedicalHistory), string(NoteOther),
	}
)

// ErrInvalid marks model output or stored data that does not fit the taxonomy.
var ErrInvalid = errors.New("classification does not match taxonomy")

// Classification is a closed tagged union keyed by Category. Only the field
// belonging to the category is set: TestType for testresults, NoteType for
// clinical-notes, Explanation for non-medical, none for insurance-document.
type Classification struct {
	Category    Category `json:"category" validate:"required"`
	TestType    TestType `json:"testType,omitempty"`
	NoteType    NoteType `json:"type,omitempty"`
	Explanation string   `json:"explanation,omitempty"`
}

// Label is the short badge text shown next to a classified document.
func (c Classification) Label() string {
	switch c.Category {
	case CategoryTestResults:
		return "Test results: " + string(c.TestType)
	case CategoryClinicalNotes:
		return "Clinical notes: " + string(c.NoteType)
	case CategoryInsurance:
		return "Insurance document"
	case CategoryNonMedical:
		return "Non-medical"
	default:
		return ""
	}
}
