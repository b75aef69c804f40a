package classification

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

const maxExplanationLen = 300

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterStructValidation(variantRules, Classification{})
	})
	return validate
}

// variantRules enforces that exactly the fields of the chosen variant are set.
func variantRules(sl validator.StructLevel) {
	c := sl.Current().Interface().(Classification)
	switch c.Category {
	case CategoryTestResults:
		if !slices.Contains(TestTypes, string(c.TestType)) {
			sl.ReportError(c.TestType, "testType", "TestType", "oneof", strings.Join(TestTypes, " "))
		}
		forbid(sl, c.NoteType != "", "type", "NoteType")
		forbid(sl, c.Explanation != "", "explanation", "Explanation")
	case CategoryClinicalNotes:
		if !slices.Contains(NoteTypes, string(c.NoteType)) {
			sl.ReportError(c.NoteType, "type", "NoteType", "oneof", strings.Join(NoteTypes, " "))
		}
		forbid(sl, c.TestType != "", "testType", "TestType")
		forbid(sl, c.Explanation != "", "explanation", "Explanation")
	case CategoryInsurance:
		forbid(sl, c.TestType != "", "testType", "TestType")
		forbid(sl, c.NoteType != "", "type", "NoteType")
		forbid(sl, c.Explanation != "", "explanation", "Explanation")
	case CategoryNonMedical:
		if strings.TrimSpace(c.Explanation) == "" {
			sl.ReportError(c.Explanation, "explanation", "Explanation", "required", "")
		} else if len(c.Explanation) > maxExplanationLen {
			sl.ReportError(c.Explanation, "explanation", "Explanation", "max", fmt.Sprint(maxExplanationLen))
		}
		forbid(sl, c.TestType != "", "testType", "TestType")
		forbid(sl, c.NoteType != "", "type", "NoteType")
	default:
		sl.ReportError(c.Category, "category", "Category", "oneof", strings.Join(Categories, " "))
	}
}

func forbid(sl validator.StructLevel, set bool, field, structField string) {
	if set {
		sl.ReportError(field, field, structField, "excluded", "")
	}
}

// Validate checks c against the taxonomy.
func Validate(c Classification) error {
	if err := getValidator().Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s: %s", ErrInvalid, c.Category, strings.Join(msgs, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}
