package classification

import "slices"

const explanationHint = "brief sentence on why this is not a medical document. keep it short."

// SchemaName names the structured output contract.
const SchemaName = "document_classification"

// JSONSchema returns the strict structured-output schema: an object root whose
// "classification" property is a union of the four variants.
func JSONSchema() map[string]any {
	variant := func(props map[string]any) map[string]any {
		required := make([]string, 0, len(props))
		for name := range props {
			required = append(required, name)
		}
		slices.Sort(required)
		return map[string]any{
			"type":                 "object",
			"properties":           props,
			"required":             required,
			"additionalProperties": false,
		}
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"classification": map[string]any{
				"anyOf": []any{
					variant(map[string]any{
						"category": constString(string(CategoryTestResults)),
						"testType": enumString(TestTypes, ""),
					}),
					variant(map[string]any{
						"category": constString(string(CategoryClinicalNotes)),
						"type":     enumString(NoteTypes, ""),
					}),
					variant(map[string]any{
						"category": constString(string(CategoryInsurance)),
					}),
					variant(map[string]any{
						"category":    constString(string(CategoryNonMedical)),
						"explanation": map[string]any{"type": "string", "description": explanationHint},
					}),
				},
			},
		},
		"required":             []string{"classification"},
		"additionalProperties": false,
	}
}

// FlatJSONSchema describes the union as one object with optional variant
// fields, for providers whose schema dialect has no unions. Parse enforces the
// variant rules afterwards.
func FlatJSONSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"category":    enumString(Categories, ""),
			"testType":    enumString(TestTypes, "only when category is testresults"),
			"type":        enumString(NoteTypes, "only when category is clinical-notes"),
			"explanation": map[string]any{"type": "string", "description": "only when category is non-medical: " + explanationHint},
		},
		"required": []string{"category"},
	}
}

func constString(v string) map[string]any {
	return map[string]any{"type": "string", "enum": []string{v}}
}

func enumString(values []string, description string) map[string]any {
	out := map[string]any{"type": "string", "enum": append([]string(nil), values...)}
	if description != "" {
		out["description"] = description
	}
	return out
}
