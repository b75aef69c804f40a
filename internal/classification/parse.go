package classification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

var variantFields = map[Category][]string{
	CategoryTestResults:   {"testType"},
	CategoryClinicalNotes: {"type"},
	CategoryInsurance:     nil,
	CategoryNonMedical:    {"explanation"},
}

// Parse strictly decodes model output. It accepts a bare variant object or
// one wrapped as {"classification": {...}}. Null fields are ignored; any
// other field outside the chosen variant is rejected.
func Parse(raw []byte) (Classification, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return Classification{}, err
	}
	if inner, ok := obj["classification"]; ok && len(obj) == 1 {
		if obj, err = decodeObject(inner); err != nil {
			return Classification{}, err
		}
	}

	var category string
	if err := decodeString(obj, "category", &category); err != nil {
		return Classification{}, err
	}
	c := Classification{Category: Category(category)}
	allowed, known := variantFields[c.Category]
	if !known {
		return Classification{}, fmt.Errorf("%w: unknown category %q", ErrInvalid, category)
	}

	for key, val := range obj {
		if key == "category" || isNull(val) || slices.Contains(allowed, key) {
			continue
		}
		return Classification{}, fmt.Errorf("%w: field %q not allowed for %s", ErrInvalid, key, c.Category)
	}

	var s string
	if err := decodeString(obj, "testType", &s); err == nil {
		c.TestType = TestType(s)
	}
	s = ""
	if err := decodeString(obj, "type", &s); err == nil {
		if s == legacyHealthSummary {
			s = string(NoteHealthSummary)
		}
		c.NoteType = NoteType(s)
	}
	s = ""
	if err := decodeString(obj, "explanation", &s); err == nil {
		c.Explanation = strings.TrimSpace(s)
	}
	if err := Validate(c); err != nil {
		return Classification{}, err
	}
	return c, nil
}

func decodeObject(raw []byte) (map[string]json.RawMessage, error) {
	var obj map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, fmt.Errorf("%w: not a JSON object", ErrInvalid)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after object", ErrInvalid)
	}
	return obj, nil
}

func decodeString(obj map[string]json.RawMessage, key string, dst *string) error {
	val, ok := obj[key]
	if !ok || isNull(val) {
		return fmt.Errorf("%w: missing %s", ErrInvalid, key)
	}
	if err := json.Unmarshal(val, dst); err != nil {
		return fmt.Errorf("%w: %s must be a string", ErrInvalid, key)
	}
	return nil
}

func isNull(val json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(val), []byte("null"))
}
