package catalog

import "time"

// ReferenceRange is one demographic-specific normal range as entered in the
// catalog, e.g. Range "70 - 99 mg/dL" for adults of any gender.
type ReferenceRange struct {
	Range  string  `json:"range"`
	Gender *string `json:"gender,omitempty"`
	AgeMin *int    `json:"age_min,omitempty"`
	AgeMax *int    `json:"age_max,omitempty"`
}

// ReflexRule describes a follow-up test the lab may add when a result meets
// Condition. Stored and served, not evaluated.
type ReflexRule struct {
	Condition   string `json:"condition"`
	AddTestCode string `json:"add_test_code"`
}

// Test is a catalog entry for an orderable lab test.
type Test struct {
	Code            string           `db:"code" json:"code"`
	Name            string           `db:"name" json:"name"`
	Price           float64          `db:"price" json:"price"`
	TubeType        string           `db:"tube_type" json:"tube_type"`
	ReferenceRanges []ReferenceRange `db:"reference_ranges" json:"reference_ranges"`
	ReflexRules     []ReflexRule     `db:"reflex_rules" json:"reflex_rules,omitempty"`
	Active          bool             `db:"active" json:"active"`
	UpdatedAt       time.Time        `db:"updated_at" json:"updated_at"`
}

// FirstRange returns the first listed reference range text, or "" when the
// test has none.
func (t *Test) FirstRange() string {
	if len(t.ReferenceRanges) == 0 {
		return ""
	}
	return t.ReferenceRanges[0].Range
}
