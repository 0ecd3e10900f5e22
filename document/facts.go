package document

// Extracted medical facts. These are the value types carried on accumulate
// channels; they must stay plain value types so state snapshots can share
// them safely.

// Signal is a measured vital or lab value (blood pressure, HbA1c, ...).
type Signal struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Unit     string  `json:"unit,omitempty"`
	Numeric  float64 `json:"numeric,omitempty"`
	RefRange string  `json:"refRange,omitempty"`
	Date     string  `json:"date,omitempty"`
}

// Diagnosis is a condition named in the document.
type Diagnosis struct {
	Name      string   `json:"name"`
	Code      string   `json:"code,omitempty"` // ICD-10 when recognizable
	Status    string   `json:"status,omitempty"`
	BodyParts []string `json:"bodyParts,omitempty"`
}

// Prescription is a medication with dosage information.
type Prescription struct {
	Medication string `json:"medication"`
	Dosage     string `json:"dosage,omitempty"`
	Frequency  string `json:"frequency,omitempty"`
}

// Immunization is a recorded vaccination.
type Immunization struct {
	Vaccine string `json:"vaccine"`
	Date    string `json:"date,omitempty"`
}

// Allergy is a recorded intolerance or allergy.
type Allergy struct {
	Substance string `json:"substance"`
	Reaction  string `json:"reaction,omitempty"`
	Severity  string `json:"severity,omitempty"`
}
