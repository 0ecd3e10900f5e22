package document

// Feature flag vocabulary. The set is open: trigger predicates and
// refinement votes operate over flag names, and adding a flag only
// requires a new node definition, never an engine change.
const (
	FlagIsMedical        = "isMedical"
	FlagHasSignals       = "hasSignals"
	FlagHasImaging       = "hasImaging"
	FlagHasDiagnoses     = "hasDiagnoses"
	FlagHasPrescriptions = "hasPrescriptions"
	FlagHasImmunizations = "hasImmunizations"
	FlagHasAllergies     = "hasAllergies"
	FlagHasProcedures    = "hasProcedures"
)

// Flags is a set of boolean feature flags reported by detection or refined
// by processing nodes.
type Flags map[string]bool

// Set returns the names of all true flags, for logging and summaries.
func (f Flags) Set() []string {
	var on []string
	for name, v := range f {
		if v {
			on = append(on, name)
		}
	}
	return on
}

// Clone returns an independent copy.
func (f Flags) Clone() Flags {
	out := make(Flags, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// DetectionResult is the output of the feature-detection stage.
type DetectionResult struct {
	Flags        Flags   `json:"flags"`
	Confidence   float64 `json:"confidence"`
	DocumentType string  `json:"documentType,omitempty"`
	Language     string  `json:"language,omitempty"`
	TokensIn     int     `json:"tokensIn,omitempty"`
	TokensOut    int     `json:"tokensOut,omitempty"`
}

// IsMedical reports whether detection classified the input as a medical
// document.
func (r DetectionResult) IsMedical() bool {
	return r.Flags[FlagIsMedical]
}
