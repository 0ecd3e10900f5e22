// Package task maps analysis task kinds to model tiers, so each pipeline
// stage runs on an appropriately sized model.
package task

import (
	"github.com/randalmurphal/llmkit/model"
)

// Kind represents the type of analysis work a stage performs. It determines
// which model tier is appropriate.
type Kind string

const (
	// Classification and reconciliation - need reasoning
	Detect        Kind = "detect"
	CrossValidate Kind = "cross_validate"

	// Section extraction - default tier
	ExtractSignals    Kind = "extract_signals"
	ExtractDiagnoses  Kind = "extract_diagnoses"
	AnalyzeImaging    Kind = "analyze_imaging"
	ExtractMedication Kind = "extract_medication"
	ComposeReport     Kind = "compose_report"

	// Cheap transformations - can use smaller models
	GenerateTerms Kind = "generate_terms"
	Translate     Kind = "translate"
)

// DefaultModelMap maps task kinds to default models.
var DefaultModelMap = map[Kind]model.ModelName{
	Detect:            model.ModelOpus,
	CrossValidate:     model.ModelOpus,
	ExtractSignals:    model.ModelSonnet,
	ExtractDiagnoses:  model.ModelSonnet,
	AnalyzeImaging:    model.ModelSonnet,
	ExtractMedication: model.ModelSonnet,
	ComposeReport:     model.ModelSonnet,
	GenerateTerms:     model.ModelHaiku,
	Translate:         model.ModelHaiku,
}

// TierForKind returns the appropriate tier for a task kind.
func TierForKind(k Kind) model.Tier {
	switch k {
	case Detect, CrossValidate:
		return model.TierThinking
	case GenerateTerms, Translate:
		return model.TierFast
	default:
		return model.TierDefault
	}
}

// NewSelector creates a model selector configured for analysis tasks.
func NewSelector(opts ...model.SelectorOption) *model.Selector {
	allOpts := append([]model.SelectorOption{
		model.WithTierFunc(func(task any) model.Tier {
			if k, ok := task.(Kind); ok {
				return TierForKind(k)
			}
			return model.TierDefault
		}),
	}, opts...)

	return model.NewSelector(allOpts...)
}

// SelectModel selects the appropriate model for a task kind.
func SelectModel(k Kind) model.ModelName {
	if m, ok := DefaultModelMap[k]; ok {
		return m
	}
	switch TierForKind(k) {
	case model.TierThinking:
		return model.ModelOpus
	case model.TierFast:
		return model.ModelHaiku
	default:
		return model.ModelSonnet
	}
}
