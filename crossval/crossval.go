package crossval

import (
	"fmt"
	"sort"

	"github.com/randalmurphal/medflow/document"
	"github.com/randalmurphal/medflow/state"
)

// DetectionNodeName identifies the feature-detection stage in vote lists.
const DetectionNodeName = "feature-detection"

// detectionConfidence is the weight the original detection vote carries in
// every tally.
const detectionConfidence = 0.8

// promotionThreshold gates newly discovered features into the final flag set.
const promotionThreshold = 0.8

// Vote is one node's opinion on a boolean feature flag.
type Vote struct {
	Node       string  `json:"node"`
	Flag       string  `json:"flag"`
	Value      bool    `json:"value"`
	Confidence float64 `json:"confidence"`
}

// ConflictResolution records how a disagreement between nodes was settled.
type ConflictResolution struct {
	Flag       string  `json:"flag"`
	Votes      []Vote  `json:"votes"`
	Resolution bool    `json:"resolution"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Refinements is the aggregator's output: one authoritative value and
// confidence per flag, plus everything needed to audit how disagreements
// were resolved. Built once per run, never mutated afterwards.
type Refinements struct {
	FinalFlags         document.Flags       `json:"finalFlags"`
	ConfidenceScores   map[string]float64   `json:"confidenceScores"`
	Contributors       map[string][]string  `json:"contributors"`
	ResolvedConflicts  []ConflictResolution `json:"resolvedConflicts,omitempty"`
	DiscoveredFeatures []string             `json:"discoveredFeatures,omitempty"`
	Insights           Insights             `json:"crossValidationInsights"`
}

// Aggregator reconciles per-flag disagreements among processing-node outputs
// using confidence-weighted voting, then adjusts confidences with
// schema-dependency consistency checks.
type Aggregator struct {
	checks []Check
}

// New creates an aggregator with the given consistency checks.
func New(checks ...Check) *Aggregator {
	return &Aggregator{checks: checks}
}

// Aggregate reconciles votes against the original detection output. The
// detection result always contributes a vote with confidence 0.8 for every
// flag it reported.
func (a *Aggregator) Aggregate(detection document.DetectionResult, votes []Vote, st *state.State) Refinements {
	ref := Refinements{
		FinalFlags:       make(document.Flags),
		ConfidenceScores: make(map[string]float64),
		Contributors:     make(map[string][]string),
	}

	byFlag := make(map[string][]Vote)
	for _, v := range votes {
		byFlag[v.Flag] = append(byFlag[v.Flag], v)
	}
	for flag, value := range detection.Flags {
		byFlag[flag] = append(byFlag[flag], Vote{
			Node:       DetectionNodeName,
			Flag:       flag,
			Value:      value,
			Confidence: detectionConfidence,
		})
	}

	flags := make([]string, 0, len(byFlag))
	for flag := range byFlag {
		flags = append(flags, flag)
	}
	sort.Strings(flags)

	for _, flag := range flags {
		flagVotes := byFlag[flag]
		value, confidence, conflict := tally(flag, flagVotes)

		_, known := detection.Flags[flag]
		if !known {
			ref.DiscoveredFeatures = append(ref.DiscoveredFeatures, flag)
			if !(value && confidence > promotionThreshold) {
				// Not confident enough to promote into the tag set.
				continue
			}
		}

		ref.FinalFlags[flag] = value
		ref.ConfidenceScores[flag] = confidence
		for _, v := range flagVotes {
			ref.Contributors[flag] = append(ref.Contributors[flag], v.Node)
		}
		if conflict != nil {
			ref.ResolvedConflicts = append(ref.ResolvedConflicts, *conflict)
		}
	}

	ref.Insights = a.validate(st)
	applyConsistency(&ref)

	return ref
}

// tally resolves one flag's votes. Single vote passes through; unanimity
// averages and boosts; disagreement goes to a confidence-weighted vote.
func tally(flag string, votes []Vote) (bool, float64, *ConflictResolution) {
	if len(votes) == 1 {
		return votes[0].Value, votes[0].Confidence, nil
	}

	var trueWeight, falseWeight float64
	for _, v := range votes {
		if v.Value {
			trueWeight += v.Confidence
		} else {
			falseWeight += v.Confidence
		}
	}

	if trueWeight == 0 || falseWeight == 0 {
		// Unanimous: average confidence with a 1.1x agreement boost.
		// Agreement never lowers confidence below the strongest vote.
		var sum, highest float64
		for _, v := range votes {
			sum += v.Confidence
			if v.Confidence > highest {
				highest = v.Confidence
			}
		}
		confidence := sum / float64(len(votes)) * 1.1
		if confidence < highest {
			confidence = highest
		}
		if confidence > 1.0 {
			confidence = 1.0
		}
		return votes[0].Value, confidence, nil
	}

	value := trueWeight > falseWeight
	winning := trueWeight
	if !value {
		winning = falseWeight
	}
	confidence := winning / (trueWeight + falseWeight)

	return value, confidence, &ConflictResolution{
		Flag:       flag,
		Votes:      votes,
		Resolution: value,
		Confidence: confidence,
		Reason: fmt.Sprintf("weighted vote: true=%.2f false=%.2f, resolved %s=%t",
			trueWeight, falseWeight, flag, value),
	}
}

// applyConsistency adjusts confidence scores using the cross-validation
// insights: a strong overall consistency boosts every score proportionally,
// and any flag implicated in a critical issue is penalized.
func applyConsistency(ref *Refinements) {
	consistency := ref.Insights.OverallConsistency

	// No check results means no evidence either way; never boost on that.
	if len(ref.Insights.Results) > 0 && consistency > 0.8 {
		boost := 1 + (consistency - 0.8)
		for flag, score := range ref.ConfidenceScores {
			boosted := score * boost
			if boosted > 1.0 {
				boosted = 1.0
			}
			ref.ConfidenceScores[flag] = boosted
		}
	}

	for _, result := range ref.Insights.Results {
		for _, issue := range result.Issues {
			if issue.Severity != SeverityCritical {
				continue
			}
			for _, flag := range issue.Flags {
				if score, ok := ref.ConfidenceScores[flag]; ok {
					ref.ConfidenceScores[flag] = score * 0.7
				}
			}
		}
	}
}
