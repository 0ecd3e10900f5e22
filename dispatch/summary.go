package dispatch

import (
	"github.com/randalmurphal/medflow/node"
	"github.com/randalmurphal/medflow/state"
)

// Summary is the post-fan-out aggregation: which nodes ran, which failed,
// and how much of each report section was produced. A run with failed nodes
// still yields a best-effort summary so callers can judge usability.
type Summary struct {
	ProcessedNodes []string         `json:"processedNodes"`
	FailedNodes    []string         `json:"failedNodes,omitempty"`
	ExcludedNodes  []node.Exclusion `json:"excludedNodes,omitempty"`
	SectionCounts  map[string]int   `json:"sectionCounts"`
	ErrorCount     int              `json:"errorCount"`
	Marker         string           `json:"marker,omitempty"`
}

// Complete reports whether every planned node processed successfully.
func (s Summary) Complete() bool {
	return len(s.FailedNodes) == 0 && len(s.ExcludedNodes) == 0
}

// Coverage returns the fraction of planned nodes that succeeded.
func (s Summary) Coverage() float64 {
	total := len(s.ProcessedNodes) + len(s.FailedNodes)
	if total == 0 {
		return 1
	}
	return float64(len(s.ProcessedNodes)) / float64(total)
}

// Summarize builds the run summary from the merged state and the dispatch
// result. Section counts cover accumulate channels (entry counts) and
// merge-object channels (key counts).
func Summarize(st *state.State, result *Result) Summary {
	summary := Summary{
		ProcessedNodes: result.Processed(),
		FailedNodes:    result.Failed(),
		ExcludedNodes:  result.Excluded,
		SectionCounts:  make(map[string]int),
		ErrorCount:     st.Len(state.ChannelErrors),
	}

	for _, name := range st.Schema().Channels() {
		policy, _ := st.Schema().Policy(name)
		switch policy {
		case state.PolicyAccumulate:
			if name == state.ChannelErrors || name == state.ChannelRefinements {
				continue
			}
			if n := st.Len(name); n > 0 {
				summary.SectionCounts[name] = n
			}
		case state.PolicyMergeObject:
			if obj := st.Object(name); len(obj) > 0 {
				summary.SectionCounts[name] = len(obj)
			}
		}
	}

	if len(summary.ProcessedNodes) == 0 && len(summary.FailedNodes) == 0 {
		summary.Marker = NoSpecializedProcessing
	}
	return summary
}
