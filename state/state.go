package state

import (
	"errors"
	"fmt"
)

// State errors
var (
	ErrUnknownChannel   = errors.New("unknown channel")
	ErrDuplicateChannel = errors.New("channel declared twice")
	ErrPolicyMismatch   = errors.New("value does not match channel policy")
)

// =============================================================================
// Merge Policies
// =============================================================================

// Policy controls how concurrent writes to a channel are combined.
type Policy string

const (
	// PolicyReplace keeps the newest non-empty write.
	PolicyReplace Policy = "replace"

	// PolicyAccumulate concatenates values from all writers.
	// Final order is completion order, so consumers must treat the
	// channel as a multiset.
	PolicyAccumulate Policy = "accumulate"

	// PolicyMergeObject performs a shallow key union; the later writer
	// wins on key conflicts.
	PolicyMergeObject Policy = "merge-object"

	// PolicySum adds numeric values across writers.
	PolicySum Policy = "sum"
)

// Channel declares a named slot in workflow state with a fixed merge policy.
type Channel struct {
	Name   string `json:"name"`
	Policy Policy `json:"policy"`
}

// =============================================================================
// Schema
// =============================================================================

// Schema is the set of channels a workflow state carries. A channel's policy
// is fixed at declaration time and cannot change within a run.
type Schema struct {
	policies map[string]Policy
	order    []string
}

// NewSchema builds a schema from channel declarations.
func NewSchema(channels ...Channel) (*Schema, error) {
	s := &Schema{policies: make(map[string]Policy, len(channels))}
	for _, ch := range channels {
		if _, exists := s.policies[ch.Name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateChannel, ch.Name)
		}
		switch ch.Policy {
		case PolicyReplace, PolicyAccumulate, PolicyMergeObject, PolicySum:
		default:
			return nil, fmt.Errorf("channel %s: unknown policy %q", ch.Name, ch.Policy)
		}
		s.policies[ch.Name] = ch.Policy
		s.order = append(s.order, ch.Name)
	}
	return s, nil
}

// Policy returns the declared policy for a channel.
func (s *Schema) Policy(name string) (Policy, bool) {
	p, ok := s.policies[name]
	return p, ok
}

// Channels returns channel names in declaration order.
func (s *Schema) Channels() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Default channel names for document analysis runs.
const (
	ChannelDocument    = "document"
	ChannelLanguage    = "language"
	ChannelProvider    = "provider"
	ChannelSignals     = "signals"
	ChannelDiagnoses   = "diagnoses"
	ChannelRefinements = "refinements"
	ChannelErrors      = "errors"
	ChannelReport      = "report"
	ChannelImaging     = "imaging"
	ChannelTokensIn    = "tokensIn"
	ChannelTokensOut   = "tokensOut"
)

// DefaultSchema declares the channels used by the document analysis pipeline.
func DefaultSchema() *Schema {
	s, err := NewSchema(
		Channel{Name: ChannelDocument, Policy: PolicyReplace},
		Channel{Name: ChannelLanguage, Policy: PolicyReplace},
		Channel{Name: ChannelProvider, Policy: PolicyReplace},
		Channel{Name: ChannelSignals, Policy: PolicyAccumulate},
		Channel{Name: ChannelDiagnoses, Policy: PolicyAccumulate},
		Channel{Name: ChannelRefinements, Policy: PolicyAccumulate},
		Channel{Name: ChannelErrors, Policy: PolicyAccumulate},
		Channel{Name: ChannelReport, Policy: PolicyMergeObject},
		Channel{Name: ChannelImaging, Policy: PolicyMergeObject},
		Channel{Name: ChannelTokensIn, Policy: PolicySum},
		Channel{Name: ChannelTokensOut, Policy: PolicySum},
	)
	if err != nil {
		panic("state: default schema is invalid: " + err.Error())
	}
	return s
}

// =============================================================================
// State
// =============================================================================

// Update is a partial state produced by one node. Keys are channel names.
type Update map[string]any

// State maps channel names to values. It is never mutated by nodes directly;
// nodes return partial Updates and the dispatcher applies them through the
// channel reducers, so there is a single writer per group boundary.
type State struct {
	schema *Schema
	values map[string]any
}

// New creates an empty state over the given schema.
func New(schema *Schema) *State {
	return &State{
		schema: schema,
		values: make(map[string]any),
	}
}

// Schema returns the schema this state was declared with.
func (s *State) Schema() *Schema { return s.schema }

// Get returns the raw value of a channel.
func (s *State) Get(name string) (any, bool) {
	v, ok := s.values[name]
	return v, ok
}

// String returns a replace-channel value as a string.
func (s *State) String(name string) string {
	if v, ok := s.values[name].(string); ok {
		return v
	}
	return ""
}

// List returns an accumulate-channel value as a slice. The returned slice is
// shared; callers must not modify it.
func (s *State) List(name string) []any {
	if v, ok := s.values[name].([]any); ok {
		return v
	}
	return nil
}

// Object returns a merge-object channel value.
func (s *State) Object(name string) map[string]any {
	if v, ok := s.values[name].(map[string]any); ok {
		return v
	}
	return nil
}

// Sum returns a sum-channel value.
func (s *State) Sum(name string) int {
	if v, ok := s.values[name].(int); ok {
		return v
	}
	return 0
}

// Len returns the number of entries on an accumulate channel.
func (s *State) Len(name string) int {
	return len(s.List(name))
}

// Apply merges one partial update into the state using each channel's
// declared reducer. Reducers are associative: applying updates in a
// different completion order changes at most the ordering of accumulate
// entries, never the set of values.
func (s *State) Apply(update Update) error {
	for name, value := range update {
		policy, ok := s.schema.Policy(name)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownChannel, name)
		}
		merged, err := reduce(policy, s.values[name], value)
		if err != nil {
			return fmt.Errorf("channel %s: %w", name, err)
		}
		s.values[name] = merged
	}
	return nil
}

// Snapshot returns a deep copy for read-only use by concurrently running
// nodes. Nodes in a later group observe merges from earlier groups.
func (s *State) Snapshot() *State {
	values := make(map[string]any, len(s.values))
	for k, v := range s.values {
		values[k] = deepCopy(v)
	}
	return &State{schema: s.schema, values: values}
}

// Values returns a deep copy of all channel values, for recording.
func (s *State) Values() map[string]any {
	return s.Snapshot().values
}

// =============================================================================
// Reducers
// =============================================================================

func reduce(policy Policy, existing, incoming any) (any, error) {
	switch policy {
	case PolicyReplace:
		if isEmpty(incoming) {
			return existing, nil
		}
		return incoming, nil

	case PolicyAccumulate:
		current, _ := existing.([]any)
		switch v := incoming.(type) {
		case []any:
			return append(current, v...), nil
		case nil:
			return current, nil
		default:
			return append(current, v), nil
		}

	case PolicyMergeObject:
		current, _ := existing.(map[string]any)
		update, ok := incoming.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: merge-object needs map[string]any, got %T", ErrPolicyMismatch, incoming)
		}
		merged := make(map[string]any, len(current)+len(update))
		for k, v := range current {
			merged[k] = v
		}
		for k, v := range update {
			merged[k] = v
		}
		return merged, nil

	case PolicySum:
		current, _ := existing.(int)
		add, ok := toInt(incoming)
		if !ok {
			return nil, fmt.Errorf("%w: sum needs a numeric value, got %T", ErrPolicyMismatch, incoming)
		}
		return current + add, nil
	}
	return nil, fmt.Errorf("unknown policy %q", policy)
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	}
	return false
}

func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	}
	return 0, false
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = deepCopy(e)
		}
		return out
	default:
		// Scalars and immutable values are shared as-is. Structured
		// entries on accumulate channels are value types.
		return v
	}
}
