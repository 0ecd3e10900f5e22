package node

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/randalmurphal/medflow/document"
	"github.com/randalmurphal/medflow/state"
)

// Registry errors
var (
	ErrDuplicateNode = errors.New("node registered twice")
	ErrNoFunc        = errors.New("node has no processing function")
)

// =============================================================================
// Node Definition
// =============================================================================

// Func is a node's processing function. It receives a read-only snapshot of
// the merged state and returns a partial update; it must not mutate the
// snapshot. Blocking work (the provider call) must observe ctx.
type Func func(ctx context.Context, snapshot *state.State) (state.Update, error)

// Definition describes one specialized processing node. Definitions are
// immutable once registered.
type Definition struct {
	// Name identifies the node in plans, progress and step records.
	Name string

	// Description is a human-readable summary.
	Description string

	// Triggers is the set of feature flags that select this node. The node
	// runs if ANY listed flag is true in the detection output.
	Triggers []string

	// Priority orders execution: lower runs earlier. Nodes sharing a
	// priority form one concurrent group.
	Priority int

	// Dependencies names nodes that must have executed in an earlier
	// group. A dependency that is not part of the plan is a registry
	// configuration error and excludes this node from the plan.
	Dependencies []string

	// Func does the work.
	Func Func
}

// =============================================================================
// Registry
// =============================================================================

// Registry is an immutable catalogue of node definitions, built once at
// startup and passed explicitly to the dispatcher.
type Registry struct {
	defs   []Definition
	byName map[string]Definition
}

// NewRegistry builds a registry. Definitions with duplicate names or a nil
// function are rejected.
func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{byName: make(map[string]Definition, len(defs))}
	for _, def := range defs {
		if def.Func == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoFunc, def.Name)
		}
		if _, exists := r.byName[def.Name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, def.Name)
		}
		r.byName[def.Name] = def
		r.defs = append(r.defs, def)
	}
	return r, nil
}

// Lookup returns a definition by name.
func (r *Registry) Lookup(name string) (Definition, bool) {
	def, ok := r.byName[name]
	return def, ok
}

// Names returns all registered node names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.defs))
	for _, def := range r.defs {
		names = append(names, def.Name)
	}
	return names
}

// Select returns every node whose trigger predicate matches at least one
// true flag. Order is unspecified.
func (r *Registry) Select(flags document.Flags) []Definition {
	var selected []Definition
	for _, def := range r.defs {
		for _, trigger := range def.Triggers {
			if flags[trigger] {
				selected = append(selected, def)
				break
			}
		}
	}
	return selected
}

// =============================================================================
// Execution Plan
// =============================================================================

// Exclusion records a node dropped at plan build time, with the reason.
type Exclusion struct {
	Node   string `json:"node"`
	Reason string `json:"reason"`
}

// Plan is an ordered list of parallel groups. Groups execute strictly
// sequentially; nodes within a group execute concurrently.
type Plan struct {
	Groups   [][]Definition
	Excluded []Exclusion
}

// TotalNodes returns the number of nodes across all groups.
func (p Plan) TotalNodes() int {
	n := 0
	for _, g := range p.Groups {
		n += len(g)
	}
	return n
}

// NodeNames returns all planned node names in group order.
func (p Plan) NodeNames() []string {
	var names []string
	for _, g := range p.Groups {
		for _, def := range g {
			names = append(names, def.Name)
		}
	}
	return names
}

// BuildPlan groups selected nodes by priority ascending. A node whose
// dependency is missing from the selection, or would not have executed in an
// earlier group, is excluded rather than crashing the run.
func BuildPlan(selected []Definition) Plan {
	var plan Plan

	inSelection := make(map[string]Definition, len(selected))
	for _, def := range selected {
		inSelection[def.Name] = def
	}

	var planned []Definition
	for _, def := range selected {
		if reason := unmetDependency(def, inSelection); reason != "" {
			plan.Excluded = append(plan.Excluded, Exclusion{Node: def.Name, Reason: reason})
			continue
		}
		planned = append(planned, def)
	}

	byPriority := make(map[int][]Definition)
	for _, def := range planned {
		byPriority[def.Priority] = append(byPriority[def.Priority], def)
	}

	priorities := make([]int, 0, len(byPriority))
	for p := range byPriority {
		priorities = append(priorities, p)
	}
	sort.Ints(priorities)

	for _, p := range priorities {
		group := byPriority[p]
		sort.Slice(group, func(i, j int) bool { return group[i].Name < group[j].Name })
		plan.Groups = append(plan.Groups, group)
	}
	return plan
}

func unmetDependency(def Definition, selection map[string]Definition) string {
	for _, dep := range def.Dependencies {
		other, ok := selection[dep]
		if !ok {
			return fmt.Sprintf("dependency %q not selected", dep)
		}
		if other.Priority >= def.Priority {
			return fmt.Sprintf("dependency %q does not execute before this node", dep)
		}
	}
	return ""
}
