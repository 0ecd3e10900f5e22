package node

import (
	"context"
	"errors"
	"testing"

	"github.com/randalmurphal/medflow/document"
	"github.com/randalmurphal/medflow/state"
)

func noop(_ context.Context, _ *state.State) (state.Update, error) {
	return state.Update{}, nil
}

func def(name string, priority int, triggers []string, deps ...string) Definition {
	return Definition{
		Name:         name,
		Triggers:     triggers,
		Priority:     priority,
		Dependencies: deps,
		Func:         noop,
	}
}

func TestNewRegistry_RejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(
		def("a", 10, []string{"x"}),
		def("a", 20, []string{"y"}),
	)
	if !errors.Is(err, ErrDuplicateNode) {
		t.Errorf("error = %v, want ErrDuplicateNode", err)
	}
}

func TestNewRegistry_RejectsNilFunc(t *testing.T) {
	_, err := NewRegistry(Definition{Name: "a", Triggers: []string{"x"}})
	if !errors.Is(err, ErrNoFunc) {
		t.Errorf("error = %v, want ErrNoFunc", err)
	}
}

func TestSelect_AnyTriggerMatches(t *testing.T) {
	reg, err := NewRegistry(
		def("signals", 10, []string{document.FlagHasSignals}),
		def("multi", 10, []string{document.FlagHasImaging, document.FlagHasSignals}),
		def("imaging", 10, []string{document.FlagHasImaging}),
	)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	selected := reg.Select(document.Flags{document.FlagHasSignals: true, document.FlagHasImaging: false})

	names := map[string]bool{}
	for _, d := range selected {
		names[d.Name] = true
	}
	if !names["signals"] || !names["multi"] {
		t.Errorf("selected = %v, want signals and multi", names)
	}
	if names["imaging"] {
		t.Error("imaging selected despite false flag")
	}
}

func TestSelect_FalseFlagsSelectNothing(t *testing.T) {
	reg, _ := NewRegistry(def("signals", 10, []string{document.FlagHasSignals}))

	if got := reg.Select(document.Flags{document.FlagHasSignals: false}); len(got) != 0 {
		t.Errorf("Select() = %v, want empty", got)
	}
}

func TestBuildPlan_GroupsByPriorityAscending(t *testing.T) {
	plan := BuildPlan([]Definition{
		def("late", 20, nil),
		def("b-early", 10, nil),
		def("a-early", 10, nil),
	})

	if len(plan.Groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(plan.Groups))
	}
	if len(plan.Groups[0]) != 2 || len(plan.Groups[1]) != 1 {
		t.Fatalf("group sizes = %d/%d, want 2/1", len(plan.Groups[0]), len(plan.Groups[1]))
	}
	// Within a group, order is deterministic by name.
	if plan.Groups[0][0].Name != "a-early" || plan.Groups[0][1].Name != "b-early" {
		t.Errorf("group 0 = %v", plan.NodeNames())
	}
	if plan.Groups[1][0].Name != "late" {
		t.Errorf("group 1 = %q, want %q", plan.Groups[1][0].Name, "late")
	}
	if plan.TotalNodes() != 3 {
		t.Errorf("TotalNodes() = %d, want 3", plan.TotalNodes())
	}
}

func TestBuildPlan_ExcludesUnselectedDependency(t *testing.T) {
	plan := BuildPlan([]Definition{
		def("coder", 20, nil, "extractor"),
	})

	if len(plan.Groups) != 0 {
		t.Errorf("groups = %v, want none", plan.NodeNames())
	}
	if len(plan.Excluded) != 1 || plan.Excluded[0].Node != "coder" {
		t.Fatalf("Excluded = %v, want coder", plan.Excluded)
	}
	if plan.Excluded[0].Reason == "" {
		t.Error("exclusion has no reason")
	}
}

func TestBuildPlan_ExcludesDependencyInSameOrLaterGroup(t *testing.T) {
	plan := BuildPlan([]Definition{
		def("extractor", 20, nil),
		def("coder", 20, nil, "extractor"), // same priority: dependency not yet merged
	})

	if plan.TotalNodes() != 1 {
		t.Errorf("TotalNodes() = %d, want 1", plan.TotalNodes())
	}
	if len(plan.Excluded) != 1 || plan.Excluded[0].Node != "coder" {
		t.Errorf("Excluded = %v, want coder", plan.Excluded)
	}
}

func TestBuildPlan_SatisfiedDependency(t *testing.T) {
	plan := BuildPlan([]Definition{
		def("extractor", 10, nil),
		def("coder", 20, nil, "extractor"),
	})

	if len(plan.Excluded) != 0 {
		t.Errorf("Excluded = %v, want none", plan.Excluded)
	}
	if len(plan.Groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(plan.Groups))
	}
	if plan.Groups[1][0].Name != "coder" {
		t.Errorf("second group = %q, want coder", plan.Groups[1][0].Name)
	}
}

func TestLookup(t *testing.T) {
	reg, _ := NewRegistry(def("a", 10, []string{"x"}))

	if _, ok := reg.Lookup("a"); !ok {
		t.Error("Lookup(a) not found")
	}
	if _, ok := reg.Lookup("missing"); ok {
		t.Error("Lookup(missing) found")
	}
}
