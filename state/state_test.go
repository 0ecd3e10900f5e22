package state

import (
	"errors"
	"testing"
)

func testSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := NewSchema(
		Channel{Name: "lang", Policy: PolicyReplace},
		Channel{Name: "items", Policy: PolicyAccumulate},
		Channel{Name: "report", Policy: PolicyMergeObject},
		Channel{Name: "tokens", Policy: PolicySum},
	)
	if err != nil {
		t.Fatalf("NewSchema() error = %v", err)
	}
	return s
}

func TestNewSchema_DuplicateChannel(t *testing.T) {
	_, err := NewSchema(
		Channel{Name: "lang", Policy: PolicyReplace},
		Channel{Name: "lang", Policy: PolicySum},
	)
	if !errors.Is(err, ErrDuplicateChannel) {
		t.Errorf("error = %v, want ErrDuplicateChannel", err)
	}
}

func TestNewSchema_UnknownPolicy(t *testing.T) {
	_, err := NewSchema(Channel{Name: "lang", Policy: Policy("bogus")})
	if err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestApply_UnknownChannel(t *testing.T) {
	st := New(testSchema(t))

	err := st.Apply(Update{"nope": "x"})
	if !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("error = %v, want ErrUnknownChannel", err)
	}
}

func TestReplace_KeepsNewestNonEmpty(t *testing.T) {
	st := New(testSchema(t))

	mustApply(t, st, Update{"lang": "en"})
	mustApply(t, st, Update{"lang": "de"})

	if got := st.String("lang"); got != "de" {
		t.Errorf("lang = %q, want %q", got, "de")
	}

	// Empty writes never clobber an existing value.
	mustApply(t, st, Update{"lang": ""})
	if got := st.String("lang"); got != "de" {
		t.Errorf("lang after empty write = %q, want %q", got, "de")
	}
}

func TestAccumulate_AppendsScalarsAndSlices(t *testing.T) {
	st := New(testSchema(t))

	mustApply(t, st, Update{"items": "a"})
	mustApply(t, st, Update{"items": []any{"b", "c"}})
	mustApply(t, st, Update{"items": nil})

	// Order within a group is completion order, so assert set membership.
	got := make(map[any]bool)
	for _, v := range st.List("items") {
		got[v] = true
	}
	for _, want := range []string{"a", "b", "c"} {
		if !got[want] {
			t.Errorf("items missing %q, got %v", want, st.List("items"))
		}
	}
	if st.Len("items") != 3 {
		t.Errorf("Len(items) = %d, want 3", st.Len("items"))
	}
}

func TestMergeObject_LaterWriterWinsPerKey(t *testing.T) {
	st := New(testSchema(t))

	mustApply(t, st, Update{"report": map[string]any{"title": "first", "summary": "s"}})
	mustApply(t, st, Update{"report": map[string]any{"title": "second"}})

	report := st.Object("report")
	if report["title"] != "second" {
		t.Errorf("title = %v, want %q", report["title"], "second")
	}
	if report["summary"] != "s" {
		t.Errorf("summary = %v, want %q", report["summary"], "s")
	}
}

func TestMergeObject_RejectsNonMap(t *testing.T) {
	st := New(testSchema(t))

	err := st.Apply(Update{"report": "not a map"})
	if !errors.Is(err, ErrPolicyMismatch) {
		t.Errorf("error = %v, want ErrPolicyMismatch", err)
	}
}

func TestSum_AddsAcrossWritesAndNumericTypes(t *testing.T) {
	st := New(testSchema(t))

	mustApply(t, st, Update{"tokens": 100})
	mustApply(t, st, Update{"tokens": int64(50)})
	mustApply(t, st, Update{"tokens": float64(25)}) // JSON round-trips land as float64

	if got := st.Sum("tokens"); got != 175 {
		t.Errorf("tokens = %d, want 175", got)
	}
}

func TestSum_RejectsNonNumeric(t *testing.T) {
	st := New(testSchema(t))

	err := st.Apply(Update{"tokens": "many"})
	if !errors.Is(err, ErrPolicyMismatch) {
		t.Errorf("error = %v, want ErrPolicyMismatch", err)
	}
}

func TestApply_OrderChangesOnlyAccumulateOrdering(t *testing.T) {
	updates := []Update{
		{"items": "a", "tokens": 10, "report": map[string]any{"x": 1}},
		{"items": "b", "tokens": 20, "report": map[string]any{"y": 2}},
	}

	forward := New(testSchema(t))
	mustApply(t, forward, updates[0])
	mustApply(t, forward, updates[1])

	reverse := New(testSchema(t))
	mustApply(t, reverse, updates[1])
	mustApply(t, reverse, updates[0])

	if forward.Sum("tokens") != reverse.Sum("tokens") {
		t.Errorf("sum differs by order: %d vs %d", forward.Sum("tokens"), reverse.Sum("tokens"))
	}
	if len(forward.Object("report")) != len(reverse.Object("report")) {
		t.Error("merge-object key set differs by order")
	}

	fset := make(map[any]bool)
	for _, v := range forward.List("items") {
		fset[v] = true
	}
	for _, v := range reverse.List("items") {
		if !fset[v] {
			t.Errorf("accumulate sets differ by order: %v vs %v", forward.List("items"), reverse.List("items"))
		}
	}
}

func TestSnapshot_IsolatedFromLaterWrites(t *testing.T) {
	st := New(testSchema(t))
	mustApply(t, st, Update{"items": "a", "report": map[string]any{"k": "v"}})

	snap := st.Snapshot()
	mustApply(t, st, Update{"items": "b", "report": map[string]any{"k": "changed"}})

	if snap.Len("items") != 1 {
		t.Errorf("snapshot Len(items) = %d, want 1", snap.Len("items"))
	}
	if snap.Object("report")["k"] != "v" {
		t.Errorf("snapshot report.k = %v, want %q", snap.Object("report")["k"], "v")
	}
}

func TestDefaultSchema_DeclaresExpectedPolicies(t *testing.T) {
	s := DefaultSchema()

	cases := map[string]Policy{
		ChannelDocument:    PolicyReplace,
		ChannelLanguage:    PolicyReplace,
		ChannelSignals:     PolicyAccumulate,
		ChannelErrors:      PolicyAccumulate,
		ChannelReport:      PolicyMergeObject,
		ChannelTokensIn:    PolicySum,
		ChannelRefinements: PolicyAccumulate,
	}
	for name, want := range cases {
		got, ok := s.Policy(name)
		if !ok {
			t.Errorf("channel %q not declared", name)
			continue
		}
		if got != want {
			t.Errorf("policy(%s) = %q, want %q", name, got, want)
		}
	}
}

func mustApply(t *testing.T, st *State, u Update) {
	t.Helper()
	if err := st.Apply(u); err != nil {
		t.Fatalf("Apply(%v) error = %v", u, err)
	}
}
