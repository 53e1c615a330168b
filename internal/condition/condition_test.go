package condition

import (
	"testing"

	"govcore/pkg/domain"
)

func testContext(groups ...string) *Context {
	obj := map[string]any{
		"status":                 "draft",
		"contingency_pd":         true,
		"unicef_focal_point_ids": []any{"u-1", "u-2"},
		"budget_owner_id":        "u-9",
		"planned_budget": map[string]any{
			"unicef_cash_local": float64(100),
		},
		"attachment_ids": []any{},
	}
	return NewContext(domain.User{ID: "u-1", Groups: groups}, domain.ObjectIntervention, obj, nil, false)
}

func TestParseRejectsUnknownAtoms(t *testing.T) {
	for _, expr := range []string{"frobnicate", "group=", "status=", "user=intervention", "intervention.", "&"} {
		if _, err := Parse(expr); err == nil {
			t.Fatalf("expected parse error for %q", expr)
		}
	}
}

func TestEvalAtomForms(t *testing.T) {
	cases := []struct {
		expr string
		want bool
	}{
		{"group=UNICEF User", true},
		{"group=Partner", false},
		{"!group=Partner", true},
		{"status=draft", true},
		{"status=signed", false},
		{"!status=signed", true},
		{"new", false},
		{"!new", true},
		{"user=intervention.unicef_focal_point_ids", true},
		{"user=intervention.budget_owner_id", false},
		{"user!=intervention.budget_owner_id", true},
		{"intervention.contingency_pd", true},
		{"intervention.attachment_ids", false},
		{"intervention.planned_budget.unicef_cash_local", true},
		{"!intervention.contingency_pd", false},
		{"group=UNICEF User & status=draft", true},
		{"group=UNICEF User & status=signed", false},
		// Atoms addressing a different governed type are defined but false.
		{"agreement.contingency_pd", false},
	}
	for _, tc := range cases {
		pred, err := Parse(tc.expr)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.expr, err)
		}
		got, err := pred.Eval(testContext("UNICEF User"))
		if err != nil {
			t.Fatalf("eval %q: %v", tc.expr, err)
		}
		if got != tc.want {
			t.Fatalf("eval %q = %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestNegationLaw(t *testing.T) {
	exprs := []string{
		"group=UNICEF User",
		"status=draft",
		"new",
		"user=intervention.unicef_focal_point_ids",
		"intervention.contingency_pd",
		"intervention.attachment_ids",
	}
	for _, expr := range exprs {
		pos, err := Parse(expr)
		if err != nil {
			t.Fatalf("parse %q: %v", expr, err)
		}
		neg, err := Parse("!" + expr)
		if err != nil {
			t.Fatalf("parse !%q: %v", expr, err)
		}
		ctx := testContext("UNICEF User")
		p, err := pos.Eval(ctx)
		if err != nil {
			t.Fatalf("eval %q: %v", expr, err)
		}
		n, err := neg.Eval(ctx)
		if err != nil {
			t.Fatalf("eval !%q: %v", expr, err)
		}
		if p == n {
			t.Fatalf("negation law violated for %q: both %v", expr, p)
		}
	}
}

func TestNewObjectFlag(t *testing.T) {
	ctx := NewContext(domain.User{ID: "u-1"}, domain.ObjectIntervention, nil, nil, true)
	pred, err := Parse("new")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ok, err := pred.Eval(ctx)
	if err != nil || !ok {
		t.Fatalf("expected new flag to hold, got %v err=%v", ok, err)
	}
}

func TestMemoizationPinsAtomResults(t *testing.T) {
	ctx := testContext("UNICEF User")
	pred, err := Parse("group=UNICEF User")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	first, err := pred.Eval(ctx)
	if err != nil || !first {
		t.Fatalf("expected first eval true, got %v err=%v", first, err)
	}
	// Mutating the context after the first evaluation must not change the
	// memoized atom result within the same request.
	ctx.User.Groups = nil
	second, err := pred.Eval(ctx)
	if err != nil {
		t.Fatalf("second eval: %v", err)
	}
	if second != first {
		t.Fatalf("memoized result changed: %v -> %v", first, second)
	}
}

func TestContradicts(t *testing.T) {
	mustAtom := func(expr string) Atom {
		pred, err := Parse(expr)
		if err != nil {
			t.Fatalf("parse %q: %v", expr, err)
		}
		return pred.Atoms[0]
	}
	cases := []struct {
		a, b string
		want bool
	}{
		{"status=draft", "status=signed", true},
		{"status=draft", "!status=draft", true},
		{"status=draft", "status=draft", false},
		{"group=A", "group=B", false},
		{"group=A", "!group=A", true},
		{"new", "!new", true},
		{"intervention.contingency_pd", "!intervention.contingency_pd", true},
		{"group=A", "status=draft", false},
	}
	for _, tc := range cases {
		if got := Contradicts(mustAtom(tc.a), mustAtom(tc.b)); got != tc.want {
			t.Fatalf("Contradicts(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}
