package statemachine

import (
	"strings"
	"testing"

	"govcore/internal/validation"
	"govcore/pkg/domain"
)

func engagementBlueprint() Blueprint {
	return Blueprint{
		Type:    domain.ObjectEngagement,
		Initial: "partner_contacted",
		States: []State{
			{Name: "partner_contacted"},
			{Name: "field_visit"},
			{Name: "report_submitted"},
			{Name: "final", Terminal: true},
			{Name: "cancelled", Terminal: true},
		},
		Transitions: []Transition{
			{Name: "start_visit", From: []string{"partner_contacted"}, To: "field_visit"},
			{Name: "submit", From: []string{"field_visit"}, To: "report_submitted"},
			{Name: "finalize", From: []string{"report_submitted"}, To: "final"},
			{Name: "cancel", From: []string{"partner_contacted", "field_visit"}, To: "cancelled"},
		},
		AmendmentKinds:          []domain.AmendmentKind{domain.AmendmentAdmin},
		AmendmentSignTransition: "finalize",
	}
}

func TestRegisterAndLookup(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(engagementBlueprint()); err != nil {
		t.Fatalf("register: %v", err)
	}

	if initial, ok := reg.Initial(domain.ObjectEngagement); !ok || initial != "partner_contacted" {
		t.Fatalf("unexpected initial state %q %v", initial, ok)
	}
	if !reg.ValidState(domain.ObjectEngagement, "field_visit") {
		t.Fatalf("declared state not recognized")
	}
	if reg.ValidState(domain.ObjectEngagement, "archived") {
		t.Fatalf("undeclared state accepted")
	}
	if !reg.IsTerminal(domain.ObjectEngagement, "final") {
		t.Fatalf("terminal state not recognized")
	}
	if reg.IsTerminal(domain.ObjectEngagement, "field_visit") {
		t.Fatalf("non-terminal state reported terminal")
	}

	from := reg.TransitionsFrom(domain.ObjectEngagement, "partner_contacted")
	if len(from) != 2 || from[0].Name != "start_visit" || from[1].Name != "cancel" {
		t.Fatalf("unexpected transitions from initial state: %+v", from)
	}
	if got := reg.TransitionsFrom(domain.ObjectEngagement, "final"); len(got) != 0 {
		t.Fatalf("terminal state should have no outgoing transitions: %+v", got)
	}

	if !reg.Edge(domain.ObjectEngagement, "field_visit", "report_submitted") {
		t.Fatalf("declared edge not found")
	}
	if reg.Edge(domain.ObjectEngagement, "partner_contacted", "final") {
		t.Fatalf("silent jump accepted as edge")
	}

	if !reg.SupportsAmendment(domain.ObjectEngagement, domain.AmendmentAdmin) {
		t.Fatalf("declared amendment kind not recognized")
	}
	if reg.SupportsAmendment(domain.ObjectEngagement, domain.AmendmentBudget) {
		t.Fatalf("undeclared amendment kind accepted")
	}
}

func TestRegisterRejectsMalformedBlueprints(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(bp *Blueprint)
		wantErr string
	}{
		{
			name:    "missing initial",
			mutate:  func(bp *Blueprint) { bp.Initial = "nowhere" },
			wantErr: "initial state",
		},
		{
			name: "duplicate state",
			mutate: func(bp *Blueprint) {
				bp.States = append(bp.States, State{Name: "field_visit"})
			},
			wantErr: "twice",
		},
		{
			name: "undeclared target",
			mutate: func(bp *Blueprint) {
				bp.Transitions = append(bp.Transitions, Transition{Name: "x", From: []string{"final"}, To: "archived"})
			},
			wantErr: "undeclared state",
		},
		{
			name: "undeclared source",
			mutate: func(bp *Blueprint) {
				bp.Transitions = append(bp.Transitions, Transition{Name: "x", From: []string{"archived"}, To: "final"})
			},
			wantErr: "undeclared state",
		},
		{
			name: "transition without sources",
			mutate: func(bp *Blueprint) {
				bp.Transitions = append(bp.Transitions, Transition{Name: "x", To: "final"})
			},
			wantErr: "no source states",
		},
		{
			name: "validator for undeclared state",
			mutate: func(bp *Blueprint) {
				bp.Validators = map[string]validation.Validator{"archived": nil}
			},
			wantErr: "undeclared state",
		},
		{
			name:    "amendments without sign transition",
			mutate:  func(bp *Blueprint) { bp.AmendmentSignTransition = "" },
			wantErr: "without a sign transition",
		},
		{
			name:    "undeclared sign transition",
			mutate:  func(bp *Blueprint) { bp.AmendmentSignTransition = "countersign" },
			wantErr: "not declared",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bp := engagementBlueprint()
			tc.mutate(&bp)
			err := NewRegistry().Register(bp)
			if err == nil {
				t.Fatalf("expected registration failure")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestRegisterRejectsDuplicateType(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(engagementBlueprint()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(engagementBlueprint()); err == nil {
		t.Fatalf("expected duplicate type rejection")
	}
}
