package core

import (
	"context"
	"testing"

	"govcore/internal/statemachine"
	"govcore/pkg/domain"
)

func makeStatusPayload(t *testing.T, status string) domain.ChangePayload {
	t.Helper()
	payload, err := domain.NewChangePayloadFromValue(map[string]string{"status": status})
	if err != nil {
		t.Fatalf("build payload: %v", err)
	}
	return payload
}

func TestLifecycleRule(t *testing.T) {
	registry := statemachine.NewRegistry()
	if err := RegisterBlueprints(registry); err != nil {
		t.Fatalf("register blueprints: %v", err)
	}
	rule := NewLifecycleRule(registry)

	cases := []struct {
		name    string
		change  domain.Change
		blocked bool
	}{
		{
			name: "declared edge",
			change: domain.Change{
				Object: domain.ObjectEngagement,
				Action: domain.ActionUpdate,
				Before: makeStatusPayload(t, domain.EngagementPartnerContacted),
				After:  makeStatusPayload(t, domain.EngagementFieldVisit),
			},
		},
		{
			name: "unchanged status",
			change: domain.Change{
				Object: domain.ObjectEngagement,
				Action: domain.ActionUpdate,
				Before: makeStatusPayload(t, domain.EngagementFieldVisit),
				After:  makeStatusPayload(t, domain.EngagementFieldVisit),
			},
		},
		{
			name: "jump across the graph",
			change: domain.Change{
				Object: domain.ObjectEngagement,
				Action: domain.ActionUpdate,
				Before: makeStatusPayload(t, domain.EngagementPartnerContacted),
				After:  makeStatusPayload(t, domain.EngagementFinal),
			},
			blocked: true,
		},
		{
			name: "undeclared state",
			change: domain.Change{
				Object: domain.ObjectEngagement,
				Action: domain.ActionUpdate,
				Before: makeStatusPayload(t, domain.EngagementFieldVisit),
				After:  makeStatusPayload(t, "limbo"),
			},
			blocked: true,
		},
		{
			name: "create in initial state",
			change: domain.Change{
				Object: domain.ObjectEngagement,
				Action: domain.ActionCreate,
				After:  makeStatusPayload(t, domain.EngagementPartnerContacted),
			},
		},
		{
			name: "create past the initial state",
			change: domain.Change{
				Object: domain.ObjectEngagement,
				Action: domain.ActionCreate,
				After:  makeStatusPayload(t, domain.EngagementFinal),
			},
			blocked: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := rule.Evaluate(context.Background(), nil, []domain.Change{tc.change})
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if got := result.HasBlocking(); got != tc.blocked {
				t.Fatalf("blocked = %v, want %v (violations %v)", got, tc.blocked, result.Violations)
			}
		})
	}
}
