package core

import (
	"context"
	"fmt"

	"govcore/internal/statemachine"
	"govcore/pkg/domain"
)

// lifecycleRule enforces the closed state set at commit time: every status a
// transaction writes must be a declared state, and every status change must
// follow a declared transition edge. This backstops the facade so no code
// path, including amendment merges, can move a document off the graph.
type lifecycleRule struct {
	registry *statemachine.Registry
}

// NewLifecycleRule builds the commit-time lifecycle rule for a registry.
func NewLifecycleRule(registry *statemachine.Registry) domain.Rule {
	return lifecycleRule{registry: registry}
}

func (lifecycleRule) Name() string { return "lifecycle_transition" }

type statusPayload struct {
	Status string `json:"status"`
}

func (r lifecycleRule) Evaluate(_ context.Context, _ domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	var result domain.Result
	for _, change := range changes {
		after, ok := domain.DecodePayload[statusPayload](change.After)
		if !ok {
			continue
		}
		if !r.registry.ValidState(change.Object, after.Status) {
			result.Violations = append(result.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("status %q is not a declared state", after.Status),
				Object:   change.Object,
				ObjectID: change.ObjectID,
			})
			continue
		}
		switch change.Action {
		case domain.ActionCreate:
			if initial, ok := r.registry.Initial(change.Object); ok && after.Status != initial {
				result.Violations = append(result.Violations, domain.Violation{
					Rule:     r.Name(),
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("new documents must start in %q, got %q", initial, after.Status),
					Object:   change.Object,
					ObjectID: change.ObjectID,
				})
			}
		default:
			before, ok := domain.DecodePayload[statusPayload](change.Before)
			if !ok || before.Status == after.Status {
				continue
			}
			if !r.registry.Edge(change.Object, before.Status, after.Status) {
				result.Violations = append(result.Violations, domain.Violation{
					Rule:     r.Name(),
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("no declared transition from %q to %q", before.Status, after.Status),
					Object:   change.Object,
					ObjectID: change.ObjectID,
				})
			}
		}
	}
	return result, nil
}
