package core

import (
	"context"
	"fmt"

	"govcore/internal/snapshot"
	"govcore/internal/statemachine"
	"govcore/internal/validation"
	"govcore/pkg/domain"
)

// Permission groups referenced by transition declarations. Group membership
// is resolved upstream per tenant; the engine only compares names.
const (
	GroupPartnershipManager = "Partnership Manager"
	GroupAuthorizedOfficer  = "Authorized Officer"
	GroupAuditFocalPoint    = "Audit Focal Point"
)

// RegisterBlueprints installs the lifecycle declarations for every governed
// type. Called once at startup; registration errors are programming errors.
func RegisterBlueprints(registry *statemachine.Registry) error {
	for _, register := range []func(*statemachine.Registry) error{
		registerIntervention,
		registerAgreement,
		registerEngagement,
		registerActionPoint,
	} {
		if err := register(registry); err != nil {
			return err
		}
	}
	return nil
}

func registerIntervention(registry *statemachine.Registry) error {
	return registry.Register(statemachine.Blueprint{
		Type:    domain.ObjectIntervention,
		Initial: domain.InterventionDraft,
		States: []statemachine.State{
			{Name: domain.InterventionDraft},
			{Name: domain.InterventionReview},
			{Name: domain.InterventionSignature},
			{Name: domain.InterventionSigned},
			{Name: domain.InterventionActive},
			{Name: domain.InterventionEnded},
			{Name: domain.InterventionSuspended},
			{Name: domain.InterventionTerminated, Terminal: true},
			{Name: domain.InterventionClosed, Terminal: true},
		},
		Transitions: []statemachine.Transition{
			{
				Name:     "send_to_review",
				From:     []string{domain.InterventionDraft},
				To:       domain.InterventionReview,
				Validate: requireFields("title", "agreement_id"),
			},
			{
				Name:           "accept_review",
				From:           []string{domain.InterventionReview},
				To:             domain.InterventionSignature,
				RequiredGroups: []string{GroupPartnershipManager},
			},
			{
				Name:           "reject_review",
				From:           []string{domain.InterventionReview},
				To:             domain.InterventionDraft,
				RequiredGroups: []string{GroupPartnershipManager},
			},
			{
				Name:          "sign",
				From:          []string{domain.InterventionSignature},
				To:            domain.InterventionSigned,
				Validate:      requireFields("signed_by_partner_date", "signed_by_unicef_date"),
				Notifications: []string{"intervention.signed"},
			},
			{
				Name: "activate",
				From: []string{domain.InterventionSigned},
				To:   domain.InterventionActive,
				Guards: []statemachine.Guard{{
					Name: "dates_set",
					Check: func(gc statemachine.GuardContext) (bool, error) {
						doc, ok := gc.Object.(*domain.Intervention)
						if !ok {
							return false, fmt.Errorf("expected intervention, got %T", gc.Object)
						}
						return doc.StartDate != nil && doc.EndDate != nil, nil
					},
				}},
				Validate:      requireFields("planned_budget"),
				Notifications: []string{"intervention.activated"},
			},
			{
				Name: "end",
				From: []string{domain.InterventionActive},
				To:   domain.InterventionEnded,
			},
			{
				Name:           "suspend",
				From:           []string{domain.InterventionActive},
				To:             domain.InterventionSuspended,
				RequiredGroups: []string{GroupPartnershipManager},
			},
			{
				Name:           "resume",
				From:           []string{domain.InterventionSuspended},
				To:             domain.InterventionActive,
				RequiredGroups: []string{GroupPartnershipManager},
			},
			{
				Name:           "terminate",
				From:           []string{domain.InterventionActive, domain.InterventionSuspended},
				To:             domain.InterventionTerminated,
				RequiredGroups: []string{GroupPartnershipManager},
				Notifications:  []string{"intervention.terminated"},
			},
			{
				Name:           "close",
				From:           []string{domain.InterventionEnded},
				To:             domain.InterventionClosed,
				RequiredGroups: []string{GroupPartnershipManager},
			},
			{
				// Amendment twins are negotiated in draft and countersigned
				// directly; the merge only happens once this succeeds.
				Name:     "sign_amendment",
				From:     []string{domain.InterventionDraft},
				To:       domain.InterventionSigned,
				Validate: requireFields("signed_by_partner_date", "signed_by_unicef_date"),
			},
		},
		Relations: []snapshot.RelationSpec{
			{
				Name: "agreement",
				Load: func(view domain.TransactionView, obj domain.Object) (any, error) {
					doc := obj.(*domain.Intervention)
					if doc.AgreementID == nil {
						return nil, nil
					}
					related, ok := view.Get(domain.ObjectAgreement, *doc.AgreementID)
					if !ok {
						return nil, nil
					}
					return snapshot.Fields(related)
				},
			},
			{
				Name: "action_points",
				Load: func(view domain.TransactionView, obj domain.Object) (any, error) {
					return relatedActionPoints(view, func(ap *domain.ActionPoint) bool {
						return ap.InterventionID != nil && *ap.InterventionID == obj.Meta().ID
					})
				},
			},
		},
		MirrorRelations: []string{"agreement_id", "partner_name", "reference_number"},
		Validators: map[string]validation.Validator{
			domain.InterventionActive: validation.Compose(
				requireFields("start_date", "end_date"),
				interventionFields(func(doc *domain.Intervention, errs domain.FieldErrors) {
					if doc.StartDate != nil && doc.EndDate != nil && doc.EndDate.Before(*doc.StartDate) {
						errs.Add("end_date", "precedes start_date")
					}
				}),
			),
		},
		AmendmentKinds:          []domain.AmendmentKind{domain.AmendmentAdmin, domain.AmendmentBudget},
		AmendmentSignTransition: "sign_amendment",
	})
}

func registerAgreement(registry *statemachine.Registry) error {
	return registry.Register(statemachine.Blueprint{
		Type:    domain.ObjectAgreement,
		Initial: domain.AgreementDraft,
		States: []statemachine.State{
			{Name: domain.AgreementDraft},
			{Name: domain.AgreementSigned},
			{Name: domain.AgreementEnded, Terminal: true},
			{Name: domain.AgreementSuspended},
			{Name: domain.AgreementTerminated, Terminal: true},
		},
		Transitions: []statemachine.Transition{
			{
				Name:           "sign",
				From:           []string{domain.AgreementDraft},
				To:             domain.AgreementSigned,
				RequiredGroups: []string{GroupAuthorizedOfficer},
				Validate: requireFields("signed_by_partner_date", "signed_by_unicef_date",
					"authorized_officer_ids"),
				Notifications: []string{"agreement.signed"},
			},
			{
				Name:           "suspend",
				From:           []string{domain.AgreementSigned},
				To:             domain.AgreementSuspended,
				RequiredGroups: []string{GroupAuthorizedOfficer},
			},
			{
				Name:           "resume",
				From:           []string{domain.AgreementSuspended},
				To:             domain.AgreementSigned,
				RequiredGroups: []string{GroupAuthorizedOfficer},
			},
			{
				Name: "end",
				From: []string{domain.AgreementSigned},
				To:   domain.AgreementEnded,
			},
			{
				Name:           "terminate",
				From:           []string{domain.AgreementSigned, domain.AgreementSuspended},
				To:             domain.AgreementTerminated,
				RequiredGroups: []string{GroupAuthorizedOfficer},
				Validate:       requireFields("termination_doc_id"),
				Notifications:  []string{"agreement.terminated"},
			},
			{
				Name:     "sign_amendment",
				From:     []string{domain.AgreementDraft},
				To:       domain.AgreementSigned,
				Validate: requireFields("signed_by_partner_date", "signed_by_unicef_date"),
			},
		},
		Relations: []snapshot.RelationSpec{
			{
				Name: "interventions",
				Load: func(view domain.TransactionView, obj domain.Object) (any, error) {
					var out []map[string]any
					for _, candidate := range view.List(domain.ObjectIntervention) {
						doc := candidate.(*domain.Intervention)
						if doc.AgreementID == nil || *doc.AgreementID != obj.Meta().ID {
							continue
						}
						image, err := snapshot.Fields(doc)
						if err != nil {
							return nil, err
						}
						out = append(out, image)
					}
					return out, nil
				},
			},
		},
		AmendmentKinds:          []domain.AmendmentKind{domain.AmendmentAdmin},
		AmendmentSignTransition: "sign_amendment",
	})
}

func registerEngagement(registry *statemachine.Registry) error {
	return registry.Register(statemachine.Blueprint{
		Type:    domain.ObjectEngagement,
		Initial: domain.EngagementPartnerContacted,
		States: []statemachine.State{
			{Name: domain.EngagementPartnerContacted},
			{Name: domain.EngagementFieldVisit},
			{Name: domain.EngagementReportSubmitted},
			{Name: domain.EngagementFinal, Terminal: true},
			{Name: domain.EngagementCancelled, Terminal: true},
		},
		Transitions: []statemachine.Transition{
			{
				Name: "conduct_field_visit",
				From: []string{domain.EngagementPartnerContacted},
				To:   domain.EngagementFieldVisit,
			},
			{
				Name:          "submit",
				From:          []string{domain.EngagementFieldVisit},
				To:            domain.EngagementReportSubmitted,
				Validate:      requireFields("date_of_field_visit", "date_of_draft_report"),
				Notifications: []string{"engagement.report_submitted"},
			},
			{
				Name:           "finalize",
				From:           []string{domain.EngagementReportSubmitted},
				To:             domain.EngagementFinal,
				RequiredGroups: []string{GroupAuditFocalPoint},
				Notifications:  []string{"engagement.finalized"},
			},
			{
				Name:     "cancel",
				From:     []string{domain.EngagementPartnerContacted, domain.EngagementFieldVisit},
				To:       domain.EngagementCancelled,
				Validate: requireFields("cancel_comment"),
			},
		},
		Relations: []snapshot.RelationSpec{
			{
				Name: "action_points",
				Load: func(view domain.TransactionView, obj domain.Object) (any, error) {
					return relatedActionPoints(view, func(ap *domain.ActionPoint) bool {
						return ap.EngagementID != nil && *ap.EngagementID == obj.Meta().ID
					})
				},
			},
		},
	})
}

func registerActionPoint(registry *statemachine.Registry) error {
	return registry.Register(statemachine.Blueprint{
		Type:    domain.ObjectActionPoint,
		Initial: domain.ActionPointOpen,
		States: []statemachine.State{
			{Name: domain.ActionPointOpen},
			{Name: domain.ActionPointCompleted, Terminal: true},
		},
		Transitions: []statemachine.Transition{
			{
				Name:     "complete",
				From:     []string{domain.ActionPointOpen},
				To:       domain.ActionPointCompleted,
				Validate: requireFields("assigned_to_id"),
				OnEnter: func(ctx context.Context, tx domain.Transaction, obj domain.Object, user domain.User) error {
					// The status update just stamped UpdatedAt with the
					// transaction time; reuse it as the completion time.
					completed := obj.Meta().UpdatedAt
					_, err := tx.Update(domain.ObjectActionPoint, obj.Meta().ID, func(o domain.Object) error {
						o.(*domain.ActionPoint).CompletedAt = &completed
						return nil
					})
					return err
				},
				Notifications: []string{"action_point.completed"},
			},
		},
		Relations: []snapshot.RelationSpec{
			{
				Name: "intervention",
				Load: func(view domain.TransactionView, obj domain.Object) (any, error) {
					doc := obj.(*domain.ActionPoint)
					if doc.InterventionID == nil {
						return nil, nil
					}
					related, ok := view.Get(domain.ObjectIntervention, *doc.InterventionID)
					if !ok {
						return nil, nil
					}
					return snapshot.Fields(related)
				},
			},
			{
				Name: "engagement",
				Load: func(view domain.TransactionView, obj domain.Object) (any, error) {
					doc := obj.(*domain.ActionPoint)
					if doc.EngagementID == nil {
						return nil, nil
					}
					related, ok := view.Get(domain.ObjectEngagement, *doc.EngagementID)
					if !ok {
						return nil, nil
					}
					return snapshot.Fields(related)
				},
			},
		},
	})
}

func relatedActionPoints(view domain.TransactionView, match func(*domain.ActionPoint) bool) (any, error) {
	var out []map[string]any
	for _, candidate := range view.List(domain.ObjectActionPoint) {
		ap := candidate.(*domain.ActionPoint)
		if !match(ap) {
			continue
		}
		image, err := snapshot.Fields(ap)
		if err != nil {
			return nil, err
		}
		out = append(out, image)
	}
	return out, nil
}

// requireFields builds a presence validator over the document's JSON image.
// Field names are the wire names the activity log and the matrix use.
func requireFields(fields ...string) validation.Validator {
	return validation.RequireNonEmpty(
		func(domain.Object, domain.User) []string { return fields },
		snapshot.Fields,
	)
}

func interventionFields(check func(*domain.Intervention, domain.FieldErrors)) validation.Validator {
	return func(ctx context.Context, view domain.TransactionView, obj domain.Object, user domain.User) domain.FieldErrors {
		errs := domain.FieldErrors{}
		check(obj.(*domain.Intervention), errs)
		if len(errs) == 0 {
			return nil
		}
		return errs
	}
}

