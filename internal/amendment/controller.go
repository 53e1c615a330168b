// Package amendment manages the fork-and-merge workflow on governed
// documents: opening an amended twin, mirroring shared fields while both
// live, and folding the twin back into the original on finalization.
package amendment

import (
	"context"
	"fmt"
	"time"

	"govcore/internal/snapshot"
	"govcore/internal/statemachine"
	"govcore/pkg/domain"
)

// engineFields are never copied between a document and its amendment twin.
var engineFields = map[string]struct{}{
	"id":         {},
	"status":     {},
	"version":    {},
	"created_at": {},
	"updated_at": {},
}

// Controller implements amendment semantics on top of a transaction. It holds
// no state of its own; everything lives in the store.
type Controller struct {
	registry  *statemachine.Registry
	snapshots *snapshot.Engine
}

// NewController constructs a controller bound to the lifecycle registry and
// snapshot engine.
func NewController(registry *statemachine.Registry, snapshots *snapshot.Engine) *Controller {
	return &Controller{registry: registry, snapshots: snapshots}
}

// Open forks an amended twin of the original document and records the fork
// on the original's activity log. At most one active amendment per kind may
// exist on a document; a second open of the same kind fails with an
// amendment conflict.
func (c *Controller) Open(tx domain.Transaction, t domain.ObjectType, originalID string, kind domain.AmendmentKind, actor domain.User) (domain.Amendment, domain.Object, error) {
	if !c.registry.SupportsAmendment(t, kind) {
		errs := domain.FieldErrors{}
		errs.Add("kind", fmt.Sprintf("amendment kind %q not supported for %s", kind, t))
		return domain.Amendment{}, nil, domain.ValidationError{Fields: errs}
	}
	original, ok := tx.Get(t, originalID)
	if !ok {
		return domain.Amendment{}, nil, fmt.Errorf("%s %q not found", t, originalID)
	}
	for _, existing := range tx.Amendments(t, originalID) {
		if existing.IsActive && existing.Kind == kind {
			return domain.Amendment{}, nil, domain.AmendmentConflictError{OriginalID: originalID, Kind: kind}
		}
	}

	twin, err := domain.CloneObject(original)
	if err != nil {
		return domain.Amendment{}, nil, err
	}
	meta := twin.Meta()
	meta.ID = ""
	meta.Version = 0
	if initial, ok := c.registry.Initial(t); ok {
		meta.Status = initial
	}
	created, err := tx.Create(twin)
	if err != nil {
		return domain.Amendment{}, nil, err
	}

	record, err := tx.CreateAmendment(domain.Amendment{
		ObjectType: t,
		OriginalID: originalID,
		AmendedID:  created.Meta().ID,
		Kind:       kind,
		IsActive:   true,
	})
	if err != nil {
		return domain.Amendment{}, nil, err
	}
	if err := c.logOnOriginal(tx, original, actor); err != nil {
		return domain.Amendment{}, nil, err
	}
	return record, created, nil
}

// logOnOriginal appends an activity entry marking an amendment event on the
// original. The original itself is untouched, so the entry carries its image
// and no change.
func (c *Controller) logOnOriginal(tx domain.Transaction, original domain.Object, actor domain.User) error {
	image, err := c.snapshots.Image(tx.Snapshot(), original)
	if err != nil {
		return err
	}
	actorID := actor.ID
	_, err = tx.AppendActivity(domain.ActivityEntry{
		TargetType: original.ObjectType(),
		TargetID:   original.Meta().ID,
		ActorID:    &actorID,
		Action:     domain.ActionUpdate,
		Data:       image,
	})
	return err
}

// Mirror propagates the blueprint's mirror fields from the original onto
// every active amendment twin. Called after each accepted save of the
// original so twins never drift on shared relations.
func (c *Controller) Mirror(tx domain.Transaction, original domain.Object) error {
	t := original.ObjectType()
	bp, ok := c.registry.Blueprint(t)
	if !ok || len(bp.MirrorRelations) == 0 {
		return nil
	}
	image, err := snapshot.Fields(original)
	if err != nil {
		return err
	}
	mirrored := make(map[string]any, len(bp.MirrorRelations))
	for _, field := range bp.MirrorRelations {
		if _, engine := engineFields[field]; engine {
			continue
		}
		if value, present := image[field]; present {
			mirrored[field] = value
		}
	}
	if len(mirrored) == 0 {
		return nil
	}
	for _, record := range tx.Amendments(t, original.Meta().ID) {
		if !record.IsActive {
			continue
		}
		if _, err := tx.Update(t, record.AmendedID, func(twin domain.Object) error {
			return domain.ApplyFields(twin, mirrored)
		}); err != nil {
			return err
		}
	}
	return nil
}

// Finalize signs the twin through the blueprint's declared transition, folds
// its content back into the original, records the difference on the
// amendment, and deactivates it. The caller supplies the amendment as read
// in this transaction.
func (c *Controller) Finalize(ctx context.Context, tx domain.Transaction, record domain.Amendment, actor domain.User, now time.Time) (domain.Amendment, domain.Object, error) {
	if !record.IsActive {
		return domain.Amendment{}, nil, domain.AmendmentConflictError{OriginalID: record.OriginalID, Kind: record.Kind}
	}
	original, ok := tx.Get(record.ObjectType, record.OriginalID)
	if !ok {
		return domain.Amendment{}, nil, fmt.Errorf("%s %q not found", record.ObjectType, record.OriginalID)
	}
	twin, ok := tx.Get(record.ObjectType, record.AmendedID)
	if !ok {
		return domain.Amendment{}, nil, fmt.Errorf("amended %s %q not found", record.ObjectType, record.AmendedID)
	}
	twin, err := c.signTwin(ctx, tx, twin, actor)
	if err != nil {
		return domain.Amendment{}, nil, err
	}

	beforeImage, err := c.snapshots.Image(tx.Snapshot(), original)
	if err != nil {
		return domain.Amendment{}, nil, err
	}
	merged := contentFields(twin)
	updated, err := tx.Update(record.ObjectType, record.OriginalID, func(obj domain.Object) error {
		return domain.ApplyFields(obj, merged)
	})
	if err != nil {
		return domain.Amendment{}, nil, err
	}
	afterImage, err := c.snapshots.Image(tx.Snapshot(), updated)
	if err != nil {
		return domain.Amendment{}, nil, err
	}
	difference := snapshot.Diff(beforeImage, afterImage)

	actorID := actor.ID
	if _, err := tx.AppendActivity(domain.ActivityEntry{
		TargetType: record.ObjectType,
		TargetID:   record.OriginalID,
		ActorID:    &actorID,
		Action:     domain.ActionUpdate,
		Data:       beforeImage,
		Change:     difference,
	}); err != nil {
		return domain.Amendment{}, nil, err
	}

	final, err := tx.UpdateAmendment(record.ID, func(a *domain.Amendment) error {
		a.IsActive = false
		a.Difference = difference
		a.SignedByOrgAt = &now
		a.Signatures = append(a.Signatures, domain.AmendmentSignature{
			SignedByID: actor.ID,
			Role:       "org",
			SignedAt:   now,
		})
		return nil
	})
	if err != nil {
		return domain.Amendment{}, nil, err
	}
	return final, updated, nil
}

// Discard deactivates an amendment without merging and logs the event on the
// original. The twin is removed when it carries no history; otherwise it
// stays as an inert record.
func (c *Controller) Discard(tx domain.Transaction, record domain.Amendment, actor domain.User) (domain.Amendment, error) {
	if !record.IsActive {
		return domain.Amendment{}, domain.AmendmentConflictError{OriginalID: record.OriginalID, Kind: record.Kind}
	}
	discarded, err := tx.UpdateAmendment(record.ID, func(a *domain.Amendment) error {
		a.IsActive = false
		return nil
	})
	if err != nil {
		return domain.Amendment{}, err
	}
	// Twins with recorded history refuse deletion and survive as inert
	// documents.
	_ = tx.Delete(record.ObjectType, record.AmendedID)
	if original, ok := tx.Get(record.ObjectType, record.OriginalID); ok {
		if err := c.logOnOriginal(tx, original, actor); err != nil {
			return domain.Amendment{}, err
		}
	}
	return discarded, nil
}

// signTwin runs the blueprint's declared sign transition on the twin: source
// state, guards, the transition validator, the target state's validator, and
// entry side effects all apply. A twin that cannot be signed cannot merge.
func (c *Controller) signTwin(ctx context.Context, tx domain.Transaction, twin domain.Object, actor domain.User) (domain.Object, error) {
	t := twin.ObjectType()
	bp, ok := c.registry.Blueprint(t)
	if !ok || bp.AmendmentSignTransition == "" {
		return twin, nil
	}
	tr, ok := c.registry.Transition(t, bp.AmendmentSignTransition)
	if !ok {
		return nil, fmt.Errorf("transition %q not declared for %s", bp.AmendmentSignTransition, t)
	}
	status := twin.Meta().Status
	eligible := false
	for _, from := range tr.From {
		if from == status {
			eligible = true
			break
		}
	}
	if !eligible {
		return nil, domain.TransitionError{Transition: tr.Name, Status: status}
	}
	for _, guard := range tr.Guards {
		ok, err := guard.Check(statemachine.GuardContext{Object: twin, User: actor})
		if err != nil || !ok {
			return nil, domain.TransitionError{Transition: tr.Name, Status: status}
		}
	}
	next, err := tx.Update(t, twin.Meta().ID, func(obj domain.Object) error {
		obj.Meta().Status = tr.To
		return nil
	})
	if err != nil {
		return nil, err
	}
	errs := domain.FieldErrors{}
	if tr.Validate != nil {
		errs.Merge(tr.Validate(ctx, tx.Snapshot(), next, actor))
	}
	if validator, ok := c.registry.Validator(t, tr.To); ok && validator != nil {
		errs.Merge(validator(ctx, tx.Snapshot(), next, actor))
	}
	if len(errs) > 0 {
		return nil, domain.ValidationError{Fields: errs}
	}
	if tr.OnEnter != nil {
		if err := tr.OnEnter(ctx, tx, next, actor); err != nil {
			return nil, err
		}
	}
	return next, nil
}

// contentFields strips engine bookkeeping from a document image so only
// governed content participates in merges.
func contentFields(obj domain.Object) map[string]any {
	image, err := snapshot.Fields(obj)
	if err != nil {
		return nil
	}
	for field := range engineFields {
		delete(image, field)
	}
	return image
}
