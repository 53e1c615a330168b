package core

import (
	"context"
	"fmt"
	"sort"

	"govcore/internal/condition"
	"govcore/internal/matrix"
	"govcore/internal/snapshot"
	"govcore/internal/statemachine"
	"govcore/internal/validation"
	"govcore/pkg/domain"
)

// engineFields are engine bookkeeping; callers can never set them directly.
// Status only moves through declared transitions.
var engineFields = map[string]struct{}{
	"id":         {},
	"status":     {},
	"version":    {},
	"created_at": {},
	"updated_at": {},
}

// rejectEngineFields fails a patch that tries to write bookkeeping fields.
func rejectEngineFields(fields map[string]any) error {
	var errs domain.FieldErrors
	for key := range fields {
		if _, engine := engineFields[key]; engine {
			if errs == nil {
				errs = domain.FieldErrors{}
			}
			errs.Add(key, "cannot be set directly")
		}
	}
	if errs != nil {
		return domain.ValidationError{Fields: errs}
	}
	return nil
}

// authorizeFields denies the whole request when any patched field is not
// editable for this user in this state. The offending field is carried on
// the error for logging; the message stays opaque.
func (s *Service) authorizeFields(cctx *condition.Context, fields map[string]any) error {
	for key := range fields {
		if !s.decider.CanField(cctx, key, matrix.ActionEdit) {
			return domain.AuthorizationError{Action: "edit", Field: key}
		}
	}
	return nil
}

// validateDocument runs the required-field sweep and the per-state validator
// for the document's status, aggregating all failures.
func (s *Service) validateDocument(ctx context.Context, view domain.TransactionView, obj domain.Object, user domain.User, cctx *condition.Context) error {
	errs := domain.FieldErrors{}
	image := cctx.Object
	for _, field := range s.decider.RequiredFields(cctx) {
		if !validation.Present(image[field]) {
			errs.Add(field, "required")
		}
	}
	if validator, ok := s.registry.Validator(obj.ObjectType(), obj.Meta().Status); ok && validator != nil {
		errs.Merge(validator(ctx, view, obj, user))
	}
	if len(errs) > 0 {
		return domain.ValidationError{Fields: errs}
	}
	return nil
}

// Create builds a new governed document from the supplied fields. The
// document starts in the type's initial state; required fields and the
// initial-state validator run before commit.
func (s *Service) Create(ctx context.Context, user domain.User, t domain.ObjectType, fields map[string]any) (domain.Object, error) {
	var created domain.Object
	err := s.instrument(ctx, "create_"+string(t), user, t, "", func(ctx context.Context) error {
		bp, ok := s.registry.Blueprint(t)
		if !ok {
			return domain.InternalError{Err: fmt.Errorf("type %s not registered", t)}
		}
		if err := rejectEngineFields(fields); err != nil {
			return err
		}
		obj, ok := domain.NewObject(t)
		if !ok {
			return domain.InternalError{Err: fmt.Errorf("unknown object type %s", t)}
		}
		if err := domain.ApplyFields(obj, fields); err != nil {
			return domain.InternalError{Err: err}
		}
		obj.Meta().Status = bp.Initial

		image, err := snapshot.Fields(obj)
		if err != nil {
			return domain.InternalError{Err: err}
		}
		cctx := condition.NewContext(user, t, image, nil, true)
		if !s.decider.Can(cctx, matrix.ActionEdit) {
			return domain.AuthorizationError{Action: "create"}
		}
		if err := s.authorizeFields(cctx, fields); err != nil {
			return err
		}

		_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			if err := s.validateDocument(ctx, tx.Snapshot(), obj, user, cctx); err != nil {
				return err
			}
			stored, err := tx.Create(obj)
			if err != nil {
				return domain.InternalError{Err: err}
			}
			deep, err := s.snapshots.Image(tx.Snapshot(), stored)
			if err != nil {
				return domain.InternalError{Err: err}
			}
			actorID := user.ID
			if _, err := tx.AppendActivity(domain.ActivityEntry{
				TargetType: t,
				TargetID:   stored.Meta().ID,
				ActorID:    &actorID,
				Action:     domain.ActionCreate,
				Data:       deep,
			}); err != nil {
				return domain.InternalError{Err: err}
			}
			created = stored
			return nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Patch applies a partial update to a governed document. baseVersion is the
// version the caller read; a concurrent save that touched overlapping fields
// surfaces as a conflict, while disjoint concurrent changes rebase silently.
// A conflicted attempt is retried once before the error propagates.
func (s *Service) Patch(ctx context.Context, user domain.User, t domain.ObjectType, id string, fields map[string]any, baseVersion int64) (domain.Object, error) {
	var updated domain.Object
	err := s.instrument(ctx, "patch_"+string(t), user, t, id, func(ctx context.Context) error {
		var err error
		updated, err = s.patchOnce(ctx, user, t, id, fields, baseVersion)
		if domain.KindOf(err) == domain.KindConcurrentModification {
			if s.conflictRetryHook != nil {
				s.conflictRetryHook()
			}
			updated, err = s.patchOnce(ctx, user, t, id, fields, baseVersion)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) patchOnce(ctx context.Context, user domain.User, t domain.ObjectType, id string, fields map[string]any, baseVersion int64) (domain.Object, error) {
	if err := rejectEngineFields(fields); err != nil {
		return nil, err
	}
	var updated domain.Object
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		current, ok := tx.Get(t, id)
		if !ok {
			return domain.InternalError{Err: fmt.Errorf("%s %q not found", t, id)}
		}
		oldImage, err := snapshot.Fields(current)
		if err != nil {
			return domain.InternalError{Err: err}
		}
		cctx := condition.NewContext(user, t, oldImage, oldImage, false)
		if err := s.authorizeFields(cctx, fields); err != nil {
			return err
		}

		if baseVersion > 0 && baseVersion != current.Meta().Version {
			overlap := s.conflictingFields(tx.Snapshot(), t, id, baseVersion, fields)
			if len(overlap) > 0 {
				return domain.ConflictError{Object: t, ObjectID: id, Fields: overlap}
			}
		}

		beforeDeep, err := s.snapshots.Image(tx.Snapshot(), current)
		if err != nil {
			return domain.InternalError{Err: err}
		}
		next, err := tx.Update(t, id, func(obj domain.Object) error {
			return domain.ApplyFields(obj, fields)
		})
		if err != nil {
			return domain.InternalError{Err: err}
		}

		newImage, err := snapshot.Fields(next)
		if err != nil {
			return domain.InternalError{Err: err}
		}
		vctx := condition.NewContext(user, t, newImage, oldImage, false)
		if err := s.validateDocument(ctx, tx.Snapshot(), next, user, vctx); err != nil {
			return err
		}
		if err := s.amendments.Mirror(tx, next); err != nil {
			return domain.InternalError{Err: err}
		}

		afterDeep, err := s.snapshots.Image(tx.Snapshot(), next)
		if err != nil {
			return domain.InternalError{Err: err}
		}
		actorID := user.ID
		if _, err := tx.AppendActivity(domain.ActivityEntry{
			TargetType: t,
			TargetID:   id,
			ActorID:    &actorID,
			Action:     domain.ActionUpdate,
			Data:       beforeDeep,
			Change:     snapshot.Diff(beforeDeep, afterDeep),
		}); err != nil {
			return domain.InternalError{Err: err}
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// conflictingFields intersects the patch with the fields changed by saves
// committed after baseVersion, as recorded in the activity log.
func (s *Service) conflictingFields(view domain.TransactionView, t domain.ObjectType, id string, baseVersion int64, fields map[string]any) []string {
	changed := make(map[string]struct{})
	for _, entry := range view.Activities(t, id) {
		preVersion, ok := entry.Data["version"].(float64)
		if !ok || int64(preVersion) < baseVersion {
			continue
		}
		for key := range entry.Change {
			changed[key] = struct{}{}
		}
	}
	var overlap []string
	for key := range fields {
		if _, ok := changed[key]; ok {
			overlap = append(overlap, key)
		}
	}
	sort.Strings(overlap)
	return overlap
}

// groupsSatisfied reports whether the user holds at least one of the groups.
// An empty requirement admits everyone.
func groupsSatisfied(user domain.User, groups []string) bool {
	if len(groups) == 0 {
		return true
	}
	for _, group := range groups {
		if user.InGroup(group) {
			return true
		}
	}
	return false
}

// guardsHold evaluates a transition's predicate guards against the document
// with no accompanying field payload. Guard errors fail closed.
func guardsHold(obj domain.Object, user domain.User, tr statemachine.Transition) bool {
	for _, guard := range tr.Guards {
		ok, err := guard.Check(statemachine.GuardContext{Object: obj, User: user})
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// Execute runs a declared lifecycle transition. Guards, group requirements,
// the transition validator, and the target state's required fields all pass
// before the status moves; notifications fire only after commit.
func (s *Service) Execute(ctx context.Context, user domain.User, t domain.ObjectType, id, name string, fields map[string]any) (domain.Object, error) {
	var (
		updated domain.Object
		notify  []string
	)
	err := s.instrument(ctx, "transition_"+string(t), user, t, id, func(ctx context.Context) error {
		tr, ok := s.registry.Transition(t, name)
		if !ok {
			return domain.TransitionError{Transition: name}
		}
		if err := rejectEngineFields(fields); err != nil {
			return err
		}
		if !groupsSatisfied(user, tr.RequiredGroups) {
			return domain.AuthorizationError{Action: name}
		}

		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			current, ok := tx.Get(t, id)
			if !ok {
				return domain.InternalError{Err: fmt.Errorf("%s %q not found", t, id)}
			}
			status := current.Meta().Status
			eligible := false
			for _, from := range tr.From {
				if from == status {
					eligible = true
					break
				}
			}
			if !eligible {
				return domain.TransitionError{Transition: name, Status: status}
			}

			oldImage, err := snapshot.Fields(current)
			if err != nil {
				return domain.InternalError{Err: err}
			}
			cctx := condition.NewContext(user, t, oldImage, oldImage, false)
			if len(fields) > 0 {
				if err := s.authorizeFields(cctx, fields); err != nil {
					return err
				}
				// Fields frozen in the state being entered cannot ride along
				// on the transition payload.
				frozen := domain.FieldErrors{}
				for _, field := range s.decider.RigidFieldsForStatus(cctx, tr.To) {
					if _, present := fields[field]; present {
						frozen.Add(field, "cannot change in status "+tr.To)
					}
				}
				if len(frozen) > 0 {
					return domain.ValidationError{Fields: frozen}
				}
			}
			for _, guard := range tr.Guards {
				ok, err := guard.Check(statemachine.GuardContext{Object: current, Fields: fields, User: user})
				if err != nil {
					return domain.InternalError{Err: fmt.Errorf("guard %s: %w", guard.Name, err)}
				}
				if !ok {
					return domain.TransitionError{Transition: name, Status: status}
				}
			}

			beforeDeep, err := s.snapshots.Image(tx.Snapshot(), current)
			if err != nil {
				return domain.InternalError{Err: err}
			}
			next, err := tx.Update(t, id, func(obj domain.Object) error {
				if err := domain.ApplyFields(obj, fields); err != nil {
					return err
				}
				obj.Meta().Status = tr.To
				return nil
			})
			if err != nil {
				return domain.InternalError{Err: err}
			}

			newImage, err := snapshot.Fields(next)
			if err != nil {
				return domain.InternalError{Err: err}
			}
			errs := domain.FieldErrors{}
			for _, field := range s.decider.RequiredFieldsForStatus(cctx, tr.To) {
				if !validation.Present(newImage[field]) {
					errs.Add(field, "required")
				}
			}
			if tr.Validate != nil {
				errs.Merge(tr.Validate(ctx, tx.Snapshot(), next, user))
			}
			if validator, ok := s.registry.Validator(t, tr.To); ok && validator != nil {
				errs.Merge(validator(ctx, tx.Snapshot(), next, user))
			}
			if len(errs) > 0 {
				return domain.ValidationError{Fields: errs}
			}

			if tr.OnEnter != nil {
				if err := tr.OnEnter(ctx, tx, next, user); err != nil {
					return err
				}
			}
			if err := s.amendments.Mirror(tx, next); err != nil {
				return domain.InternalError{Err: err}
			}

			afterDeep, err := s.snapshots.Image(tx.Snapshot(), next)
			if err != nil {
				return domain.InternalError{Err: err}
			}
			actorID := user.ID
			if _, err := tx.AppendActivity(domain.ActivityEntry{
				TargetType: t,
				TargetID:   id,
				ActorID:    &actorID,
				Action:     domain.ActionUpdate,
				Data:       beforeDeep,
				Change:     snapshot.Diff(beforeDeep, afterDeep),
			}); err != nil {
				return domain.InternalError{Err: err}
			}
			updated = next
			notify = tr.Notifications
			return nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if s.notifier != nil {
		for _, hook := range notify {
			s.notifier.Dispatch(Event{
				Hook:       hook,
				Object:     t,
				ObjectID:   id,
				Transition: name,
				ActorID:    user.ID,
				OccurredAt: s.clock.Now(),
			})
		}
	}
	return updated, nil
}
