package core

import (
	"context"
	"fmt"
	"sort"

	"govcore/internal/condition"
	"govcore/internal/matrix"
	"govcore/internal/snapshot"
	"govcore/pkg/domain"
)

// TransitionOption describes one transition currently offered to a caller.
type TransitionOption struct {
	Name string `json:"name"`
	To   string `json:"to"`
}

// Get returns the deep image of a document with fields the caller may not
// view removed. Related documents are embedded per the type's blueprint.
func (s *Service) Get(ctx context.Context, user domain.User, t domain.ObjectType, id string) (map[string]any, error) {
	var image map[string]any
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		obj, ok := view.Get(t, id)
		if !ok {
			return domain.InternalError{Err: fmt.Errorf("%s %q not found", t, id)}
		}
		deep, err := s.snapshots.Image(view, obj)
		if err != nil {
			return domain.InternalError{Err: err}
		}
		flat, err := snapshot.Fields(obj)
		if err != nil {
			return domain.InternalError{Err: err}
		}
		cctx := condition.NewContext(user, t, flat, nil, false)
		image = s.redact(cctx, deep)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return image, nil
}

// List returns the scalar images of every document of a type, each redacted
// for the caller. Output is ordered by document ID.
func (s *Service) List(ctx context.Context, user domain.User, t domain.ObjectType) ([]map[string]any, error) {
	var out []map[string]any
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		for _, obj := range view.List(t) {
			flat, err := snapshot.Fields(obj)
			if err != nil {
				return domain.InternalError{Err: err}
			}
			cctx := condition.NewContext(user, t, flat, nil, false)
			out = append(out, s.redact(cctx, flat))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := out[i]["id"].(string)
		b, _ := out[j]["id"].(string)
		return a < b
	})
	return out, nil
}

// redact removes fields the caller may not view from a document image.
func (s *Service) redact(cctx *condition.Context, image map[string]any) map[string]any {
	out := make(map[string]any, len(image))
	for field, value := range image {
		if !s.decider.CanField(cctx, field, matrix.ActionView) {
			continue
		}
		out[field] = value
	}
	return out
}

// Permissions computes the caller's view, edit, and required flags for every
// field of the document in its current state.
func (s *Service) Permissions(ctx context.Context, user domain.User, t domain.ObjectType, id string) (matrix.Permissions, error) {
	var perms matrix.Permissions
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		obj, ok := view.Get(t, id)
		if !ok {
			return domain.InternalError{Err: fmt.Errorf("%s %q not found", t, id)}
		}
		flat, err := snapshot.Fields(obj)
		if err != nil {
			return domain.InternalError{Err: err}
		}
		fields := make([]string, 0, len(flat))
		for field := range flat {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		cctx := condition.NewContext(user, t, flat, nil, false)
		perms = s.decider.Permissions(cctx, fields)
		return nil
	})
	if err != nil {
		return matrix.Permissions{}, err
	}
	return perms, nil
}

// AvailableTransitions lists the transitions the caller could execute from
// the document's current status, after group requirements and guards.
func (s *Service) AvailableTransitions(ctx context.Context, user domain.User, t domain.ObjectType, id string) ([]TransitionOption, error) {
	var options []TransitionOption
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		obj, ok := view.Get(t, id)
		if !ok {
			return domain.InternalError{Err: fmt.Errorf("%s %q not found", t, id)}
		}
		for _, tr := range s.registry.TransitionsFrom(t, obj.Meta().Status) {
			if !groupsSatisfied(user, tr.RequiredGroups) {
				continue
			}
			if !guardsHold(obj, user, tr) {
				continue
			}
			options = append(options, TransitionOption{Name: tr.Name, To: tr.To})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return options, nil
}

// History returns the document's activity entries in append order, filtered
// and paginated. The second return is the total matching count before
// pagination.
func (s *Service) History(ctx context.Context, user domain.User, t domain.ObjectType, id string, filter domain.ActivityFilter) ([]domain.ActivityEntry, int, error) {
	var (
		entries []domain.ActivityEntry
		total   int
	)
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		var matched []domain.ActivityEntry
		for _, entry := range view.Activities(t, id) {
			if !filter.Match(entry) {
				continue
			}
			matched = append(matched, domain.CloneActivityEntry(entry))
		}
		total = len(matched)
		start := filter.Offset
		if start > len(matched) {
			start = len(matched)
		}
		end := len(matched)
		if filter.Limit > 0 && start+filter.Limit < end {
			end = start + filter.Limit
		}
		entries = matched[start:end]
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}
