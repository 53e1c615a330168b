// Package validation runs the per-state validators governed documents must
// satisfy on every save. Lookup is table-driven: a closed map per type,
// populated at registration.
package validation

import (
	"context"

	"govcore/pkg/domain"
)

// Validator checks one state's invariants. Validators are idempotent and
// side-effect-free; they may read related documents through the view but
// must not mutate anything. All failures are reported together.
type Validator func(ctx context.Context, view domain.TransactionView, obj domain.Object, user domain.User) domain.FieldErrors

// Compose runs validators in order and merges their field errors.
func Compose(validators ...Validator) Validator {
	return func(ctx context.Context, view domain.TransactionView, obj domain.Object, user domain.User) domain.FieldErrors {
		combined := domain.FieldErrors{}
		for _, v := range validators {
			if v == nil {
				continue
			}
			if errs := v(ctx, view, obj, user); len(errs) > 0 {
				combined.Merge(errs)
			}
		}
		if len(combined) == 0 {
			return nil
		}
		return combined
	}
}

// RequireNonEmpty builds a validator demanding the named fields be non-empty
// in the document's JSON image.
func RequireNonEmpty(fields func(obj domain.Object, user domain.User) []string, image func(obj domain.Object) (map[string]any, error)) Validator {
	return func(ctx context.Context, view domain.TransactionView, obj domain.Object, user domain.User) domain.FieldErrors {
		img, err := image(obj)
		if err != nil {
			errs := domain.FieldErrors{}
			errs.Add("__all__", "could not inspect document")
			return errs
		}
		var errs domain.FieldErrors
		for _, field := range fields(obj, user) {
			if !Present(img[field]) {
				if errs == nil {
					errs = domain.FieldErrors{}
				}
				errs.Add(field, "required")
			}
		}
		return errs
	}
}

// Present reports whether a JSON-shaped value counts as non-empty for
// required-field enforcement.
func Present(value any) bool {
	switch tv := value.(type) {
	case nil:
		return false
	case string:
		return tv != ""
	case []any:
		return len(tv) > 0
	case map[string]any:
		return len(tv) > 0
	case bool:
		// A false flag is still a provided value.
		return true
	case float64:
		return true
	default:
		return true
	}
}
