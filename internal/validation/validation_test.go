package validation

import (
	"context"
	"reflect"
	"testing"

	"govcore/pkg/domain"
)

func fixed(field, message string) Validator {
	return func(ctx context.Context, view domain.TransactionView, obj domain.Object, user domain.User) domain.FieldErrors {
		errs := domain.FieldErrors{}
		errs.Add(field, message)
		return errs
	}
}

func TestComposeMergesFieldErrors(t *testing.T) {
	v := Compose(nil, fixed("title", "required"), fixed("title", "too short"), fixed("currency", "unknown"))
	errs := v(context.Background(), nil, &domain.Intervention{}, domain.SystemUser)
	want := domain.FieldErrors{
		"title":    {"required", "too short"},
		"currency": {"unknown"},
	}
	if !reflect.DeepEqual(map[string][]string(errs), map[string][]string(want)) {
		t.Fatalf("unexpected merge: %v", errs)
	}
}

func TestComposeReturnsNilWhenClean(t *testing.T) {
	clean := func(ctx context.Context, view domain.TransactionView, obj domain.Object, user domain.User) domain.FieldErrors {
		return nil
	}
	if errs := Compose(clean, clean)(context.Background(), nil, &domain.Intervention{}, domain.SystemUser); errs != nil {
		t.Fatalf("expected nil, got %v", errs)
	}
}

func TestPresent(t *testing.T) {
	cases := []struct {
		name  string
		value any
		want  bool
	}{
		{"nil", nil, false},
		{"empty string", "", false},
		{"string", "x", true},
		{"empty list", []any{}, false},
		{"list", []any{"a"}, true},
		{"empty object", map[string]any{}, false},
		{"object", map[string]any{"k": "v"}, true},
		{"false flag", false, true},
		{"zero number", float64(0), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Present(tc.value); got != tc.want {
				t.Fatalf("Present(%v) = %v, want %v", tc.value, got, tc.want)
			}
		})
	}
}

func TestRequireNonEmpty(t *testing.T) {
	image := func(obj domain.Object) (map[string]any, error) {
		return map[string]any{"title": "PD", "date_of_field_visit": ""}, nil
	}
	fields := func(obj domain.Object, user domain.User) []string {
		return []string{"title", "date_of_field_visit"}
	}
	errs := RequireNonEmpty(fields, image)(context.Background(), nil, &domain.Engagement{}, domain.SystemUser)
	if len(errs) != 1 {
		t.Fatalf("expected one failing field, got %v", errs)
	}
	if got := errs["date_of_field_visit"]; len(got) != 1 || got[0] != "required" {
		t.Fatalf("unexpected messages: %v", got)
	}
}
