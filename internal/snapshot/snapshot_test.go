package snapshot

import (
	"reflect"
	"testing"

	"govcore/pkg/domain"
)

type stubView struct {
	objects map[string]domain.Object
}

func (v stubView) Get(t domain.ObjectType, id string) (domain.Object, bool) {
	obj, ok := v.objects[string(t)+"/"+id]
	return obj, ok
}
func (v stubView) List(domain.ObjectType) []domain.Object                      { return nil }
func (v stubView) Activities(domain.ObjectType, string) []domain.ActivityEntry { return nil }
func (v stubView) Amendments(domain.ObjectType, string) []domain.Amendment     { return nil }

func interventionImage(t *testing.T, engine *Engine, obj *domain.Intervention) map[string]any {
	t.Helper()
	image, err := engine.Image(stubView{}, obj)
	if err != nil {
		t.Fatalf("image: %v", err)
	}
	return image
}

func TestNestedScalarAndAppendDiff(t *testing.T) {
	engine := NewEngine()
	before := &domain.Intervention{
		Base:  domain.Base{ID: "i-1", Status: "draft"},
		Title: "PD",
		PlannedBudget: &domain.PlannedBudget{
			Currency:        "USD",
			UnicefCashLocal: 100,
		},
		SupplyItems: []domain.SupplyItem{{Title: "tents", UnitNumber: 2, UnitPrice: 10, TotalPrice: 20}},
	}
	after := &domain.Intervention{
		Base:  domain.Base{ID: "i-1", Status: "draft"},
		Title: "PD",
		PlannedBudget: &domain.PlannedBudget{
			Currency:        "USD",
			UnicefCashLocal: 200,
		},
		SupplyItems: []domain.SupplyItem{
			{Title: "tents", UnitNumber: 2, UnitPrice: 10, TotalPrice: 20},
			{Title: "kits", UnitNumber: 1, UnitPrice: 5, TotalPrice: 5},
		},
	}

	diff := Diff(interventionImage(t, engine, before), interventionImage(t, engine, after))
	if diff == nil {
		t.Fatalf("expected non-empty diff")
	}

	budget, ok := diff["planned_budget"].(map[string]any)
	if !ok {
		t.Fatalf("expected nested budget diff, got %T", diff["planned_budget"])
	}
	cash, ok := budget["unicef_cash_local"].(map[string]any)
	if !ok || cash["before"] != float64(100) || cash["after"] != float64(200) {
		t.Fatalf("unexpected cash diff: %v", budget["unicef_cash_local"])
	}
	// Unchanged siblings are absent.
	if _, present := budget["currency"]; present {
		t.Fatalf("unchanged sibling leaked into diff")
	}
	if _, present := diff["title"]; present {
		t.Fatalf("unchanged field leaked into diff")
	}

	// Length change replaces the whole list.
	supply, ok := diff["supply_items"].(map[string]any)
	if !ok {
		t.Fatalf("expected supply diff, got %T", diff["supply_items"])
	}
	afterList, ok := supply["after"].([]any)
	if !ok || len(afterList) != 2 {
		t.Fatalf("expected replaced list with 2 items: %v", supply["after"])
	}
}

func TestElementwiseRecordDiff(t *testing.T) {
	before := map[string]any{
		"supply_items": []any{
			map[string]any{"title": "tents", "unit_price": float64(10)},
			map[string]any{"title": "kits", "unit_price": float64(5)},
		},
	}
	after := map[string]any{
		"supply_items": []any{
			map[string]any{"title": "tents", "unit_price": float64(10)},
			map[string]any{"title": "kits", "unit_price": float64(7)},
		},
	}
	diff := Diff(before, after)
	items, ok := diff["supply_items"].(map[string]any)
	if !ok {
		t.Fatalf("expected elementwise diff, got %T", diff["supply_items"])
	}
	if _, present := items["0"]; present {
		t.Fatalf("unchanged element leaked into diff")
	}
	elem, ok := items["1"].(map[string]any)
	if !ok {
		t.Fatalf("expected nested element diff: %v", items["1"])
	}
	price, ok := elem["unit_price"].(map[string]any)
	if !ok || price["before"] != float64(5) || price["after"] != float64(7) {
		t.Fatalf("unexpected element diff: %v", elem)
	}
}

func TestEmptyDiffIsNil(t *testing.T) {
	image := map[string]any{"a": "x", "b": map[string]any{"c": float64(1)}}
	if diff := Diff(image, image); diff != nil {
		t.Fatalf("expected nil diff, got %v", diff)
	}
}

func TestRelationImageAndIgnore(t *testing.T) {
	engine := NewEngine()
	engine.Configure(domain.ObjectIntervention, Config{
		IgnoreFields: []string{"version"},
		Relations: []RelationSpec{
			{
				Name: "agreement",
				Load: func(view domain.TransactionView, obj domain.Object) (any, error) {
					intervention := obj.(*domain.Intervention)
					if intervention.AgreementID == nil {
						return nil, nil
					}
					related, _ := view.Get(domain.ObjectAgreement, *intervention.AgreementID)
					return related, nil
				},
				Ignore: []string{"authorized_officer_ids"},
			},
		},
	})

	agreementID := "a-1"
	view := stubView{objects: map[string]domain.Object{
		"agreement/a-1": &domain.Agreement{
			Base:                 domain.Base{ID: "a-1", Status: "signed"},
			PartnerName:          "Acme",
			AuthorizedOfficerIDs: []string{"u-1"},
		},
	}}
	obj := &domain.Intervention{
		Base:        domain.Base{ID: "i-1", Status: "draft", Version: 3},
		AgreementID: &agreementID,
	}
	image, err := engine.Image(view, obj)
	if err != nil {
		t.Fatalf("image: %v", err)
	}
	if _, present := image["version"]; present {
		t.Fatalf("ignored field present in image")
	}
	related, ok := image["agreement"].(map[string]any)
	if !ok {
		t.Fatalf("expected related image, got %T", image["agreement"])
	}
	if related["partner_name"] != "Acme" {
		t.Fatalf("unexpected relation image: %v", related)
	}
	if _, present := related["authorized_officer_ids"]; present {
		t.Fatalf("ignored relation key present")
	}
}

func TestCoerceFallsBackToString(t *testing.T) {
	if got := coerce(make(chan int)); got == nil {
		t.Fatalf("expected string coercion for non-JSON value")
	} else if _, ok := got.(string); !ok {
		t.Fatalf("expected string, got %T", got)
	}
}

func TestApplyReconstructsPostImage(t *testing.T) {
	before := map[string]any{
		"title":  "PD",
		"status": "draft",
		"planned_budget": map[string]any{
			"currency":          "USD",
			"unicef_cash_local": float64(100),
		},
		"supply_items": []any{
			map[string]any{"title": "tents", "unit_price": float64(10)},
		},
	}
	after := map[string]any{
		"title":  "PD v2",
		"status": "signed",
		"planned_budget": map[string]any{
			"currency":          "USD",
			"unicef_cash_local": float64(200),
		},
		"supply_items": []any{
			map[string]any{"title": "tents", "unit_price": float64(12)},
		},
	}
	change := Diff(before, after)
	if got := Apply(before, change); !reflect.DeepEqual(got, after) {
		t.Fatalf("apply mismatch:\n got %v\nwant %v", got, after)
	}
}
