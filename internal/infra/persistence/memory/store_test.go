package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"govcore/pkg/domain"
)

func fixedClock(t *testing.T, s *Store) time.Time {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.SetNowFunc(func() time.Time { return now })
	return now
}

func TestCreateStampsMetadata(t *testing.T) {
	store := NewStore(nil)
	now := fixedClock(t, store)

	var created domain.Object
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		obj, err := tx.Create(&domain.Intervention{Title: "PD"})
		created = obj
		return err
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	meta := created.Meta()
	if meta.ID == "" {
		t.Fatalf("expected generated id")
	}
	if meta.Version != 1 {
		t.Fatalf("expected version 1, got %d", meta.Version)
	}
	if !meta.CreatedAt.Equal(now) || !meta.UpdatedAt.Equal(now) {
		t.Fatalf("unexpected timestamps: %+v", meta)
	}

	stored, ok := store.Get(domain.ObjectIntervention, meta.ID)
	if !ok {
		t.Fatalf("created document not committed")
	}
	if stored.(*domain.Intervention).Title != "PD" {
		t.Fatalf("unexpected stored document: %+v", stored)
	}
}

func TestUpdateAdvancesVersion(t *testing.T) {
	store := NewStore(nil)
	fixedClock(t, store)

	var id string
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		obj, err := tx.Create(&domain.Intervention{Title: "PD"})
		if err != nil {
			return err
		}
		id = obj.Meta().ID
		return nil
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.Update(domain.ObjectIntervention, id, func(obj domain.Object) error {
			obj.(*domain.Intervention).Title = "PD v2"
			return nil
		})
		return err
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	stored, _ := store.Get(domain.ObjectIntervention, id)
	if stored.Meta().Version != 2 {
		t.Fatalf("expected version 2, got %d", stored.Meta().Version)
	}
	if stored.(*domain.Intervention).Title != "PD v2" {
		t.Fatalf("update lost: %+v", stored)
	}
}

func TestFailedTransactionDiscardsEverything(t *testing.T) {
	store := NewStore(nil)
	fixedClock(t, store)

	boom := errors.New("boom")
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		obj, err := tx.Create(&domain.Engagement{Base: domain.Base{Status: "partner_contacted"}})
		if err != nil {
			return err
		}
		if _, err := tx.AppendActivity(domain.ActivityEntry{
			TargetType: domain.ObjectEngagement,
			TargetID:   obj.Meta().ID,
			Action:     "create",
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected propagated error, got %v", err)
	}
	if got := store.List(domain.ObjectEngagement); len(got) != 0 {
		t.Fatalf("rolled-back document committed: %+v", got)
	}
}

type denyRule struct{}

func (denyRule) Name() string { return "deny-all" }
func (denyRule) Evaluate(ctx context.Context, view domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	if len(changes) == 0 {
		return domain.Result{}, nil
	}
	return domain.Result{Violations: []domain.Violation{{
		Rule:     "deny-all",
		Severity: domain.SeverityBlock,
		Message:  "rejected",
	}}}, nil
}

func TestBlockingRuleRollsBackAndDiscardsActivities(t *testing.T) {
	engine := domain.NewRulesEngine()
	engine.Register(denyRule{})
	store := NewStore(engine)
	fixedClock(t, store)

	var id string
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		obj, err := tx.Create(&domain.ActionPoint{Base: domain.Base{Status: "open"}})
		if err != nil {
			return err
		}
		id = obj.Meta().ID
		_, err = tx.AppendActivity(domain.ActivityEntry{
			TargetType: domain.ObjectActionPoint,
			TargetID:   id,
			Action:     "create",
		})
		return err
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected rule violation, got %v", err)
	}
	if _, ok := store.Get(domain.ObjectActionPoint, id); ok {
		t.Fatalf("blocked document committed")
	}
	if got := store.History(domain.ObjectActionPoint, id); len(got) != 0 {
		t.Fatalf("blocked activity committed: %+v", got)
	}
}

func TestActivityOrderIsAppendOrder(t *testing.T) {
	store := NewStore(nil)
	fixedClock(t, store)

	var id string
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		obj, err := tx.Create(&domain.Intervention{Title: "PD"})
		if err != nil {
			return err
		}
		id = obj.Meta().ID
		for _, action := range []string{"create", "update", "transition"} {
			if _, err := tx.AppendActivity(domain.ActivityEntry{
				TargetType: domain.ObjectIntervention,
				TargetID:   id,
				Action:     domain.Action(action),
			}); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	history := store.History(domain.ObjectIntervention, id)
	if len(history) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(history))
	}
	for i, want := range []string{"create", "update", "transition"} {
		if history[i].Action != domain.Action(want) {
			t.Fatalf("entry %d out of order: %+v", i, history[i])
		}
	}
}

func TestDeleteGuardedByHistory(t *testing.T) {
	store := NewStore(nil)
	fixedClock(t, store)

	var id string
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		obj, err := tx.Create(&domain.Intervention{Title: "PD"})
		if err != nil {
			return err
		}
		id = obj.Meta().ID
		_, err = tx.AppendActivity(domain.ActivityEntry{
			TargetType: domain.ObjectIntervention,
			TargetID:   id,
			Action:     "create",
		})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		return tx.Delete(domain.ObjectIntervention, id)
	})
	if err == nil {
		t.Fatalf("expected delete to be refused while history exists")
	}
	if _, ok := store.Get(domain.ObjectIntervention, id); !ok {
		t.Fatalf("document disappeared despite refused delete")
	}
}

func TestAmendmentRoundTrip(t *testing.T) {
	store := NewStore(nil)
	fixedClock(t, store)

	var amendmentID string
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		a, err := tx.CreateAmendment(domain.Amendment{
			ObjectType: domain.ObjectIntervention,
			OriginalID: "i-1",
			AmendedID:  "i-2",
			Kind:       domain.AmendmentBudget,
			IsActive:   true,
		})
		amendmentID = a.ID
		return err
	}); err != nil {
		t.Fatalf("create amendment: %v", err)
	}

	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.UpdateAmendment(amendmentID, func(a *domain.Amendment) error {
			a.IsActive = false
			return nil
		})
		return err
	}); err != nil {
		t.Fatalf("update amendment: %v", err)
	}

	a, ok := store.FindAmendment(amendmentID)
	if !ok {
		t.Fatalf("amendment not committed")
	}
	if a.IsActive {
		t.Fatalf("amendment update lost")
	}
	listed := store.Amendments(domain.ObjectIntervention, "i-1")
	if len(listed) != 1 || listed[0].ID != amendmentID {
		t.Fatalf("unexpected listing: %+v", listed)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	store := NewStore(nil)
	fixedClock(t, store)

	var id string
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		obj, err := tx.Create(&domain.Agreement{PartnerName: "Acme"})
		if err != nil {
			return err
		}
		id = obj.Meta().ID
		if _, err := tx.AppendActivity(domain.ActivityEntry{
			TargetType: domain.ObjectAgreement,
			TargetID:   id,
			Action:     "create",
		}); err != nil {
			return err
		}
		_, err = tx.CreateAmendment(domain.Amendment{
			ObjectType: domain.ObjectAgreement,
			OriginalID: id,
			AmendedID:  "twin",
			Kind:       domain.AmendmentAdmin,
			IsActive:   true,
		})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	snapshot, err := store.ExportState()
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	restored := NewStore(nil)
	if err := restored.ImportState(snapshot); err != nil {
		t.Fatalf("import: %v", err)
	}
	obj, ok := restored.Get(domain.ObjectAgreement, id)
	if !ok || obj.(*domain.Agreement).PartnerName != "Acme" {
		t.Fatalf("document lost in round trip")
	}
	if got := restored.History(domain.ObjectAgreement, id); len(got) != 1 {
		t.Fatalf("history lost in round trip: %+v", got)
	}
	if got := restored.Amendments(domain.ObjectAgreement, id); len(got) != 1 || !got[0].IsActive {
		t.Fatalf("amendments lost in round trip: %+v", got)
	}
}
