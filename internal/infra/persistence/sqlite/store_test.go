package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"govcore/pkg/domain"
)

func TestSnapshotSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "govcore.db")

	store, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	var id string
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		obj, err := tx.Create(&domain.Intervention{Title: "PD", Base: domain.Base{Status: "draft"}})
		if err != nil {
			return err
		}
		id = obj.Meta().ID
		if _, err := tx.AppendActivity(domain.ActivityEntry{
			TargetType: domain.ObjectIntervention,
			TargetID:   id,
			Action:     "create",
		}); err != nil {
			return err
		}
		_, err = tx.CreateAmendment(domain.Amendment{
			ObjectType: domain.ObjectIntervention,
			OriginalID: id,
			AmendedID:  "twin",
			Kind:       domain.AmendmentAdmin,
			IsActive:   true,
		})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	obj, ok := reopened.Get(domain.ObjectIntervention, id)
	if !ok {
		t.Fatalf("document lost across reopen")
	}
	if obj.(*domain.Intervention).Title != "PD" || obj.Meta().Status != "draft" {
		t.Fatalf("unexpected document after reopen: %+v", obj)
	}
	if got := reopened.History(domain.ObjectIntervention, id); len(got) != 1 || got[0].Action != "create" {
		t.Fatalf("history lost across reopen: %+v", got)
	}
	if got := reopened.Amendments(domain.ObjectIntervention, id); len(got) != 1 || !got[0].IsActive {
		t.Fatalf("amendments lost across reopen: %+v", got)
	}
}

func TestDefaultPathAndAccessors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "db", "govcore.db")
	store, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("open with nested dirs: %v", err)
	}
	defer func() { _ = store.Close() }()
	if store.Path() != path {
		t.Fatalf("unexpected path %q", store.Path())
	}
	if store.DB() == nil {
		t.Fatalf("expected database handle")
	}
}
