package core

import (
	"context"
	"fmt"

	"govcore/pkg/domain"
)

// OpenAmendment forks an amendment twin of a document and returns the
// amendment record linking the pair.
func (s *Service) OpenAmendment(ctx context.Context, user domain.User, t domain.ObjectType, id string, kind domain.AmendmentKind) (domain.Amendment, error) {
	var record domain.Amendment
	err := s.instrument(ctx, "open_amendment_"+string(t), user, t, id, func(ctx context.Context) error {
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			opened, _, err := s.amendments.Open(tx, t, id, kind, user)
			if err != nil {
				return err
			}
			record = opened
			return nil
		})
		return err
	})
	if err != nil {
		return domain.Amendment{}, err
	}
	return record, nil
}

// FinalizeAmendment merges an active amendment back into its original,
// records the difference and the organization signature, and deactivates the
// amendment.
func (s *Service) FinalizeAmendment(ctx context.Context, user domain.User, amendmentID string) (domain.Amendment, error) {
	located, ok := s.store.FindAmendment(amendmentID)
	if !ok {
		return domain.Amendment{}, domain.InternalError{Err: fmt.Errorf("amendment %q not found", amendmentID)}
	}
	var final domain.Amendment
	err := s.instrument(ctx, "finalize_amendment_"+string(located.ObjectType), user, located.ObjectType, located.OriginalID, func(ctx context.Context) error {
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			record, ok := findAmendmentInTx(tx, located.ObjectType, located.OriginalID, amendmentID)
			if !ok {
				return domain.InternalError{Err: fmt.Errorf("amendment %q not found", amendmentID)}
			}
			merged, updated, err := s.amendments.Finalize(ctx, tx, record, user, s.clock.Now())
			if err != nil {
				return err
			}
			if err := s.amendments.Mirror(tx, updated); err != nil {
				return domain.InternalError{Err: err}
			}
			final = merged
			return nil
		})
		return err
	})
	if err != nil {
		return domain.Amendment{}, err
	}
	return final, nil
}

// DiscardAmendment deactivates an amendment without merging its content.
func (s *Service) DiscardAmendment(ctx context.Context, user domain.User, amendmentID string) (domain.Amendment, error) {
	located, ok := s.store.FindAmendment(amendmentID)
	if !ok {
		return domain.Amendment{}, domain.InternalError{Err: fmt.Errorf("amendment %q not found", amendmentID)}
	}
	var discarded domain.Amendment
	err := s.instrument(ctx, "discard_amendment_"+string(located.ObjectType), user, located.ObjectType, located.OriginalID, func(ctx context.Context) error {
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			record, ok := findAmendmentInTx(tx, located.ObjectType, located.OriginalID, amendmentID)
			if !ok {
				return domain.InternalError{Err: fmt.Errorf("amendment %q not found", amendmentID)}
			}
			dropped, err := s.amendments.Discard(tx, record, user)
			if err != nil {
				return err
			}
			discarded = dropped
			return nil
		})
		return err
	})
	if err != nil {
		return domain.Amendment{}, err
	}
	return discarded, nil
}

// Amendments lists the amendment records attached to a document.
func (s *Service) Amendments(ctx context.Context, t domain.ObjectType, id string) []domain.Amendment {
	return s.store.Amendments(t, id)
}

// findAmendmentInTx re-reads an amendment inside the transaction so the
// decision to finalize or discard is made against committed state.
func findAmendmentInTx(tx domain.Transaction, t domain.ObjectType, originalID, amendmentID string) (domain.Amendment, bool) {
	for _, record := range tx.Amendments(t, originalID) {
		if record.ID == amendmentID {
			return record, true
		}
	}
	return domain.Amendment{}, false
}
