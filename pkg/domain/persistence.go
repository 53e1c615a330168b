package domain

import "context"

// Transaction exposes the document operations a persistence implementation
// must support within one atomic scope. Activity entries appended here share
// the fate of the transaction: a failed commit discards them.
type Transaction interface {
	Snapshot() TransactionView
	Create(obj Object) (Object, error)
	Update(t ObjectType, id string, mutate func(Object) error) (Object, error)
	Delete(t ObjectType, id string) error
	Get(t ObjectType, id string) (Object, bool)
	AppendActivity(entry ActivityEntry) (ActivityEntry, error)
	CreateAmendment(a Amendment) (Amendment, error)
	UpdateAmendment(id string, mutate func(*Amendment) error) (Amendment, error)
	Amendments(t ObjectType, id string) []Amendment
}

// TransactionView provides read-only access to snapshot data for rules and
// validators.
type TransactionView interface {
	Get(t ObjectType, id string) (Object, bool)
	List(t ObjectType) []Object
	Activities(t ObjectType, id string) []ActivityEntry
	Amendments(t ObjectType, id string) []Amendment
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	Get(t ObjectType, id string) (Object, bool)
	List(t ObjectType) []Object
	History(t ObjectType, id string) []ActivityEntry
	Amendments(t ObjectType, id string) []Amendment
	FindAmendment(id string) (Amendment, bool)
}
