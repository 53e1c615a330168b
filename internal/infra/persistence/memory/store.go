// Package memory provides the in-memory transactional store for governed
// documents. Durable backends embed it and snapshot its state after commit.
package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"govcore/pkg/domain"
)

type state struct {
	objects    map[domain.ObjectType]map[string]domain.Object
	activities map[string][]domain.ActivityEntry
	amendments map[string]domain.Amendment
	// amendmentOrder preserves creation order per target for listings.
	amendmentOrder []string
}

func newState() state {
	return state{
		objects:    make(map[domain.ObjectType]map[string]domain.Object),
		activities: make(map[string][]domain.ActivityEntry),
		amendments: make(map[string]domain.Amendment),
	}
}

func targetKey(t domain.ObjectType, id string) string {
	return string(t) + "/" + id
}

func (s state) clone() state {
	cloned := newState()
	for t, bucket := range s.objects {
		dst := make(map[string]domain.Object, len(bucket))
		for id, obj := range bucket {
			dst[id] = domain.MustCloneObject(obj)
		}
		cloned.objects[t] = dst
	}
	for key, entries := range s.activities {
		dst := make([]domain.ActivityEntry, len(entries))
		for i, entry := range entries {
			dst[i] = domain.CloneActivityEntry(entry)
		}
		cloned.activities[key] = dst
	}
	for id, a := range s.amendments {
		cloned.amendments[id] = domain.CloneAmendment(a)
	}
	cloned.amendmentOrder = append([]string(nil), s.amendmentOrder...)
	return cloned
}

// Store provides an in-memory transactional store guarded by a single lock.
// Rules registered with the engine run at commit time; blocking violations
// roll the transaction back.
type Store struct {
	mu     sync.RWMutex
	state  state
	engine *domain.RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs a store backed by the provided rules engine.
func NewStore(engine *domain.RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// RulesEngine exposes the engine for registration of additional rules.
func (s *Store) RulesEngine() *domain.RulesEngine { return s.engine }

// NowFunc returns the clock used to stamp mutations.
func (s *Store) NowFunc() func() time.Time { return s.nowFn }

// SetNowFunc overrides the mutation clock; tests use this for determinism.
func (s *Store) SetNowFunc(fn func() time.Time) {
	if fn != nil {
		s.nowFn = fn
	}
}

func newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// Tx applies a mutation set to a cloned copy of the store state.
type Tx struct {
	store   *Store
	state   state
	changes []domain.Change
	now     time.Time
}

var _ domain.Transaction = (*Tx)(nil)

type view struct {
	state *state
}

var _ domain.TransactionView = view{}

// Get retrieves a document from the snapshot.
func (v view) Get(t domain.ObjectType, id string) (domain.Object, bool) {
	obj, ok := v.state.objects[t][id]
	if !ok {
		return nil, false
	}
	return domain.MustCloneObject(obj), true
}

// List returns all documents of a type from the snapshot.
func (v view) List(t domain.ObjectType) []domain.Object {
	bucket := v.state.objects[t]
	out := make([]domain.Object, 0, len(bucket))
	for _, obj := range bucket {
		out = append(out, domain.MustCloneObject(obj))
	}
	return out
}

// Activities returns the append-ordered history for one document.
func (v view) Activities(t domain.ObjectType, id string) []domain.ActivityEntry {
	entries := v.state.activities[targetKey(t, id)]
	out := make([]domain.ActivityEntry, len(entries))
	for i, entry := range entries {
		out[i] = domain.CloneActivityEntry(entry)
	}
	return out
}

// Amendments returns the amendments recorded against one document.
func (v view) Amendments(t domain.ObjectType, id string) []domain.Amendment {
	var out []domain.Amendment
	for _, amendmentID := range v.state.amendmentOrder {
		a := v.state.amendments[amendmentID]
		if a.ObjectType == t && a.OriginalID == id {
			out = append(out, domain.CloneAmendment(a))
		}
	}
	return out
}

// RunInTransaction executes fn within a transactional copy of the store
// state. Activity entries appended by fn commit or roll back with it.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Tx{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return domain.Result{}, err
	}

	var result domain.Result
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, view{state: &tx.state}, tx.changes)
		if err != nil {
			return domain.Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of committed state.
func (s *Store) View(ctx context.Context, fn func(domain.TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := s.state.clone()
	return fn(view{state: &snapshot})
}

// Snapshot exposes the transactional state to rules and validators.
func (tx *Tx) Snapshot() domain.TransactionView {
	return view{state: &tx.state}
}

func (tx *Tx) recordChange(change domain.Change) {
	tx.changes = append(tx.changes, change)
}

// Changes lists the mutations recorded so far in this transaction.
func (tx *Tx) Changes() []domain.Change {
	return append([]domain.Change(nil), tx.changes...)
}

// Create stores a new governed document.
func (tx *Tx) Create(obj domain.Object) (domain.Object, error) {
	t := obj.ObjectType()
	stored, err := domain.CloneObject(obj)
	if err != nil {
		return nil, err
	}
	meta := stored.Meta()
	if meta.ID == "" {
		meta.ID = newID()
	}
	bucket, ok := tx.state.objects[t]
	if !ok {
		bucket = make(map[string]domain.Object)
		tx.state.objects[t] = bucket
	}
	if _, exists := bucket[meta.ID]; exists {
		return nil, fmt.Errorf("%s %q already exists", t, meta.ID)
	}
	meta.CreatedAt = tx.now
	meta.UpdatedAt = tx.now
	meta.Version = 1
	bucket[meta.ID] = stored

	after, err := domain.NewChangePayloadFromValue(stored)
	if err != nil {
		return nil, err
	}
	tx.recordChange(domain.Change{Object: t, ObjectID: meta.ID, Action: domain.ActionCreate, After: after})
	return domain.CloneObject(stored)
}

// Update mutates a document through the provided mutator. The version
// counter advances on every accepted update.
func (tx *Tx) Update(t domain.ObjectType, id string, mutate func(domain.Object) error) (domain.Object, error) {
	current, ok := tx.state.objects[t][id]
	if !ok {
		return nil, fmt.Errorf("%s %q not found", t, id)
	}
	before, err := domain.NewChangePayloadFromValue(current)
	if err != nil {
		return nil, err
	}
	working, err := domain.CloneObject(current)
	if err != nil {
		return nil, err
	}
	priorVersion := working.Meta().Version
	if err := mutate(working); err != nil {
		return nil, err
	}
	meta := working.Meta()
	meta.ID = id
	meta.Version = priorVersion + 1
	meta.UpdatedAt = tx.now
	tx.state.objects[t][id] = working

	after, err := domain.NewChangePayloadFromValue(working)
	if err != nil {
		return nil, err
	}
	tx.recordChange(domain.Change{Object: t, ObjectID: id, Action: domain.ActionUpdate, Before: before, After: after})
	return domain.CloneObject(working)
}

// Delete removes a document. Documents with recorded history or active
// amendments are retained.
func (tx *Tx) Delete(t domain.ObjectType, id string) error {
	if _, ok := tx.state.objects[t][id]; !ok {
		return fmt.Errorf("%s %q not found", t, id)
	}
	if len(tx.state.activities[targetKey(t, id)]) > 0 {
		return fmt.Errorf("%s %q has recorded history and cannot be deleted", t, id)
	}
	for _, a := range tx.Amendments(t, id) {
		if a.IsActive {
			return fmt.Errorf("%s %q has an active amendment and cannot be deleted", t, id)
		}
	}
	delete(tx.state.objects[t], id)
	return nil
}

// Get retrieves a document within the transaction.
func (tx *Tx) Get(t domain.ObjectType, id string) (domain.Object, bool) {
	obj, ok := tx.state.objects[t][id]
	if !ok {
		return nil, false
	}
	return domain.MustCloneObject(obj), true
}

// AppendActivity records an activity entry sharing the transaction's fate.
func (tx *Tx) AppendActivity(entry domain.ActivityEntry) (domain.ActivityEntry, error) {
	if entry.TargetType == "" || entry.TargetID == "" {
		return domain.ActivityEntry{}, fmt.Errorf("activity entry missing target")
	}
	if entry.ID == "" {
		entry.ID = newID()
	}
	entry.CreatedAt = tx.now
	key := targetKey(entry.TargetType, entry.TargetID)
	tx.state.activities[key] = append(tx.state.activities[key], domain.CloneActivityEntry(entry))
	return entry, nil
}

// CreateAmendment stores a new amendment record.
func (tx *Tx) CreateAmendment(a domain.Amendment) (domain.Amendment, error) {
	if a.ID == "" {
		a.ID = newID()
	}
	if _, exists := tx.state.amendments[a.ID]; exists {
		return domain.Amendment{}, fmt.Errorf("amendment %q already exists", a.ID)
	}
	a.CreatedAt = tx.now
	a.UpdatedAt = tx.now
	tx.state.amendments[a.ID] = domain.CloneAmendment(a)
	tx.state.amendmentOrder = append(tx.state.amendmentOrder, a.ID)
	return a, nil
}

// UpdateAmendment mutates an amendment record.
func (tx *Tx) UpdateAmendment(id string, mutate func(*domain.Amendment) error) (domain.Amendment, error) {
	current, ok := tx.state.amendments[id]
	if !ok {
		return domain.Amendment{}, fmt.Errorf("amendment %q not found", id)
	}
	working := domain.CloneAmendment(current)
	if err := mutate(&working); err != nil {
		return domain.Amendment{}, err
	}
	working.ID = id
	working.UpdatedAt = tx.now
	tx.state.amendments[id] = domain.CloneAmendment(working)
	return working, nil
}

// Amendments lists amendments recorded against one document.
func (tx *Tx) Amendments(t domain.ObjectType, id string) []domain.Amendment {
	return view{state: &tx.state}.Amendments(t, id)
}

// Read helpers over committed state -----------------------------------------

// Get retrieves a document by type and ID from committed state.
func (s *Store) Get(t domain.ObjectType, id string) (domain.Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.state.objects[t][id]
	if !ok {
		return nil, false
	}
	return domain.MustCloneObject(obj), true
}

// List returns all committed documents of a type.
func (s *Store) List(t domain.ObjectType) []domain.Object {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket := s.state.objects[t]
	out := make([]domain.Object, 0, len(bucket))
	for _, obj := range bucket {
		out = append(out, domain.MustCloneObject(obj))
	}
	return out
}

// History returns the committed activity entries for one document in append
// order.
func (s *Store) History(t domain.ObjectType, id string) []domain.ActivityEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.state.activities[targetKey(t, id)]
	out := make([]domain.ActivityEntry, len(entries))
	for i, entry := range entries {
		out[i] = domain.CloneActivityEntry(entry)
	}
	return out
}

// Amendments returns committed amendments recorded against one document.
func (s *Store) Amendments(t domain.ObjectType, id string) []domain.Amendment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{state: &s.state}.Amendments(t, id)
}

// FindAmendment resolves a committed amendment by ID.
func (s *Store) FindAmendment(id string) (domain.Amendment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.state.amendments[id]
	if !ok {
		return domain.Amendment{}, false
	}
	return domain.CloneAmendment(a), true
}

// Snapshot is the serialized form of the full store state used by durable
// backends.
type Snapshot struct {
	Objects    map[domain.ObjectType]map[string]json.RawMessage `json:"objects"`
	Activities map[string][]domain.ActivityEntry                `json:"activities"`
	Amendments map[string]domain.Amendment                      `json:"amendments"`
	Order      []string                                         `json:"amendment_order"`
}

// ExportState serializes the committed state.
func (s *Store) ExportState() (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := Snapshot{
		Objects:    make(map[domain.ObjectType]map[string]json.RawMessage),
		Activities: make(map[string][]domain.ActivityEntry),
		Amendments: make(map[string]domain.Amendment),
		Order:      append([]string(nil), s.state.amendmentOrder...),
	}
	for t, bucket := range s.state.objects {
		dst := make(map[string]json.RawMessage, len(bucket))
		for id, obj := range bucket {
			raw, err := json.Marshal(obj)
			if err != nil {
				return Snapshot{}, fmt.Errorf("encode %s %s: %w", t, id, err)
			}
			dst[id] = raw
		}
		snapshot.Objects[t] = dst
	}
	for key, entries := range s.state.activities {
		snapshot.Activities[key] = append([]domain.ActivityEntry(nil), entries...)
	}
	for id, a := range s.state.amendments {
		snapshot.Amendments[id] = domain.CloneAmendment(a)
	}
	return snapshot, nil
}

// ImportState replaces the committed state with the snapshot contents.
func (s *Store) ImportState(snapshot Snapshot) error {
	fresh := newState()
	for t, bucket := range snapshot.Objects {
		dst := make(map[string]domain.Object, len(bucket))
		for id, raw := range bucket {
			obj, ok := domain.NewObject(t)
			if !ok {
				return fmt.Errorf("snapshot contains unknown type %q", t)
			}
			if err := json.Unmarshal(raw, obj); err != nil {
				return fmt.Errorf("decode %s %s: %w", t, id, err)
			}
			dst[id] = obj
		}
		fresh.objects[t] = dst
	}
	for key, entries := range snapshot.Activities {
		fresh.activities[key] = append([]domain.ActivityEntry(nil), entries...)
	}
	for id, a := range snapshot.Amendments {
		fresh.amendments[id] = domain.CloneAmendment(a)
	}
	fresh.amendmentOrder = append([]string(nil), snapshot.Order...)
	if len(fresh.amendmentOrder) == 0 && len(fresh.amendments) > 0 {
		for id := range fresh.amendments {
			fresh.amendmentOrder = append(fresh.amendmentOrder, id)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = fresh
	return nil
}
