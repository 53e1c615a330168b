// Package statemachine declares governed lifecycle blueprints: the closed
// state set, the transitions with their guards and role requirements, and the
// per-type registry built once at type registration.
package statemachine

import (
	"context"
	"fmt"

	"govcore/internal/snapshot"
	"govcore/internal/validation"
	"govcore/pkg/domain"
)

// State is a symbolic lifecycle state, optionally terminal.
type State struct {
	Name     string
	Terminal bool
}

// GuardContext carries what a predicate guard may inspect. Guards are pure
// functions of the document.
type GuardContext struct {
	Object domain.Object
	Fields map[string]any
	User   domain.User
}

// Guard is a named predicate evaluated before a transition executes.
type Guard struct {
	Name  string
	Check func(gc GuardContext) (bool, error)
}

// Transition declares one edge of the lifecycle graph.
type Transition struct {
	Name string
	From []string
	To   string
	// Guards are predicate guards; required-field and rigid-field guards
	// are enforced uniformly by the engine from the permission matrix.
	Guards []Guard
	// RequiredGroups lists groups of which the caller must hold at least
	// one. Empty means any caller the matrix admits.
	RequiredGroups []string
	// Validate is the transition entry validator; it may consult related
	// documents through the view.
	Validate func(ctx context.Context, view domain.TransactionView, obj domain.Object, user domain.User) domain.FieldErrors
	// OnEnter applies side effects after the status mutation, inside the
	// same transaction.
	OnEnter func(ctx context.Context, tx domain.Transaction, obj domain.Object, user domain.User) error
	// Notifications names the hooks dispatched after a successful commit.
	Notifications []string
}

// Blueprint is the full governance declaration for one document type.
type Blueprint struct {
	Type         domain.ObjectType
	States       []State
	Initial      string
	Transitions  []Transition
	Relations    []snapshot.RelationSpec
	IgnoreFields []string
	// MirrorRelations lists fields propagated from an original document to
	// its active amendment twins on every accepted mutation.
	MirrorRelations []string
	// Validators maps state names to the validator run on any save while
	// the document occupies that state.
	Validators map[string]validation.Validator
	// AmendmentKinds enumerates the amendment tracks the type supports.
	AmendmentKinds []domain.AmendmentKind
	// AmendmentSignTransition names the transition a twin must complete
	// before its content merges back into the original. Required for types
	// declaring amendment kinds.
	AmendmentSignTransition string
}

type compiled struct {
	blueprint   Blueprint
	states      map[string]State
	transitions map[string]Transition
	fromIndex   map[string][]string
}

// Registry holds compiled blueprints. It is populated during startup and
// never mutated by request handlers.
type Registry struct {
	types map[domain.ObjectType]*compiled
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[domain.ObjectType]*compiled)}
}

// Register compiles and installs a blueprint. Registration fails on
// duplicate types, undeclared states, or malformed transitions.
func (r *Registry) Register(bp Blueprint) error {
	if bp.Type == "" {
		return fmt.Errorf("blueprint missing type")
	}
	if _, exists := r.types[bp.Type]; exists {
		return fmt.Errorf("type %s already registered", bp.Type)
	}
	if len(bp.States) == 0 {
		return fmt.Errorf("type %s declares no states", bp.Type)
	}
	c := &compiled{
		blueprint:   bp,
		states:      make(map[string]State, len(bp.States)),
		transitions: make(map[string]Transition, len(bp.Transitions)),
		fromIndex:   make(map[string][]string),
	}
	for _, state := range bp.States {
		if state.Name == "" {
			return fmt.Errorf("type %s declares an unnamed state", bp.Type)
		}
		if _, dup := c.states[state.Name]; dup {
			return fmt.Errorf("type %s declares state %q twice", bp.Type, state.Name)
		}
		c.states[state.Name] = state
	}
	if _, ok := c.states[bp.Initial]; !ok {
		return fmt.Errorf("type %s initial state %q not declared", bp.Type, bp.Initial)
	}
	for _, tr := range bp.Transitions {
		if tr.Name == "" {
			return fmt.Errorf("type %s declares an unnamed transition", bp.Type)
		}
		if _, dup := c.transitions[tr.Name]; dup {
			return fmt.Errorf("type %s declares transition %q twice", bp.Type, tr.Name)
		}
		if _, ok := c.states[tr.To]; !ok {
			return fmt.Errorf("transition %s.%s targets undeclared state %q", bp.Type, tr.Name, tr.To)
		}
		if len(tr.From) == 0 {
			return fmt.Errorf("transition %s.%s has no source states", bp.Type, tr.Name)
		}
		for _, from := range tr.From {
			if _, ok := c.states[from]; !ok {
				return fmt.Errorf("transition %s.%s leaves undeclared state %q", bp.Type, tr.Name, from)
			}
			c.fromIndex[from] = append(c.fromIndex[from], tr.Name)
		}
		c.transitions[tr.Name] = tr
	}
	for state := range bp.Validators {
		if _, ok := c.states[state]; !ok {
			return fmt.Errorf("type %s registers validator for undeclared state %q", bp.Type, state)
		}
	}
	if len(bp.AmendmentKinds) > 0 {
		if bp.AmendmentSignTransition == "" {
			return fmt.Errorf("type %s declares amendment kinds without a sign transition", bp.Type)
		}
		if _, ok := c.transitions[bp.AmendmentSignTransition]; !ok {
			return fmt.Errorf("type %s amendment sign transition %q not declared", bp.Type, bp.AmendmentSignTransition)
		}
	}
	r.types[bp.Type] = c
	return nil
}

// Blueprint returns the registered blueprint for a type.
func (r *Registry) Blueprint(t domain.ObjectType) (Blueprint, bool) {
	c, ok := r.types[t]
	if !ok {
		return Blueprint{}, false
	}
	return c.blueprint, true
}

// Types lists the registered governed types.
func (r *Registry) Types() []domain.ObjectType {
	out := make([]domain.ObjectType, 0, len(r.types))
	for t := range r.types {
		out = append(out, t)
	}
	return out
}

// Initial returns the declared initial state for a type.
func (r *Registry) Initial(t domain.ObjectType) (string, bool) {
	c, ok := r.types[t]
	if !ok {
		return "", false
	}
	return c.blueprint.Initial, true
}

// Transition resolves a declared transition by name.
func (r *Registry) Transition(t domain.ObjectType, name string) (Transition, bool) {
	c, ok := r.types[t]
	if !ok {
		return Transition{}, false
	}
	tr, ok := c.transitions[name]
	return tr, ok
}

// TransitionsFrom lists the transitions declared to leave the given status,
// in declaration order.
func (r *Registry) TransitionsFrom(t domain.ObjectType, status string) []Transition {
	c, ok := r.types[t]
	if !ok {
		return nil
	}
	names := c.fromIndex[status]
	out := make([]Transition, 0, len(names))
	for _, name := range names {
		out = append(out, c.transitions[name])
	}
	return out
}

// ValidState reports whether the status belongs to the type's closed set.
func (r *Registry) ValidState(t domain.ObjectType, status string) bool {
	c, ok := r.types[t]
	if !ok {
		return false
	}
	_, ok = c.states[status]
	return ok
}

// IsTerminal reports whether the status is declared terminal.
func (r *Registry) IsTerminal(t domain.ObjectType, status string) bool {
	c, ok := r.types[t]
	if !ok {
		return false
	}
	state, ok := c.states[status]
	return ok && state.Terminal
}

// Edge reports whether a declared transition leads from one status to
// another. The commit-time lifecycle rule uses this to reject silent jumps.
func (r *Registry) Edge(t domain.ObjectType, from, to string) bool {
	c, ok := r.types[t]
	if !ok {
		return false
	}
	for _, name := range c.fromIndex[from] {
		if c.transitions[name].To == to {
			return true
		}
	}
	return false
}

// Validator resolves the per-state validator for a document's status.
func (r *Registry) Validator(t domain.ObjectType, status string) (validation.Validator, bool) {
	c, ok := r.types[t]
	if !ok {
		return nil, false
	}
	v, ok := c.blueprint.Validators[status]
	return v, ok
}

// SupportsAmendment reports whether the type declares the amendment kind.
func (r *Registry) SupportsAmendment(t domain.ObjectType, kind domain.AmendmentKind) bool {
	c, ok := r.types[t]
	if !ok {
		return false
	}
	for _, k := range c.blueprint.AmendmentKinds {
		if k == kind {
			return true
		}
	}
	return false
}
