package condition

import (
	"fmt"
	"strings"

	"govcore/pkg/domain"
)

// Context bundles everything a predicate may consult for one request. Objects
// are JSON-shaped maps so atoms can address arbitrary fields without
// reflection. Atom results are memoized per context keyed by predicate text.
type Context struct {
	User       domain.User
	ObjectType domain.ObjectType
	Object     map[string]any
	OldObject  map[string]any
	NewObject  bool

	memo map[string]memoEntry
}

type memoEntry struct {
	value bool
	err   error
}

// NewContext builds an evaluation context for one request.
func NewContext(user domain.User, t domain.ObjectType, obj, old map[string]any, isNew bool) *Context {
	return &Context{
		User:       user,
		ObjectType: t,
		Object:     obj,
		OldObject:  old,
		NewObject:  isNew,
	}
}

// Eval evaluates the conjunction; every atom must hold. Errors fail closed.
func (p Predicate) Eval(ctx *Context) (bool, error) {
	for _, atom := range p.Atoms {
		ok, err := ctx.evalAtom(atom)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (c *Context) evalAtom(atom Atom) (bool, error) {
	if c.memo == nil {
		c.memo = make(map[string]memoEntry)
	}
	if cached, ok := c.memo[atom.Text]; ok {
		return cached.value, cached.err
	}
	value, err := c.evalAtomUncached(atom)
	c.memo[atom.Text] = memoEntry{value: value, err: err}
	return value, err
}

func (c *Context) evalAtomUncached(atom Atom) (bool, error) {
	value, err := c.evalBase(atom)
	if err != nil {
		// Negation never turns an undefined predicate into an allow.
		return false, err
	}
	if atom.Negated {
		return !value, nil
	}
	return value, nil
}

func (c *Context) evalBase(atom Atom) (bool, error) {
	switch atom.Kind {
	case KindNew:
		return c.NewObject, nil
	case KindGroup:
		return c.User.InGroup(atom.Value), nil
	case KindStatus:
		status, _ := c.lookup("status").(string)
		return status == atom.Value, nil
	case KindUserAttr:
		if string(c.ObjectType) != atom.Type {
			return false, nil
		}
		return valueReferencesUser(c.lookup(atom.Field), c.User.ID), nil
	case KindAttr:
		if string(c.ObjectType) != atom.Type {
			return false, nil
		}
		return truthy(c.lookup(atom.Field)), nil
	default:
		return false, fmt.Errorf("unknown predicate kind for %q", atom.Text)
	}
}

// lookup resolves a possibly dotted field path against the object map.
func (c *Context) lookup(path string) any {
	current := any(c.Object)
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = m[segment]
		if !ok {
			return nil
		}
	}
	return current
}

func valueReferencesUser(value any, userID string) bool {
	switch tv := value.(type) {
	case string:
		return tv == userID
	case []any:
		for _, item := range tv {
			if valueReferencesUser(item, userID) {
				return true
			}
		}
		return false
	case map[string]any:
		id, _ := tv["id"].(string)
		return id == userID
	default:
		return false
	}
}

func truthy(value any) bool {
	switch tv := value.(type) {
	case nil:
		return false
	case bool:
		return tv
	case string:
		return tv != ""
	case float64:
		return tv != 0
	case []any:
		return len(tv) > 0
	case map[string]any:
		return len(tv) > 0
	default:
		return true
	}
}
