// Package condition implements the predicate grammar consulted by the
// permission matrix. Predicates are conjunctions of atoms evaluated against a
// per-request context; evaluation is pure and unknown predicates fail closed.
package condition

import (
	"fmt"
	"strings"
)

// Kind enumerates the atom forms of the grammar.
type Kind int

// Atom kinds, one per production in the grammar.
const (
	// KindGroup matches `group=IDENT`.
	KindGroup Kind = iota
	// KindStatus matches `status=IDENT`.
	KindStatus
	// KindUserAttr matches `user=type.field`.
	KindUserAttr
	// KindAttr matches bare `type.field` truthiness.
	KindAttr
	// KindNew matches the `new` flag.
	KindNew
)

// Atom is a single parsed predicate term.
type Atom struct {
	Text    string
	Negated bool
	Kind    Kind
	// Value carries the right-hand side for group= and status= atoms.
	Value string
	// Type and Field carry the target for attribute atoms.
	Type  string
	Field string
}

// Predicate is a conjunction of atoms; all must hold.
type Predicate struct {
	Text  string
	Atoms []Atom
}

// Parse compiles a predicate expression. An empty expression parses to the
// always-true predicate.
func Parse(expr string) (Predicate, error) {
	pred := Predicate{Text: strings.TrimSpace(expr)}
	if pred.Text == "" {
		return pred, nil
	}
	for _, part := range strings.Split(pred.Text, "&") {
		atom, err := parseAtom(strings.TrimSpace(part))
		if err != nil {
			return Predicate{}, err
		}
		pred.Atoms = append(pred.Atoms, atom)
	}
	return pred, nil
}

func parseAtom(text string) (Atom, error) {
	if text == "" {
		return Atom{}, fmt.Errorf("empty predicate atom")
	}
	atom := Atom{Text: text}
	body := text
	if strings.HasPrefix(body, "!") {
		atom.Negated = true
		body = strings.TrimSpace(body[1:])
	}
	switch {
	case body == "new":
		atom.Kind = KindNew
	case strings.HasPrefix(body, "group="):
		atom.Kind = KindGroup
		atom.Value = strings.TrimSpace(strings.TrimPrefix(body, "group="))
		if atom.Value == "" {
			return Atom{}, fmt.Errorf("predicate %q: empty group name", text)
		}
	case strings.HasPrefix(body, "status="):
		atom.Kind = KindStatus
		atom.Value = strings.TrimSpace(strings.TrimPrefix(body, "status="))
		if atom.Value == "" {
			return Atom{}, fmt.Errorf("predicate %q: empty status name", text)
		}
	case strings.HasPrefix(body, "user!="):
		// user!=type.field is sugar for !(user=type.field).
		atom.Kind = KindUserAttr
		atom.Negated = !atom.Negated
		if err := splitTarget(body[len("user!="):], &atom); err != nil {
			return Atom{}, fmt.Errorf("predicate %q: %w", text, err)
		}
	case strings.HasPrefix(body, "user="):
		atom.Kind = KindUserAttr
		if err := splitTarget(body[len("user="):], &atom); err != nil {
			return Atom{}, fmt.Errorf("predicate %q: %w", text, err)
		}
	case strings.Contains(body, "."):
		atom.Kind = KindAttr
		if err := splitTarget(body, &atom); err != nil {
			return Atom{}, fmt.Errorf("predicate %q: %w", text, err)
		}
	default:
		return Atom{}, fmt.Errorf("unknown predicate %q", text)
	}
	return atom, nil
}

func splitTarget(target string, atom *Atom) error {
	target = strings.TrimSpace(target)
	idx := strings.Index(target, ".")
	if idx <= 0 || idx == len(target)-1 {
		return fmt.Errorf("expected type.field, got %q", target)
	}
	atom.Type = target[:idx]
	atom.Field = target[idx+1:]
	return nil
}

// Contradicts reports whether two atoms can never hold simultaneously. The
// matrix compiler uses this to prove rows with opposite outcomes disjoint.
func Contradicts(a, b Atom) bool {
	if a.Kind != b.Kind {
		return false
	}
	sameTarget := a.Value == b.Value && a.Type == b.Type && a.Field == b.Field
	if sameTarget && a.Negated != b.Negated {
		return true
	}
	// A document has exactly one status, so two distinct positive status
	// atoms exclude each other.
	if a.Kind == KindStatus && !a.Negated && !b.Negated && a.Value != b.Value {
		return true
	}
	return false
}
