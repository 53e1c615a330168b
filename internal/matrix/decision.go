package matrix

import (
	"sync/atomic"

	"govcore/internal/condition"
)

// Defaults encode the baseline the matrix deviates from: every field is
// visible, nothing is editable, nothing is required.
const (
	defaultView     = true
	defaultEdit     = false
	defaultRequired = false
)

// Permissions is the per-field decision map embedded in detail responses.
type Permissions struct {
	View     map[string]bool `json:"view"`
	Edit     map[string]bool `json:"edit"`
	Required map[string]bool `json:"required"`
}

// Decider answers permission questions against the compiled matrix. The
// matrix pointer is swapped atomically on invalidation; in-flight requests
// keep the version they started with.
type Decider struct {
	matrix atomic.Pointer[Matrix]
	logf   func(format string, args ...any)
}

// NewDecider wraps a compiled matrix.
func NewDecider(m *Matrix) *Decider {
	d := &Decider{}
	if m == nil {
		m = NewMatrix()
	}
	d.matrix.Store(m)
	return d
}

// SetLogf installs a logging hook for denied rules and evaluation errors.
func (d *Decider) SetLogf(logf func(format string, args ...any)) {
	d.logf = logf
}

func (d *Decider) log(format string, args ...any) {
	if d.logf != nil {
		d.logf(format, args...)
	}
}

// Replace swaps the compiled matrix atomically.
func (d *Decider) Replace(m *Matrix) {
	if m == nil {
		m = NewMatrix()
	}
	d.matrix.Store(m)
}

// Current returns the matrix version in effect for this call.
func (d *Decider) Current() *Matrix {
	return d.matrix.Load()
}

// Can answers a type-level decision (create, list) via the wildcard target.
func (d *Decider) Can(ctx *condition.Context, action RuleAction) bool {
	return d.CanField(ctx, Wildcard, action)
}

// CanField answers a field-level decision. Rules are consulted in specificity
// order; the first rule whose AND-set holds decides. Evaluation errors deny
// and are logged, never propagated. Edit access always implies view access.
func (d *Decider) CanField(ctx *condition.Context, field string, action RuleAction) bool {
	allowed := d.decide(ctx, field, action)
	if action == ActionView && !allowed && d.decide(ctx, field, ActionEdit) {
		allowed = true
	}
	return allowed
}

// decide consults field-specific rules first; when none is satisfied the
// wildcard rules act as the per-type baseline before the global default.
func (d *Decider) decide(ctx *condition.Context, field string, action RuleAction) bool {
	current := d.Current()
	if decision, decided := d.evaluate(ctx, current.fieldRules(ctx.ObjectType, action, field), field, action); decided {
		return decision
	}
	if field != Wildcard {
		if decision, decided := d.evaluate(ctx, current.fieldRules(ctx.ObjectType, action, Wildcard), field, action); decided {
			return decision
		}
	}
	return defaultFor(action)
}

// evaluate walks the rule list and returns the first decisive outcome.
func (d *Decider) evaluate(ctx *condition.Context, rules []Rule, field string, action RuleAction) (bool, bool) {
	for _, rule := range rules {
		satisfied := true
		for _, atom := range rule.Conditions {
			pred := condition.Predicate{Text: atom.Text, Atoms: []condition.Atom{atom}}
			ok, err := pred.Eval(ctx)
			if err != nil {
				d.log("matrix: rule %s: condition %q failed to evaluate: %v", rule.Source, atom.Text, err)
				return false, true
			}
			if !ok {
				satisfied = false
				break
			}
		}
		if satisfied {
			if !rule.Allowed {
				d.log("matrix: rule %s denied %s on %s.%s", rule.Source, action, ctx.ObjectType, field)
			}
			return rule.Allowed, true
		}
	}
	return false, false
}

// RequiredFields lists the fields whose required=true rules hold in the
// current context. Validators consult this before entering a state.
func (d *Decider) RequiredFields(ctx *condition.Context) []string {
	var out []string
	for _, field := range d.Current().explicitFields(ctx.ObjectType, ActionRequired) {
		if d.CanField(ctx, field, ActionRequired) {
			out = append(out, field)
		}
	}
	return out
}

// RequiredFieldsForStatus evaluates required-field rules as if the document
// were already in the target status. Used by transition guards.
func (d *Decider) RequiredFieldsForStatus(ctx *condition.Context, status string) []string {
	return d.RequiredFields(withStatus(ctx, status))
}

// RigidFields lists fields with an explicit, satisfied edit=false rule for
// the current status. Only declared deviations freeze fields; the edit=deny
// default does not.
func (d *Decider) RigidFields(ctx *condition.Context) []string {
	current := d.Current()
	var out []string
	for _, field := range current.explicitFields(ctx.ObjectType, ActionEdit) {
		rules := current.fieldRules(ctx.ObjectType, ActionEdit, field)
		decision, decided := d.evaluate(ctx, rules, field, ActionEdit)
		if decided && !decision {
			out = append(out, field)
		}
	}
	return out
}

// RigidFieldsForStatus evaluates edit=false rules as if the document were
// already in the target status. Transitions refuse payload writes to fields
// frozen in the state being entered.
func (d *Decider) RigidFieldsForStatus(ctx *condition.Context, status string) []string {
	return d.RigidFields(withStatus(ctx, status))
}

// Permissions computes the view/edit/required maps for the given fields.
func (d *Decider) Permissions(ctx *condition.Context, fields []string) Permissions {
	perms := Permissions{
		View:     make(map[string]bool, len(fields)),
		Edit:     make(map[string]bool, len(fields)),
		Required: make(map[string]bool, len(fields)),
	}
	for _, field := range fields {
		perms.View[field] = d.CanField(ctx, field, ActionView)
		perms.Edit[field] = d.CanField(ctx, field, ActionEdit)
		perms.Required[field] = d.CanField(ctx, field, ActionRequired)
	}
	return perms
}

func defaultFor(action RuleAction) bool {
	switch action {
	case ActionView:
		return defaultView
	case ActionEdit:
		return defaultEdit
	default:
		return defaultRequired
	}
}

// withStatus derives a context whose object reports the given status. The
// memo is not carried over: status-dependent atoms must re-evaluate.
func withStatus(ctx *condition.Context, status string) *condition.Context {
	obj := make(map[string]any, len(ctx.Object)+1)
	for k, v := range ctx.Object {
		obj[k] = v
	}
	obj["status"] = status
	return condition.NewContext(ctx.User, ctx.ObjectType, obj, ctx.OldObject, ctx.NewObject)
}
