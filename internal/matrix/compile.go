// Package matrix compiles CSV decision tables into an indexed permission
// structure and answers field-level allow/deny questions for every read,
// write, and transition attempt.
package matrix

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"govcore/internal/condition"
	"govcore/pkg/domain"
)

// RuleAction enumerates the decision table actions.
type RuleAction string

// Actions a decision table row may govern.
const (
	ActionView     RuleAction = "view"
	ActionEdit     RuleAction = "edit"
	ActionRequired RuleAction = "required"
)

// Wildcard is the field key matching any field of a type.
const Wildcard = "*"

var csvHeader = []string{"Group", "Status", "Field", "Action", "Allowed", "Condition"}

// Rule is one compiled row: an outcome plus the AND-set of atoms that must
// hold for the row to apply.
type Rule struct {
	Allowed    bool
	Conditions []condition.Atom
	// Source identifies the originating file and line for logging; it is
	// never surfaced to callers.
	Source string
}

type typeMatrix struct {
	actions map[RuleAction]map[string][]Rule
}

func newTypeMatrix() *typeMatrix {
	return &typeMatrix{actions: map[RuleAction]map[string][]Rule{
		ActionView:     {},
		ActionEdit:     {},
		ActionRequired: {},
	}}
}

// Matrix is the compiled, immutable decision table for all governed types.
// It is replaced wholesale on invalidation, never mutated in place.
type Matrix struct {
	types map[domain.ObjectType]*typeMatrix
}

// NewMatrix returns an empty matrix; every decision falls back to defaults.
func NewMatrix() *Matrix {
	return &Matrix{types: map[domain.ObjectType]*typeMatrix{}}
}

// Compile parses one CSV decision table for the given governed type and merges
// it into the matrix. The header row is mandatory; blank Field cells and
// contradictory rows are compile-time errors.
func (m *Matrix) Compile(t domain.ObjectType, r io.Reader, source string) error {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("matrix %s: read header: %w", source, err)
	}
	if err := checkHeader(header); err != nil {
		return fmt.Errorf("matrix %s: %w", source, err)
	}
	tm, ok := m.types[t]
	if !ok {
		tm = newTypeMatrix()
		m.types[t] = tm
	}
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return fmt.Errorf("matrix %s line %d: %w", source, line, err)
		}
		if err := tm.addRow(t, record, fmt.Sprintf("%s:%d", source, line)); err != nil {
			return err
		}
	}
	tm.sortBySpecificity()
	return tm.checkConsistency(t)
}

func checkHeader(header []string) error {
	if len(header) != len(csvHeader) {
		return fmt.Errorf("expected %d header columns, got %d", len(csvHeader), len(header))
	}
	for i, want := range csvHeader {
		if !strings.EqualFold(strings.TrimSpace(header[i]), want) {
			return fmt.Errorf("expected header column %q, got %q", want, header[i])
		}
	}
	return nil
}

func (tm *typeMatrix) addRow(t domain.ObjectType, record []string, source string) error {
	if len(record) != len(csvHeader) {
		return domain.MatrixError{Object: t, Reason: fmt.Sprintf("row %s has %d columns", source, len(record))}
	}
	group := strings.TrimSpace(record[0])
	status := strings.TrimSpace(record[1])
	field := strings.TrimSpace(record[2])
	action := RuleAction(strings.ToLower(strings.TrimSpace(record[3])))
	allowedText := strings.ToLower(strings.TrimSpace(record[4]))
	conditionText := strings.TrimSpace(record[5])

	if field == "" {
		return domain.MatrixError{Object: t, Action: string(action), Reason: fmt.Sprintf("blank field at %s", source)}
	}
	if _, ok := tm.actions[action]; !ok {
		return domain.MatrixError{Object: t, Field: field, Reason: fmt.Sprintf("unknown action %q at %s", record[3], source)}
	}
	var allowed bool
	switch allowedText {
	case "true":
		allowed = true
	case "false":
		allowed = false
	default:
		return domain.MatrixError{Object: t, Field: field, Action: string(action), Reason: fmt.Sprintf("unknown allowed value %q at %s", record[4], source)}
	}

	rule := Rule{Allowed: allowed, Source: source}
	if group != "" {
		atom, err := parseSingleAtom("group=" + group)
		if err != nil {
			return domain.MatrixError{Object: t, Field: field, Action: string(action), Reason: err.Error()}
		}
		rule.Conditions = append(rule.Conditions, atom)
	}
	if status != "" {
		atom, err := parseSingleAtom("status=" + status)
		if err != nil {
			return domain.MatrixError{Object: t, Field: field, Action: string(action), Reason: err.Error()}
		}
		rule.Conditions = append(rule.Conditions, atom)
	}
	if conditionText != "" {
		pred, err := condition.Parse(conditionText)
		if err != nil {
			return domain.MatrixError{Object: t, Field: field, Action: string(action), Reason: err.Error()}
		}
		rule.Conditions = append(rule.Conditions, pred.Atoms...)
	}
	tm.actions[action][field] = append(tm.actions[action][field], rule)
	return nil
}

func parseSingleAtom(expr string) (condition.Atom, error) {
	pred, err := condition.Parse(expr)
	if err != nil {
		return condition.Atom{}, err
	}
	if len(pred.Atoms) != 1 {
		return condition.Atom{}, fmt.Errorf("expected single atom in %q", expr)
	}
	return pred.Atoms[0], nil
}

func (tm *typeMatrix) sortBySpecificity() {
	for _, fields := range tm.actions {
		for field := range fields {
			rules := fields[field]
			sort.SliceStable(rules, func(i, j int) bool {
				return len(rules[i].Conditions) > len(rules[j].Conditions)
			})
			fields[field] = rules
		}
	}
}

// checkConsistency proves that rows with opposite outcomes for the same
// (field, action) can never both be satisfied by one request. Two rows are
// disjoint only when an atom of one contradicts an atom of the other;
// identical, subset, and merely overlapping condition sets all admit a
// request that satisfies both, so opposite outcomes there are a hard error.
func (tm *typeMatrix) checkConsistency(t domain.ObjectType) error {
	for action, fields := range tm.actions {
		for field, rules := range fields {
			for i := 0; i < len(rules); i++ {
				for j := i + 1; j < len(rules); j++ {
					a, b := rules[i], rules[j]
					if a.Allowed == b.Allowed || rulesDisjoint(a, b) {
						continue
					}
					return domain.MatrixError{
						Object: t,
						Field:  field,
						Action: string(action),
						Reason: fmt.Sprintf("rows %s and %s reach opposite outcomes and can be satisfied together", a.Source, b.Source),
					}
				}
			}
		}
	}
	return nil
}

// rulesDisjoint reports whether no request can satisfy both rules at once.
func rulesDisjoint(a, b Rule) bool {
	for _, x := range a.Conditions {
		for _, y := range b.Conditions {
			if condition.Contradicts(x, y) {
				return true
			}
		}
	}
	return false
}

// fieldRules returns the compiled rules declared for exactly (action, field).
func (m *Matrix) fieldRules(t domain.ObjectType, action RuleAction, field string) []Rule {
	tm, ok := m.types[t]
	if !ok {
		return nil
	}
	return tm.actions[action][field]
}

// explicitFields lists field keys with explicit rules for an action,
// excluding the wildcard.
func (m *Matrix) explicitFields(t domain.ObjectType, action RuleAction) []string {
	tm, ok := m.types[t]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(tm.actions[action]))
	for field := range tm.actions[action] {
		if field == Wildcard {
			continue
		}
		out = append(out, field)
	}
	sort.Strings(out)
	return out
}

// LoadDir compiles every <type>.csv file under dir into one matrix. File
// names must match registered governed type identifiers.
func LoadDir(dir string) (*Matrix, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read matrix dir: %w", err)
	}
	m := NewMatrix()
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".csv") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".csv")
		t := domain.ObjectType(name)
		if _, ok := domain.NewObject(t); !ok {
			return nil, domain.MatrixError{Object: t, Reason: fmt.Sprintf("file %s does not match a governed type", entry.Name())}
		}
		path := filepath.Join(dir, entry.Name())
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		compileErr := m.Compile(t, f, entry.Name())
		if closeErr := f.Close(); closeErr != nil && compileErr == nil {
			compileErr = closeErr
		}
		if compileErr != nil {
			return nil, compileErr
		}
	}
	return m, nil
}
