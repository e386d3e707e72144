package rules

import (
	"fmt"
	"regexp"
	"time"

	"rulehub/pkg/expr"
)

var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// Validator performs save-time structural validation. It shares the engine
// evaluator so expressions compiled here are already cached for execution.
type Validator struct {
	eval *expr.Evaluator
}

func NewValidator(eval *expr.Evaluator) *Validator {
	return &Validator{eval: eval}
}

// Validate checks a rule before it is persisted. Errors block the save;
// warnings (unreachable tree nodes) are advisory and returned alongside.
func (v *Validator) Validate(rule *Rule) ([]string, error) {
	if rule.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if rule.Version != "" && !semverPattern.MatchString(rule.Version) {
		return nil, fmt.Errorf("version must be semantic (MAJOR.MINOR.PATCH), got %q", rule.Version)
	}
	if !rule.State.Valid() {
		return nil, fmt.Errorf("invalid state: %s. Allowed: draft, staging, prod, archived", rule.State)
	}
	if !rule.Kind.Valid() {
		return nil, fmt.Errorf("invalid kind: %s. Allowed: decision_tree, decision_table, script", rule.Kind)
	}

	if err := v.validateVariant(rule); err != nil {
		return nil, err
	}
	if err := validateSchedule(rule.Schedule); err != nil {
		return nil, err
	}

	switch rule.Kind {
	case KindDecisionTree:
		return v.validateTree(rule.Tree)
	case KindDecisionTable:
		return nil, validateTable(rule.Table)
	case KindScript:
		return nil, v.validateScript(rule.Script)
	}
	return nil, nil
}

// validateVariant enforces the tagged union: exactly one payload, and it
// must be the one the kind names.
func (v *Validator) validateVariant(rule *Rule) error {
	count := 0
	if rule.Tree != nil {
		count++
	}
	if rule.Table != nil {
		count++
	}
	if rule.Script != nil {
		count++
	}
	if count != 1 {
		return fmt.Errorf("exactly one of tree, table, script must be set, got %d", count)
	}

	switch rule.Kind {
	case KindDecisionTree:
		if rule.Tree == nil {
			return fmt.Errorf("kind decision_tree requires a tree payload")
		}
	case KindDecisionTable:
		if rule.Table == nil {
			return fmt.Errorf("kind decision_table requires a table payload")
		}
	case KindScript:
		if rule.Script == nil {
			return fmt.Errorf("kind script requires a script payload")
		}
	}
	return nil
}

func validateSchedule(s *Schedule) error {
	if s == nil {
		return nil
	}
	if s.ActivationDate != nil && s.DeactivationDate != nil &&
		!s.ActivationDate.Before(*s.DeactivationDate) {
		return fmt.Errorf("schedule activation_date must be before deactivation_date")
	}
	switch s.Recurrence {
	case "", RecurrenceNone, RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly:
	default:
		return fmt.Errorf("invalid recurrence: %s. Allowed: none, daily, weekly, monthly", s.Recurrence)
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return fmt.Errorf("invalid timezone: %s", s.Timezone)
		}
	}
	if s.NotifyBefore < 0 {
		return fmt.Errorf("notify_before must be non-negative")
	}
	return nil
}

func (v *Validator) validateTree(tree *TreeSpec) ([]string, error) {
	if len(tree.Nodes) == 0 {
		return nil, fmt.Errorf("tree has no nodes")
	}
	if _, ok := tree.Nodes[RootNodeID]; !ok {
		return nil, fmt.Errorf("tree has no %q node", RootNodeID)
	}

	for id, node := range tree.Nodes {
		if node.Condition == "" {
			if node.Decision == nil {
				return nil, fmt.Errorf("node %q has neither condition nor decision", id)
			}
			continue
		}
		if node.Decision != nil {
			return nil, fmt.Errorf("node %q has both condition and decision", id)
		}
		if node.Then == nil || node.Else == nil {
			return nil, fmt.Errorf("node %q must have both then and else branches", id)
		}
		if err := v.eval.ValidateBoolExpression(node.Condition); err != nil {
			return nil, fmt.Errorf("node %q condition: %w", id, err)
		}
		for _, branch := range []*Branch{node.Then, node.Else} {
			if branch.IsGoto() {
				if _, ok := tree.Nodes[branch.Goto]; !ok {
					return nil, fmt.Errorf("node %q references unknown node %q", id, branch.Goto)
				}
			} else if branch.Decision == nil {
				return nil, fmt.Errorf("node %q has a branch with neither goto nor decision", id)
			}
		}
	}

	return unreachableWarnings(tree), nil
}

// unreachableWarnings walks from root and flags nodes no branch can reach.
func unreachableWarnings(tree *TreeSpec) []string {
	reachable := map[string]bool{}
	stack := []string{RootNodeID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if reachable[id] {
			continue
		}
		reachable[id] = true
		node, ok := tree.Nodes[id]
		if !ok {
			continue
		}
		for _, branch := range []*Branch{node.Then, node.Else} {
			if branch.IsGoto() {
				stack = append(stack, branch.Goto)
			}
		}
	}

	var warnings []string
	for id := range tree.Nodes {
		if !reachable[id] {
			warnings = append(warnings, fmt.Sprintf("node %q is unreachable from %q", id, RootNodeID))
		}
	}
	return warnings
}

func validateTable(table *TableSpec) error {
	if len(table.Columns) < 2 {
		return fmt.Errorf("table needs at least one condition column and one output column")
	}
	seen := map[string]bool{}
	for _, col := range table.Columns {
		if col == "" {
			return fmt.Errorf("table has an empty column name")
		}
		if seen[col] {
			return fmt.Errorf("duplicate column name: %s", col)
		}
		seen[col] = true
	}
	if len(table.Rows) == 0 {
		return fmt.Errorf("table has no rows")
	}
	for i, row := range table.Rows {
		if len(row) != len(table.Columns) {
			return fmt.Errorf("row %d has %d cells, want %d", i, len(row), len(table.Columns))
		}
	}
	switch table.Resolution {
	case FirstMatch, AllMatches:
	default:
		return fmt.Errorf("invalid resolution: %s. Allowed: first_match, all_matches", table.Resolution)
	}
	return nil
}

func (v *Validator) validateScript(script *ScriptSpec) error {
	if script.Language != ScriptLanguage {
		return fmt.Errorf("unsupported script language: %s. Allowed: %s", script.Language, ScriptLanguage)
	}
	if script.Source == "" {
		return fmt.Errorf("script source is required")
	}
	if err := v.eval.ValidateExpression(script.Source); err != nil {
		return fmt.Errorf("invalid script expression: %w", err)
	}
	return nil
}
