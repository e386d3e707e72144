package engine

import (
	"fmt"

	"github.com/spf13/cast"

	"rulehub/internal/rules"
)

func (e *Engine) evalTable(rule *rules.Rule, input map[string]interface{}, result *Result) {
	if rule.Table == nil {
		result.Error = "decision table rule has no table payload"
		return
	}
	table := rule.Table
	if len(table.Columns) < 2 {
		result.Error = "decision table needs at least one condition column and one output column"
		return
	}

	condCols := table.Columns[:len(table.Columns)-1]
	var matches []interface{}

	for i, row := range table.Rows {
		if len(row) != len(table.Columns) {
			result.Error = fmt.Sprintf("row %d has %d cells, want %d", i, len(row), len(table.Columns))
			return
		}

		if rowMatches(condCols, row, input) {
			output := row[len(row)-1]
			if table.Resolution == rules.AllMatches {
				matches = append(matches, output)
				continue
			}
			// first_match: rows below the first hit are never consulted
			result.Success = true
			result.Output = output
			return
		}
	}

	if table.Resolution == rules.AllMatches && len(matches) > 0 {
		result.Success = true
		result.Output = matches
		return
	}

	result.Error = "no matching row found"
}

func rowMatches(condCols []string, row []interface{}, input map[string]interface{}) bool {
	for i, col := range condCols {
		cell := row[i]
		if s, ok := cell.(string); ok && s == rules.Wildcard {
			continue
		}
		val, ok := input[col]
		if !ok {
			return false
		}
		if !looseEqual(cell, val) {
			return false
		}
	}
	return true
}

// looseEqual compares a condition cell against an input value across the
// typical JSON type drift: 18 matches 18.0 matches "18", true matches
// "true". Falls back to string comparison.
func looseEqual(cell, val interface{}) bool {
	if cf, err := cast.ToFloat64E(cell); err == nil {
		if vf, err := cast.ToFloat64E(val); err == nil {
			return cf == vf
		}
	}
	if cb, err := cast.ToBoolE(cell); err == nil {
		if vb, err := cast.ToBoolE(val); err == nil {
			return cb == vb
		}
	}
	return cast.ToString(cell) == cast.ToString(val)
}
