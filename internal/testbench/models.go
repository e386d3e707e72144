// Package testbench stores named test cases per rule and replays them
// through the execution engine, comparing outputs structurally.
package testbench

import (
	"time"

	"rulehub/internal/history"
)

// TestCase is a stored input plus the output its rule is expected to
// produce. Expected is compared structurally, not by string equality.
type TestCase struct {
	ID          string                 `json:"id" bson:"_id"`
	RuleID      string                 `json:"rule_id" bson:"rule_id"`
	Name        string                 `json:"name" bson:"name"`
	Description string                 `json:"description,omitempty" bson:"description,omitempty"`
	Input       map[string]interface{} `json:"input" bson:"input"`
	Expected    interface{}            `json:"expected" bson:"expected"`
	CreatedAt   time.Time              `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at" bson:"updated_at"`
}

// CaseResult is the outcome of replaying one test case.
type CaseResult struct {
	CaseID          string             `json:"case_id"`
	Name            string             `json:"name"`
	Passed          bool               `json:"passed"`
	Expected        interface{}        `json:"expected"`
	Actual          interface{}        `json:"actual,omitempty"`
	Diff            []history.DiffItem `json:"diff,omitempty"`
	Error           string             `json:"error,omitempty"`
	ExecutionTimeMs float64            `json:"execution_time_ms"`
}

// Report aggregates a full run over a rule's test cases.
type Report struct {
	RuleID  string       `json:"rule_id"`
	Total   int          `json:"total"`
	Passed  int          `json:"passed"`
	Failed  int          `json:"failed"`
	Results []CaseResult `json:"results"`
	RanAt   time.Time    `json:"ran_at"`
}

type CreateCaseRequest struct {
	Name        string                 `json:"name" binding:"required"`
	Description string                 `json:"description"`
	Input       map[string]interface{} `json:"input" binding:"required"`
	Expected    interface{}            `json:"expected"`
}
