package engine

import (
	"context"
	"fmt"

	"rulehub/internal/rules"
)

// TreeStepBudget bounds the walk so a cyclic goto graph terminates.
const TreeStepBudget = 1000

func (e *Engine) evalTree(ctx context.Context, rule *rules.Rule, input map[string]interface{}, result *Result) {
	if rule.Tree == nil {
		result.Error = "decision tree rule has no tree payload"
		return
	}

	current := rules.RootNodeID
	for step := 0; step < TreeStepBudget; step++ {
		node, ok := rule.Tree.Nodes[current]
		if !ok {
			result.Error = fmt.Sprintf("node %q not found", current)
			return
		}

		if node.Condition == "" {
			// terminal node, ignores input entirely
			result.Success = true
			result.Output = node.Decision
			return
		}

		matched, err := e.eval.EvaluateBool(ctx, node.Condition, input)
		if err != nil {
			result.Error = fmt.Sprintf("condition at node %q: %v", current, err)
			return
		}

		branch := node.Then
		if !matched {
			branch = node.Else
		}
		if branch == nil {
			result.Error = fmt.Sprintf("node %q has no branch for condition outcome %v", current, matched)
			return
		}

		if branch.IsGoto() {
			current = branch.Goto
			continue
		}

		result.Success = true
		result.Output = branch.Decision
		return
	}

	result.Error = fmt.Sprintf("tree walk exceeded %d steps, aborting (cycle suspected)", TreeStepBudget)
}
