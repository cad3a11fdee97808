package validation

import (
	"context"
	"fmt"

	"github.com/sigmoyd/flowcraft/internal/expressions"
	"github.com/sigmoyd/flowcraft/pkg/schema"
)

// RuleScope selects what a lint rule is evaluated against.
type RuleScope string

const (
	ScopeWorkflow RuleScope = "workflow"
	ScopeNode     RuleScope = "node"
)

// Rule is a CEL predicate that must hold. A false result becomes a warning.
type Rule struct {
	Name    string
	Scope   RuleScope
	Expr    string
	Message string
}

// DefaultRules are the lint rules applied to every document.
var DefaultRules = []Rule{
	{
		Name:    "workflow-name",
		Scope:   ScopeWorkflow,
		Expr:    `has(workflow.workflow_name) && workflow.workflow_name != ""`,
		Message: "workflow has no name",
	},
	{
		Name:    "workflow-nodes",
		Scope:   ScopeWorkflow,
		Expr:    `has(workflow.workflow) && size(workflow.workflow) > 0`,
		Message: "workflow has no nodes",
	},
	{
		Name:    "llm-prompt",
		Scope:   ScopeNode,
		Expr:    `node.type != "llm" || (has(node.llm_prompt) && node.llm_prompt != "")`,
		Message: "llm node has no prompt",
	},
	{
		Name:    "tool-action",
		Scope:   ScopeNode,
		Expr:    `node.type != "tool" || (has(node.tool_action) && node.tool_action != "")`,
		Message: "tool node has no tool_action",
	},
	{
		Name:    "connector-target",
		Scope:   ScopeNode,
		Expr:    `node.type != "connector" || (has(node.to_execute) && size(node.to_execute) == 2)`,
		Message: "connector node has no to_execute target",
	},
	{
		Name:    "config-filled",
		Scope:   ScopeNode,
		Expr:    `!has(node.config_inputs) || node.config_inputs == null || node.config_inputs.all(k, node.config_inputs[k] != "")`,
		Message: "config inputs still empty",
	},
}

// linter evaluates rules with the CEL engine.
type linter struct {
	cel   *expressions.CELEngine
	rules []Rule
}

func (l *linter) lint(ctx context.Context, wf *schema.Workflow) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if len(l.rules) == 0 {
		return result
	}

	doc, err := expressions.ToMap(wf)
	if err != nil {
		result.AddWarning("/", schema.ErrCodeValidation, err.Error())
		return result
	}
	trigger, _ := doc["trigger"].(map[string]any)
	nodes, _ := doc["workflow"].([]any)

	for _, r := range l.rules {
		switch r.Scope {
		case ScopeWorkflow:
			l.check(ctx, r, "workflow", map[string]any{"workflow": doc, "trigger": trigger}, result)
		case ScopeNode:
			for i, n := range nodes {
				node, _ := n.(map[string]any)
				l.check(ctx, r, fmt.Sprintf("workflow[%d]", i),
					map[string]any{"workflow": doc, "trigger": trigger, "node": node}, result)
			}
		}
	}
	return result
}

func (l *linter) check(ctx context.Context, r Rule, path string, data map[string]any, result *schema.ValidationResult) {
	ok, err := l.cel.Check(ctx, r.Expr, data)
	if err != nil {
		result.AddWarning(path, schema.ErrCodeValidation, fmt.Sprintf("lint rule %s: %s", r.Name, err.Error()))
		return
	}
	if !ok {
		result.AddWarning(path, schema.ErrCodeValidation, fmt.Sprintf("%s (%s)", r.Message, r.Name))
	}
}
