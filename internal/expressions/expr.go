package expressions

import (
	"context"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/sigmoyd/flowcraft/pkg/schema"
)

// ExprEngine evaluates expr-lang/expr expressions. The CLI uses it to filter
// execution traces, e.g. `status != "executed successfully" && node == "3"`.
// Compiled programs are cached and reused across goroutines.
type ExprEngine struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewExprEngine creates a new Expr expression engine.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{
		cache: make(map[string]*vm.Program),
	}
}

func (e *ExprEngine) Name() string { return "expr" }

// Evaluate compiles (or retrieves from cache) an expression and runs it with
// data as the environment. Undefined variables evaluate to nil.
func (e *ExprEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty expr expression")
	}

	prg, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	env := data
	if env == nil {
		env = map[string]any{}
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"expr evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return out, nil
}

// Match evaluates a predicate. An empty expression matches everything.
func (e *ExprEngine) Match(ctx context.Context, expression string, data map[string]any) (bool, error) {
	if expression == "" {
		return true, nil
	}
	out, err := e.Evaluate(ctx, expression, data)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"filter %q returned %T, want bool", expression, out)
	}
	return b, nil
}

// TraceEnv is the environment trace filters see.
func TraceEnv(msg schema.LogMessage) map[string]any {
	env := map[string]any{
		"workflow_id": msg.WorkflowID.String(),
		"node":        msg.Node.String(),
		"agent_name":  msg.AgentName,
		"status":      msg.Status,
		"timestamp":   msg.Timestamp,
		"failed":      msg.Failed(),
		"data":        msg.Data,
	}
	if msg.Data == nil {
		env["data"] = map[string]any{}
	}
	return env
}

func (e *ExprEngine) getOrCompile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"expr compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[expression] = prg
	return prg, nil
}

var _ Engine = (*ExprEngine)(nil)
