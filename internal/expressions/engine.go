package expressions

import (
	"context"
	"encoding/json"
	"fmt"
)

// Engine evaluates expressions against a JSON-shaped data map.
// Three implementations: CEL (lint rules), GoJQ (document queries), Expr (trace filters).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// ToMap converts a JSON-encodable value (a workflow, a log message) into the
// generic map form the engines operate on. Numbers become float64.
func ToMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode expression data: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("expression data must be a JSON object: %w", err)
	}
	return m, nil
}
