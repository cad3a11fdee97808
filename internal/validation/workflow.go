package validation

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/sigmoyd/flowcraft/internal/expressions"
	"github.com/sigmoyd/flowcraft/pkg/schema"
)

// WorkflowValidator runs the validation pipeline:
//  1. Structural (JSON Schema)
//  2. Semantic (identity, connector refs, wiring)
//  3. Cycles (warning)
//  4. Lint (CEL rules, warnings)
type WorkflowValidator struct {
	jsonSchema *JSONSchemaValidator
	linter     *linter
}

// NewWorkflowValidator creates a WorkflowValidator. rules replace
// DefaultRules when non-nil; pass an empty slice to disable linting.
func NewWorkflowValidator(rules []Rule) (*WorkflowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}
	if rules == nil {
		rules = DefaultRules
	}
	return &WorkflowValidator{
		jsonSchema: jsv,
		linter:     &linter{cel: celEngine, rules: rules},
	}, nil
}

// Validate runs the full pipeline and returns an aggregated result.
// Structural errors short-circuit the later stages.
func (wv *WorkflowValidator) Validate(ctx context.Context, wf *schema.Workflow) *schema.ValidationResult {
	if wf == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "workflow is nil")
		return r
	}

	result := structural(wv.jsonSchema.ValidateValue(KindWorkflow, wf))
	if !result.Valid() {
		return result
	}
	result.Merge(validateSemantic(wf))
	result.Merge(validateCycles(wf))
	result.Merge(wv.linter.lint(ctx, wf))
	return result
}

// DecodeWorkflow validates raw JSON structurally, then decodes it and runs
// the remaining stages. The workflow is nil when structure or decoding fails.
func (wv *WorkflowValidator) DecodeWorkflow(ctx context.Context, raw []byte) (*schema.Workflow, *schema.ValidationResult) {
	result := structural(wv.jsonSchema.ValidatePayload(KindWorkflow, raw))
	if !result.Valid() {
		return nil, result
	}
	wf := &schema.Workflow{}
	if err := json.Unmarshal(raw, wf); err != nil {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return nil, result
	}
	result.Merge(validateSemantic(wf))
	result.Merge(validateCycles(wf))
	result.Merge(wv.linter.lint(ctx, wf))
	return wf, result
}

// ValidateWorkflow satisfies the Validator interface.
func (wv *WorkflowValidator) ValidateWorkflow(wf *schema.Workflow) error {
	return wv.Validate(context.Background(), wf).ToError()
}

// ValidatePayload delegates to the underlying JSONSchemaValidator.
func (wv *WorkflowValidator) ValidatePayload(kind PayloadKind, raw []byte) error {
	return wv.jsonSchema.ValidatePayload(kind, raw)
}

// structural converts a schema validation error into a ValidationResult.
func structural(err error) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if err == nil {
		return result
	}

	var fe *schema.FlowError
	if !errors.As(err, &fe) {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}
	if violations, ok := fe.Details["violations"].([]string); ok {
		for _, v := range violations {
			result.AddError("/", schema.ErrCodeValidation, v)
		}
		return result
	}
	result.AddError("/", schema.ErrCodeValidation, fe.Message)
	return result
}

var _ Validator = (*WorkflowValidator)(nil)
