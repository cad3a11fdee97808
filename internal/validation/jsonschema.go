package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/sigmoyd/flowcraft/pkg/schema"
)

// PayloadKind names a document shape the validator knows.
type PayloadKind string

const (
	KindWorkflow       PayloadKind = "workflow"
	KindRefineResponse PayloadKind = "refine_response"
	KindSidebar        PayloadKind = "sidebar"
	KindPublic         PayloadKind = "public"
)

const schemaBase = "https://flowcraft.dev/schemas/"

// schemaDocs holds the embedded schemas keyed by payload kind.
var schemaDocs = map[PayloadKind]string{
	KindWorkflow: `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["workflow_id", "trigger", "workflow"],
  "properties": {
    "workflow_id": { "$ref": "#/$defs/id" },
    "workflow_name": { "type": "string" },
    "trigger": { "$ref": "#/$defs/trigger" },
    "workflow": {
      "type": "array",
      "items": { "$ref": "#/$defs/node" }
    },
    "data_flow_notebook_keys": { "$ref": "#/$defs/keys" },
    "active": { "type": "boolean" },
    "unavailable": { "type": ["string", "null"] }
  },
  "$defs": {
    "id": { "type": ["integer", "string"] },
    "keys": {
      "type": ["array", "null"],
      "items": { "type": "string" }
    },
    "config": { "type": ["object", "null"] },
    "trigger": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "id": { "type": ["integer", "string", "null"] },
        "name": { "type": "string", "minLength": 1 },
        "description": { "type": ["string", "null"] },
        "config_inputs": { "$ref": "#/$defs/config" },
        "output": { "type": ["string", "null"] }
      }
    },
    "node": {
      "type": "object",
      "required": ["id", "name", "type"],
      "properties": {
        "id": { "$ref": "#/$defs/id" },
        "name": { "type": "string" },
        "type": { "enum": ["tool", "connector", "llm", "trigger"] },
        "tool_action": { "type": ["string", "null"] },
        "to_execute": {
          "type": ["array", "null"],
          "items": { "type": "string" }
        },
        "description": { "type": ["string", "null"] },
        "config_inputs": { "$ref": "#/$defs/config" },
        "llm_prompt": { "type": ["string", "null"] },
        "validation_prompt": { "type": ["string", "null"] },
        "delegation_prompt": { "type": ["string", "null"] },
        "data_flow_inputs": { "$ref": "#/$defs/keys" },
        "data_flow_outputs": { "$ref": "#/$defs/keys" }
      }
    }
  }
}`,
	KindRefineResponse: `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["response"],
  "properties": {
    "response": {
      "oneOf": [
        { "type": "string" },
        { "type": "array", "items": { "type": "string" } }
      ]
    }
  }
}`,
	KindSidebar: `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["id", "json"],
    "properties": {
      "id": { "type": ["integer", "string"] },
      "name": { "type": "string" },
      "json": { "type": "string" },
      "prompt": { "type": "string" },
      "active": { "type": "boolean" },
      "public": { "type": "boolean" }
    }
  }
}`,
	KindPublic: `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["json"],
  "properties": {
    "wid": { "type": ["integer", "string"] },
    "name": { "type": "string" },
    "description": { "type": "string" },
    "refined_prompt": { "type": "string" },
    "json": { "type": ["string", "object"] },
    "uses": { "type": ["integer", "string"] },
    "likes": { "type": ["integer", "string"] }
  }
}`,
}

// JSONSchemaValidator validates payloads against the embedded schemas.
// It is safe for concurrent use: schemas are compiled once at construction.
type JSONSchemaValidator struct {
	schemas map[PayloadKind]*jsonschema.Schema
}

// NewJSONSchemaValidator compiles every embedded schema.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	v := &JSONSchemaValidator{schemas: make(map[PayloadKind]*jsonschema.Schema, len(schemaDocs))}
	for kind, src := range schemaDocs {
		url := schemaBase + string(kind) + ".json"
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("unmarshal %s schema: %w", kind, err)
		}
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add %s schema resource: %w", kind, err)
		}
		compiled, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", kind, err)
		}
		v.schemas[kind] = compiled
	}
	return v, nil
}

// ValidatePayload validates raw JSON against the schema for kind.
func (v *JSONSchemaValidator) ValidatePayload(kind PayloadKind, raw []byte) error {
	s, ok := v.schemas[kind]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown payload kind %q", kind)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s payload is not valid JSON", kind).WithCause(err)
	}
	if err := s.Validate(doc); err != nil {
		return toFlowError(err)
	}
	return nil
}

// ValidateValue encodes v and validates it against the schema for kind.
func (v *JSONSchemaValidator) ValidateValue(kind PayloadKind, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "failed to serialize %s payload", kind).WithCause(err)
	}
	return v.ValidatePayload(kind, raw)
}

// toFlowError converts a jsonschema.ValidationError into a FlowError whose
// details carry every leaf violation.
func toFlowError(err error) *schema.FlowError {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}
	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf messages
// prefixed with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
