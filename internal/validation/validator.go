package validation

import "github.com/sigmoyd/flowcraft/pkg/schema"

// Validator checks workflow documents and backend payloads.
// Uses JSON Schema Draft 2020-12 for structure.
type Validator interface {
	ValidateWorkflow(wf *schema.Workflow) error
	ValidatePayload(kind PayloadKind, raw []byte) error
}
