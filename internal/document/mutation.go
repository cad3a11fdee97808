package document

import (
	"encoding/json"

	"github.com/sigmoyd/flowcraft/pkg/schema"
)

// Mutation is one edit to a workflow document.
type Mutation interface {
	// Kind names the mutation for logs and events.
	Kind() string
	apply(wf *schema.Workflow) error
}

// SetTriggerConfig sets one trigger config input.
type SetTriggerConfig struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// SetNodeField sets a prompt field of a node.
type SetNodeField struct {
	NodeID schema.ID `json:"node_id"`
	Field  string    `json:"field"`
	Value  string    `json:"value"`
}

// SetNodeConfig sets one config input of a node.
type SetNodeConfig struct {
	NodeID schema.ID `json:"node_id"`
	Key    string    `json:"key"`
	Value  string    `json:"value"`
}

// ReplaceNodeConfig replaces the whole config input map of a node.
type ReplaceNodeConfig struct {
	NodeID schema.ID           `json:"node_id"`
	Config schema.ConfigInputs `json:"config"`
}

// SetWorkflowName renames the workflow.
type SetWorkflowName struct {
	Name string `json:"name"`
}

func (SetTriggerConfig) Kind() string  { return "set_trigger_config" }
func (SetNodeField) Kind() string      { return "set_node_field" }
func (SetNodeConfig) Kind() string     { return "set_node_config" }
func (ReplaceNodeConfig) Kind() string { return "replace_node_config" }
func (SetWorkflowName) Kind() string   { return "set_workflow_name" }

func (m SetTriggerConfig) apply(wf *schema.Workflow) error {
	if m.Key == "" {
		return schema.NewError(schema.ErrCodeValidation, "config key is empty")
	}
	cfg := wf.Trigger.ConfigInputs.Clone()
	cfg.Set(m.Key, m.Value)
	wf.Trigger.ConfigInputs = cfg
	return nil
}

func (m SetNodeField) apply(wf *schema.Workflow) error {
	i := wf.NodeIndex(m.NodeID)
	if i < 0 {
		return unknownNode(m.NodeID)
	}
	if !wf.Workflow[i].SetPrompt(m.Field, m.Value) {
		return schema.NewErrorf(schema.ErrCodeUnknownField, "field %q is not editable", m.Field).
			WithNode(m.NodeID)
	}
	return nil
}

func (m SetNodeConfig) apply(wf *schema.Workflow) error {
	if m.Key == "" {
		return schema.NewError(schema.ErrCodeValidation, "config key is empty").WithNode(m.NodeID)
	}
	i := wf.NodeIndex(m.NodeID)
	if i < 0 {
		return unknownNode(m.NodeID)
	}
	cfg := wf.Workflow[i].ConfigInputs.Clone()
	cfg.Set(m.Key, m.Value)
	wf.Workflow[i].ConfigInputs = cfg
	return nil
}

func (m ReplaceNodeConfig) apply(wf *schema.Workflow) error {
	i := wf.NodeIndex(m.NodeID)
	if i < 0 {
		return unknownNode(m.NodeID)
	}
	wf.Workflow[i].ConfigInputs = m.Config.Clone()
	return nil
}

func (m SetWorkflowName) apply(wf *schema.Workflow) error {
	wf.WorkflowName = m.Name
	return nil
}

func unknownNode(id schema.ID) error {
	return schema.NewErrorf(schema.ErrCodeUnknownNode, "no node with id %s", id).WithNode(id)
}

// Apply returns a new dirty document with the mutation applied. On error the
// input document is returned unchanged alongside the error.
func Apply(d *Document, m Mutation) (*Document, error) {
	wf := d.shallow()
	if err := m.apply(wf); err != nil {
		return d, err
	}
	return &Document{wf: wf, version: nextVersion(), dirty: true}, nil
}

// ApplyAll applies mutations in order. It stops at the first failure and
// returns the input document, so a batch is all or nothing.
func ApplyAll(d *Document, ms ...Mutation) (*Document, error) {
	cur := d
	for _, m := range ms {
		next, err := Apply(cur, m)
		if err != nil {
			return d, err
		}
		cur = next
	}
	return cur, nil
}

// MergeConfig builds the mutations that merge values into the config inputs
// of target, in the order of keys. When trigger is set the trigger is the
// target and the id is ignored.
func MergeConfig(trigger bool, target schema.ID, keys []string, values map[string]string) []Mutation {
	ms := make([]Mutation, 0, len(keys))
	for _, k := range keys {
		v, ok := values[k]
		if !ok {
			continue
		}
		if trigger {
			ms = append(ms, SetTriggerConfig{Key: k, Value: v})
		} else {
			ms = append(ms, SetNodeConfig{NodeID: target, Key: k, Value: v})
		}
	}
	return ms
}

// Decode builds a mutation from its kind and JSON arguments.
func Decode(kind string, args json.RawMessage) (Mutation, error) {
	switch kind {
	case SetTriggerConfig{}.Kind():
		var v SetTriggerConfig
		if err := json.Unmarshal(orEmpty(args), &v); err != nil {
			return nil, badArgs(kind, err)
		}
		return v, nil
	case SetNodeField{}.Kind():
		var v SetNodeField
		if err := json.Unmarshal(orEmpty(args), &v); err != nil {
			return nil, badArgs(kind, err)
		}
		return v, nil
	case SetNodeConfig{}.Kind():
		var v SetNodeConfig
		if err := json.Unmarshal(orEmpty(args), &v); err != nil {
			return nil, badArgs(kind, err)
		}
		return v, nil
	case ReplaceNodeConfig{}.Kind():
		var v ReplaceNodeConfig
		if err := json.Unmarshal(orEmpty(args), &v); err != nil {
			return nil, badArgs(kind, err)
		}
		return v, nil
	case SetWorkflowName{}.Kind():
		var v SetWorkflowName
		if err := json.Unmarshal(orEmpty(args), &v); err != nil {
			return nil, badArgs(kind, err)
		}
		return v, nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown mutation kind %q", kind)
}

func orEmpty(args json.RawMessage) json.RawMessage {
	if len(args) == 0 {
		return json.RawMessage("{}")
	}
	return args
}

func badArgs(kind string, err error) error {
	return schema.NewErrorf(schema.ErrCodeValidation, "invalid %s arguments: %v", kind, err).WithCause(err)
}
