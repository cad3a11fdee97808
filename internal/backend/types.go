package backend

import (
	"encoding/json"

	"github.com/sigmoyd/flowcraft/internal/refine"
	"github.com/sigmoyd/flowcraft/pkg/schema"
)

// Create-agents flags.
const (
	FlagCreate = 0
	FlagUpdate = 1
)

type refineRequest struct {
	Question refine.Answers `json:"question"`
	Query    string         `json:"query"`
	Flag     int            `json:"flag"`
}

type refineReply struct {
	Response json.RawMessage `json:"response"`
}

type createAgentsRequest struct {
	Query string `json:"query"`
	Flag  int    `json:"flag"`
	WID   string `json:"wid"`
}

// workflowRequest is the {"workflowjson": ...} body the workflow endpoints take.
type workflowRequest struct {
	WorkflowJSON *schema.Workflow `json:"workflowjson"`
}

// workflowReply covers both reply envelopes: {"json": wf} and {"response": wf}.
type workflowReply struct {
	JSON     json.RawMessage `json:"json"`
	Response json.RawMessage `json:"response"`
}

func (r workflowReply) document() json.RawMessage {
	if len(r.JSON) > 0 && string(r.JSON) != "null" {
		return r.JSON
	}
	return r.Response
}

type statusReply struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Detail  any    `json:"detail"`
}

// SidebarEntry is one row of the workflow list.
type SidebarEntry struct {
	ID     schema.ID `json:"id"`
	Name   string    `json:"name"`
	JSON   string    `json:"json"`
	Prompt string    `json:"prompt"`
	Active bool      `json:"active"`
	Public bool      `json:"public"`
}

// Workflow decodes the embedded document text.
func (e SidebarEntry) Workflow() (*schema.Workflow, error) {
	wf := &schema.Workflow{}
	if err := json.Unmarshal([]byte(e.JSON), wf); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeMalformedPayload, "sidebar workflow %s: %s", e.ID, err.Error()).WithCause(err)
	}
	if wf.WorkflowID.String() == "" {
		wf.WorkflowID = e.ID
	}
	return wf, nil
}
