package store

import (
	"time"

	"github.com/sigmoyd/flowcraft/pkg/schema"
)

// StoredWorkflow is a cached workflow document plus its sidebar metadata.
type StoredWorkflow struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Prompt    string           `json:"prompt,omitempty"`
	Document  *schema.Workflow `json:"document"`
	Active    bool             `json:"active"`
	Public    bool             `json:"public"`
	Version   uint64           `json:"version"`
	SavedAt   *time.Time       `json:"saved_at,omitempty"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// WorkflowFilter narrows ListWorkflows results.
type WorkflowFilter struct {
	Active *bool
	Name   string // substring match
	Limit  int
}

// SyncResult summarizes a ReplaceWorkflows call.
type SyncResult struct {
	Upserted int `json:"upserted"`
	Removed  int `json:"removed"`
}

// Trace is one stored execution log message.
type Trace struct {
	ID         string            `json:"id"`
	Sequence   int64             `json:"sequence"`
	Message    schema.LogMessage `json:"message"`
	ReceivedAt time.Time         `json:"received_at"`
}

// TraceFilter narrows ListTraces results.
type TraceFilter struct {
	WorkflowID string
	NodeID     string
	Status     string
	Since      int64 // sequence, exclusive
	Limit      int
}

// Event is a persisted session transition.
type Event struct {
	ID       int64 `json:"id"`
	Sequence int64 `json:"sequence"`
	schema.Event
}

// KnownIDs is the set of workflow ids the server already has.
type KnownIDs map[string]struct{}

// Contains reports whether id is known.
func (k KnownIDs) Contains(id string) bool {
	_, ok := k[id]
	return ok
}
