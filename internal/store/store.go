package store

import (
	"context"

	"github.com/sigmoyd/flowcraft/pkg/schema"
)

// Store defines the local persistence contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Workflows
	PutWorkflow(ctx context.Context, wf *StoredWorkflow) error
	GetWorkflow(ctx context.Context, id string) (*StoredWorkflow, error)
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*StoredWorkflow, error)
	DeleteWorkflow(ctx context.Context, id string) error
	KnownWorkflowIDs(ctx context.Context) (KnownIDs, error)
	ReplaceWorkflows(ctx context.Context, wfs []*StoredWorkflow) (SyncResult, error)

	// Traces (append-only)
	AppendTrace(ctx context.Context, msg schema.LogMessage) (*Trace, error)
	ListTraces(ctx context.Context, filter TraceFilter) ([]*Trace, error)

	// Session events (append-only)
	AppendEvent(ctx context.Context, event *schema.Event) error
	GetEvents(ctx context.Context, sessionID string, since int64) ([]*Event, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
