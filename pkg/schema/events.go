package schema

import (
	"encoding/json"
	"strings"
	"time"
)

// Event type constants for the session transition log.
const (
	EventRefineSubmitted = "refine_submitted"
	EventRefineQuestions = "refine_questions"
	EventRefineAnswered  = "refine_answered"
	EventRefineRefined   = "refine_refined"
	EventRefineFailed    = "refine_failed"
	EventRefineAmended   = "refine_amended"

	EventWorkflowGenerated = "workflow_generated"
	EventWorkflowMutated   = "workflow_mutated"
	EventWorkflowSaved     = "workflow_saved"
	EventWorkflowRun       = "workflow_run"
	EventWorkflowDeleted   = "workflow_deleted"
	EventWorkflowPublished = "workflow_published"

	EventWizardStarted   = "wizard_started"
	EventWizardCommitted = "wizard_committed"
	EventWizardCompleted = "wizard_completed"
	EventWizardSkipped   = "wizard_skipped"

	EventNodeLog = "node_log"
)

// Event is one entry in a session transition log.
type Event struct {
	Type       string         `json:"type"`
	SessionID  string         `json:"session_id,omitempty"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	NodeID     string         `json:"node_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Execution statuses reported by the backend in log messages.
const (
	NodeStatusSucceeded   = "executed successfully"
	NodeStatusFailed      = "failed"
	NodeStatusUnavailable = "tool unavailable"
)

// LogMessage is one execution trace pushed by the backend.
type LogMessage struct {
	WorkflowID ID             `json:"workflow_id"`
	Node       ID             `json:"node"`
	AgentName  string         `json:"agent_name"`
	Status     string         `json:"status"`
	Timestamp  string         `json:"timestamp"`
	Data       map[string]any `json:"data,omitempty"`
}

var logTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// Time parses the timestamp. The backend sends ISO-8601 without a zone,
// which is read as UTC.
func (m LogMessage) Time() (time.Time, bool) {
	for _, layout := range logTimeLayouts {
		if t, err := time.Parse(layout, m.Timestamp); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Failed reports whether the node did not execute successfully.
func (m LogMessage) Failed() bool {
	return !strings.EqualFold(m.Status, NodeStatusSucceeded)
}

// DataJSON returns the data payload as compact JSON.
func (m LogMessage) DataJSON() string {
	if m.Data == nil {
		return "{}"
	}
	b, err := json.Marshal(m.Data)
	if err != nil {
		return "{}"
	}
	return string(b)
}
