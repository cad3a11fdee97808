package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/sigmoyd/flowcraft/pkg/schema"
)

// AppendEvent appends a session event with a monotonically increasing
// per-session sequence.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *schema.Event) error {
	if event.SessionID == "" {
		return schema.NewError(schema.ErrCodeValidation, "event requires a session id")
	}
	var payload any
	if len(event.Payload) > 0 {
		b, err := json.Marshal(event.Payload)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
		payload = string(b)
	}
	event.Timestamp = timeOrNow(event.Timestamp)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin event tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE session_id = ?`, event.SessionID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO events (session_id, workflow_id, node_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.SessionID, nullStr(event.WorkflowID), nullStr(event.NodeID), event.Type, payload, event.Timestamp, seq,
	); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// GetEvents returns events for a session with sequence > since, ordered by sequence ASC.
func (s *LibSQLStore) GetEvents(ctx context.Context, sessionID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, workflow_id, node_id, event_type, payload, timestamp, sequence
		 FROM events WHERE session_id = ? AND sequence > ? ORDER BY sequence ASC`, sessionID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var wid, nid, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.SessionID, &wid, &nid, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.WorkflowID = wid.String
		e.NodeID = nid.String
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal event payload: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// SessionSummary is the state of a session reconstructed from its events.
type SessionSummary struct {
	SessionID   string         `json:"session_id"`
	RefinePhase string         `json:"refine_phase"`
	WorkflowID  string         `json:"workflow_id,omitempty"`
	Generated   int            `json:"generated"`
	Mutations   int            `json:"mutations"`
	Saves       int            `json:"saves"`
	Runs        int            `json:"runs"`
	Wizard      string         `json:"wizard,omitempty"`
	Counts      map[string]int `json:"counts"`
	LastEvent   int64          `json:"last_sequence"`
}

// ReplaySession folds a session's events into a summary.
// Returns an error if sequence gaps are detected.
func (s *LibSQLStore) ReplaySession(ctx context.Context, sessionID string) (*SessionSummary, error) {
	events, err := s.GetEvents(ctx, sessionID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}
	sum := &SessionSummary{SessionID: sessionID, RefinePhase: "idle", Counts: map[string]int{}}

	for i, e := range events {
		if expected := int64(i + 1); e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in session %s: expected %d, got %d", sessionID, expected, e.Sequence)
		}
		sum.Counts[e.Type]++
		sum.LastEvent = e.Sequence
		if e.WorkflowID != "" {
			sum.WorkflowID = e.WorkflowID
		}
		if to, ok := e.Payload["to"].(string); ok && isRefineEvent(e.Type) {
			sum.RefinePhase = to
		}

		switch e.Type {
		case schema.EventWorkflowGenerated:
			sum.Generated++
		case schema.EventWorkflowMutated:
			sum.Mutations++
		case schema.EventWorkflowSaved:
			sum.Saves++
		case schema.EventWorkflowRun:
			sum.Runs++
		case schema.EventWizardStarted:
			sum.Wizard = "collecting"
		case schema.EventWizardCompleted, schema.EventWizardSkipped:
			sum.Wizard = "complete"
		case schema.EventWorkflowDeleted:
			sum.WorkflowID = ""
		}
	}
	return sum, nil
}

func isRefineEvent(t string) bool {
	switch t {
	case schema.EventRefineSubmitted, schema.EventRefineQuestions, schema.EventRefineAnswered,
		schema.EventRefineRefined, schema.EventRefineFailed, schema.EventRefineAmended:
		return true
	}
	return false
}
