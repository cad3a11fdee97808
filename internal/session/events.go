package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sigmoyd/flowcraft/internal/logging"
	"github.com/sigmoyd/flowcraft/internal/refine"
	"github.com/sigmoyd/flowcraft/internal/streaming"
	"github.com/sigmoyd/flowcraft/pkg/schema"
)

// teeAppender writes each event to the store and publishes it to the hub.
type teeAppender struct {
	store Store
	hub   streaming.EventHub
}

func (t teeAppender) AppendEvent(ctx context.Context, e *schema.Event) error {
	var errs []error
	if t.store != nil {
		if err := t.store.AppendEvent(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	if t.hub != nil {
		if err := t.hub.Publish(ctx, streaming.FromEvent(e)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Session) appender() refine.EventAppender {
	if s.store == nil && s.hub == nil {
		return nil
	}
	return teeAppender{store: s.store, hub: s.hub}
}

func (s *Session) emit(ctx context.Context, eventType, workflowID string, payload map[string]any) {
	app := s.appender()
	if app == nil {
		return
	}
	ev := &schema.Event{
		Type:       eventType,
		SessionID:  s.id,
		WorkflowID: workflowID,
		NodeID:     logging.NodeID(ctx),
		Payload:    payload,
		Timestamp:  time.Now().UTC(),
	}
	if err := app.AppendEvent(ctx, ev); err != nil {
		s.logger.WarnContext(ctx, "append session event", slog.String("type", eventType), slog.String("error", err.Error()))
	}
}

func withNode(ctx context.Context, nodeID string) context.Context {
	return logging.WithNodeID(ctx, nodeID)
}
