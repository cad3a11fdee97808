package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"

	"github.com/sigmoyd/flowcraft/internal/streaming"
)

// ClientNotifier pushes notifications to connected clients.
type ClientNotifier interface {
	Notify(ctx context.Context, flowSessionID string, payload map[string]any) error
}

// MCPNotifier implements ClientNotifier using MCP server notifications.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewMCPNotifier creates a notifier that pushes to the client owning a
// flow session.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify sends a notification to the client of a flow session.
// Best-effort: returns nil if the client is not connected.
func (n *MCPNotifier) Notify(_ context.Context, flowSessionID string, payload map[string]any) error {
	clientID, ok := n.sessions.ClientFor(flowSessionID)
	if !ok {
		return nil
	}
	err := n.mcpServer.SendNotificationToSpecificClient(clientID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		// Client left between lookup and send.
		if s, ok := n.sessions.Remove(clientID); ok {
			s.Close(context.Background())
		}
		return nil
	}
	return err
}

// Forward relays session events from hub to their clients until ctx ends.
func Forward(ctx context.Context, hub streaming.EventHub, n ClientNotifier) error {
	ch, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if ev.SessionID == "" || ev.Event == nil {
				continue
			}
			payload := map[string]any{
				"level":  "info",
				"logger": "flowcraft",
				"data": map[string]any{
					"type":        ev.Kind,
					"workflow_id": ev.WorkflowID,
					"node_id":     ev.NodeID,
					"payload":     ev.Event.Payload,
				},
			}
			_ = n.Notify(ctx, ev.SessionID, payload)
		}
	}
}
