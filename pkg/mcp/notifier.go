package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/cascade/internal/streaming"
	"github.com/rendis/cascade/pkg/schema"
)

const notificationMethod = "notifications/message"

// ClientNotifier pushes one notification to one MCP session.
// Satisfied by *server.MCPServer.
type ClientNotifier interface {
	SendNotificationToSpecificClient(sessionID, method string, params map[string]any) error
}

// Notifier relays pending-update prompts from the hub to registered sessions.
type Notifier struct {
	client   ClientNotifier
	sessions *SessionRegistry
	logger   *slog.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(client ClientNotifier, sessions *SessionRegistry, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{client: client, sessions: sessions, logger: logger}
}

// Relay forwards update_pending and update_dismissed events until ctx ends
// or the subscription closes.
func (n *Notifier) Relay(ctx context.Context, hub streaming.EventHub) error {
	ch, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{
		Types: []string{schema.StreamUpdatePending, schema.StreamUpdateDismissed},
	})
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-ch:
			if !ok {
				return ctx.Err()
			}
			n.Notify(evt)
		}
	}
}

// Notify sends evt to every registered session. Best-effort: sessions that
// are gone are dropped from the registry.
func (n *Notifier) Notify(evt streaming.StreamEvent) {
	params := map[string]any{
		"level":  "info",
		"logger": "cascade",
		"data": map[string]any{
			"type":    evt.Type,
			"run_id":  evt.RunID,
			"payload": evt.Payload,
		},
	}
	for _, sid := range n.sessions.List() {
		err := n.client.SendNotificationToSpecificClient(sid, notificationMethod, params)
		switch {
		case err == nil:
		case errors.Is(err, server.ErrSessionNotFound):
			n.sessions.Remove(sid)
		default:
			n.logger.Warn("notify session failed",
				slog.String("session_id", sid),
				slog.String("type", evt.Type),
				slog.String("error", err.Error()))
		}
	}
}
