package streaming

import (
	"context"

	"github.com/rendis/cascade/internal/logging"
	"github.com/rendis/cascade/pkg/schema"
)

// HubPrompter turns the engine's update-prompt calls into hub events so any
// subscribed UI can show or hide its confirm dialog. The run ID is taken
// from the context.
type HubPrompter struct {
	hub EventHub
}

// NewHubPrompter publishes prompts on hub.
func NewHubPrompter(hub EventHub) *HubPrompter {
	return &HubPrompter{hub: hub}
}

// ShowUpdatePrompt announces a pending proposal.
func (p *HubPrompter) ShowUpdatePrompt(ctx context.Context, proposal *schema.UpdateProposal) error {
	return p.hub.Publish(ctx, StreamEvent{
		RunID:   logging.RunID(ctx),
		Type:    schema.StreamUpdatePending,
		Payload: proposal,
	})
}

// DismissUpdatePrompt tells the UI the proposal was resolved.
func (p *HubPrompter) DismissUpdatePrompt(ctx context.Context) error {
	return p.hub.Publish(ctx, StreamEvent{
		RunID: logging.RunID(ctx),
		Type:  schema.StreamUpdateDismissed,
	})
}
