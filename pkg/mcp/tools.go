package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/cascade/internal/diagram"
	"github.com/rendis/cascade/pkg/schema"
)

func (s *Server) handleStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.captureSession(ctx)
	stageID := req.GetString("stage_id", "")
	if err := s.engine.StartWorkflow(ctx, stageID); err != nil {
		return toolError("start failed", err), nil
	}
	return marshalResult(s.engine.Snapshot())
}

func (s *Server) handleStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.captureSession(ctx)
	return marshalResult(s.engine.Snapshot())
}

func (s *Server) handleCancel(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.engine.Cancel(ctx); err != nil {
		return toolError("cancel failed", err), nil
	}
	return marshalResult(s.engine.Snapshot())
}

func (s *Server) handleReset(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.engine.Reset(ctx); err != nil {
		return toolError("reset failed", err), nil
	}
	return marshalResult(s.engine.Snapshot())
}

func (s *Server) handleRetry(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.captureSession(ctx)
	if err := s.engine.RetryBehavior(ctx); err != nil {
		return toolError("retry failed", err), nil
	}
	return marshalResult(s.engine.Snapshot())
}

func (s *Server) handleDecide(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	decision, err := req.RequireString("decision")
	if err != nil {
		return mcp.NewToolResultError("decision is required"), nil
	}

	switch decision {
	case "confirm":
		err = s.engine.ConfirmUpdate(ctx)
	case "reject":
		err = s.engine.RejectUpdate(ctx)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown decision %q (want confirm or reject)", decision)), nil
	}
	if err != nil {
		return toolError(decision+" failed", err), nil
	}
	return marshalResult(map[string]any{
		"ok":       true,
		"decision": decision,
		"status":   s.engine.Snapshot(),
	})
}

func (s *Server) handleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID := req.GetString("run_id", "")
	since := int64(req.GetFloat("since", 0))

	snap := s.engine.Snapshot()
	if runID == "" || runID == snap.RunID {
		var entries []schema.HistoryEntry
		for _, e := range s.engine.History() {
			if e.Seq > since {
				entries = append(entries, e)
			}
		}
		return marshalResult(map[string]any{"run_id": snap.RunID, "history": entries})
	}

	if s.history == nil {
		return mcp.NewToolResultError("no history store configured; only the current run is available"), nil
	}
	records, err := s.history.ListHistory(ctx, runID, since)
	if err != nil {
		return toolError("history query failed", err), nil
	}
	return marshalResult(map[string]any{"run_id": runID, "history": records})
}

func (s *Server) handleDiagram(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.pipeline == nil {
		return mcp.NewToolResultError("no template source configured"), nil
	}
	snap := s.engine.Snapshot()
	model, err := diagram.Build(s.pipeline.Template(), diagram.Position{
		State:   snap.State,
		StageID: snap.Context.StageID,
		StepID:  snap.Context.StepID,
	})
	if err != nil {
		return toolError("diagram failed", err), nil
	}
	switch format := req.GetString("format", "mermaid"); format {
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unsupported format %q", format)), nil
	}
}

// captureSession subscribes the calling session to update prompts.
func (s *Server) captureSession(ctx context.Context) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(session.SessionID())
	}
}

// toolError reports err as a tool-level failure, keeping the structured
// code when there is one.
func toolError(msg string, err error) *mcp.CallToolResult {
	var serr *schema.Error
	if errors.As(err, &serr) {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %s", msg, serr.Error()))
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", msg, err))
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
