package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/cascade/internal/engine"
	"github.com/rendis/cascade/internal/store"
	"github.com/rendis/cascade/pkg/schema"
)

// --- Fakes ---

type fakeEngine struct {
	calls   []string
	stageID string
	err     error
	state   schema.ExecutionState
	runID   string
	history []schema.HistoryEntry
}

func (f *fakeEngine) record(call string) error {
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeEngine) StartWorkflow(_ context.Context, stageID string) error {
	f.stageID = stageID
	if err := f.record("start"); err != nil {
		return err
	}
	f.state = schema.StateStageRunning
	return nil
}

func (f *fakeEngine) RetryBehavior(context.Context) error { return f.record("retry") }
func (f *fakeEngine) Cancel(context.Context) error        { return f.record("cancel") }
func (f *fakeEngine) Reset(context.Context) error         { return f.record("reset") }
func (f *fakeEngine) ConfirmUpdate(context.Context) error { return f.record("confirm") }
func (f *fakeEngine) RejectUpdate(context.Context) error  { return f.record("reject") }

func (f *fakeEngine) Snapshot() engine.Snapshot {
	return engine.Snapshot{RunID: f.runID, State: f.state, HistoryLen: len(f.history)}
}

func (f *fakeEngine) History() []schema.HistoryEntry { return f.history }

type fakeHistory struct {
	runID   string
	records []*store.HistoryRecord
}

func (f *fakeHistory) ListHistory(_ context.Context, runID string, since int64) ([]*store.HistoryRecord, error) {
	if runID != f.runID {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run %q not found", runID)
	}
	var out []*store.HistoryRecord
	for _, r := range f.records {
		if r.Sequence > since {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeHistory) Runs(context.Context, int) ([]string, error) { return []string{f.runID}, nil }

// --- Helpers ---

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(extractText(t, result)), target))
}

// --- Tests ---

func TestStartTool(t *testing.T) {
	fe := &fakeEngine{state: schema.StateIdle, runID: "run-1"}
	s := NewServer(ServerDeps{Engine: fe})

	result, err := s.handleStart(context.Background(), buildRequest("cascade.start", map[string]any{
		"stage_id": "model",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "model", fe.stageID)

	var snap engine.Snapshot
	unmarshalResult(t, result, &snap)
	assert.Equal(t, schema.StateStageRunning, snap.State)
	assert.Equal(t, "run-1", snap.RunID)
}

func TestStartToolError(t *testing.T) {
	fe := &fakeEngine{err: schema.NewError(schema.ErrCodeInvalidTransition, "not permitted")}
	s := NewServer(ServerDeps{Engine: fe})

	result, err := s.handleStart(context.Background(), buildRequest("cascade.start", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "INVALID_TRANSITION")
}

func TestControlTools(t *testing.T) {
	tests := []struct {
		name    string
		handler func(*Server) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)
		call    string
	}{
		{"cancel", func(s *Server) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) { return s.handleCancel }, "cancel"},
		{"reset", func(s *Server) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) { return s.handleReset }, "reset"},
		{"retry", func(s *Server) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) { return s.handleRetry }, "retry"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fe := &fakeEngine{}
			s := NewServer(ServerDeps{Engine: fe})
			result, err := tc.handler(s)(context.Background(), buildRequest("cascade."+tc.name, nil))
			require.NoError(t, err)
			assert.False(t, result.IsError)
			assert.Equal(t, []string{tc.call}, fe.calls)
		})
	}
}

func TestStatusTool(t *testing.T) {
	fe := &fakeEngine{state: schema.StateWorkflowUpdatePending, runID: "run-7"}
	s := NewServer(ServerDeps{Engine: fe})

	result, err := s.handleStatus(context.Background(), buildRequest("cascade.status", nil))
	require.NoError(t, err)
	var snap map[string]any
	unmarshalResult(t, result, &snap)
	assert.Equal(t, string(schema.StateWorkflowUpdatePending), snap["state"])
	assert.Equal(t, "run-7", snap["run_id"])
}

func TestDecideTool(t *testing.T) {
	for _, decision := range []string{"confirm", "reject"} {
		t.Run(decision, func(t *testing.T) {
			fe := &fakeEngine{}
			s := NewServer(ServerDeps{Engine: fe})
			result, err := s.handleDecide(context.Background(), buildRequest("cascade.decide", map[string]any{
				"decision": decision,
			}))
			require.NoError(t, err)
			assert.False(t, result.IsError)
			assert.Equal(t, []string{decision}, fe.calls)

			var body map[string]any
			unmarshalResult(t, result, &body)
			assert.Equal(t, true, body["ok"])
			assert.Equal(t, decision, body["decision"])
		})
	}
}

func TestDecideToolValidation(t *testing.T) {
	fe := &fakeEngine{}
	s := NewServer(ServerDeps{Engine: fe})

	result, err := s.handleDecide(context.Background(), buildRequest("cascade.decide", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = s.handleDecide(context.Background(), buildRequest("cascade.decide", map[string]any{
		"decision": "maybe",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Empty(t, fe.calls)
}

func TestDecideToolNoPending(t *testing.T) {
	fe := &fakeEngine{err: schema.NewError(schema.ErrCodeInvalidTransition, "no pending update")}
	s := NewServer(ServerDeps{Engine: fe})

	result, err := s.handleDecide(context.Background(), buildRequest("cascade.decide", map[string]any{
		"decision": "confirm",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "confirm failed")
}

func TestHistoryToolCurrentRun(t *testing.T) {
	fe := &fakeEngine{runID: "run-1", history: []schema.HistoryEntry{
		{Seq: 1, From: schema.StateIdle, To: schema.StateStageRunning, Event: schema.EventStartWorkflow},
		{Seq: 2, From: schema.StateStageRunning, To: schema.StateStepRunning, Event: schema.EventStartStep},
	}}
	s := NewServer(ServerDeps{Engine: fe})

	result, err := s.handleHistory(context.Background(), buildRequest("cascade.history", map[string]any{
		"since": float64(1),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var body struct {
		RunID   string                `json:"run_id"`
		History []schema.HistoryEntry `json:"history"`
	}
	unmarshalResult(t, result, &body)
	assert.Equal(t, "run-1", body.RunID)
	require.Len(t, body.History, 1)
	assert.Equal(t, schema.EventStartStep, body.History[0].Event)
}

func TestHistoryToolPastRun(t *testing.T) {
	fh := &fakeHistory{runID: "old", records: []*store.HistoryRecord{
		{RunID: "old", Sequence: 1, From: schema.StateIdle, To: schema.StateStageRunning, Event: schema.EventStartWorkflow},
	}}
	s := NewServer(ServerDeps{Engine: &fakeEngine{runID: "run-1"}, History: fh})

	result, err := s.handleHistory(context.Background(), buildRequest("cascade.history", map[string]any{
		"run_id": "old",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var body struct {
		History []store.HistoryRecord `json:"history"`
	}
	unmarshalResult(t, result, &body)
	require.Len(t, body.History, 1)
	assert.Equal(t, "old", body.History[0].RunID)

	result, err = s.handleHistory(context.Background(), buildRequest("cascade.history", map[string]any{
		"run_id": "missing",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "NOT_FOUND")
}

func TestHistoryToolWithoutStore(t *testing.T) {
	s := NewServer(ServerDeps{Engine: &fakeEngine{runID: "run-1"}})
	result, err := s.handleHistory(context.Background(), buildRequest("cascade.history", map[string]any{
		"run_id": "other",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

type staticPipeline struct{ tpl *schema.WorkflowTemplate }

func (p staticPipeline) Template() *schema.WorkflowTemplate { return p.tpl }

func TestDiagramTool(t *testing.T) {
	tpl := &schema.WorkflowTemplate{
		ID: "eda",
		Stages: []schema.Stage{
			{ID: "load", Steps: []schema.Step{{ID: "read"}}},
		},
	}
	s := NewServer(ServerDeps{Engine: &fakeEngine{state: schema.StateIdle}, Pipeline: staticPipeline{tpl: tpl}})

	result, err := s.handleDiagram(context.Background(), buildRequest("cascade.diagram", nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, extractText(t, result), "graph TD")

	result, err = s.handleDiagram(context.Background(), buildRequest("cascade.diagram", map[string]any{"format": "ascii"}))
	require.NoError(t, err)
	assert.Contains(t, extractText(t, result), "load")

	result, err = s.handleDiagram(context.Background(), buildRequest("cascade.diagram", map[string]any{"format": "png"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestDiagramToolWithoutPipeline(t *testing.T) {
	s := NewServer(ServerDeps{Engine: &fakeEngine{}})
	result, err := s.handleDiagram(context.Background(), buildRequest("cascade.diagram", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
