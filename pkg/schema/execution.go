package schema

import (
	"encoding/json"
	"time"
)

// HistoryEntry records one accepted transition.
type HistoryEntry struct {
	Seq       int64          `json:"seq"`
	From      ExecutionState `json:"from"`
	To        ExecutionState `json:"to"`
	Event     Event          `json:"event"`
	Payload   any            `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// PlanRequest addresses the planning and feedback endpoints.
type PlanRequest struct {
	StageID   string         `json:"stage_id"`
	StepIndex int            `json:"step_index"`
	State     map[string]any `json:"state"`
}

// UpdateScope says which level of the plan a proposal replans.
type UpdateScope string

const (
	UpdateScopeWorkflow UpdateScope = "workflow"
	UpdateScopeStep     UpdateScope = "step"
)

// UpdateProposal is a replanning request raised while an action runs.
type UpdateProposal struct {
	Scope UpdateScope `json:"scope"`
	PendingWorkflowUpdate
}

// ExecResult is what a script executor reports for one action.
type ExecResult struct {
	Outputs  []json.RawMessage `json:"outputs,omitempty"`
	Proposal *UpdateProposal   `json:"proposal,omitempty"`
}
