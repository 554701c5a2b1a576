package schema

import (
	"bytes"
	"encoding/json"
)

// WorkflowTemplate is the immutable definition a run executes.
// Stages run in order; each stage runs its steps in order.
type WorkflowTemplate struct {
	ID      string  `json:"id" yaml:"id"`
	Name    string  `json:"name,omitempty" yaml:"name,omitempty"`
	Version int     `json:"version,omitempty" yaml:"version,omitempty"`
	Stages  []Stage `json:"stages" yaml:"stages"`
}

// Stage is a top-level phase of a workflow.
type Stage struct {
	ID          string `json:"id" yaml:"id"`
	Title       string `json:"title,omitempty" yaml:"title,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []Step `json:"steps" yaml:"steps"`
}

// Step is a unit of work within a stage, driven to completion by behaviors.
type Step struct {
	ID          string `json:"id" yaml:"id"`
	Title       string `json:"title,omitempty" yaml:"title,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// StageIndex returns the position of the stage with the given id, or -1.
func (t *WorkflowTemplate) StageIndex(stageID string) int {
	if t == nil {
		return -1
	}
	for i := range t.Stages {
		if t.Stages[i].ID == stageID {
			return i
		}
	}
	return -1
}

// Stage returns the stage with the given id.
func (t *WorkflowTemplate) Stage(stageID string) (*Stage, bool) {
	i := t.StageIndex(stageID)
	if i < 0 {
		return nil, false
	}
	return &t.Stages[i], true
}

// FirstStage returns the first stage, if any.
func (t *WorkflowTemplate) FirstStage() (*Stage, bool) {
	if t == nil || len(t.Stages) == 0 {
		return nil, false
	}
	return &t.Stages[0], true
}

// StepIndex returns the position of stepID inside stageID, or -1.
func (t *WorkflowTemplate) StepIndex(stageID, stepID string) int {
	stage, ok := t.Stage(stageID)
	if !ok {
		return -1
	}
	return stage.StepIndex(stepID)
}

// Clone returns a deep copy of the template.
func (t *WorkflowTemplate) Clone() *WorkflowTemplate {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Stages = make([]Stage, len(t.Stages))
	for i, s := range t.Stages {
		s.Steps = append([]Step(nil), s.Steps...)
		cp.Stages[i] = s
	}
	return &cp
}

// StepIndex returns the position of the step with the given id, or -1.
func (s *Stage) StepIndex(stepID string) int {
	for i := range s.Steps {
		if s.Steps[i].ID == stepID {
			return i
		}
	}
	return -1
}

// FirstStep returns the first step of the stage, if any.
func (s *Stage) FirstStep() (*Step, bool) {
	if len(s.Steps) == 0 {
		return nil, false
	}
	return &s.Steps[0], true
}

// Action is an opaque, server-supplied instruction. The engine never looks
// inside; executors interpret it.
type Action json.RawMessage

// MarshalJSON returns the raw action bytes.
func (a Action) MarshalJSON() ([]byte, error) {
	if len(a) == 0 {
		return []byte("null"), nil
	}
	return a, nil
}

// UnmarshalJSON stores a copy of the raw bytes.
func (a *Action) UnmarshalJSON(data []byte) error {
	*a = append((*a)[:0], data...)
	return nil
}

// Kind peeks at a top-level "type" field for logging. Returns "" when the
// action is not an object or has no string type.
func (a Action) Kind() string {
	if len(a) == 0 || !bytes.HasPrefix(bytes.TrimSpace(a), []byte("{")) {
		return ""
	}
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(a, &probe); err != nil {
		return ""
	}
	return probe.Type
}

// PendingWorkflowUpdate is a proposed template replacement awaiting a
// confirm/reject decision.
type PendingWorkflowUpdate struct {
	Template    *WorkflowTemplate `json:"template"`
	NextStageID string            `json:"next_stage_id,omitempty"`
	NextStepID  string            `json:"next_step_id,omitempty"`
}

// Feedback is the planning service's verdict after a behavior ran.
type Feedback struct {
	TargetAchieved bool   `json:"targetAchieved"`
	StepCompleted  *bool  `json:"stepCompleted,omitempty"`
	NextBehaviorID string `json:"nextBehaviorId,omitempty"`
}
