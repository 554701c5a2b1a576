package engine

import (
	"github.com/rendis/cascade/pkg/schema"
)

// Level selects which pointer MoveToNext advances.
type Level int

const (
	LevelStep Level = iota
	LevelStage
)

func (l Level) String() string {
	if l == LevelStage {
		return "stage"
	}
	return "step"
}

// ExecutionContext is the engine's position in the template plus the
// action batch of the current behavior.
type ExecutionContext struct {
	StageID     string          `json:"current_stage_id,omitempty"`
	StepID      string          `json:"current_step_id,omitempty"`
	BehaviorID  string          `json:"current_behavior_id,omitempty"`
	Actions     []schema.Action `json:"current_behavior_actions,omitempty"`
	ActionIndex int             `json:"current_action_index"`

	// BehaviorCount is the number of behaviors fetched for the current step.
	BehaviorCount int `json:"behavior_count"`
}

// Clone returns a deep copy; action payloads are shared since they are
// never mutated.
func (c ExecutionContext) Clone() ExecutionContext {
	c.Actions = append([]schema.Action(nil), c.Actions...)
	return c
}

// CurrentAction returns the action under the cursor.
func (c *ExecutionContext) CurrentAction() (schema.Action, bool) {
	if c.ActionIndex < 0 || c.ActionIndex >= len(c.Actions) {
		return nil, false
	}
	return c.Actions[c.ActionIndex], true
}

// resetBehavior drops the current behavior and its batch.
func (c *ExecutionContext) resetBehavior() {
	c.BehaviorID = ""
	c.Actions = nil
	c.ActionIndex = 0
}

// MoveToNext advances the step or stage pointer. It returns false, leaving
// c untouched, when the pointer is already on the last element. Advancing a
// step resets the behavior; advancing a stage also clears the step, which
// the next STAGE_RUNNING entry fills in.
func (c *ExecutionContext) MoveToNext(level Level, tpl *schema.WorkflowTemplate) (bool, error) {
	if tpl == nil {
		return false, schema.NewErrorf(schema.ErrCodeInconsistentState,
			"cannot advance %s: no workflow template loaded", level)
	}

	stageIdx := tpl.StageIndex(c.StageID)
	if stageIdx < 0 {
		return false, schema.NewErrorf(schema.ErrCodeInconsistentState,
			"cannot advance %s: stage not found in template %q", level, tpl.ID).
			WithStage(c.StageID)
	}

	switch level {
	case LevelStage:
		if stageIdx == len(tpl.Stages)-1 {
			return false, nil
		}
		c.StageID = tpl.Stages[stageIdx+1].ID
		c.StepID = ""
		c.resetBehavior()
		c.BehaviorCount = 0
		return true, nil

	default:
		stage := &tpl.Stages[stageIdx]
		stepIdx := stage.StepIndex(c.StepID)
		if stepIdx < 0 {
			return false, schema.NewError(schema.ErrCodeInconsistentState,
				"cannot advance step: step not found in stage").
				WithStage(c.StageID).WithStep(c.StepID)
		}
		if stepIdx == len(stage.Steps)-1 {
			return false, nil
		}
		c.StepID = stage.Steps[stepIdx+1].ID
		c.resetBehavior()
		c.BehaviorCount = 0
		return true, nil
	}
}

