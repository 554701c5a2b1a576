package diagram

import (
	"fmt"

	"github.com/rendis/cascade/pkg/schema"
)

// Position is where a run currently is. The zero value renders the bare
// template with every node pending.
type Position struct {
	State   schema.ExecutionState
	StageID string
	StepID  string
}

// Build converts a template and run position into a Model.
func Build(tpl *schema.WorkflowTemplate, pos Position) (*Model, error) {
	if tpl == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "diagram: template is nil")
	}

	title := tpl.Name
	if title == "" {
		title = tpl.ID
	}
	if tpl.Version > 0 {
		title = fmt.Sprintf("%s v%d", title, tpl.Version)
	}
	model := &Model{Title: title}

	stageIdx := tpl.StageIndex(pos.StageID)
	for i := range tpl.Stages {
		stage := &tpl.Stages[i]
		sn := &StageNode{ID: stage.ID, Label: labelOr(stage.Title, stage.ID)}

		stepIdx := -1
		if i == stageIdx {
			stepIdx = stage.StepIndex(pos.StepID)
		}
		sn.Status = nodeStatus(pos.State, i, stageIdx)
		for j := range stage.Steps {
			step := &stage.Steps[j]
			st := &StepNode{ID: step.ID, Label: labelOr(step.Title, step.ID)}
			switch {
			case sn.Status != StatusRunning && sn.Status != StatusFailed &&
				sn.Status != StatusSuspended && sn.Status != StatusCancelled:
				st.Status = sn.Status
			case stepIdx < 0:
				// Position is at stage level; no step started yet.
				st.Status = StatusPending
			default:
				st.Status = nodeStatus(pos.State, j, stepIdx)
			}
			sn.Steps = append(sn.Steps, st)
		}
		model.Stages = append(model.Stages, sn)
	}
	return model, nil
}

// nodeStatus places node i relative to the current node.
func nodeStatus(state schema.ExecutionState, i, current int) Status {
	switch {
	case state == schema.StateWorkflowCompleted:
		return StatusCompleted
	case state == "" || state == schema.StateIdle || current < 0:
		return StatusPending
	case i < current:
		return StatusCompleted
	case i > current:
		return StatusPending
	}
	switch {
	case state == schema.StateError:
		return StatusFailed
	case state == schema.StateCancelled:
		return StatusCancelled
	case state.IsPending():
		return StatusSuspended
	default:
		return StatusRunning
	}
}

func labelOr(label, id string) string {
	if label != "" {
		return label
	}
	return id
}
