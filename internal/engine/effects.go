package engine

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rendis/cascade/pkg/schema"
)

// outcome is what an effect asks the engine to commit: an event, its
// payload, and optionally a replacement execution context.
type outcome struct {
	event   schema.Event
	payload any
	next    *ExecutionContext
}

func emit(event schema.Event, payload any) outcome {
	return outcome{event: event, payload: payload}
}

func emitWith(event schema.Event, payload any, next ExecutionContext) outcome {
	return outcome{event: event, payload: payload, next: &next}
}

func failed(err error) outcome {
	return outcome{event: schema.EventFail, payload: err}
}

// apply returns the context mutation to commit with the event.
func (o outcome) apply() func(*ExecutionContext) {
	if o.next == nil {
		return nil
	}
	next := *o.next
	return func(c *ExecutionContext) { *c = next }
}

// effect runs on entry to a state. snap is a copy of the context at entry;
// effects never touch engine state directly.
type effect func(ctx context.Context, e *Engine, snap ExecutionContext) outcome

var effects = map[schema.ExecutionState]effect{
	schema.StateStageRunning:      stageRunning,
	schema.StateStepRunning:       stepRunning,
	schema.StateBehaviorRunning:   behaviorRunning,
	schema.StateActionRunning:     actionRunning,
	schema.StateActionCompleted:   actionCompleted,
	schema.StateBehaviorCompleted: behaviorCompleted,
	schema.StateStepCompleted:     stepCompleted,
	schema.StateStageCompleted:    stageCompleted,
}

func effectFor(state schema.ExecutionState) effect {
	return effects[state]
}

func stageRunning(_ context.Context, e *Engine, snap ExecutionContext) outcome {
	stage, ok := e.deps.Pipeline.Template().Stage(snap.StageID)
	if !ok {
		return failed(schema.NewError(schema.ErrCodeInconsistentState, "stage not found in template").
			WithStage(snap.StageID))
	}
	step, ok := stage.FirstStep()
	if !ok {
		return failed(schema.NewError(schema.ErrCodeInconsistentState, "stage has no steps").
			WithStage(snap.StageID))
	}

	next := snap
	next.StepID = step.ID
	next.resetBehavior()
	next.BehaviorCount = 0
	return emitWith(schema.EventStartStep, step.ID, next)
}

func stepRunning(_ context.Context, e *Engine, snap ExecutionContext) outcome {
	if e.deps.Pipeline.Template().StepIndex(snap.StageID, snap.StepID) < 0 {
		return failed(schema.NewError(schema.ErrCodeInconsistentState, "step not found in template").
			WithStage(snap.StageID).WithStep(snap.StepID))
	}
	next := snap
	next.resetBehavior()
	next.BehaviorCount = 0
	return emitWith(schema.EventStartBehavior, nil, next)
}

func behaviorRunning(ctx context.Context, e *Engine, snap ExecutionContext) outcome {
	req, err := e.planRequest(ctx, snap)
	if err != nil {
		return failed(err)
	}
	if limit := e.cfg.MaxBehaviorsPerStep; limit > 0 && snap.BehaviorCount >= limit {
		return failed(schema.NewErrorf(schema.ErrCodeBehaviorLimit,
			"step needed more than %d behaviors", limit).
			WithStage(snap.StageID).WithStep(snap.StepID))
	}

	actions, err := e.deps.Planner.FetchActions(ctx, req)
	if err != nil {
		return failed(err)
	}

	next := snap
	if next.BehaviorID == "" {
		next.BehaviorID = uuid.NewString()
	}
	next.Actions = actions
	next.ActionIndex = 0
	next.BehaviorCount++

	e.logger.DebugContext(ctx, "fetched action batch",
		slog.String("behavior_id", next.BehaviorID),
		slog.Int("actions", len(actions)),
		slog.Int("behavior_count", next.BehaviorCount))

	if len(actions) == 0 {
		return emitWith(schema.EventCompleteBehavior, nil, next)
	}
	return emitWith(schema.EventStartAction, len(actions), next)
}

func actionRunning(ctx context.Context, e *Engine, snap ExecutionContext) outcome {
	action, ok := snap.CurrentAction()
	if !ok {
		return failed(schema.NewErrorf(schema.ErrCodeInconsistentState,
			"action index %d out of range for batch of %d", snap.ActionIndex, len(snap.Actions)).
			WithStage(snap.StageID).WithStep(snap.StepID))
	}

	e.logger.DebugContext(ctx, "executing action",
		slog.Int("index", snap.ActionIndex),
		slog.String("kind", action.Kind()))

	res, err := e.deps.Executor.Execute(ctx, action)
	if err != nil {
		return failed(err)
	}
	if res == nil || res.Proposal == nil {
		return emit(schema.EventCompleteAction, snap.ActionIndex)
	}

	proposal := *res.Proposal
	if err := e.validateProposal(&proposal); err != nil {
		return failed(err)
	}
	if proposal.Scope == schema.UpdateScopeStep {
		return emit(schema.EventUpdateStep, &proposal)
	}
	return emit(schema.EventUpdateWorkflow, &proposal)
}

func actionCompleted(_ context.Context, _ *Engine, snap ExecutionContext) outcome {
	if snap.ActionIndex+1 < len(snap.Actions) {
		next := snap
		next.ActionIndex++
		return emitWith(schema.EventNextAction, next.ActionIndex, next)
	}
	return emit(schema.EventCompleteBehavior, nil)
}

func behaviorCompleted(ctx context.Context, e *Engine, snap ExecutionContext) outcome {
	req, err := e.planRequest(ctx, snap)
	if err != nil {
		return failed(err)
	}
	fb, err := e.deps.Planner.Evaluate(ctx, req)
	if err != nil {
		return failed(err)
	}
	if fb == nil {
		return failed(schema.NewError(schema.ErrCodeFeedback, "feedback service returned no result").
			WithStage(snap.StageID).WithStep(snap.StepID))
	}

	if fb.TargetAchieved {
		return emit(schema.EventCompleteStep, fb)
	}
	if fb.StepCompleted != nil && *fb.StepCompleted {
		e.logger.InfoContext(ctx, "feedback reports step complete without target achieved; running another behavior")
	}

	next := snap
	next.resetBehavior()
	next.BehaviorID = fb.NextBehaviorID
	return emitWith(schema.EventNextBehavior, fb, next)
}

func stepCompleted(_ context.Context, e *Engine, snap ExecutionContext) outcome {
	next := snap
	advanced, err := next.MoveToNext(LevelStep, e.deps.Pipeline.Template())
	if err != nil {
		return failed(err)
	}
	if !advanced {
		return emit(schema.EventCompleteStage, snap.StageID)
	}
	return emitWith(schema.EventNextStep, next.StepID, next)
}

func stageCompleted(_ context.Context, e *Engine, snap ExecutionContext) outcome {
	next := snap
	advanced, err := next.MoveToNext(LevelStage, e.deps.Pipeline.Template())
	if err != nil {
		return failed(err)
	}
	if !advanced {
		return emit(schema.EventCompleteWorkflow, nil)
	}
	return emitWith(schema.EventNextStage, next.StageID, next)
}

// planRequest addresses the planner at the snapshot's step with the
// accumulated planning state.
func (e *Engine) planRequest(ctx context.Context, snap ExecutionContext) (schema.PlanRequest, error) {
	idx := e.deps.Pipeline.Template().StepIndex(snap.StageID, snap.StepID)
	if idx < 0 {
		return schema.PlanRequest{}, schema.NewError(schema.ErrCodeInconsistentState,
			"current step not found in template").
			WithStage(snap.StageID).WithStep(snap.StepID)
	}

	state := map[string]any{}
	if e.deps.State != nil {
		s, err := e.deps.State.PlanningState(ctx)
		if err != nil {
			return schema.PlanRequest{}, schema.NewError(schema.ErrCodeExecution, "collect planning state").
				WithCause(err)
		}
		if s != nil {
			state = s
		}
	}
	return schema.PlanRequest{StageID: snap.StageID, StepIndex: idx, State: state}, nil
}
