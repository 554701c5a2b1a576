package schema

// ExecutionState is one of the fixed lifecycle states of the engine.
type ExecutionState string

const (
	StateIdle                  ExecutionState = "IDLE"
	StateStageRunning          ExecutionState = "STAGE_RUNNING"
	StateStageCompleted        ExecutionState = "STAGE_COMPLETED"
	StateStepRunning           ExecutionState = "STEP_RUNNING"
	StateStepCompleted         ExecutionState = "STEP_COMPLETED"
	StateBehaviorRunning       ExecutionState = "BEHAVIOR_RUNNING"
	StateBehaviorCompleted     ExecutionState = "BEHAVIOR_COMPLETED"
	StateActionRunning         ExecutionState = "ACTION_RUNNING"
	StateActionCompleted       ExecutionState = "ACTION_COMPLETED"
	StateWorkflowCompleted     ExecutionState = "WORKFLOW_COMPLETED"
	StateWorkflowUpdatePending ExecutionState = "WORKFLOW_UPDATE_PENDING"
	StateStepUpdatePending     ExecutionState = "STEP_UPDATE_PENDING"
	StateError                 ExecutionState = "ERROR"
	StateCancelled             ExecutionState = "CANCELLED"
)

// AllStates returns every declared state in lifecycle order.
func AllStates() []ExecutionState {
	return []ExecutionState{
		StateIdle,
		StateStageRunning,
		StateStageCompleted,
		StateStepRunning,
		StateStepCompleted,
		StateBehaviorRunning,
		StateBehaviorCompleted,
		StateActionRunning,
		StateActionCompleted,
		StateWorkflowCompleted,
		StateWorkflowUpdatePending,
		StateStepUpdatePending,
		StateError,
		StateCancelled,
	}
}

// IsTerminal reports whether s only leaves through RESET (or a retry from ERROR).
func (s ExecutionState) IsTerminal() bool {
	return s == StateWorkflowCompleted || s == StateError || s == StateCancelled
}

// IsPending reports whether s is suspended awaiting an update decision.
func (s ExecutionState) IsPending() bool {
	return s == StateWorkflowUpdatePending || s == StateStepUpdatePending
}

// IsRunning reports whether s is part of the self-driving execution loop.
func (s ExecutionState) IsRunning() bool {
	switch s {
	case StateStageRunning, StateStageCompleted,
		StateStepRunning, StateStepCompleted,
		StateBehaviorRunning, StateBehaviorCompleted,
		StateActionRunning, StateActionCompleted:
		return true
	default:
		return false
	}
}

// Event is a named trigger fed into the transition table.
type Event string

const (
	EventStartWorkflow    Event = "START_WORKFLOW"
	EventStartStep        Event = "START_STEP"
	EventStartBehavior    Event = "START_BEHAVIOR"
	EventStartAction      Event = "START_ACTION"
	EventCompleteAction   Event = "COMPLETE_ACTION"
	EventNextAction       Event = "NEXT_ACTION"
	EventCompleteBehavior Event = "COMPLETE_BEHAVIOR"
	EventNextBehavior     Event = "NEXT_BEHAVIOR"
	EventCompleteStep     Event = "COMPLETE_STEP"
	EventNextStep         Event = "NEXT_STEP"
	EventCompleteStage    Event = "COMPLETE_STAGE"
	EventNextStage        Event = "NEXT_STAGE"
	EventCompleteWorkflow Event = "COMPLETE_WORKFLOW"
	EventUpdateWorkflow   Event = "UPDATE_WORKFLOW"
	EventUpdateStep       Event = "UPDATE_STEP"
	EventUpdateConfirmed  Event = "UPDATE_CONFIRMED"
	EventUpdateRejected   Event = "UPDATE_REJECTED"
	EventFail             Event = "FAIL"
	EventCancel           Event = "CANCEL"
	EventReset            Event = "RESET"
)

// AllEvents returns every declared event.
func AllEvents() []Event {
	return []Event{
		EventStartWorkflow,
		EventStartStep,
		EventStartBehavior,
		EventStartAction,
		EventCompleteAction,
		EventNextAction,
		EventCompleteBehavior,
		EventNextBehavior,
		EventCompleteStep,
		EventNextStep,
		EventCompleteStage,
		EventNextStage,
		EventCompleteWorkflow,
		EventUpdateWorkflow,
		EventUpdateStep,
		EventUpdateConfirmed,
		EventUpdateRejected,
		EventFail,
		EventCancel,
		EventReset,
	}
}

// Stream event types published to subscribers of a run.
const (
	StreamStateChanged    = "state_changed"
	StreamUpdatePending   = "update_pending"
	StreamUpdateDismissed = "update_dismissed"
)
