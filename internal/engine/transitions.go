package engine

import (
	"sort"

	"github.com/rendis/cascade/pkg/schema"
)

// transitionTable maps (state, event) to the next state. Pairs not listed
// are rejected. FAIL and CANCEL are added for running and pending states by
// init below.
var transitionTable = map[schema.ExecutionState]map[schema.Event]schema.ExecutionState{
	schema.StateIdle: {
		schema.EventStartWorkflow: schema.StateStageRunning,
	},
	schema.StateStageRunning: {
		schema.EventStartStep: schema.StateStepRunning,
	},
	schema.StateStepRunning: {
		schema.EventStartBehavior: schema.StateBehaviorRunning,
	},
	schema.StateBehaviorRunning: {
		schema.EventStartAction:      schema.StateActionRunning,
		schema.EventCompleteBehavior: schema.StateBehaviorCompleted,
	},
	schema.StateActionRunning: {
		schema.EventCompleteAction: schema.StateActionCompleted,
		schema.EventUpdateWorkflow: schema.StateWorkflowUpdatePending,
		schema.EventUpdateStep:     schema.StateStepUpdatePending,
	},
	schema.StateActionCompleted: {
		schema.EventNextAction:       schema.StateActionRunning,
		schema.EventCompleteBehavior: schema.StateBehaviorCompleted,
	},
	schema.StateBehaviorCompleted: {
		schema.EventNextBehavior: schema.StateBehaviorRunning,
		schema.EventCompleteStep: schema.StateStepCompleted,
	},
	schema.StateStepCompleted: {
		schema.EventNextStep:      schema.StateStepRunning,
		schema.EventCompleteStage: schema.StateStageCompleted,
	},
	schema.StateStageCompleted: {
		schema.EventNextStage:        schema.StateStageRunning,
		schema.EventCompleteWorkflow: schema.StateWorkflowCompleted,
	},
	schema.StateWorkflowUpdatePending: {
		schema.EventUpdateConfirmed: schema.StateActionCompleted,
		schema.EventUpdateRejected:  schema.StateActionCompleted,
	},
	schema.StateStepUpdatePending: {
		schema.EventUpdateConfirmed: schema.StateStepRunning,
		schema.EventUpdateRejected:  schema.StateError,
	},
	schema.StateWorkflowCompleted: {
		schema.EventReset: schema.StateIdle,
	},
	schema.StateCancelled: {
		schema.EventReset: schema.StateIdle,
	},
	// ERROR also admits re-entry for retry flows driven by the caller.
	schema.StateError: {
		schema.EventReset:         schema.StateIdle,
		schema.EventStartWorkflow: schema.StateStageRunning,
		schema.EventStartBehavior: schema.StateBehaviorRunning,
	},
}

func init() {
	for state, events := range transitionTable {
		if state.IsRunning() || state.IsPending() {
			events[schema.EventFail] = schema.StateError
			events[schema.EventCancel] = schema.StateCancelled
		}
	}
}

// Next returns the state reached from state on event, or false when the
// table has no such transition.
func Next(state schema.ExecutionState, event schema.Event) (schema.ExecutionState, bool) {
	to, ok := transitionTable[state][event]
	return to, ok
}

// PermittedEvents lists the events state accepts, sorted by name.
func PermittedEvents(state schema.ExecutionState) []schema.Event {
	events := make([]schema.Event, 0, len(transitionTable[state]))
	for ev := range transitionTable[state] {
		events = append(events, ev)
	}
	sort.Slice(events, func(i, j int) bool { return events[i] < events[j] })
	return events
}
