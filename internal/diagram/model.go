// Package diagram renders a workflow template, optionally overlaid with the
// position of a run, as Mermaid or ASCII text.
package diagram

// Status is the overlay state of a stage or step node.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
)

// Model is the intermediate representation used by all renderers.
type Model struct {
	Title  string
	Stages []*StageNode
}

// StageNode is one stage and its ordered steps.
type StageNode struct {
	ID     string
	Label  string
	Status Status
	Steps  []*StepNode
}

// StepNode is one step of a stage.
type StepNode struct {
	ID     string
	Label  string
	Status Status
}
