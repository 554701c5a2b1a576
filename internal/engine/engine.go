package engine

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/cascade/internal/logging"
	"github.com/rendis/cascade/internal/streaming"
	"github.com/rendis/cascade/pkg/schema"
)

// Planner fetches action batches and evaluates behaviors.
// Satisfied by *planner.Client.
type Planner interface {
	FetchActions(ctx context.Context, req schema.PlanRequest) ([]schema.Action, error)
	Evaluate(ctx context.Context, req schema.PlanRequest) (*schema.Feedback, error)
}

// ScriptExecutor runs one opaque action to completion.
// Satisfied by *sandbox.Client.
type ScriptExecutor interface {
	Execute(ctx context.Context, action schema.Action) (*schema.ExecResult, error)
}

// PipelineStore holds the template the engine executes. The engine reads it
// from effects and writes it only when an update is confirmed.
type PipelineStore interface {
	Template() *schema.WorkflowTemplate
	Replace(tpl *schema.WorkflowTemplate)
}

// StateSource supplies the accumulated planning state sent with every
// planner request.
type StateSource interface {
	PlanningState(ctx context.Context) (map[string]any, error)
}

// StateResetter is implemented by state sources that accumulate per run.
// ResetState is called under the engine lock when a run starts or the
// engine resets; it must not block or call into the engine.
type StateResetter interface {
	ResetState()
}

// TemplatePersister is implemented by pipeline stores that save confirmed
// templates. Persist runs after the confirming transition commits.
type TemplatePersister interface {
	Persist(ctx context.Context, tpl *schema.WorkflowTemplate) error
}

// TemplateValidator checks proposed templates before they can be pending.
type TemplateValidator interface {
	ValidateTemplate(tpl *schema.WorkflowTemplate) error
}

// UpdatePrompter is the UI boundary for pending-update confirmation. Calls
// happen after the transition commits and must not call back into the
// engine synchronously.
type UpdatePrompter interface {
	ShowUpdatePrompt(ctx context.Context, proposal *schema.UpdateProposal) error
	DismissUpdatePrompt(ctx context.Context) error
}

// Deps are the collaborators of an Engine. Pipeline, Planner and Executor
// are required.
type Deps struct {
	Pipeline  PipelineStore
	Planner   Planner
	Executor  ScriptExecutor
	State     StateSource
	Validator TemplateValidator
	History   HistorySink
	Hub       streaming.EventHub
	Prompter  UpdatePrompter
	Logger    *slog.Logger
}

// Config tunes engine behavior.
type Config struct {
	// MaxBehaviorsPerStep fails the run when a step needs more behaviors
	// than this. Zero means unlimited.
	MaxBehaviorsPerStep int
	// EffectTimeout bounds each state effect. Zero means no bound.
	EffectTimeout time.Duration
	// Now overrides the clock used for history timestamps.
	Now func() time.Time
}

// ErrAlreadyRunning is returned by Run when another run loop is active.
var ErrAlreadyRunning = errors.New("engine run loop already active")

// Snapshot is a consistent view of the engine for status queries.
type Snapshot struct {
	RunID      string                 `json:"run_id,omitempty"`
	State      schema.ExecutionState  `json:"state"`
	Context    ExecutionContext       `json:"context"`
	Pending    *schema.UpdateProposal `json:"pending,omitempty"`
	LastError  string                 `json:"last_error,omitempty"`
	HistoryLen int                    `json:"history_len"`
	Permitted  []schema.Event         `json:"permitted_events"`
}

// effectTask is one scheduled state-entry effect.
type effectTask struct {
	state schema.ExecutionState
	epoch uint64
}

// Engine is the hierarchical workflow state machine. All state mutation
// happens under mu inside commit; effects run one at a time on the Run loop.
type Engine struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	runID    string
	state    schema.ExecutionState
	exec     ExecutionContext
	history  *History
	pending  *schema.UpdateProposal
	lastErr  error
	epoch    uint64
	cancelFx context.CancelFunc
	inflight bool
	queue    []effectTask
	changed  chan struct{}
	outbox   []func()

	flushMu sync.Mutex

	wake    chan struct{}
	running atomic.Bool
}

// New creates an idle Engine.
func New(deps Deps, cfg Config) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Engine{
		deps:    deps,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "engine")),
		state:   schema.StateIdle,
		history: newHistory(cfg.Now),
		changed: make(chan struct{}),
		wake:    make(chan struct{}, 1),
	}
}

// --- Public façade ---

// StartWorkflow begins a run at stageID, or at the template's first stage
// when stageID is empty. Accepted from IDLE and ERROR. Each start is a new
// run: history and the state source are cleared.
func (e *Engine) StartWorkflow(ctx context.Context, stageID string) error {
	if stageID == "" {
		first, ok := e.deps.Pipeline.Template().FirstStage()
		if !ok {
			return schema.NewError(schema.ErrCodeNotFound, "no workflow template loaded or template has no stages")
		}
		stageID = first.ID
	}
	runID := uuid.NewString()
	return e.fire(ctx, 0, schema.EventStartWorkflow, stageID, func(c *ExecutionContext) {
		e.runID = runID
		*c = ExecutionContext{StageID: stageID}
		e.history.clear()
		e.pending = nil
		e.resetStateLocked()
	})
}

// RetryBehavior re-enters BEHAVIOR_RUNNING from ERROR with the current
// stage and step.
func (e *Engine) RetryBehavior(ctx context.Context) error {
	e.mu.Lock()
	stageID, stepID := e.exec.StageID, e.exec.StepID
	e.mu.Unlock()
	if stageID == "" || stepID == "" {
		return schema.NewError(schema.ErrCodeInconsistentState, "cannot retry behavior: no current step")
	}
	return e.fire(ctx, 0, schema.EventStartBehavior, nil, func(c *ExecutionContext) {
		c.resetBehavior()
		c.BehaviorCount = 0
	})
}

// Fail moves a running engine to ERROR carrying err.
func (e *Engine) Fail(ctx context.Context, err error) error {
	if err == nil {
		err = errors.New("failed by caller")
	}
	return e.fire(ctx, 0, schema.EventFail, err, nil)
}

// Cancel moves a running engine to CANCELLED. In-flight effects are aborted
// through their context and their results discarded.
func (e *Engine) Cancel(ctx context.Context) error {
	return e.fire(ctx, 0, schema.EventCancel, nil, nil)
}

// Reset returns a terminal engine to IDLE and clears context and history.
// From IDLE it is a no-op.
func (e *Engine) Reset(ctx context.Context) error {
	e.mu.Lock()
	idle := e.state == schema.StateIdle
	e.mu.Unlock()

	if !idle {
		if err := e.fire(ctx, 0, schema.EventReset, nil, nil); err != nil {
			return err
		}
	}

	e.mu.Lock()
	if e.state == schema.StateIdle {
		e.exec = ExecutionContext{}
		e.history.clear()
		e.pending = nil
		e.lastErr = nil
		e.runID = ""
		e.resetStateLocked()
	}
	e.mu.Unlock()
	return nil
}

func (e *Engine) resetStateLocked() {
	if r, ok := e.deps.State.(StateResetter); ok {
		r.ResetState()
	}
}

// State returns the current state.
func (e *Engine) State() schema.ExecutionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Context returns a copy of the execution context.
func (e *Engine) Context() ExecutionContext {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exec.Clone()
}

// History returns a copy of the transition log.
func (e *Engine) History() []schema.HistoryEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.snapshot()
}

// Pending returns the update awaiting a decision, or nil.
func (e *Engine) Pending() *schema.UpdateProposal {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		return nil
	}
	cp := *e.pending
	return &cp
}

// RunID returns the identifier of the current run, or "" when idle.
func (e *Engine) RunID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runID
}

// Snapshot returns a consistent view of the engine.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Snapshot{
		RunID:      e.runID,
		State:      e.state,
		Context:    e.exec.Clone(),
		HistoryLen: e.history.len(),
		Permitted:  PermittedEvents(e.state),
	}
	if e.pending != nil {
		cp := *e.pending
		s.Pending = &cp
	}
	if e.lastErr != nil {
		s.LastError = e.lastErr.Error()
	}
	return s
}

// LastError returns the error that moved the engine to ERROR, if any.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Wait blocks until the engine settles: IDLE, terminal or pending, with no
// effect in flight. It returns the settled state.
func (e *Engine) Wait(ctx context.Context) (schema.ExecutionState, error) {
	for {
		e.mu.Lock()
		st := e.state
		settled := !e.inflight && (st == schema.StateIdle || st.IsTerminal() || st.IsPending())
		ch := e.changed
		e.mu.Unlock()

		if settled {
			return st, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

// --- Run loop ---

// Run executes scheduled effects until ctx is done. Only one Run may be
// active per engine.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer e.running.Store(false)

	for {
		task, ok := e.next(ctx)
		if !ok {
			return ctx.Err()
		}
		e.runEffect(ctx, task)
	}
}

// next pops the oldest task, waiting for one if the queue is empty.
func (e *Engine) next(ctx context.Context) (effectTask, bool) {
	for {
		e.mu.Lock()
		if len(e.queue) > 0 {
			task := e.queue[0]
			e.queue = e.queue[1:]
			e.mu.Unlock()
			return task, true
		}
		e.mu.Unlock()

		select {
		case <-e.wake:
		case <-ctx.Done():
			return effectTask{}, false
		}
	}
}

// runEffect executes the effect of task.state if the engine is still in
// the epoch the task was scheduled for, then feeds its outcome back.
func (e *Engine) runEffect(ctx context.Context, task effectTask) {
	fx := effectFor(task.state)
	if fx == nil {
		return
	}

	e.mu.Lock()
	if task.epoch != e.epoch {
		e.mu.Unlock()
		return
	}
	snap := e.exec.Clone()
	base := logging.WithPosition(logging.WithRunID(ctx, e.runID), snap.StageID, snap.StepID, snap.BehaviorID)
	var (
		fxCtx  context.Context
		cancel context.CancelFunc
	)
	if e.cfg.EffectTimeout > 0 {
		fxCtx, cancel = context.WithTimeout(base, e.cfg.EffectTimeout)
	} else {
		fxCtx, cancel = context.WithCancel(base)
	}
	e.cancelFx = cancel
	e.inflight = true
	e.mu.Unlock()

	defer func() {
		cancel()
		e.mu.Lock()
		e.inflight = false
		e.cancelFx = nil
		e.signalLocked()
		e.mu.Unlock()
	}()

	out := e.safeEffect(fxCtx, fx, snap)

	// The effect ctx may be cancelled by now; commit work must still reach
	// the sink and the hub.
	commitCtx := context.WithoutCancel(base)
	if err := e.fire(commitCtx, task.epoch, out.event, out.payload, out.apply()); err != nil {
		var serr *schema.Error
		if errors.As(err, &serr) && serr.Code == schema.ErrCodeCancelled {
			e.logger.DebugContext(commitCtx, "discarded stale effect result",
				slog.String("state", string(task.state)),
				slog.String("event", string(out.event)))
			return
		}
		// The table rejected an effect's own event: a programming error.
		e.logger.ErrorContext(commitCtx, "effect produced an invalid event",
			slog.String("state", string(task.state)),
			slog.String("event", string(out.event)),
			slog.String("error", err.Error()))
		_ = e.fire(commitCtx, task.epoch, schema.EventFail, err, nil)
	}
}

// safeEffect converts panics into FAIL outcomes.
func (e *Engine) safeEffect(ctx context.Context, fx effect, snap ExecutionContext) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = failed(schema.NewErrorf(schema.ErrCodeExecution, "effect panicked: %v", r))
		}
	}()
	return fx(ctx, e, snap)
}

// --- Transition ---

// fire applies event. When expectEpoch is non-zero the transition only
// happens if no other transition occurred since that epoch; otherwise a
// CANCELLED-coded error is returned and nothing changes. mutate, if set,
// runs on the execution context atomically with the state change.
func (e *Engine) fire(ctx context.Context, expectEpoch uint64, event schema.Event, payload any, mutate func(*ExecutionContext)) error {
	e.mu.Lock()
	if expectEpoch != 0 && expectEpoch != e.epoch {
		e.mu.Unlock()
		return schema.NewError(schema.ErrCodeCancelled, "state changed while effect was running")
	}

	from := e.state
	to, ok := Next(from, event)
	if !ok {
		e.mu.Unlock()
		e.logger.WarnContext(ctx, "transition rejected",
			slog.String("state", string(from)),
			slog.String("event", string(event)))
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"event %s not accepted in state %s", event, from).
			WithDetails(map[string]any{"state": string(from), "event": string(event)})
	}

	if to.IsPending() && !from.IsPending() {
		proposal, ok := payload.(*schema.UpdateProposal)
		if !ok || proposal == nil || proposal.Template == nil {
			e.mu.Unlock()
			e.logger.WarnContext(ctx, "transition rejected: update without proposal",
				slog.String("state", string(from)),
				slog.String("event", string(event)))
			return schema.NewErrorf(schema.ErrCodeValidation, "event %s requires an update proposal", event)
		}
	}

	if mutate != nil {
		mutate(&e.exec)
	}
	post := e.gateLocked(ctx, from, to, event, payload)

	e.epoch++
	if e.cancelFx != nil {
		e.cancelFx()
		e.cancelFx = nil
	}
	e.state = to

	switch {
	case to == schema.StateError:
		e.lastErr = errorFromPayload(event, payload)
	case from == schema.StateError:
		e.lastErr = nil
	}

	entry := e.history.append(from, to, event, payload)
	e.queue = append(e.queue, effectTask{state: to, epoch: e.epoch})
	runID := e.runID
	pos := e.exec
	ctx = logging.WithPosition(logging.WithRunID(ctx, runID), pos.StageID, pos.StepID, pos.BehaviorID)
	e.outbox = append(e.outbox, func() {
		e.logTransition(ctx, entry)
		for _, fn := range post {
			fn()
		}
		e.publish(ctx, runID, entry)
	})
	e.signalLocked()
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
	e.flush()
	return nil
}

// flush runs queued post-transition work in commit order. It returns once
// everything queued before the call has run.
func (e *Engine) flush() {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()
	for {
		e.mu.Lock()
		batch := e.outbox
		e.outbox = nil
		e.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, fn := range batch {
			fn()
		}
	}
}

// signalLocked wakes Wait callers. Caller holds mu.
func (e *Engine) signalLocked() {
	close(e.changed)
	e.changed = make(chan struct{})
}

func (e *Engine) logTransition(ctx context.Context, entry schema.HistoryEntry) {
	level := slog.LevelDebug
	switch entry.To {
	case schema.StateStageRunning, schema.StateWorkflowCompleted, schema.StateCancelled,
		schema.StateWorkflowUpdatePending, schema.StateStepUpdatePending:
		level = slog.LevelInfo
	case schema.StateError:
		level = slog.LevelWarn
	}
	attrs := []slog.Attr{
		slog.String("from", string(entry.From)),
		slog.String("to", string(entry.To)),
		slog.String("event", string(entry.Event)),
		slog.Int64("seq", entry.Seq),
	}
	if s, ok := entry.Payload.(string); ok && entry.To == schema.StateError {
		attrs = append(attrs, slog.String("error", s))
	}
	e.logger.LogAttrs(ctx, level, "transition", attrs...)
}

// publish forwards the entry to the history sink and the event hub. Both
// are best effort.
func (e *Engine) publish(ctx context.Context, runID string, entry schema.HistoryEntry) {
	if e.deps.History != nil && runID != "" {
		if err := e.deps.History.AppendHistory(ctx, runID, entry); err != nil {
			e.logger.WarnContext(ctx, "history sink append failed", slog.String("error", err.Error()))
		}
	}
	if e.deps.Hub != nil {
		_ = e.deps.Hub.Publish(context.WithoutCancel(ctx), streaming.StreamEvent{
			RunID:   runID,
			Type:    schema.StreamStateChanged,
			From:    entry.From,
			To:      entry.To,
			Event:   entry.Event,
			Payload: entry.Payload,
		})
	}
}

func errorFromPayload(event schema.Event, payload any) error {
	switch p := payload.(type) {
	case error:
		return p
	case string:
		return errors.New(p)
	default:
		return schema.NewErrorf(schema.ErrCodeExecution, "entered ERROR via %s", event)
	}
}
