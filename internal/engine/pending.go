package engine

import (
	"context"
	"log/slog"

	"github.com/rendis/cascade/pkg/schema"
)

// ProposeWorkflowUpdate raises a workflow-level replan while an action is
// running. The running action's result is discarded.
func (e *Engine) ProposeWorkflowUpdate(ctx context.Context, upd schema.PendingWorkflowUpdate) error {
	return e.propose(ctx, schema.EventUpdateWorkflow, &schema.UpdateProposal{
		Scope:                 schema.UpdateScopeWorkflow,
		PendingWorkflowUpdate: upd,
	})
}

// ProposeStepUpdate raises a step-level replan while an action is running.
func (e *Engine) ProposeStepUpdate(ctx context.Context, upd schema.PendingWorkflowUpdate) error {
	return e.propose(ctx, schema.EventUpdateStep, &schema.UpdateProposal{
		Scope:                 schema.UpdateScopeStep,
		PendingWorkflowUpdate: upd,
	})
}

func (e *Engine) propose(ctx context.Context, event schema.Event, p *schema.UpdateProposal) error {
	if err := e.validateProposal(p); err != nil {
		return err
	}
	return e.fire(ctx, 0, event, p, nil)
}

// ConfirmUpdate applies the pending template and resumes.
func (e *Engine) ConfirmUpdate(ctx context.Context) error {
	return e.fire(ctx, 0, schema.EventUpdateConfirmed, nil, nil)
}

// RejectUpdate discards the pending template. A rejected step update is
// fatal to the run; a rejected workflow update resumes the current batch.
func (e *Engine) RejectUpdate(ctx context.Context) error {
	return e.fire(ctx, 0, schema.EventUpdateRejected,
		schema.NewError(schema.ErrCodeUpdateRejected, "proposed update rejected"), nil)
}

// validateProposal checks the template and that the jump targets exist in
// it. An empty scope means workflow.
func (e *Engine) validateProposal(p *schema.UpdateProposal) error {
	if p == nil || p.Template == nil {
		return schema.NewError(schema.ErrCodeValidation, "update proposal has no template")
	}
	switch p.Scope {
	case "":
		p.Scope = schema.UpdateScopeWorkflow
	case schema.UpdateScopeWorkflow, schema.UpdateScopeStep:
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown update scope %q", p.Scope)
	}

	if e.deps.Validator != nil {
		if err := e.deps.Validator.ValidateTemplate(p.Template); err != nil {
			return schema.NewError(schema.ErrCodeValidation, "proposed template is invalid").WithCause(err)
		}
	}

	tpl := p.Template
	if p.NextStageID != "" {
		stage, ok := tpl.Stage(p.NextStageID)
		if !ok {
			return schema.NewError(schema.ErrCodeValidation, "next stage not in proposed template").
				WithStage(p.NextStageID)
		}
		if p.NextStepID != "" && stage.StepIndex(p.NextStepID) < 0 {
			return schema.NewError(schema.ErrCodeValidation, "next step not in next stage").
				WithStage(p.NextStageID).WithStep(p.NextStepID)
		}
		return nil
	}
	if p.NextStepID != "" {
		for i := range tpl.Stages {
			if tpl.Stages[i].StepIndex(p.NextStepID) >= 0 {
				return nil
			}
		}
		return schema.NewError(schema.ErrCodeValidation, "next step not in proposed template").
			WithStep(p.NextStepID)
	}
	return nil
}

// gateLocked maintains the pending record across a transition from -> to
// and returns prompt calls to run after the lock is released. Caller holds
// mu.
func (e *Engine) gateLocked(ctx context.Context, from, to schema.ExecutionState, event schema.Event, payload any) []func() {
	var post []func()

	switch {
	case to.IsPending() && !from.IsPending():
		p := *payload.(*schema.UpdateProposal)
		if event == schema.EventUpdateStep {
			p.Scope = schema.UpdateScopeStep
		} else {
			p.Scope = schema.UpdateScopeWorkflow
		}
		e.pending = &p
		if e.deps.Prompter != nil {
			shown := p
			post = append(post, func() {
				if err := e.deps.Prompter.ShowUpdatePrompt(ctx, &shown); err != nil {
					e.logger.WarnContext(ctx, "show update prompt failed", slog.String("error", err.Error()))
				}
			})
		}

	case from.IsPending() && !to.IsPending():
		if event == schema.EventUpdateConfirmed && e.pending != nil {
			post = append(post, e.applyLocked(ctx, e.pending)...)
		}
		e.pending = nil
		if e.deps.Prompter != nil {
			post = append(post, func() {
				if err := e.deps.Prompter.DismissUpdatePrompt(ctx); err != nil {
					e.logger.WarnContext(ctx, "dismiss update prompt failed", slog.String("error", err.Error()))
				}
			})
		}
	}

	if (e.pending != nil) != to.IsPending() {
		e.logger.ErrorContext(ctx, "pending update out of sync with state; clearing",
			slog.String("state", string(to)),
			slog.Bool("has_pending", e.pending != nil))
		e.pending = nil
	}
	return post
}

// applyLocked installs the confirmed template and repositions the context.
// It returns the persistence call to run after the lock is released. Caller
// holds mu.
func (e *Engine) applyLocked(ctx context.Context, p *schema.UpdateProposal) []func() {
	tpl := p.Template.Clone()
	e.deps.Pipeline.Replace(tpl)

	c := &e.exec
	before := *c
	if p.Scope == schema.UpdateScopeStep {
		repositionStep(c, tpl, p)
	} else {
		repositionWorkflow(c, tpl, p)
	}
	// A workflow update resumes at ACTION_COMPLETED, so the rest of the
	// running batch carries over to the new position and counts as its
	// first behavior. A step update re-enters STEP_RUNNING, which resets.
	if c.StageID != before.StageID || c.StepID != before.StepID {
		c.BehaviorCount = 0
		if len(c.Actions) > 0 {
			c.BehaviorCount = 1
		}
	}

	e.logger.InfoContext(ctx, "workflow update applied",
		slog.String("template_id", tpl.ID),
		slog.Int("version", tpl.Version),
		slog.String("scope", string(p.Scope)),
		slog.String("stage_id", c.StageID),
		slog.String("step_id", c.StepID))

	persister, ok := e.deps.Pipeline.(TemplatePersister)
	if !ok {
		return nil
	}
	return []func(){func() {
		if err := persister.Persist(ctx, tpl); err != nil {
			e.logger.WarnContext(ctx, "persist template failed",
				slog.String("template_id", tpl.ID),
				slog.Int("version", tpl.Version),
				slog.String("error", err.Error()))
		}
	}}
}

// repositionWorkflow jumps to the requested stage, or falls back to the
// first stage when the current one is gone.
func repositionWorkflow(c *ExecutionContext, tpl *schema.WorkflowTemplate, p *schema.UpdateProposal) {
	if p.NextStageID != "" {
		if stage, ok := tpl.Stage(p.NextStageID); ok {
			c.StageID = stage.ID
			c.StepID = pickStep(stage, p.NextStepID, "")
			return
		}
	}

	stage, ok := tpl.Stage(c.StageID)
	if !ok {
		first, ok := tpl.FirstStage()
		if !ok {
			c.StageID, c.StepID = "", ""
			return
		}
		c.StageID = first.ID
		c.StepID = pickStep(first, p.NextStepID, "")
		return
	}
	c.StepID = pickStep(stage, p.NextStepID, c.StepID)
}

// repositionStep keeps the current stage when possible and selects the step
// to re-run.
func repositionStep(c *ExecutionContext, tpl *schema.WorkflowTemplate, p *schema.UpdateProposal) {
	stage, ok := tpl.Stage(p.NextStageID)
	if !ok {
		stage, ok = tpl.Stage(c.StageID)
	}
	if !ok {
		stage, ok = tpl.FirstStage()
	}
	if !ok {
		c.StageID, c.StepID = "", ""
		return
	}
	current := ""
	if stage.ID == c.StageID {
		current = c.StepID
	}
	c.StageID = stage.ID
	c.StepID = pickStep(stage, p.NextStepID, current)
}

// pickStep prefers want, then keep, then the stage's first step.
func pickStep(stage *schema.Stage, want, keep string) string {
	if want != "" && stage.StepIndex(want) >= 0 {
		return want
	}
	if keep != "" && stage.StepIndex(keep) >= 0 {
		return keep
	}
	if first, ok := stage.FirstStep(); ok {
		return first.ID
	}
	return ""
}
