package schema

import (
	"fmt"
	"strings"
)

// IssueSeverity separates issues that reject a template from advisories.
type IssueSeverity string

const (
	SeverityError   IssueSeverity = "error"
	SeverityWarning IssueSeverity = "warning"
)

// Location points at a node of a template document. StageID and StepID are
// set when the pointer resolves to a known stage or step.
type Location struct {
	Pointer string `json:"pointer"`
	StageID string `json:"stage_id,omitempty"`
	StepID  string `json:"step_id,omitempty"`
}

// AtPointer locates an arbitrary JSON pointer; "" means the document root.
func AtPointer(pointer string) Location {
	if pointer == "" {
		pointer = "/"
	}
	return Location{Pointer: pointer}
}

// AtStage locates stage i, optionally a field of it.
func AtStage(i int, stageID string, field ...string) Location {
	return Location{
		Pointer: join(fmt.Sprintf("/stages/%d", i), field),
		StageID: stageID,
	}
}

// AtStep locates step j of stage i, optionally a field of it.
func AtStep(i int, stageID string, j int, stepID string, field ...string) Location {
	return Location{
		Pointer: join(fmt.Sprintf("/stages/%d/steps/%d", i, j), field),
		StageID: stageID,
		StepID:  stepID,
	}
}

func join(base string, field []string) string {
	if len(field) == 0 {
		return base
	}
	return base + "/" + strings.Join(field, "/")
}

// TemplateIssue is one problem found in a template.
type TemplateIssue struct {
	Location
	Message  string        `json:"message"`
	Severity IssueSeverity `json:"severity"`
}

// TemplateReport collects the issues found while checking one template.
// Warnings never make a template unusable.
type TemplateReport struct {
	TemplateID string          `json:"template_id,omitempty"`
	Errors     []TemplateIssue `json:"errors,omitempty"`
	Warnings   []TemplateIssue `json:"warnings,omitempty"`
}

// Valid reports whether the template can be loaded or accepted as an update.
func (r *TemplateReport) Valid() bool {
	return len(r.Errors) == 0
}

// Errorf records an issue that rejects the template.
func (r *TemplateReport) Errorf(loc Location, format string, args ...any) {
	r.Errors = append(r.Errors, TemplateIssue{
		Location: loc, Message: fmt.Sprintf(format, args...), Severity: SeverityError,
	})
}

// Warnf records an advisory.
func (r *TemplateReport) Warnf(loc Location, format string, args ...any) {
	r.Warnings = append(r.Warnings, TemplateIssue{
		Location: loc, Message: fmt.Sprintf(format, args...), Severity: SeverityWarning,
	})
}

// Merge appends the issues of other. The template id is kept unless unset.
func (r *TemplateReport) Merge(other *TemplateReport) {
	if other == nil {
		return
	}
	if r.TemplateID == "" {
		r.TemplateID = other.TemplateID
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// ToError returns nil for a valid template, otherwise a VALIDATION_ERROR
// naming the first issue and positioned at its stage and step.
func (r *TemplateReport) ToError() error {
	if r.Valid() {
		return nil
	}

	first := r.Errors[0]
	subject := "template"
	if r.TemplateID != "" {
		subject = fmt.Sprintf("template %q", r.TemplateID)
	}
	msg := fmt.Sprintf("%s: %s: %s", subject, first.Pointer, first.Message)
	if n := len(r.Errors); n > 1 {
		msg = fmt.Sprintf("%s (and %d more)", msg, n-1)
	}

	err := NewError(ErrCodeValidation, msg).
		WithDetails(map[string]any{
			"error_count":   len(r.Errors),
			"warning_count": len(r.Warnings),
			"errors":        r.Errors,
			"warnings":      r.Warnings,
		})
	if first.StageID != "" {
		err = err.WithStage(first.StageID)
	}
	if first.StepID != "" {
		err = err.WithStep(first.StepID)
	}
	return err
}
