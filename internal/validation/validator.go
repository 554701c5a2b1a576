// Package validation checks workflow templates before they are loaded or
// accepted as a pending update.
package validation

import (
	"github.com/rendis/cascade/pkg/schema"
)

// TemplateValidator runs structural (JSON Schema) then semantic checks.
type TemplateValidator struct {
	structural *structural
}

// New creates a TemplateValidator with the template schema compiled.
func New() (*TemplateValidator, error) {
	s, err := newStructural()
	if err != nil {
		return nil, err
	}
	return &TemplateValidator{structural: s}, nil
}

// Validate returns every issue found in tpl. Structural errors skip the
// semantic stage.
func (v *TemplateValidator) Validate(tpl *schema.WorkflowTemplate) *schema.TemplateReport {
	if tpl == nil {
		r := &schema.TemplateReport{}
		r.Errorf(schema.AtPointer("/"), "template is nil")
		return r
	}
	result := v.structural.validateValue(tpl)
	result.TemplateID = tpl.ID
	if !result.Valid() {
		return result
	}
	result.Merge(validateSemantic(tpl))
	return result
}

// ValidateDocument validates a raw JSON template, including fields the Go
// types do not know about.
func (v *TemplateValidator) ValidateDocument(raw []byte, tpl *schema.WorkflowTemplate) *schema.TemplateReport {
	result := v.structural.validateDocument(raw)
	if tpl == nil {
		return result
	}
	result.TemplateID = tpl.ID
	if !result.Valid() {
		return result
	}
	result.Merge(validateSemantic(tpl))
	return result
}

// ValidateTemplate returns a VALIDATION_ERROR describing the first problem,
// or nil. Warnings do not fail.
func (v *TemplateValidator) ValidateTemplate(tpl *schema.WorkflowTemplate) error {
	return v.Validate(tpl).ToError()
}
