package validation

import (
	"github.com/rendis/cascade/pkg/schema"
)

// validateSemantic checks what the JSON Schema cannot express: id
// uniqueness, and stages that would fail as soon as they start.
func validateSemantic(tpl *schema.WorkflowTemplate) *schema.TemplateReport {
	report := &schema.TemplateReport{TemplateID: tpl.ID}

	stages := make(map[string]int, len(tpl.Stages))
	for i, stage := range tpl.Stages {
		if first, dup := stages[stage.ID]; dup {
			report.Errorf(schema.AtStage(i, stage.ID, "id"),
				"duplicate stage id %q (first at /stages/%d)", stage.ID, first)
		} else {
			stages[stage.ID] = i
		}

		if len(stage.Steps) == 0 {
			report.Warnf(schema.AtStage(i, stage.ID, "steps"),
				"stage %q has no steps; a run entering it fails", stage.ID)
			continue
		}

		steps := make(map[string]int, len(stage.Steps))
		for j, step := range stage.Steps {
			if first, dup := steps[step.ID]; dup {
				report.Errorf(schema.AtStep(i, stage.ID, j, step.ID, "id"),
					"duplicate step id %q in stage %q (first at /stages/%d/steps/%d)", step.ID, stage.ID, i, first)
				continue
			}
			steps[step.ID] = j
		}
	}
	return report
}
