package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/cascade/pkg/schema"
)

func newValidator(t *testing.T) *TemplateValidator {
	t.Helper()
	v, err := New()
	require.NoError(t, err)
	return v
}

func validTemplate() *schema.WorkflowTemplate {
	return &schema.WorkflowTemplate{
		ID:      "eda",
		Name:    "Exploratory analysis",
		Version: 1,
		Stages: []schema.Stage{
			{ID: "load", Title: "Load", Steps: []schema.Step{{ID: "read"}, {ID: "clean"}}},
			{ID: "model", Steps: []schema.Step{{ID: "fit"}}},
		},
	}
}

func paths(issues []schema.TemplateIssue) []string {
	out := make([]string, len(issues))
	for i, is := range issues {
		out[i] = is.Pointer
	}
	return out
}

func TestValidate_Valid(t *testing.T) {
	result := newValidator(t).Validate(validTemplate())
	assert.True(t, result.Valid())
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
}

func TestValidate_Nil(t *testing.T) {
	result := newValidator(t).Validate(nil)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, "nil")
}

func TestValidate_Structural(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*schema.WorkflowTemplate)
		path   string
	}{
		{"empty template id", func(t *schema.WorkflowTemplate) { t.ID = "" }, "/id"},
		{"no stages", func(t *schema.WorkflowTemplate) { t.Stages = []schema.Stage{} }, "/stages"},
		{"nil stages", func(t *schema.WorkflowTemplate) { t.Stages = nil }, "/stages"},
		{"empty stage id", func(t *schema.WorkflowTemplate) { t.Stages[1].ID = "" }, "/stages/1/id"},
		{"empty step id", func(t *schema.WorkflowTemplate) { t.Stages[0].Steps[1].ID = "" }, "/stages/0/steps/1/id"},
		{"whitespace id", func(t *schema.WorkflowTemplate) { t.Stages[0].ID = "two words" }, "/stages/0/id"},
		{"negative version", func(t *schema.WorkflowTemplate) { t.Version = -1 }, "/version"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tpl := validTemplate()
			tt.mutate(tpl)
			result := newValidator(t).Validate(tpl)
			require.False(t, result.Valid())
			assert.Contains(t, paths(result.Errors), tt.path)
		})
	}
}

func TestValidate_DuplicateIDs(t *testing.T) {
	tpl := validTemplate()
	tpl.Stages[1].ID = "load"
	tpl.Stages[0].Steps[1].ID = "read"

	result := newValidator(t).Validate(tpl)
	require.Len(t, result.Errors, 2)
	assert.ElementsMatch(t, []string{"/stages/1/id", "/stages/0/steps/1/id"}, paths(result.Errors))
	assert.Contains(t, result.Errors[0].Message, "duplicate")
	assert.Equal(t, "eda", result.TemplateID)
}

func TestValidate_SameStepIDInDifferentStages(t *testing.T) {
	tpl := validTemplate()
	tpl.Stages[1].Steps[0].ID = "read"
	assert.True(t, newValidator(t).Validate(tpl).Valid())
}

func TestValidate_StageWithoutStepsWarns(t *testing.T) {
	tpl := validTemplate()
	tpl.Stages = append(tpl.Stages, schema.Stage{ID: "report"})

	v := newValidator(t)
	result := v.Validate(tpl)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "/stages/2/steps", result.Warnings[0].Pointer)
	assert.Equal(t, "report", result.Warnings[0].StageID)
	assert.NoError(t, v.ValidateTemplate(tpl))
}

func TestValidateDocument_UnknownField(t *testing.T) {
	raw := []byte(`{"id":"t","stages":[{"id":"s","steps":[{"id":"a","action":"x"}]}]}`)
	result := newValidator(t).ValidateDocument(raw, nil)
	require.False(t, result.Valid())
	assert.Contains(t, paths(result.Errors), "/stages/0/steps/0")
}

func TestValidateDocument_InvalidJSON(t *testing.T) {
	result := newValidator(t).ValidateDocument([]byte(`{"id":`), nil)
	require.False(t, result.Valid())
	assert.Equal(t, "/", result.Errors[0].Pointer)
}

func TestValidateTemplate_ReturnsStructuredError(t *testing.T) {
	tpl := validTemplate()
	tpl.Stages[1].ID = "load"

	err := newValidator(t).ValidateTemplate(tpl)
	var serr *schema.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, schema.ErrCodeValidation, serr.Code)
	assert.Equal(t, "load", serr.StageID)
	assert.Contains(t, serr.Message, `template "eda"`)
	assert.Equal(t, 1, serr.Details["error_count"])
}
