package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/cascade/pkg/schema"
)

const templateSchemaURL = "https://cascade.dev/schemas/template.json"

// templateSchemaJSON is the JSON Schema for workflow templates.
const templateSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://cascade.dev/schemas/template.json",
  "type": "object",
  "required": ["id", "stages"],
  "properties": {
    "id": { "$ref": "#/$defs/id" },
    "name": { "type": "string" },
    "version": { "type": "integer", "minimum": 0 },
    "stages": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/stage" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "id": {
      "type": "string",
      "minLength": 1,
      "pattern": "^[^\\s]+$"
    },
    "stage": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": { "$ref": "#/$defs/id" },
        "title": { "type": "string" },
        "description": { "type": "string" },
        "steps": {
          "type": ["array", "null"],
          "items": { "$ref": "#/$defs/step" }
        }
      },
      "additionalProperties": false
    },
    "step": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": { "$ref": "#/$defs/id" },
        "title": { "type": "string" },
        "description": { "type": "string" }
      },
      "additionalProperties": false
    }
  }
}`

// structural validates template documents against templateSchemaJSON.
// Safe for concurrent use.
type structural struct {
	schema *jsonschema.Schema
}

func newStructural() (*structural, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(templateSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal template schema: %w", err)
	}
	if err := c.AddResource(templateSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add template schema resource: %w", err)
	}
	compiled, err := c.Compile(templateSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile template schema: %w", err)
	}
	return &structural{schema: compiled}, nil
}

// validateValue checks a template already decoded into Go types.
func (s *structural) validateValue(tpl *schema.WorkflowTemplate) *schema.TemplateReport {
	b, err := json.Marshal(tpl)
	if err != nil {
		r := &schema.TemplateReport{}
		r.Errorf(schema.AtPointer("/"), "failed to serialize template: %v", err)
		return r
	}
	return s.validateDocument(b)
}

// validateDocument checks raw JSON, catching unknown fields that decoding
// into Go types would silently drop.
func (s *structural) validateDocument(raw []byte) *schema.TemplateReport {
	r := &schema.TemplateReport{}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		r.Errorf(schema.AtPointer("/"), "invalid JSON: %v", err)
		return r
	}
	if err := s.schema.Validate(doc); err != nil {
		addViolations(r, err)
	}
	return r
}

// addViolations flattens a jsonschema error tree into result issues keyed
// by instance location.
func addViolations(r *schema.TemplateReport, err error) {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		r.Errorf(schema.AtPointer("/"), "%s", err.Error())
		return
	}
	if len(verr.Causes) == 0 {
		r.Errorf(schema.AtPointer("/"+strings.Join(verr.InstanceLocation, "/")), "%s", leafMessage(verr))
		return
	}
	for _, cause := range verr.Causes {
		addViolations(r, cause)
	}
}

// leafMessage drops the "at '<location>': " prefix jsonschema puts on
// leaf errors.
func leafMessage(verr *jsonschema.ValidationError) string {
	msg := verr.Error()
	i := strings.LastIndex(msg, "at '")
	if i < 0 {
		return msg
	}
	if j := strings.Index(msg[i:], "': "); j >= 0 {
		return msg[i+j+3:]
	}
	return msg
}
