package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rendis/cascade/pkg/schema"
)

// Format is a template file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFor picks the encoding from a file extension; unknown extensions
// are treated as JSON.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Document is a decoded template plus its canonical JSON form, which
// validation inspects for fields the Go types would drop.
type Document struct {
	Template *schema.WorkflowTemplate
	JSON     []byte
}

// Parse decodes data in the given format.
func Parse(data []byte, format Format) (*Document, error) {
	raw := data
	if format == FormatYAML {
		var generic any
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "parse YAML template").WithCause(err)
		}
		b, err := json.Marshal(generic)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "convert YAML template to JSON").WithCause(err)
		}
		raw = b
	}

	var tpl schema.WorkflowTemplate
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&tpl); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "parse template").WithCause(err)
	}
	return &Document{Template: &tpl, JSON: raw}, nil
}

// LoadFile reads and parses a template file.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", path, err)
	}
	doc, err := Parse(data, FormatFor(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}
