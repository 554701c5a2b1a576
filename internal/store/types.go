package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/cascade/pkg/schema"
)

// TemplateRecord is a stored template version.
type TemplateRecord struct {
	ID        string                   `json:"id"`
	Version   int                      `json:"version"`
	Name      string                   `json:"name,omitempty"`
	Template  *schema.WorkflowTemplate `json:"template"`
	CreatedAt time.Time                `json:"created_at"`
}

// TemplateFilter narrows ListTemplates. Zero values match everything.
type TemplateFilter struct {
	ID    string
	Limit int
}

// HistoryRecord is a persisted transition of one run.
type HistoryRecord struct {
	RunID     string                `json:"run_id"`
	Sequence  int64                 `json:"sequence"`
	From      schema.ExecutionState `json:"from"`
	To        schema.ExecutionState `json:"to"`
	Event     schema.Event          `json:"event"`
	Payload   json.RawMessage       `json:"payload,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
}
