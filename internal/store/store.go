package store

import (
	"context"

	"github.com/rendis/cascade/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Templates
	SaveTemplate(ctx context.Context, tpl *schema.WorkflowTemplate) error
	GetTemplate(ctx context.Context, id string, version int) (*TemplateRecord, error)
	LatestTemplate(ctx context.Context, id string) (*TemplateRecord, error)
	ListTemplates(ctx context.Context, filter TemplateFilter) ([]*TemplateRecord, error)

	// History (append-only)
	AppendHistory(ctx context.Context, runID string, entry schema.HistoryEntry) error
	ListHistory(ctx context.Context, runID string, since int64) ([]*HistoryRecord, error)
	ListRuns(ctx context.Context, limit int) ([]string, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
