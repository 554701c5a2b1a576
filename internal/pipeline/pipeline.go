// Package pipeline holds the workflow template the engine executes.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rendis/cascade/pkg/schema"
)

const persistTimeout = 5 * time.Second

// Persister durably records every template version that becomes current.
// Satisfied by *store.LibSQLStore.
type Persister interface {
	SaveTemplate(ctx context.Context, tpl *schema.WorkflowTemplate) error
}

// Store is the in-memory current template. Reads are concurrent; the only
// writer during a run is the engine's update gate.
type Store struct {
	mu        sync.RWMutex
	tpl       *schema.WorkflowTemplate
	persister Persister
	logger    *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithPersister saves each replaced template through p.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a Store holding tpl, which may be nil.
func New(tpl *schema.WorkflowTemplate, opts ...Option) *Store {
	s := &Store{tpl: tpl, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "pipeline"))
	return s
}

// Template returns the current template. Callers must not modify it.
func (s *Store) Template() *schema.WorkflowTemplate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tpl
}

// Replace swaps in tpl. It never blocks on I/O; the engine calls it while
// holding its own lock.
func (s *Store) Replace(tpl *schema.WorkflowTemplate) {
	s.mu.Lock()
	s.tpl = tpl
	s.mu.Unlock()
}

// Persist records tpl through the persister, if any. The engine calls it
// after the confirming transition commits.
func (s *Store) Persist(ctx context.Context, tpl *schema.WorkflowTemplate) error {
	if s.persister == nil || tpl == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	if err := s.persister.SaveTemplate(ctx, tpl); err != nil {
		return schema.NewError(schema.ErrCodeStore, "persist template failed").
			WithDetails(map[string]any{"template_id": tpl.ID, "version": tpl.Version}).
			WithCause(err)
	}
	s.logger.DebugContext(ctx, "template persisted",
		slog.String("template_id", tpl.ID),
		slog.Int("version", tpl.Version))
	return nil
}
