package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rendis/cascade/internal/engine"
	"github.com/rendis/cascade/internal/logging"
	"github.com/rendis/cascade/internal/pipeline"
	"github.com/rendis/cascade/internal/planner"
	"github.com/rendis/cascade/internal/sandbox"
	"github.com/rendis/cascade/internal/store"
	"github.com/rendis/cascade/internal/streaming"
	"github.com/rendis/cascade/internal/validation"
)

// app is one wired engine with its collaborators.
type app struct {
	cfg     Config
	logger  *slog.Logger
	engine  *engine.Engine
	pipe    *pipeline.Store
	hub     *streaming.MemoryHub
	store   *store.LibSQLStore
	history *store.HistoryLog
	closers []io.Closer
}

func newLogger(cfg Config) (*slog.Logger, io.Closer, error) {
	opts := logging.Options{Level: cfg.LogLevel, Console: os.Stderr}
	if cfg.LogFile == "" {
		return logging.New(opts), nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	opts.File = f
	return logging.New(opts), f, nil
}

// loadTemplate parses and validates a template file.
func loadTemplate(v *validation.TemplateValidator, path string) (*pipeline.Document, error) {
	doc, err := pipeline.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := v.ValidateDocument(doc.JSON, doc.Template).ToError(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

func buildApp(ctx context.Context, cfg Config, logger *slog.Logger) (*app, error) {
	if err := cfg.validateForRun(); err != nil {
		return nil, err
	}
	timeouts, err := cfg.durations()
	if err != nil {
		return nil, err
	}

	validator, err := validation.New()
	if err != nil {
		return nil, err
	}
	doc, err := loadTemplate(validator, cfg.TemplatePath)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, hub: streaming.NewMemoryHub()}
	pipeOpts := []pipeline.Option{pipeline.WithLogger(logger)}

	if cfg.DBPath != "" {
		lock, err := acquireLock(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, lock)
		st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.closers = append(a.closers, st)
		if err := st.Migrate(ctx); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("migrate store: %w", err)
		}
		if err := st.SaveTemplate(ctx, doc.Template); err != nil {
			logger.Warn("persist initial template failed", slog.String("error", err.Error()))
		}
		a.store = st
		a.history = store.NewHistoryLog(st)
		pipeOpts = append(pipeOpts, pipeline.WithPersister(st))
	}

	retry := planner.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.RetryAttempts
	plan, err := planner.New(planner.Config{
		BehaviorURL:     cfg.BehaviorURL,
		FeedbackURL:     cfg.FeedbackURL,
		ActionQuery:     cfg.ActionQuery,
		FeedbackTimeout: timeouts.Feedback,
		Retry:           retry,
		Breaker:         planner.DefaultCircuitBreakerConfig(),
		Logger:          logger,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	cells := sandbox.NewMemoryCells(cfg.CellHistory)
	exec, err := sandbox.New(sandbox.Config{
		URL:     cfg.SandboxURL,
		Timeout: timeouts.Sandbox,
		Cells:   cells,
		Logger:  logger,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.pipe = pipeline.New(doc.Template, pipeOpts...)
	deps := engine.Deps{
		Pipeline:  a.pipe,
		Planner:   plan,
		Executor:  exec,
		State:     cells,
		Validator: validator,
		Hub:       a.hub,
		Prompter:  streaming.NewHubPrompter(a.hub),
		Logger:    logger,
	}
	if a.history != nil {
		deps.History = a.history
	}
	a.engine = engine.New(deps, engine.Config{
		MaxBehaviorsPerStep: cfg.MaxBehaviors,
		EffectTimeout:       timeouts.Effect,
	})
	return a, nil
}

// Close releases the store and any other resources, newest first.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}
