package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rendis/cascade/internal/diagram"
	"github.com/rendis/cascade/internal/panel"
	"github.com/rendis/cascade/internal/pipeline"
	"github.com/rendis/cascade/internal/scheduler"
	"github.com/rendis/cascade/internal/validation"
	"github.com/rendis/cascade/pkg/mcp"
	"github.com/rendis/cascade/pkg/schema"
)

var (
	configPath    string
	flagCfg       Config
	diagramFormat string
)

var rootCmd = &cobra.Command{
	Use:           "cascade",
	Short:         "Hierarchical workflow engine driven by a remote planner",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the workflow once to completion",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, runWorkflow)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the engine over MCP stdio, optionally restarting on a schedule",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, serve)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate <template>...",
	Short: "Validate workflow template files (JSON or YAML)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return validateFiles(cmd.OutOrStdout(), args)
	},
}

var diagramCmd = &cobra.Command{
	Use:   "diagram <template>",
	Short: "Render a workflow template as a Mermaid or ASCII diagram",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return renderDiagram(cmd.OutOrStdout(), args[0], diagramFormat)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", settingsPath(), "settings file")
	pf.StringVar(&flagCfg.LogLevel, "log-level", "", "debug, info, warn or error")
	pf.StringVar(&flagCfg.LogFile, "log-file", "", "also write JSON logs to this file")
	pf.StringVar(&flagCfg.DBPath, "db", "", "libSQL database path; empty string disables persistence")

	for _, c := range []*cobra.Command{runCmd, serveCmd} {
		f := c.Flags()
		f.StringVarP(&flagCfg.TemplatePath, "template", "t", "", "workflow template file")
		f.StringVar(&flagCfg.StartStage, "stage", "", "stage to start at (default: first)")
		f.StringVar(&flagCfg.BehaviorURL, "behavior-url", "", "planner endpoint streaming action batches")
		f.StringVar(&flagCfg.FeedbackURL, "feedback-url", "", "planner endpoint evaluating behaviors")
		f.StringVar(&flagCfg.SandboxURL, "sandbox-url", "", "code execution sandbox endpoint")
		f.StringVar(&flagCfg.OnUpdate, "on-update", "", "answer to proposed workflow updates: confirm or reject")
		f.IntVar(&flagCfg.MaxBehaviors, "max-behaviors", 0, "behaviors allowed per step before failing")
	}
	serveCmd.Flags().StringVar(&flagCfg.Schedule, "schedule", "", "cron expression restarting the workflow")
	serveCmd.Flags().StringVar(&flagCfg.ListenAddr, "http", "", "also serve the HTTP panel on this address, e.g. :8080")

	diagramCmd.Flags().StringVarP(&diagramFormat, "format", "f", "mermaid", "mermaid or ascii")

	rootCmd.AddCommand(runCmd, serveCmd, validateCmd, diagramCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// resolveConfig layers flags that were set explicitly over the loaded config.
func resolveConfig(cmd *cobra.Command) (Config, error) {
	cfg, err := loadConfig(configPath, os.Getenv)
	if err != nil {
		return cfg, err
	}
	set := func(name string, dst *string, v string) {
		if cmd.Flags().Changed(name) {
			*dst = v
		}
	}
	set("log-level", &cfg.LogLevel, flagCfg.LogLevel)
	set("log-file", &cfg.LogFile, flagCfg.LogFile)
	set("db", &cfg.DBPath, flagCfg.DBPath)
	set("template", &cfg.TemplatePath, flagCfg.TemplatePath)
	set("stage", &cfg.StartStage, flagCfg.StartStage)
	set("behavior-url", &cfg.BehaviorURL, flagCfg.BehaviorURL)
	set("feedback-url", &cfg.FeedbackURL, flagCfg.FeedbackURL)
	set("sandbox-url", &cfg.SandboxURL, flagCfg.SandboxURL)
	set("on-update", &cfg.OnUpdate, flagCfg.OnUpdate)
	set("schedule", &cfg.Schedule, flagCfg.Schedule)
	set("http", &cfg.ListenAddr, flagCfg.ListenAddr)
	if cmd.Flags().Changed("max-behaviors") {
		cfg.MaxBehaviors = flagCfg.MaxBehaviors
	}
	return cfg, nil
}

func withApp(cmd *cobra.Command, fn func(context.Context, *app, io.Writer) error) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger, logFile, err := newLogger(cfg)
	if err != nil {
		return err
	}
	if logFile != nil {
		defer logFile.Close()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close failed", slog.String("error", err.Error()))
		}
	}()

	go func() {
		if err := a.engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("engine loop stopped", slog.String("error", err.Error()))
		}
	}()
	return fn(ctx, a, cmd.OutOrStdout())
}

// runWorkflow starts a run, answers update prompts per on_update and prints
// the final snapshot.
func runWorkflow(ctx context.Context, a *app, out io.Writer) error {
	eng := a.engine
	if err := eng.StartWorkflow(ctx, a.cfg.StartStage); err != nil {
		return err
	}

	for {
		state, err := eng.Wait(ctx)
		if err != nil {
			_ = eng.Cancel(context.WithoutCancel(ctx))
			return err
		}
		if state.IsPending() {
			if err := decide(ctx, a); err != nil {
				return err
			}
			continue
		}
		break
	}

	snap := eng.Snapshot()
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return err
	}
	if snap.State == schema.StateError {
		return fmt.Errorf("workflow failed: %s", snap.LastError)
	}
	return nil
}

func decide(ctx context.Context, a *app) error {
	pending := a.engine.Pending()
	attrs := []any{slog.String("decision", a.cfg.OnUpdate)}
	if pending != nil && pending.Template != nil {
		attrs = append(attrs,
			slog.String("template_id", pending.Template.ID),
			slog.Int("version", pending.Template.Version),
			slog.String("scope", string(pending.Scope)))
	}
	a.logger.InfoContext(ctx, "answering workflow update", attrs...)

	if a.cfg.OnUpdate == "reject" {
		return a.engine.RejectUpdate(ctx)
	}
	return a.engine.ConfirmUpdate(ctx)
}

func serve(ctx context.Context, a *app, _ io.Writer) error {
	if a.cfg.Schedule != "" {
		sched, err := scheduler.New(a.engine, scheduler.Config{
			Cron:    a.cfg.Schedule,
			StageID: a.cfg.StartStage,
			Logger:  a.logger,
		})
		if err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()
	}

	if a.cfg.ListenAddr != "" {
		pdeps := panel.Deps{Engine: a.engine, Pipeline: a.pipe, Hub: a.hub, Logger: a.logger}
		if a.store != nil {
			pdeps.History = a.history
			pdeps.Templates = a.store
		}
		go func() {
			if err := panel.NewServer(pdeps).ListenAndServe(ctx, a.cfg.ListenAddr); err != nil &&
				!errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("panel stopped", slog.String("error", err.Error()))
			}
		}()
	}

	deps := mcp.ServerDeps{Engine: a.engine, Pipeline: a.pipe, Hub: a.hub, Logger: a.logger}
	if a.history != nil {
		deps.History = a.history
	}
	err := mcp.NewServer(deps).Serve(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// renderDiagram prints a template's stage/step structure.
func renderDiagram(out io.Writer, path, format string) error {
	doc, err := pipeline.LoadFile(path)
	if err != nil {
		return err
	}
	model, err := diagram.Build(doc.Template, diagram.Position{})
	if err != nil {
		return err
	}
	switch format {
	case "mermaid":
		_, err = io.WriteString(out, diagram.RenderMermaid(model))
	case "ascii":
		_, err = io.WriteString(out, diagram.RenderASCII(model))
	default:
		err = fmt.Errorf("unsupported diagram format %q", format)
	}
	return err
}

// validateFiles prints every issue found and fails if any file is invalid.
func validateFiles(out io.Writer, paths []string) error {
	v, err := validation.New()
	if err != nil {
		return err
	}
	failed := 0
	for _, path := range paths {
		doc, err := pipeline.LoadFile(path)
		if err != nil {
			fmt.Fprintf(out, "%s: %v\n", path, err)
			failed++
			continue
		}
		res := v.ValidateDocument(doc.JSON, doc.Template)
		for _, issue := range res.Errors {
			fmt.Fprintf(out, "%s: error %s: %s\n", path, issue.Pointer, issue.Message)
		}
		for _, issue := range res.Warnings {
			fmt.Fprintf(out, "%s: warning %s: %s\n", path, issue.Pointer, issue.Message)
		}
		if !res.Valid() {
			failed++
			continue
		}
		fmt.Fprintf(out, "%s: ok\n", path)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d templates invalid", failed, len(paths))
	}
	return nil
}
