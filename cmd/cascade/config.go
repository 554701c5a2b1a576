package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all cascade configuration.
// Priority: flags > env vars > settings.json > defaults.
type Config struct {
	TemplatePath    string `json:"template_path"`
	StartStage      string `json:"start_stage"`
	BehaviorURL     string `json:"behavior_url"`
	FeedbackURL     string `json:"feedback_url"`
	ActionQuery     string `json:"action_query"`
	SandboxURL      string `json:"sandbox_url"`
	DBPath          string `json:"db_path"`
	LogLevel        string `json:"log_level"`
	LogFile         string `json:"log_file"`
	Schedule        string `json:"schedule"`
	ListenAddr      string `json:"listen_addr"`
	OnUpdate        string `json:"on_update"`
	MaxBehaviors    int    `json:"max_behaviors_per_step"`
	RetryAttempts   int    `json:"retry_attempts"`
	EffectTimeout   string `json:"effect_timeout"`
	FeedbackTimeout string `json:"feedback_timeout"`
	SandboxTimeout  string `json:"sandbox_timeout"`
	CellHistory     int    `json:"cell_history"`
}

func defaultConfig() Config {
	return Config{
		DBPath:          filepath.Join(cascadeDir(), "cascade.db"),
		LogLevel:        "info",
		OnUpdate:        "confirm",
		MaxBehaviors:    20,
		RetryAttempts:   3,
		FeedbackTimeout: "30s",
		SandboxTimeout:  "5m",
		CellHistory:     20,
	}
}

func cascadeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cascade"
	}
	return filepath.Join(home, ".cascade")
}

func settingsPath() string {
	return filepath.Join(cascadeDir(), "settings.json")
}

// loadConfig layers settings.json and CASCADE_* env vars over the defaults.
// A missing settings file is fine; a malformed one is an error.
func loadConfig(path string, getenv func(string) string) (Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	strs := map[string]*string{
		"CASCADE_TEMPLATE":         &cfg.TemplatePath,
		"CASCADE_START_STAGE":      &cfg.StartStage,
		"CASCADE_BEHAVIOR_URL":     &cfg.BehaviorURL,
		"CASCADE_FEEDBACK_URL":     &cfg.FeedbackURL,
		"CASCADE_ACTION_QUERY":     &cfg.ActionQuery,
		"CASCADE_SANDBOX_URL":      &cfg.SandboxURL,
		"CASCADE_DB_PATH":          &cfg.DBPath,
		"CASCADE_LOG_LEVEL":        &cfg.LogLevel,
		"CASCADE_LOG_FILE":         &cfg.LogFile,
		"CASCADE_SCHEDULE":         &cfg.Schedule,
		"CASCADE_LISTEN_ADDR":      &cfg.ListenAddr,
		"CASCADE_ON_UPDATE":        &cfg.OnUpdate,
		"CASCADE_EFFECT_TIMEOUT":   &cfg.EffectTimeout,
		"CASCADE_FEEDBACK_TIMEOUT": &cfg.FeedbackTimeout,
		"CASCADE_SANDBOX_TIMEOUT":  &cfg.SandboxTimeout,
	}
	for key, dst := range strs {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"CASCADE_MAX_BEHAVIORS":  &cfg.MaxBehaviors,
		"CASCADE_RETRY_ATTEMPTS": &cfg.RetryAttempts,
		"CASCADE_CELL_HISTORY":   &cfg.CellHistory,
	}
	for key, dst := range ints {
		v := getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
	}
	return cfg, nil
}

// durations parses the timeout fields. Empty means zero (disabled or the
// component default).
type durations struct {
	Effect   time.Duration
	Feedback time.Duration
	Sandbox  time.Duration
}

func (c Config) durations() (durations, error) {
	var d durations
	for _, f := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"effect_timeout", c.EffectTimeout, &d.Effect},
		{"feedback_timeout", c.FeedbackTimeout, &d.Feedback},
		{"sandbox_timeout", c.SandboxTimeout, &d.Sandbox},
	} {
		if f.raw == "" {
			continue
		}
		v, err := time.ParseDuration(f.raw)
		if err != nil {
			return d, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = v
	}
	return d, nil
}

// validateForRun checks what a run needs beyond what loading guarantees.
func (c Config) validateForRun() error {
	var missing []string
	if c.TemplatePath == "" {
		missing = append(missing, "template_path")
	}
	if c.BehaviorURL == "" {
		missing = append(missing, "behavior_url")
	}
	if c.FeedbackURL == "" {
		missing = append(missing, "feedback_url")
	}
	if c.SandboxURL == "" {
		missing = append(missing, "sandbox_url")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %v", missing)
	}
	switch c.OnUpdate {
	case "confirm", "reject":
	default:
		return fmt.Errorf("on_update must be confirm or reject, got %q", c.OnUpdate)
	}
	_, err := c.durations()
	return err
}
