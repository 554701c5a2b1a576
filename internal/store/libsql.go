package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/cascade/pkg/schema"
)

// LibSQLStore implements Store using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path.
// The path should be a file URI, e.g. "file:/path/to/cascade.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	// One connection serializes writers, which AppendHistory relies on for
	// gap-free sequences.
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Templates ---

// SaveTemplate records a template version. Saving the same id and version
// again overwrites the definition.
func (s *LibSQLStore) SaveTemplate(ctx context.Context, tpl *schema.WorkflowTemplate) error {
	if tpl == nil || tpl.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "template id is required")
	}
	def, err := json.Marshal(tpl)
	if err != nil {
		return fmt.Errorf("marshal template definition: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO templates (id, version, name, definition, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id, version) DO UPDATE SET name=excluded.name, definition=excluded.definition`,
		tpl.ID, tpl.Version, nullStr(tpl.Name), string(def), time.Now().UTC(),
	)
	if err != nil {
		return storeError("save template", err)
	}
	return nil
}

// GetTemplate returns one version of a template.
func (s *LibSQLStore) GetTemplate(ctx context.Context, id string, version int) (*TemplateRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, version, name, definition, created_at FROM templates WHERE id = ? AND version = ?`,
		id, version)
	rec, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("template", fmt.Sprintf("%s@%d", id, version))
	}
	return rec, err
}

// LatestTemplate returns the highest stored version of a template.
func (s *LibSQLStore) LatestTemplate(ctx context.Context, id string) (*TemplateRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, version, name, definition, created_at FROM templates WHERE id = ?
		 ORDER BY version DESC LIMIT 1`, id)
	rec, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("template", id)
	}
	return rec, err
}

// ListTemplates returns templates ordered by id, newest version first.
func (s *LibSQLStore) ListTemplates(ctx context.Context, filter TemplateFilter) ([]*TemplateRecord, error) {
	query := `SELECT id, version, name, definition, created_at FROM templates`
	var args []any
	if filter.ID != "" {
		query += " WHERE id = ?"
		args = append(args, filter.ID)
	}
	query += " ORDER BY id, version DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("list templates", err)
	}
	defer rows.Close()

	var out []*TemplateRecord
	for rows.Next() {
		rec, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTemplate(sc scanner) (*TemplateRecord, error) {
	rec := &TemplateRecord{}
	var name sql.NullString
	var def string
	if err := sc.Scan(&rec.ID, &rec.Version, &name, &def, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.Name = name.String
	rec.Template = &schema.WorkflowTemplate{}
	if err := json.Unmarshal([]byte(def), rec.Template); err != nil {
		return nil, fmt.Errorf("unmarshal template definition: %w", err)
	}
	return rec, nil
}

// --- History ---

// AppendHistory appends a transition with the next per-run sequence. The
// entry's own Seq is ignored; the store numbers rows from 1.
func (s *LibSQLStore) AppendHistory(ctx context.Context, runID string, entry schema.HistoryEntry) error {
	if runID == "" {
		return schema.NewError(schema.ErrCodeValidation, "history entry needs a run id")
	}
	payload, err := encodePayload(entry.Payload)
	if err != nil {
		return fmt.Errorf("marshal history payload: %w", err)
	}
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError("begin history tx", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM history WHERE run_id = ?`, runID,
	).Scan(&seq); err != nil {
		return storeError("next history sequence", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO history (run_id, sequence, from_state, to_state, event, payload, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, seq, string(entry.From), string(entry.To), string(entry.Event), payload, ts,
	); err != nil {
		return storeError("insert history", err)
	}
	if err := tx.Commit(); err != nil {
		return storeError("commit history", err)
	}
	return nil
}

// ListHistory returns a run's transitions with sequence > since, in order.
func (s *LibSQLStore) ListHistory(ctx context.Context, runID string, since int64) ([]*HistoryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, sequence, from_state, to_state, event, payload, timestamp
		 FROM history WHERE run_id = ? AND sequence > ? ORDER BY sequence ASC`, runID, since)
	if err != nil {
		return nil, storeError("list history", err)
	}
	defer rows.Close()

	var out []*HistoryRecord
	for rows.Next() {
		r := &HistoryRecord{}
		var from, to, event string
		var payload sql.NullString
		if err := rows.Scan(&r.RunID, &r.Sequence, &from, &to, &event, &payload, &r.Timestamp); err != nil {
			return nil, err
		}
		r.From = schema.ExecutionState(from)
		r.To = schema.ExecutionState(to)
		r.Event = schema.Event(event)
		r.Payload = rawOrNil(payload)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListRuns returns run ids, most recently active first.
func (s *LibSQLStore) ListRuns(ctx context.Context, limit int) ([]string, error) {
	query := `SELECT run_id FROM history GROUP BY run_id ORDER BY MAX(timestamp) DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, storeError("list runs", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func storeError(op string, err error) *schema.Error {
	return schema.NewError(schema.ErrCodeStore, op).WithCause(err)
}

// encodePayload stores errors by message; *schema.Error keeps its fields.
func encodePayload(p any) (any, error) {
	switch v := p.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return nullRaw(v), nil
	case *schema.Error:
	case error:
		p = map[string]string{"message": v.Error()}
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}
