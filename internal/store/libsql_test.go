package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/cascade/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleTemplate(version int) *schema.WorkflowTemplate {
	return &schema.WorkflowTemplate{
		ID:      "eda",
		Name:    "Exploratory analysis",
		Version: version,
		Stages: []schema.Stage{
			{ID: "load", Steps: []schema.Step{{ID: "read"}, {ID: "clean"}}},
		},
	}
}

func codeOf(t *testing.T, err error) string {
	t.Helper()
	var serr *schema.Error
	require.True(t, errors.As(err, &serr), "want *schema.Error, got %T", err)
	return serr.Code
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))

	var n int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&n))
	assert.Equal(t, len(migrations), n)
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("-- only a comment;\nCREATE TABLE a (x INT);\n\n  ;SELECT 1")
	assert.Equal(t, []string{"CREATE TABLE a (x INT)", "SELECT 1"}, stmts)
}

func TestSaveAndGetTemplate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveTemplate(ctx, sampleTemplate(1)))
	got, err := s.GetTemplate(ctx, "eda", 1)
	require.NoError(t, err)
	assert.Equal(t, "Exploratory analysis", got.Name)
	assert.Equal(t, sampleTemplate(1), got.Template)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestSaveTemplate_Overwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveTemplate(ctx, sampleTemplate(1)))
	changed := sampleTemplate(1)
	changed.Stages[0].Steps = append(changed.Stages[0].Steps, schema.Step{ID: "describe"})
	require.NoError(t, s.SaveTemplate(ctx, changed))

	got, err := s.GetTemplate(ctx, "eda", 1)
	require.NoError(t, err)
	assert.Len(t, got.Template.Stages[0].Steps, 3)
}

func TestSaveTemplate_RequiresID(t *testing.T) {
	s := newTestStore(t)
	err := s.SaveTemplate(context.Background(), &schema.WorkflowTemplate{})
	assert.Equal(t, schema.ErrCodeValidation, codeOf(t, err))
}

func TestGetTemplate_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetTemplate(context.Background(), "nope", 1)
	assert.Equal(t, schema.ErrCodeNotFound, codeOf(t, err))

	_, err = s.LatestTemplate(context.Background(), "nope")
	assert.Equal(t, schema.ErrCodeNotFound, codeOf(t, err))
}

func TestLatestAndListTemplates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for v := 1; v <= 3; v++ {
		require.NoError(t, s.SaveTemplate(ctx, sampleTemplate(v)))
	}
	other := sampleTemplate(1)
	other.ID = "other"
	require.NoError(t, s.SaveTemplate(ctx, other))

	latest, err := s.LatestTemplate(ctx, "eda")
	require.NoError(t, err)
	assert.Equal(t, 3, latest.Version)

	all, err := s.ListTemplates(ctx, TemplateFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "eda", all[0].ID)
	assert.Equal(t, 3, all[0].Version)
	assert.Equal(t, "other", all[3].ID)

	limited, err := s.ListTemplates(ctx, TemplateFilter{ID: "eda", Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, 2, limited[1].Version)
}

func TestAppendHistory_Sequences(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	runA, runB := uuid.NewString(), uuid.NewString()

	steps := []schema.HistoryEntry{
		{From: schema.StateIdle, To: schema.StateStageRunning, Event: schema.EventStartWorkflow},
		{From: schema.StateStageRunning, To: schema.StateStepRunning, Event: schema.EventStartStep, Payload: "read"},
	}
	for _, e := range steps {
		require.NoError(t, s.AppendHistory(ctx, runA, e))
	}
	require.NoError(t, s.AppendHistory(ctx, runB, steps[0]))

	recs, err := s.ListHistory(ctx, runA, 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, int64(1), recs[0].Sequence)
	assert.Equal(t, int64(2), recs[1].Sequence)
	assert.Equal(t, schema.StateStepRunning, recs[1].To)
	assert.Equal(t, schema.EventStartStep, recs[1].Event)
	assert.JSONEq(t, `"read"`, string(recs[1].Payload))
	assert.Nil(t, recs[0].Payload)

	since, err := s.ListHistory(ctx, runA, 1)
	require.NoError(t, err)
	require.Len(t, since, 1)

	b, err := s.ListHistory(ctx, runB, 0)
	require.NoError(t, err)
	require.Len(t, b, 1)
	assert.Equal(t, int64(1), b[0].Sequence)
}

func TestAppendHistory_ErrorPayloads(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	run := uuid.NewString()

	require.NoError(t, s.AppendHistory(ctx, run, schema.HistoryEntry{
		From: schema.StateBehaviorRunning, To: schema.StateError, Event: schema.EventFail,
		Payload: schema.NewError(schema.ErrCodePlanner, "planner down").WithStage("load"),
	}))
	require.NoError(t, s.AppendHistory(ctx, run, schema.HistoryEntry{
		From: schema.StateError, To: schema.StateError, Event: schema.EventFail,
		Payload: errors.New("plain failure"),
	}))

	recs, err := s.ListHistory(ctx, run, 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.JSONEq(t, `{"code":"PLANNER_ERROR","message":"planner down","stage_id":"load"}`, string(recs[0].Payload))
	assert.JSONEq(t, `{"message":"plain failure"}`, string(recs[1].Payload))
}

func TestAppendHistory_RequiresRunID(t *testing.T) {
	s := newTestStore(t)
	err := s.AppendHistory(context.Background(), "", schema.HistoryEntry{})
	assert.Equal(t, schema.ErrCodeValidation, codeOf(t, err))
}

func TestAppendHistory_Concurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	run := uuid.NewString()
	const n = 20

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.AppendHistory(ctx, run, schema.HistoryEntry{
				From: schema.StateActionRunning, To: schema.StateActionCompleted,
				Event: schema.EventCompleteAction,
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	recs, err := s.ListHistory(ctx, run, 0)
	require.NoError(t, err)
	require.Len(t, recs, n)
	for i, r := range recs {
		assert.Equal(t, int64(i+1), r.Sequence)
	}
}

func TestListRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	require.NoError(t, s.AppendHistory(ctx, "old", schema.HistoryEntry{
		From: schema.StateIdle, To: schema.StateStageRunning, Event: schema.EventStartWorkflow,
		Timestamp: base.Add(-time.Hour),
	}))
	require.NoError(t, s.AppendHistory(ctx, "new", schema.HistoryEntry{
		From: schema.StateIdle, To: schema.StateStageRunning, Event: schema.EventStartWorkflow,
		Timestamp: base,
	}))

	ids, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "old"}, ids)

	ids, err = s.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, ids)
}
