package sandbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/cascade/pkg/schema"
)

func newSandbox(t *testing.T, handler http.HandlerFunc, cells CellSink) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{URL: srv.URL, Cells: cells, Headers: map[string]string{"X-Kernel": "k1"}})
	require.NoError(t, err)
	return c
}

func TestExecute_ReturnsOutputsAndRecordsCell(t *testing.T) {
	cells := NewMemoryCells(0)
	c := newSandbox(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k1", r.Header.Get("X-Kernel"))
		var req map[string]json.RawMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.JSONEq(t, `{"type":"code","src":"df.head()"}`, string(req["action"]))
		_, _ = w.Write([]byte(`{"outputs":[{"text":"ok"}]}`))
	}, cells)

	res, err := c.Execute(context.Background(), schema.Action(`{"type":"code","src":"df.head()"}`))
	require.NoError(t, err)
	require.Len(t, res.Outputs, 1)
	assert.Nil(t, res.Proposal)

	got := cells.Cells()
	require.Len(t, got, 1)
	assert.Empty(t, got[0].Error)
	assert.JSONEq(t, `{"text":"ok"}`, string(got[0].Outputs[0]))
}

func TestExecute_DecodesProposal(t *testing.T) {
	c := newSandbox(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"outputs":[],"proposal":{"scope":"step","template":{"id":"t","version":2,"stages":[{"id":"S","steps":[{"id":"s"}]}]},"next_step_id":"s"}}`))
	}, nil)

	res, err := c.Execute(context.Background(), schema.Action(`{}`))
	require.NoError(t, err)
	require.NotNil(t, res.Proposal)
	assert.Equal(t, schema.UpdateScopeStep, res.Proposal.Scope)
	assert.Equal(t, "s", res.Proposal.NextStepID)
	assert.Equal(t, 2, res.Proposal.Template.Version)
}

func TestExecute_SandboxReportedError(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"string", `{"outputs":[],"error":"NameError: x"}`, "NameError: x"},
		{"object", `{"outputs":[],"error":{"name":"KeyError","message":"'col'"}}`, "KeyError: 'col'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cells := NewMemoryCells(0)
			c := newSandbox(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}, cells)

			_, err := c.Execute(context.Background(), schema.Action(`{}`))
			var serr *schema.Error
			require.ErrorAs(t, err, &serr)
			assert.Equal(t, schema.ErrCodeExecution, serr.Code)
			assert.Contains(t, err.Error(), tt.want)
			assert.Equal(t, tt.want, cells.Cells()[0].Error)
		})
	}
}

func TestExecute_HTTPFailure(t *testing.T) {
	c := newSandbox(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "kernel busy", http.StatusConflict)
	}, nil)

	_, err := c.Execute(context.Background(), schema.Action(`{}`))
	var serr *schema.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusConflict, serr.Details["status"])
}

func TestExecute_Cancelled(t *testing.T) {
	c := newSandbox(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Execute(ctx, schema.Action(`{}`))
	require.Error(t, err)
}

func TestNew_RequiresURL(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestMemoryCells_PlanningState(t *testing.T) {
	ctx := context.Background()
	cells := NewMemoryCells(2)
	for i := range 3 {
		require.NoError(t, cells.AddCell(ctx, Cell{Action: json.RawMessage(`{}`), Error: string(rune('a' + i))}))
	}

	state, err := cells.PlanningState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, state["cell_count"])
	recent := state["cells"].([]Cell)
	require.Len(t, recent, 2)
	assert.Equal(t, "b", recent[0].Error)
	assert.Equal(t, "c", recent[1].Error)

	cells.ResetState()
	assert.Empty(t, cells.Cells())
	state, err = cells.PlanningState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, state["cell_count"])
	assert.Empty(t, state["cells"])
}

func TestMemoryCells_RetainsOnlyLimit(t *testing.T) {
	ctx := context.Background()
	const limit, extra = 4, 7
	cells := NewMemoryCells(limit)
	for i := range limit + extra {
		require.NoError(t, cells.AddCell(ctx, Cell{Action: json.RawMessage(`{}`), Error: string(rune('a' + i))}))
	}

	kept := cells.Cells()
	require.Len(t, kept, limit)
	assert.Equal(t, string(rune('a'+extra)), kept[0].Error)
	assert.Equal(t, string(rune('a'+limit+extra-1)), kept[limit-1].Error)

	state, err := cells.PlanningState(ctx)
	require.NoError(t, err)
	assert.Equal(t, limit+extra, state["cell_count"])
	assert.Len(t, state["cells"], limit)
}

func TestMemoryCells_UnlimitedKeepsAll(t *testing.T) {
	ctx := context.Background()
	cells := NewMemoryCells(0)
	for range 5 {
		require.NoError(t, cells.AddCell(ctx, Cell{Action: json.RawMessage(`{}`)}))
	}
	assert.Len(t, cells.Cells(), 5)
}
