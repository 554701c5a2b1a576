package panel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rendis/cascade/internal/diagram"
	"github.com/rendis/cascade/internal/store"
	"github.com/rendis/cascade/pkg/schema"
)

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Engine.Snapshot())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run_id")
	since := int64(queryInt(r, "since", 0))

	snap := s.deps.Engine.Snapshot()
	if runID == "" || runID == snap.RunID {
		entries := []schema.HistoryEntry{}
		for _, e := range s.deps.Engine.History() {
			if e.Seq > since {
				entries = append(entries, e)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"run_id": snap.RunID, "history": entries})
		return
	}

	if s.deps.History == nil {
		writeError(w, http.StatusNotFound, "no history store configured")
		return
	}
	records, err := s.deps.History.ListHistory(r.Context(), runID, since)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if records == nil {
		records = []*store.HistoryRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "history": records})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, http.StatusNotFound, "no history store configured")
		return
	}
	runs, err := s.deps.History.Runs(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleTemplate(w http.ResponseWriter, _ *http.Request) {
	tpl := s.deps.Pipeline.Template()
	if tpl == nil {
		writeError(w, http.StatusNotFound, "no template loaded")
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	if s.deps.Templates == nil {
		writeError(w, http.StatusNotFound, "no template store configured")
		return
	}
	recs, err := s.deps.Templates.ListTemplates(r.Context(), store.TemplateFilter{
		ID:    r.URL.Query().Get("id"),
		Limit: queryInt(r, "limit", 0),
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": recs})
}

// handleDiagram renders the current template with the run position overlaid.
func (s *Server) handleDiagram(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Engine.Snapshot()
	model, err := diagram.Build(s.deps.Pipeline.Template(), diagram.Position{
		State:   snap.State,
		StageID: snap.Context.StageID,
		StepID:  snap.Context.StepID,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	var text string
	switch format := r.URL.Query().Get("format"); format {
	case "", "mermaid":
		text = diagram.RenderMermaid(model)
	case "ascii":
		text = diagram.RenderASCII(model)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported format %q", format))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, text)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var body struct {
		StageID string `json:"stage_id"`
	}
	if err := decodeOptional(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if err := s.deps.Engine.StartWorkflow(r.Context(), body.StageID); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.deps.Engine.Snapshot())
}

func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Decision string `json:"decision"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	var err error
	switch body.Decision {
	case "confirm":
		err = s.deps.Engine.ConfirmUpdate(r.Context())
	case "reject":
		err = s.deps.Engine.RejectUpdate(r.Context())
	default:
		writeError(w, http.StatusBadRequest, "decision must be confirm or reject")
		return
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.deps.Logger.InfoContext(r.Context(), "update decided over http", "decision", body.Decision)
	writeJSON(w, http.StatusOK, s.deps.Engine.Snapshot())
}

// control adapts a no-argument façade call into a POST handler.
func (s *Server) control(name string, fn func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(r.Context()); err != nil {
			s.deps.Logger.DebugContext(r.Context(), "control call rejected", "call", name, "error", err)
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.deps.Engine.Snapshot())
	}
}

// decodeOptional decodes a JSON body, accepting an empty one.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
