package engine

import (
	"context"
	"time"

	"github.com/rendis/cascade/pkg/schema"
)

// HistorySink receives every accepted transition for durable diagnostics.
// Satisfied by *store.HistoryLog.
type HistorySink interface {
	AppendHistory(ctx context.Context, runID string, entry schema.HistoryEntry) error
}

// History is the in-memory, append-only transition log of a run. It is
// guarded by the engine's mutex.
type History struct {
	entries []schema.HistoryEntry
	seq     int64
	now     func() time.Time
}

func newHistory(now func() time.Time) *History {
	if now == nil {
		now = time.Now
	}
	return &History{now: now}
}

// append records a transition and returns the stored entry. Error payloads
// are stored as their message so entries stay serializable.
func (h *History) append(from, to schema.ExecutionState, event schema.Event, payload any) schema.HistoryEntry {
	if err, ok := payload.(error); ok {
		payload = err.Error()
	}
	h.seq++
	entry := schema.HistoryEntry{
		Seq:       h.seq,
		From:      from,
		To:        to,
		Event:     event,
		Payload:   payload,
		Timestamp: h.now().UTC(),
	}
	h.entries = append(h.entries, entry)
	return entry
}

func (h *History) snapshot() []schema.HistoryEntry {
	out := make([]schema.HistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

func (h *History) clear() {
	h.entries = nil
	h.seq = 0
}

func (h *History) len() int { return len(h.entries) }
