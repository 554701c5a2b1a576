package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rendis/cascade/pkg/schema"
)

// HistoryLog is the durable transition log of runs, backed by a LibSQLStore.
// It satisfies engine.HistorySink.
type HistoryLog struct {
	store *LibSQLStore
}

// NewHistoryLog wraps a LibSQLStore.
func NewHistoryLog(s *LibSQLStore) *HistoryLog {
	return &HistoryLog{store: s}
}

// AppendHistory appends one accepted transition of runID.
func (h *HistoryLog) AppendHistory(ctx context.Context, runID string, entry schema.HistoryEntry) error {
	return h.store.AppendHistory(ctx, runID, entry)
}

// ListHistory returns the stored transitions of runID with sequence > since.
func (h *HistoryLog) ListHistory(ctx context.Context, runID string, since int64) ([]*HistoryRecord, error) {
	return h.store.ListHistory(ctx, runID, since)
}

// Replay returns a run's full history as entries. Payloads come back as raw
// JSON. Returns STORE_ERROR when the sequence has gaps.
func (h *HistoryLog) Replay(ctx context.Context, runID string) ([]schema.HistoryEntry, error) {
	records, err := h.store.ListHistory(ctx, runID, 0)
	if err != nil {
		return nil, fmt.Errorf("load history for replay: %w", err)
	}

	entries := make([]schema.HistoryEntry, 0, len(records))
	for i, r := range records {
		if want := int64(i + 1); r.Sequence != want {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in run %s: expected %d, got %d", runID, want, r.Sequence)
		}
		entry := schema.HistoryEntry{
			Seq:       r.Sequence,
			From:      r.From,
			To:        r.To,
			Event:     r.Event,
			Timestamp: r.Timestamp,
		}
		if len(r.Payload) > 0 {
			entry.Payload = json.RawMessage(r.Payload)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Runs lists recently active run ids.
func (h *HistoryLog) Runs(ctx context.Context, limit int) ([]string, error) {
	return h.store.ListRuns(ctx, limit)
}
