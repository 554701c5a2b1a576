package sandbox

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Cell is one executed action as recorded in the notebook.
type Cell struct {
	Action     json.RawMessage   `json:"action"`
	Outputs    []json.RawMessage `json:"outputs,omitempty"`
	Error      string            `json:"error,omitempty"`
	ExecutedAt time.Time         `json:"executed_at"`
}

// CellSink is the notebook cell store boundary.
type CellSink interface {
	AddCell(ctx context.Context, cell Cell) error
}

// MemoryCells keeps the most recent executed cells in memory and serves
// them back as the planning state, so the planner sees what already ran.
type MemoryCells struct {
	mu    sync.RWMutex
	cells []Cell
	total int
	limit int
}

// NewMemoryCells retains at most limit recent cells; zero keeps all.
func NewMemoryCells(limit int) *MemoryCells {
	return &MemoryCells{limit: limit}
}

// AddCell appends a cell, dropping the oldest beyond the limit.
func (m *MemoryCells) AddCell(_ context.Context, cell Cell) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cells = append(m.cells, cell)
	m.total++
	if m.limit > 0 && len(m.cells) > m.limit {
		m.cells = append(m.cells[:0:0], m.cells[len(m.cells)-m.limit:]...)
	}
	return nil
}

// Cells returns a copy of the retained cells.
func (m *MemoryCells) Cells() []Cell {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Cell(nil), m.cells...)
}

// ResetState drops all cells and the count. The engine calls it when a run
// starts or resets.
func (m *MemoryCells) ResetState() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cells = nil
	m.total = 0
}

// PlanningState returns the retained cells under "cells" and the number
// recorded this run under "cell_count".
func (m *MemoryCells) PlanningState(context.Context) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]any{
		"cells":      append([]Cell{}, m.cells...),
		"cell_count": m.total,
	}, nil
}
