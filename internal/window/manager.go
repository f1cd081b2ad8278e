package window

import (
	"context"

	"github.com/storyloom/storyloom/internal/observability"
	"github.com/storyloom/storyloom/internal/store"
)

// Manager is the one entry point generation stages use to obtain context.
// It never fails: missing history, outlines, or store errors degrade to a
// minimal context.
type Manager struct {
	window   *Window
	units    store.UnitStore
	outlines store.OutlineStore
	logger   *observability.Logger
}

// NewManager wires a manager over a window and its stores. outlines may be
// nil when no planning file exists.
func NewManager(window *Window, units store.UnitStore, outlines store.OutlineStore, logger *observability.Logger) *Manager {
	return &Manager{
		window:   window,
		units:    units,
		outlines: outlines,
		logger:   logger,
	}
}

// Prepare returns the context for generating currentID and whether a
// continuity break was detected and repaired. Absence of history is not a
// break: with no usable prior context the flag stays false and the result
// falls back to an outline-derived minimal context.
func (m *Manager) Prepare(ctx context.Context, currentID int) (string, bool) {
	available, err := m.units.IDs(ctx)
	if err != nil {
		m.logger.Warn(ctx, "unit listing failed, preparing without history", "error", err.Error())
		available = nil
	}

	contextStr := m.window.BuildContext(ctx, currentID, available)

	needsRepair := false
	if currentID > 1 && contextStr != "" {
		previous, ok := m.window.Cached(currentID - 1)
		if ok && previous != "" && m.window.DetectBreak(contextStr, previous) {
			contextStr = m.window.Repair(ctx, currentID)
			needsRepair = true
		}
	}

	var outline store.Outline
	if m.outlines != nil {
		if found, err := m.outlines.Get(ctx, currentID); err == nil {
			outline = found
		}
	}
	return m.window.OptimizeForOutline(currentID, contextStr, outline), needsRepair
}
