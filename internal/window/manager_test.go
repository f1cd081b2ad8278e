package window

import (
	"context"
	"strings"
	"testing"

	"github.com/storyloom/storyloom/internal/observability"
	"github.com/storyloom/storyloom/internal/store"
)

func newTestManager(units *store.MemoryStore) (*Manager, *Window) {
	w := newTestWindow(units, nil)
	return NewManager(w, units, units.Outlines(), observability.NopLogger()), w
}

func TestPrepare_NoHistoryIsNotABreak(t *testing.T) {
	units := store.NewMemoryStore()
	units.PutOutline(1, store.Outline{Title: "Arrival", Summary: "Mira reaches the port."})
	manager, _ := newTestManager(units)

	contextStr, needsRepair := manager.Prepare(context.Background(), 1)
	if needsRepair {
		t.Error("empty history flagged as break")
	}
	if !strings.Contains(contextStr, "Arrival") {
		t.Errorf("expected outline-derived context, got %q", contextStr)
	}
}

func TestPrepare_FirstUnitWithoutOutline(t *testing.T) {
	units := store.NewMemoryStore()
	manager, _ := newTestManager(units)

	contextStr, needsRepair := manager.Prepare(context.Background(), 1)
	if needsRepair {
		t.Error("missing outline flagged as break")
	}
	if !strings.Contains(contextStr, "=== Unit 1 ===") {
		t.Errorf("expected minimal context, got %q", contextStr)
	}
}

func TestPrepare_ContinuousHistory(t *testing.T) {
	units := store.NewMemoryStore()
	units.PutUnit(store.Unit{ID: 1, Text: "x", StateCard: "Mira sails north with the map"})
	units.PutUnit(store.Unit{ID: 2, Text: "x", StateCard: "Mira lands north holding the map"})
	manager, w := newTestManager(units)
	ctx := context.Background()

	w.BuildContext(ctx, 2, []int{1})

	contextStr, needsRepair := manager.Prepare(ctx, 3)
	if needsRepair {
		t.Error("continuous history flagged as break")
	}
	if !strings.Contains(contextStr, "Mira lands north") {
		t.Errorf("context = %q", contextStr)
	}
}

func TestPrepare_RepairsStaleCache(t *testing.T) {
	units := store.NewMemoryStore()
	units.PutUnit(store.Unit{ID: 1, Text: "x", StateCard: "ancient forgotten ruins beneath distant dunes"})
	units.PutUnit(store.Unit{ID: 2, Text: "x", StateCard: "crumbling forgotten ruins beneath shifting dunes"})
	manager, w := newTestManager(units)
	ctx := context.Background()

	// Cache a build for unit 3, then rewrite history: the cached entry is
	// now stale relative to both the store and the previous unit's context.
	w.BuildContext(ctx, 3, []int{1, 2})
	units.PutUnit(store.Unit{ID: 1, Text: "x", StateCard: "Mira sails north with the map"})
	units.PutUnit(store.Unit{ID: 2, Text: "x", StateCard: "Mira lands north holding the map"})
	w.BuildContext(ctx, 2, []int{1})

	contextStr, needsRepair := manager.Prepare(ctx, 3)
	if !needsRepair {
		t.Fatal("stale cache not flagged for repair")
	}
	if !strings.Contains(contextStr, "Mira lands north") {
		t.Errorf("repair did not rebuild from the store: %q", contextStr)
	}
}

func TestPrepare_NeverReturnsBrokenContextSilently(t *testing.T) {
	units := store.NewMemoryStore()
	units.PutUnit(store.Unit{ID: 1, Text: "x", StateCard: "alpha beta gamma delta epsilon zeta"})
	units.PutOutline(3, store.Outline{Title: "Fallback", Summary: "Start over."})
	manager, w := newTestManager(units)
	ctx := context.Background()

	w.BuildContext(ctx, 3, []int{1})
	units.PutUnit(store.Unit{ID: 1, Text: "x", StateCard: "omega psi chi phi upsilon tau"})
	w.ClearCache()
	w.BuildContext(ctx, 2, []int{1})
	units.PutUnit(store.Unit{ID: 1, Text: "x", StateCard: "alpha beta gamma delta epsilon zeta"})
	w.BuildContext(ctx, 3, []int{1}) // re-cache the stale vocabulary

	contextStr, needsRepair := manager.Prepare(ctx, 3)
	if !needsRepair {
		t.Fatal("unrecoverable break not flagged")
	}
	// The repair failed, so the manager degrades to the outline-derived
	// minimal context instead of returning the broken one.
	if !strings.Contains(contextStr, "Fallback") {
		t.Errorf("expected outline fallback, got %q", contextStr)
	}
}
