package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeUnit(t *testing.T, dir string, name, text string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(text), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestFileStore_IDsRescansDirectory(t *testing.T) {
	dir := t.TempDir()
	writeUnit(t, dir, "chapter_01.md", "one")
	writeUnit(t, dir, "chapter_03.md", "three")
	writeUnit(t, dir, "notes.md", "ignored")

	fs, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	ids, err := fs.IDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 3 {
		t.Fatalf("ids = %v, want [1 3]", ids)
	}

	// New files show up without reopening the store.
	writeUnit(t, dir, "chapter_02.md", "two")
	ids, err = fs.IDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 || ids[1] != 2 {
		t.Fatalf("ids after write = %v, want [1 2 3]", ids)
	}

	// Deleted files drop out the same way.
	if err := os.Remove(filepath.Join(dir, "chapter_03.md")); err != nil {
		t.Fatal(err)
	}
	ids, err = fs.IDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[1] != 2 {
		t.Fatalf("ids after delete = %v, want [1 2]", ids)
	}
}

func TestFileStore_GetAndStateCard(t *testing.T) {
	dir := t.TempDir()
	writeUnit(t, dir, "chapter_01.md", "# Arrival\nThe ship docked at dawn.")

	fs, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	unit, err := fs.Get(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if unit.StateCard != "" {
		t.Errorf("fresh unit has state card %q", unit.StateCard)
	}

	if err := fs.PutStateCard(ctx, 1, "Mira reaches the port city.\n"); err != nil {
		t.Fatal(err)
	}
	unit, err = fs.Get(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if unit.StateCard != "Mira reaches the port city." {
		t.Errorf("state card = %q", unit.StateCard)
	}

	// Card survives an independent store over the same directory.
	fs2, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	unit, err = fs2.Get(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if unit.StateCard == "" {
		t.Error("state card not persisted to disk")
	}
}

func TestFileStore_NotFound(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := fs.Get(ctx, 9); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(9) = %v, want ErrNotFound", err)
	}
	if err := fs.PutStateCard(ctx, 9, "card"); !errors.Is(err, ErrNotFound) {
		t.Errorf("PutStateCard(9) = %v, want ErrNotFound", err)
	}
}

func TestUnitID(t *testing.T) {
	tests := []struct {
		name string
		want int
		ok   bool
	}{
		{"chapter_01.md", 1, true},
		{"chapter_12.md", 12, true},
		{"chapter_0.md", 0, false},
		{"notes.md", 0, false},
		{"chapter_xx.md", 0, false},
	}
	for _, tt := range tests {
		got, ok := unitID(tt.name)
		if ok != tt.ok || got != tt.want {
			t.Errorf("unitID(%q) = %d, %v; want %d, %v", tt.name, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseOutline(t *testing.T) {
	data := []byte(`
units:
  - id: 1
    title: Arrival
    summary: Mira reaches the port city.
    characters: [Mira, Harbor master]
    events: [ship docks, first meeting]
  - id: 2
    title: The Market
`)
	outlines, err := ParseOutline(data)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	first, err := outlines.Get(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if first.Title != "Arrival" || len(first.Characters) != 2 {
		t.Errorf("unexpected outline: %+v", first)
	}

	if _, err := outlines.Get(ctx, 5); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(5) = %v, want ErrNotFound", err)
	}
}
