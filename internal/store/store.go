// Package store persists narrative units, their distilled state cards,
// and the planning outline used to rebuild context when drafts change on
// disk.
package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("not found")
)

// Unit is one narrative unit of the draft, identified by its ordinal
// position. StateCard holds the persisted model-written digest, empty when
// none has been produced yet.
type Unit struct {
	ID        int
	Text      string
	StateCard string
}

// Outline is the planning entry for one unit.
type Outline struct {
	Title      string   `yaml:"title"`
	Summary    string   `yaml:"summary"`
	Characters []string `yaml:"characters"`
	Events     []string `yaml:"events"`
}

// UnitStore persists narrative units. IDs must reflect the current state
// of the backing medium on every call so that externally edited or removed
// units are picked up.
type UnitStore interface {
	IDs(ctx context.Context) ([]int, error)
	Get(ctx context.Context, id int) (Unit, error)
	PutStateCard(ctx context.Context, id int, card string) error
}

// OutlineStore resolves planning entries by unit id.
type OutlineStore interface {
	Get(ctx context.Context, id int) (Outline, error)
}
