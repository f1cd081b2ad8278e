package store

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type outlineFile struct {
	Units []outlineEntry `yaml:"units"`
}

type outlineEntry struct {
	ID      int `yaml:"id"`
	Outline `yaml:",inline"`
}

// YAMLOutlineStore serves outline entries from a single YAML file loaded
// at construction time.
type YAMLOutlineStore struct {
	entries map[int]Outline
}

// LoadOutline parses an outline YAML file of the form:
//
//	units:
//	  - id: 1
//	    title: ...
//	    summary: ...
//	    characters: [a, b]
//	    events: [x, y]
func LoadOutline(path string) (*YAMLOutlineStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("outline: %w", err)
	}
	return ParseOutline(data)
}

// ParseOutline parses outline YAML from memory.
func ParseOutline(data []byte) (*YAMLOutlineStore, error) {
	var file outlineFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("outline: %w", err)
	}
	entries := make(map[int]Outline, len(file.Units))
	for _, entry := range file.Units {
		if entry.ID < 1 {
			return nil, fmt.Errorf("outline: invalid unit id %d", entry.ID)
		}
		entries[entry.ID] = entry.Outline
	}
	return &YAMLOutlineStore{entries: entries}, nil
}

func (s *YAMLOutlineStore) Get(ctx context.Context, id int) (Outline, error) {
	outline, ok := s.entries[id]
	if !ok {
		return Outline{}, fmt.Errorf("outline for unit %d: %w", id, ErrNotFound)
	}
	return outline, nil
}
