package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	unitFilePattern = "chapter_*.md"
	cardsDirName    = "cards"
)

// FileStore reads draft units from a directory of chapter_NN.md files and
// keeps state cards in a cards/ subdirectory alongside them. The directory
// is rescanned on every IDs call, so drafts edited or deleted outside the
// process are picked up without restart.
type FileStore struct {
	dir string
}

// NewFileStore opens a draft directory. The directory must exist; the
// cards/ subdirectory is created on first write.
func NewFileStore(dir string) (*FileStore, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("draft directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("draft directory: %s is not a directory", dir)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) IDs(ctx context.Context) ([]int, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, unitFilePattern))
	if err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(matches))
	for _, path := range matches {
		id, ok := unitID(filepath.Base(path))
		if !ok {
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

func (s *FileStore) Get(ctx context.Context, id int) (Unit, error) {
	text, err := os.ReadFile(s.unitPath(id))
	if os.IsNotExist(err) {
		return Unit{}, fmt.Errorf("unit %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Unit{}, err
	}

	unit := Unit{ID: id, Text: string(text)}

	card, err := os.ReadFile(s.cardPath(id))
	if err == nil {
		unit.StateCard = strings.TrimSpace(string(card))
	} else if !os.IsNotExist(err) {
		return Unit{}, err
	}
	return unit, nil
}

func (s *FileStore) PutStateCard(ctx context.Context, id int, card string) error {
	if _, err := os.Stat(s.unitPath(id)); os.IsNotExist(err) {
		return fmt.Errorf("unit %d: %w", id, ErrNotFound)
	}
	cardsDir := filepath.Join(s.dir, cardsDirName)
	if err := os.MkdirAll(cardsDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.cardPath(id), []byte(card), 0o644)
}

func (s *FileStore) unitPath(id int) string {
	return filepath.Join(s.dir, fmt.Sprintf("chapter_%02d.md", id))
}

func (s *FileStore) cardPath(id int) string {
	return filepath.Join(s.dir, cardsDirName, fmt.Sprintf("chapter_%02d.card.md", id))
}

// unitID extracts the ordinal from a chapter_NN.md file name.
func unitID(name string) (int, bool) {
	name = strings.TrimSuffix(name, ".md")
	idx := strings.LastIndex(name, "_")
	if idx < 0 {
		return 0, false
	}
	id, err := strconv.Atoi(name[idx+1:])
	if err != nil || id < 1 {
		return 0, false
	}
	return id, true
}
