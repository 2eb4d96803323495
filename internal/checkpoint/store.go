// Package checkpoint persists the acquisition job between runs.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/brogergvhs/mangabind/internal/manga"
	"github.com/brogergvhs/mangabind/internal/util"
)

const (
	FileName      = "checkpoint.json"
	SchemaVersion = 1
)

var ErrNotFound = errors.New("no checkpoint")

// CorruptError reports a checkpoint that exists but cannot be trusted.
// Corrupt checkpoints are never repaired; the operator starts fresh.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("checkpoint %s is corrupt: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

type document struct {
	Version int        `json:"version"`
	SavedAt time.Time  `json:"saved_at"`
	Job     *manga.Job `json:"job"`
}

// Store owns the single checkpoint file under an output root.
type Store struct {
	root string
	now  func() time.Time
}

func NewStore(root string) *Store {
	return &Store{root: root, now: time.Now}
}

func (s *Store) Path() string {
	return filepath.Join(s.root, FileName)
}

func (s *Store) Root() string {
	return s.root
}

// Save atomically replaces the checkpoint with job.
func (s *Store) Save(job *manga.Job) error {
	if job == nil {
		return errors.New("save checkpoint: nil job")
	}
	if strings.TrimSpace(s.root) == "" {
		return errors.New("save checkpoint: output root is empty")
	}

	doc := document{Version: SchemaVersion, SavedAt: s.now().UTC(), Job: job}
	if err := util.WriteJSONAtomic(s.Path(), doc); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Load returns the saved job. A missing file yields ErrNotFound; anything
// unreadable or structurally invalid yields *CorruptError.
func (s *Store) Load() (*manga.Job, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &CorruptError{Path: s.Path(), Err: err}
	}
	if doc.Version != SchemaVersion {
		return nil, &CorruptError{Path: s.Path(), Err: fmt.Errorf("unsupported version %d", doc.Version)}
	}
	if doc.Job == nil {
		return nil, &CorruptError{Path: s.Path(), Err: errors.New("job is missing")}
	}
	if doc.Job.Metadata == nil {
		doc.Job.Metadata = map[string]string{}
	}
	if err := doc.Job.Validate(); err != nil {
		return nil, &CorruptError{Path: s.Path(), Err: err}
	}
	return doc.Job, nil
}

// SavedAt reports when the current checkpoint was written.
func (s *Store) SavedAt() (time.Time, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, err
	}
	var doc struct {
		SavedAt time.Time `json:"saved_at"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return time.Time{}, &CorruptError{Path: s.Path(), Err: err}
	}
	return doc.SavedAt, nil
}

func (s *Store) Exists() bool {
	_, err := os.Stat(s.Path())
	return err == nil
}

// Clear removes the checkpoint. A missing file is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.Path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear checkpoint: %w", err)
	}
	return nil
}
