// Package backfill implements the checkpointed historical population job
// that fills the bar cache for a large symbol universe over a multi-year
// range, one resumable symbol at a time.
package backfill

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Checkpoint statuses.
const (
	StatusInProgress = "in_progress"
	StatusComplete   = "complete"
)

// FailedSymbol records one symbol that could not be backfilled.
type FailedSymbol struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
}

// Checkpoint is the persisted state of a backfill run. It is rewritten
// after every completed symbol, so the unit of resumability is one
// symbol.
type Checkpoint struct {
	RunID     string         `json:"run_id"`
	Status    string         `json:"status"`
	Remaining []string       `json:"remaining"`
	Completed []string       `json:"completed"`
	Failed    []FailedSymbol `json:"failed"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewCheckpoint creates an in-progress checkpoint for the given universe.
func NewCheckpoint(symbols []string) *Checkpoint {
	remaining := make([]string, len(symbols))
	copy(remaining, symbols)
	return &Checkpoint{
		RunID:     uuid.NewString(),
		Status:    StatusInProgress,
		Remaining: remaining,
		UpdatedAt: time.Now().UTC(),
	}
}

// MarkCompleted moves symbol from remaining to completed.
func (c *Checkpoint) MarkCompleted(symbol string) {
	c.removeRemaining(symbol)
	c.Completed = append(c.Completed, symbol)
	c.UpdatedAt = time.Now().UTC()
}

// MarkFailed moves symbol from remaining to failed with the error reason.
func (c *Checkpoint) MarkFailed(symbol string, err error) {
	c.removeRemaining(symbol)
	c.Failed = append(c.Failed, FailedSymbol{Symbol: symbol, Reason: err.Error()})
	c.UpdatedAt = time.Now().UTC()
}

func (c *Checkpoint) removeRemaining(symbol string) {
	for i, s := range c.Remaining {
		if s == symbol {
			c.Remaining = append(c.Remaining[:i], c.Remaining[i+1:]...)
			return
		}
	}
}

// Seen reports whether the symbol has already been processed (completed
// or failed) or is queued.
func (c *Checkpoint) Seen(symbol string) bool {
	for _, s := range c.Completed {
		if s == symbol {
			return true
		}
	}
	for _, f := range c.Failed {
		if f.Symbol == symbol {
			return true
		}
	}
	for _, s := range c.Remaining {
		if s == symbol {
			return true
		}
	}
	return false
}

// Store persists checkpoints as JSON using write-to-temp-then-rename, so
// a crash mid-write never leaves a corrupt file.
type Store struct {
	path string
}

// NewStore creates a checkpoint store writing to path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Save atomically writes the checkpoint to disk.
func (s *Store) Save(c *Checkpoint) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating checkpoint dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("renaming checkpoint: %w", err)
	}
	return nil
}

// Load reads the checkpoint from disk. It returns (nil, nil) when no
// checkpoint exists.
func (s *Store) Load() (*Checkpoint, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}

	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decoding checkpoint: %w", err)
	}
	return &c, nil
}

// Clear removes the checkpoint file. Missing files are not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing checkpoint: %w", err)
	}
	return nil
}
