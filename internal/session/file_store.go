package session

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// FileStore persists one JSON snapshot file per trading date under a state
// directory.
type FileStore struct {
	dir string
}

// NewFileStore creates the store, creating the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeStatePersistFailed, "failed to create state directory", err)
	}

	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(date string) string {
	return filepath.Join(s.dir, "session_"+date+".json")
}

// Save writes the snapshot atomically via a temp file rename.
func (s *FileStore) Save(_ context.Context, snapshot Snapshot) error {
	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return errors.Wrap(errors.ErrCodeStatePersistFailed, "failed to encode session state", err)
	}

	target := s.path(snapshot.Date)
	tmp := target + ".tmp"

	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return errors.Wrap(errors.ErrCodeStatePersistFailed, "failed to write session state", err)
	}

	if err := os.Rename(tmp, target); err != nil {
		return errors.Wrap(errors.ErrCodeStatePersistFailed, "failed to replace session state", err)
	}

	return nil
}

// Load reads the snapshot for the date; ok is false when the file is absent.
func (s *FileStore) Load(_ context.Context, date string) (Snapshot, bool, error) {
	payload, err := os.ReadFile(s.path(date))
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, false, nil
		}

		return Snapshot{}, false, errors.Wrap(errors.ErrCodeStateLoadFailed, "failed to read session state", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return Snapshot{}, false, errors.Wrap(errors.ErrCodeStateLoadFailed, "failed to decode session state", err)
	}

	return snapshot, true, nil
}

// Prune removes snapshot files older than keep.
func (s *FileStore) Prune(_ context.Context, now time.Time, keep time.Duration) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStateLoadFailed, "failed to list state directory", err)
	}

	cutoff := now.Add(-keep)

	for _, entry := range entries {
		name := entry.Name()
		if len(name) != len("session_2006-01-02.json") || name[:8] != "session_" {
			continue
		}

		date, parseErr := time.Parse(DateFormat, name[8:18])
		if parseErr != nil {
			continue
		}

		if date.Before(cutoff) {
			_ = os.Remove(filepath.Join(s.dir, name))
		}
	}

	return nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error {
	return nil
}

var _ Store = (*FileStore)(nil)
