package snapshotstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/lowaak/smart-trainer/treadmill-app/internal/engine"
)

const fileName = "workout_state.json"

var ErrNotFound = errors.New("no saved workout state")

// Store keeps the latest engine snapshot as a JSON file in the state dir.
// It is not safe for concurrent writers; the session saves from one goroutine.
type Store struct {
	filePath string
	logger   logrus.FieldLogger
}

func New(dir string, logger logrus.FieldLogger) *Store {
	if logger == nil {
		panic("SnapshotStore: logger cannot be nil")
	}
	return &Store{
		filePath: filepath.Join(dir, fileName),
		logger:   logger.WithField("file", filepath.Join(dir, fileName)),
	}
}

func (s *Store) Path() string {
	return s.filePath
}

// Load returns the saved snapshot, or ErrNotFound when there is none
func (s *Store) Load() (engine.Snapshot, error) {
	raw, err := os.ReadFile(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Debug("SnapshotStore: load (no existing file)")
		return engine.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return engine.Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	var snap engine.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return engine.Snapshot{}, fmt.Errorf("parse snapshot %s: %w", s.filePath, err)
	}
	s.logger.WithFields(logrus.Fields{"workout": snap.WorkoutID, "index": snap.StepIndex}).Info("SnapshotStore: loaded")
	return snap, nil
}

// Save replaces the stored snapshot. The file is written next to the target and renamed,
// so a crash never leaves a half written snapshot.
func (s *Store) Save(snap engine.Snapshot) error {
	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(dir, fileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	_, err = tmp.Write(raw)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmpName, s.filePath)
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"workout": snap.WorkoutID, "index": snap.StepIndex}).Debug("SnapshotStore: saved")
	return nil
}

// Delete removes the stored snapshot. Deleting a missing snapshot is not an error.
func (s *Store) Delete() error {
	if err := os.Remove(s.filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	s.logger.Debug("SnapshotStore: deleted")
	return nil
}
