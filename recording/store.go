package recording

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Store persists sealed recordings and tracks live sessions.
type Store interface {
	Load(recordingID string) (*Recording, error)
	List() ([]string, error)
	Delete(recordingID string) error

	// Seal writes a finished recording and releases its live session.
	Seal(rec *Recording) error

	// Active reports whether a live session currently holds the id.
	Active(recordingID string) bool
}

// FileStore stores one directory per recording under baseDir/runs, with the
// full recording as recording.json. Steps order inside the file is
// authoritative for replay.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
	active  map[string]struct{}
}

// NewFileStore creates a file-based recording store.
func NewFileStore(baseDir string) (*FileStore, error) {
	runsDir := filepath.Join(baseDir, "runs")
	if err := os.MkdirAll(runsDir, 0755); err != nil {
		return nil, err
	}

	return &FileStore{
		baseDir: baseDir,
		active:  make(map[string]struct{}),
	}, nil
}

// create registers a live session and reserves the run directory.
func (s *FileStore) create(rec *Recording) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.active[rec.RecordingID]; exists {
		return ErrRecordingExists
	}

	runDir := s.runDir(rec.RecordingID)
	if _, err := os.Stat(runDir); err == nil {
		return ErrRecordingExists
	}
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return err
	}

	s.active[rec.RecordingID] = struct{}{}
	return nil
}

// Seal writes the finished recording and releases the live session.
func (s *FileStore) Seal(rec *Recording) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.write(rec); err != nil {
		return err
	}
	delete(s.active, rec.RecordingID)
	return nil
}

// Active reports whether a live session holds the given id.
func (s *FileStore) Active(recordingID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.active[recordingID]
	return ok
}

// Load reads a sealed recording from disk.
func (s *FileStore) Load(recordingID string) (*Recording, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.recordingPath(recordingID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrRecordingNotFound
		}
		return nil, err
	}

	var rec Recording
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse recording %s: %w", recordingID, err)
	}
	return &rec, nil
}

// List returns all recording ids on disk, sorted.
func (s *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.baseDir, "runs"))
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes a recording directory.
func (s *FileStore) Delete(recordingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.active[recordingID]; exists {
		return ErrReplayActive
	}
	return os.RemoveAll(s.runDir(recordingID))
}

func (s *FileStore) runDir(recordingID string) string {
	return filepath.Join(s.baseDir, "runs", recordingID)
}

func (s *FileStore) recordingPath(recordingID string) string {
	return filepath.Join(s.runDir(recordingID), "recording.json")
}

func (s *FileStore) write(rec *Recording) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}

	path := s.recordingPath(rec.RecordingID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
