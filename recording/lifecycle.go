package recording

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/randalmurphal/medflow/config"
)

// RetentionConfig defines how long recordings are kept on disk.
type RetentionConfig struct {
	RetentionDays        int  // Days to keep sealed recordings
	ArchiveAfterDays     int  // Days before compressing into archive/
	ArchiveRetentionDays int  // Days to keep archived recordings
	KeepFailed           bool // Failed runs skip archival and deletion
	KeepMinRuns          int  // Minimum recordings kept regardless of age
}

// DefaultRetentionConfig returns sensible defaults.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		RetentionDays:        30,
		ArchiveAfterDays:     7,
		ArchiveRetentionDays: 90,
		KeepFailed:           true,
		KeepMinRuns:          50,
	}
}

// OpenConfigured opens the configured recordings directory together with a
// lifecycle manager enforcing the configured retention on it. Retention
// knobs left at zero keep their defaults.
func OpenConfigured(cfg config.Config) (*FileStore, *LifecycleManager, error) {
	store, err := NewFileStore(cfg.RecordingsDir)
	if err != nil {
		return nil, nil, err
	}

	retention := DefaultRetentionConfig()
	if cfg.RetentionDays > 0 {
		retention.RetentionDays = cfg.RetentionDays
	}
	if cfg.ArchiveAfterDays > 0 {
		retention.ArchiveAfterDays = cfg.ArchiveAfterDays
	}
	return store, NewLifecycleManager(store, retention), nil
}

// LifecycleManager applies retention policy to a FileStore's directory.
type LifecycleManager struct {
	store  *FileStore
	config RetentionConfig
}

// NewLifecycleManager creates a lifecycle manager over a recording store.
func NewLifecycleManager(store *FileStore, config RetentionConfig) *LifecycleManager {
	return &LifecycleManager{store: store, config: config}
}

// CleanupResult summarizes one cleanup pass.
type CleanupResult struct {
	Archived []string `json:"archived"`
	Deleted  []string `json:"deleted"`
	Kept     []string `json:"kept"`
	Errors   []string `json:"errors,omitempty"`
}

// Cleanup archives recordings older than ArchiveAfterDays and deletes
// archives older than ArchiveRetentionDays. Live sessions are never touched.
func (m *LifecycleManager) Cleanup(dryRun bool) (*CleanupResult, error) {
	ids, err := m.store.List()
	if err != nil {
		return nil, err
	}

	result := &CleanupResult{}
	now := time.Now()

	type aged struct {
		id    string
		ended time.Time
		rec   *Recording
	}
	var candidates []aged

	for _, id := range ids {
		if m.store.Active(id) {
			result.Kept = append(result.Kept, id)
			continue
		}
		rec, err := m.store.Load(id)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", id, err))
			continue
		}
		candidates = append(candidates, aged{id: id, ended: rec.EndedAt, rec: rec})
	}

	// Newest first, so the keep-minimum window retains recent runs.
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ended.After(candidates[j].ended)
	})

	for i, c := range candidates {
		if i < m.config.KeepMinRuns {
			result.Kept = append(result.Kept, c.id)
			continue
		}
		if m.config.KeepFailed && c.rec.Status == StatusFailed {
			result.Kept = append(result.Kept, c.id)
			continue
		}

		age := now.Sub(c.ended)
		if age < time.Duration(m.config.ArchiveAfterDays)*24*time.Hour {
			result.Kept = append(result.Kept, c.id)
			continue
		}

		if !dryRun {
			if err := m.archive(c.rec); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("archive %s: %v", c.id, err))
				continue
			}
			if err := m.store.Delete(c.id); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("delete %s: %v", c.id, err))
				continue
			}
		}
		result.Archived = append(result.Archived, c.id)
	}

	if err := m.pruneArchives(now, dryRun, result); err != nil {
		return result, err
	}
	return result, nil
}

// archive writes one recording into archive/<id>.tar.gz.
func (m *LifecycleManager) archive(rec *Recording) error {
	archiveDir := filepath.Join(m.store.baseDir, "archive")
	if err := os.MkdirAll(archiveDir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}

	f, err := os.Create(filepath.Join(archiveDir, rec.RecordingID+".tar.gz"))
	if err != nil {
		return err
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	hdr := &tar.Header{
		Name:    rec.RecordingID + "/recording.json",
		Mode:    0644,
		Size:    int64(len(data)),
		ModTime: rec.EndedAt,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if _, err := tw.Write(data); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func (m *LifecycleManager) pruneArchives(now time.Time, dryRun bool, result *CleanupResult) error {
	archiveDir := filepath.Join(m.store.baseDir, "archive")
	entries, err := os.ReadDir(archiveDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	maxAge := time.Duration(m.config.ArchiveRetentionDays) * 24 * time.Hour
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < maxAge {
			continue
		}
		if !dryRun {
			if err := os.Remove(filepath.Join(archiveDir, entry.Name())); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("prune %s: %v", entry.Name(), err))
				continue
			}
		}
		result.Deleted = append(result.Deleted, entry.Name())
	}
	return nil
}
