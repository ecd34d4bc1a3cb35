package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// RunFileName is the name of the per entity type file holding the last run
const RunFileName = "last_run.json"

// FileHistory keeps the latest run of every entity type in
// <basePath>/<entityType>/last_run.json
type FileHistory struct {
	basePath string
	mu       sync.Mutex
}

var _ History = (*FileHistory)(nil)

// NewFileHistory creates a file history rooted at basePath
func NewFileHistory(basePath string) *FileHistory {
	return &FileHistory{basePath: basePath}
}

// Name implements Sink
func (*FileHistory) Name() string { return "file" }

// Publish implements Sink. The file is replaced atomically.
func (f *FileHistory) Publish(_ context.Context, run SyncRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Join(f.basePath, run.EntityType)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create run directory for '%s': %w", run.EntityType, err)
	}

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run %s: %w", run.ID, err)
	}

	filePath := filepath.Join(dir, RunFileName)
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary run file for '%s': %w", run.EntityType, err)
	}
	if err := os.Rename(tempPath, filePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename run file for '%s': %w", run.EntityType, err)
	}
	return nil
}

// Get implements History. Only the latest run of each entity type is kept.
func (f *FileHistory) Get(ctx context.Context, id string) (*SyncRun, error) {
	runs, err := f.Latest(ctx)
	if err != nil {
		return nil, err
	}
	for i := range runs {
		if runs[i].ID == id {
			return &runs[i], nil
		}
	}
	return nil, ErrRunNotFound
}

// Latest implements History. Unreadable files are skipped.
func (f *FileHistory) Latest(_ context.Context) ([]SyncRun, error) {
	entries, err := os.ReadDir(f.basePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run directory: %w", err)
	}

	var runs []SyncRun
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		// #nosec G304 -- path is built from directory entries under basePath
		data, err := os.ReadFile(filepath.Join(f.basePath, entry.Name(), RunFileName))
		if err != nil {
			continue
		}
		var run SyncRun
		if err := json.Unmarshal(data, &run); err != nil {
			continue
		}
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].EntityType < runs[j].EntityType })
	return runs, nil
}
