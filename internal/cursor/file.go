package cursor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/stacklok/tmdb-sync/internal/catalog"
)

// FileStore keeps one JSON file per entity type under a base directory
type FileStore struct {
	basePath string
	mu       sync.Mutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a store writing <basePath>/<entityType>.json files
func NewFileStore(basePath string) *FileStore {
	return &FileStore{basePath: basePath}
}

func (f *FileStore) path(entity catalog.EntityType) string {
	return filepath.Join(f.basePath, string(entity)+".json")
}

// Get implements Store. A missing file yields the initial cursor.
func (f *FileStore) Get(_ context.Context, entity catalog.EntityType) (*Cursor, error) {
	// #nosec G304 -- the file name is built from a validated entity type
	data, err := os.ReadFile(f.path(entity))
	if errors.Is(err, os.ErrNotExist) {
		return Initial(entity), nil
	}
	if err != nil {
		return nil, storeError("get", entity, err)
	}

	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, storeError("get", entity, fmt.Errorf("failed to decode cursor file: %w", err))
	}
	return &c, nil
}

// Commit implements Store. The file is replaced by renaming a temporary file,
// so readers see either the previous or the new cursor.
func (f *FileStore) Commit(_ context.Context, c *Cursor) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(f.basePath, 0750); err != nil {
		return storeError("commit", c.EntityType, fmt.Errorf("failed to create cursor directory: %w", err))
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return storeError("commit", c.EntityType, err)
	}

	filePath := f.path(c.EntityType)
	tmp, err := os.CreateTemp(f.basePath, string(c.EntityType)+".*.tmp")
	if err != nil {
		return storeError("commit", c.EntityType, err)
	}
	tempPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tempPath)
		return storeError("commit", c.EntityType, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tempPath)
		return storeError("commit", c.EntityType, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return storeError("commit", c.EntityType, err)
	}

	if err := os.Rename(tempPath, filePath); err != nil {
		_ = os.Remove(tempPath)
		return storeError("commit", c.EntityType, fmt.Errorf("failed to rename cursor file: %w", err))
	}
	return nil
}

// List implements Store
func (f *FileStore) List(ctx context.Context) ([]*Cursor, error) {
	entries, err := os.ReadDir(f.basePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("list", "", err)
	}

	var out []*Cursor
	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), ".json")
		if entry.IsDir() || !ok {
			continue
		}
		entity := catalog.EntityType(name)
		if !entity.Valid() {
			continue
		}
		c, err := f.Get(ctx, entity)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityType < out[j].EntityType })
	return out, nil
}
