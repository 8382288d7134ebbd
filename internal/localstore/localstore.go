// Package localstore persists the local replica of the dataset as three
// JSON files in a data directory (the files the UI layer edits), with
// per-collection modification times tracked in the metadata store.
package localstore

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/marksync/marksync/internal/models"
	"github.com/marksync/marksync/internal/state"
)

const (
	// dataDirPerm is the permission mode for the data directory.
	dataDirPerm = fs.FileMode(0o755)

	// dataFilePerm is the permission mode for dataset files. The UI
	// process reads and writes these too.
	dataFilePerm = fs.FileMode(0o644)
)

// Store provides thread-safe access to the dataset files. Writes go
// through a temp file and rename so the UI process never observes a
// partial write.
type Store struct {
	dir  string
	meta *state.Store
	mu   sync.RWMutex
}

// New creates a Store rooted at dir, creating the directory if needed.
// Modification times are delegated to the metadata store.
func New(dir string, meta *state.Store) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("data directory must not be empty")
	}

	if err := os.MkdirAll(dir, dataDirPerm); err != nil {
		return nil, fmt.Errorf("creating data directory %s: %w", dir, err)
	}

	return &Store{dir: dir, meta: meta}, nil
}

// Dir returns the data directory root.
func (s *Store) Dir() string {
	return s.dir
}

// LoadDataset reads the full dataset from disk. Missing files yield empty
// collections and default settings; the settings blob is run through the
// migration chain before it is returned.
func (s *Store) LoadDataset() (*models.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ds := &models.Dataset{}

	if raw, err := s.readFile(models.CollectionBookmarks); err != nil {
		return nil, err
	} else if raw != nil {
		if err := json.Unmarshal(raw, &ds.Bookmarks); err != nil {
			return nil, fmt.Errorf("decoding bookmarks: %w", err)
		}
	}

	if raw, err := s.readFile(models.CollectionCategories); err != nil {
		return nil, err
	} else if raw != nil {
		if err := json.Unmarshal(raw, &ds.Categories); err != nil {
			return nil, fmt.Errorf("decoding categories: %w", err)
		}
	}

	raw, err := s.readFile(models.CollectionSettings)
	if err != nil {
		return nil, err
	}

	settings, err := models.MigrateSettings(raw)
	if err != nil {
		return nil, fmt.Errorf("migrating settings: %w", err)
	}

	ds.Settings = settings

	return ds, nil
}

// SaveDataset writes all three collections to disk.
func (s *Store) SaveDataset(ds *models.Dataset) error {
	for _, c := range models.Collections() {
		if err := s.SaveCollection(c, ds); err != nil {
			return err
		}
	}

	return nil
}

// SaveCollection writes a single collection's file from the dataset.
func (s *Store) SaveCollection(c models.Collection, ds *models.Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		data []byte
		err  error
	)

	switch c {
	case models.CollectionBookmarks:
		data, err = marshalCollection(ds.Bookmarks)
	case models.CollectionCategories:
		data, err = marshalCollection(ds.Categories)
	case models.CollectionSettings:
		data, err = json.MarshalIndent(ds.Settings, "", "  ")
	default:
		return fmt.Errorf("unknown collection %q", c)
	}

	if err != nil {
		return fmt.Errorf("encoding %s: %w", c, err)
	}

	return s.writeFile(c, data)
}

// CollectionModifiedTime returns the last local modification time for a
// collection in Unix milliseconds. When the metadata store has no record
// (first run, or state db recreated), the file's own mtime is used.
func (s *Store) CollectionModifiedTime(c models.Collection) (int64, error) {
	ts, err := s.meta.CollectionModifiedTime(c)
	if err != nil {
		return 0, err
	}

	if ts != 0 {
		return ts, nil
	}

	info, err := os.Stat(s.path(c))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}

		return 0, fmt.Errorf("stat %s: %w", c, err)
	}

	return info.ModTime().UnixMilli(), nil
}

// SetCollectionModifiedTime records the local modification time for a
// collection in Unix milliseconds.
func (s *Store) SetCollectionModifiedTime(c models.Collection, ts int64) error {
	return s.meta.SetCollectionModifiedTime(c, ts)
}

func (s *Store) path(c models.Collection) string {
	return filepath.Join(s.dir, c.Resource())
}

// readFile returns the raw contents of a collection file, or nil when the
// file does not exist yet.
func (s *Store) readFile(c models.Collection) ([]byte, error) {
	data, err := os.ReadFile(s.path(c))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading %s: %w", c, err)
	}

	return data, nil
}

// writeFile writes data via a temp file and rename in the same directory.
func (s *Store) writeFile(c models.Collection, data []byte) error {
	dst := s.path(c)

	tmp, err := os.CreateTemp(s.dir, "."+string(c)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", c, err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("writing %s: %w", c, err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file for %s: %w", c, err)
	}

	if err := os.Chmod(tmpName, dataFilePerm); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("setting permissions for %s: %w", c, err)
	}

	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", c, err)
	}

	return nil
}

// marshalCollection encodes a slice, writing "[]" rather than "null" for
// an empty collection so the UI's JSON parser sees a list either way.
func marshalCollection[T any](items []T) ([]byte, error) {
	if items == nil {
		items = []T{}
	}

	return json.MarshalIndent(items, "", "  ")
}
