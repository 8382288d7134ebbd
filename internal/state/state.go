package state

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"

	syncerrors "github.com/marksync/marksync/internal/errors"
	"github.com/marksync/marksync/internal/models"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.marksync/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	appBucket        = []byte("app")
	deviceKey        = []byte("device")
	lastSyncBucket   = []byte("lastsync")
	modifiedAtBucket = []byte("modified")
)

// Store wraps a bbolt database holding the engine's persistent metadata:
// the device identity, the last full-sync record per collection, and the
// last local modification time per collection.
type Store struct {
	db *bolt.DB
}

// Open opens the metadata database at the given path, creating it and its
// buckets if needed. An empty path uses ~/.marksync/state.db.
func Open(path string) (*Store, error) {
	if path == "" {
		var err error
		if path, err = defaultPath(); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{appBucket, lastSyncBucket, modifiedAtBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Device returns the persisted device identity, or nil if none exists yet.
func (s *Store) Device() (*models.DeviceInfo, error) {
	var d *models.DeviceInfo

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(appBucket).Get(deviceKey)
		if v == nil {
			return nil
		}

		d = &models.DeviceInfo{}

		return json.Unmarshal(v, d)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: device record: %v", syncerrors.ErrCorruptMetadata, err)
	}

	return d, nil
}

// SetDevice persists the device identity.
func (s *Store) SetDevice(d models.DeviceInfo) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(d)
		if err != nil {
			return err
		}

		return tx.Bucket(appBucket).Put(deviceKey, data)
	})
}

// LastSync returns the last full-sync metadata for a collection, or nil if
// the collection has never completed a sync. A record that no longer
// decodes surfaces as ErrCorruptMetadata so the caller can run the repair
// path (delete and regenerate from the current payload).
func (s *Store) LastSync(c models.Collection) (*models.SyncMetadata, error) {
	var m *models.SyncMetadata

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(lastSyncBucket).Get([]byte(c))
		if v == nil {
			return nil
		}

		m = &models.SyncMetadata{}

		return json.Unmarshal(v, m)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: last sync for %s: %v", syncerrors.ErrCorruptMetadata, c, err)
	}

	return m, nil
}

// SetLastSync persists the last full-sync metadata for a collection.
func (s *Store) SetLastSync(c models.Collection, m models.SyncMetadata) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}

		return tx.Bucket(lastSyncBucket).Put([]byte(c), data)
	})
}

// DeleteLastSync removes the last-sync record for a collection. Used by
// the repair path when the record is corrupt.
func (s *Store) DeleteLastSync(c models.Collection) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(lastSyncBucket).Delete([]byte(c))
	})
}

// CollectionModifiedTime returns the last known local modification time
// for a collection in Unix milliseconds, or 0 if unknown.
func (s *Store) CollectionModifiedTime(c models.Collection) (int64, error) {
	var ts int64

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(modifiedAtBucket).Get([]byte(c))
		if v == nil {
			return nil
		}

		parsed, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return err
		}

		ts = parsed

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: modified time for %s: %v", syncerrors.ErrCorruptMetadata, c, err)
	}

	return ts, nil
}

// SetCollectionModifiedTime records the local modification time for a
// collection in Unix milliseconds.
func (s *Store) SetCollectionModifiedTime(c models.Collection, ts int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(modifiedAtBucket).Put([]byte(c), []byte(strconv.FormatInt(ts, 10)))
	})
}

func defaultPath() (string, error) {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(dir, ".marksync", "state.db"), nil
}
