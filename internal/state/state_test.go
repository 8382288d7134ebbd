package state

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	syncerrors "github.com/marksync/marksync/internal/errors"
	"github.com/marksync/marksync/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })

	return s
}

func TestDeviceRoundTrip(t *testing.T) {
	s := openTestStore(t)

	d, err := s.Device()
	require.NoError(t, err)
	assert.Nil(t, d, "no device before first save")

	want := models.DeviceInfo{ID: "abc123", Name: "laptop", Platform: "linux/amd64", CreatedAt: 100}
	require.NoError(t, s.SetDevice(want))

	got, err := s.Device()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want, *got)
}

func TestLastSyncRoundTrip(t *testing.T) {
	s := openTestStore(t)

	m, err := s.LastSync(models.CollectionBookmarks)
	require.NoError(t, err)
	assert.Nil(t, m, "no record before first sync")

	want := models.SyncMetadata{
		LastSyncTime:    100,
		LocalTimestamp:  90,
		RemoteTimestamp: 95,
		DataHash:        "deadbeef",
		SchemaVersion:   2,
		DeviceID:        "abc123",
	}
	require.NoError(t, s.SetLastSync(models.CollectionBookmarks, want))

	got, err := s.LastSync(models.CollectionBookmarks)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want, *got)

	// Records are per collection.
	other, err := s.LastSync(models.CollectionCategories)
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestDeleteLastSync(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SetLastSync(models.CollectionBookmarks, models.SyncMetadata{DataHash: "x"}))
	require.NoError(t, s.DeleteLastSync(models.CollectionBookmarks))

	got, err := s.LastSync(models.CollectionBookmarks)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCorruptLastSyncSurfacesTaggedError(t *testing.T) {
	s := openTestStore(t)

	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(lastSyncBucket).Put([]byte(models.CollectionBookmarks), []byte("{garbage"))
	})
	require.NoError(t, err)

	_, err = s.LastSync(models.CollectionBookmarks)

	require.ErrorIs(t, err, syncerrors.ErrCorruptMetadata)

	// The repair path: drop the record, then reads work again.
	require.NoError(t, s.DeleteLastSync(models.CollectionBookmarks))

	got, err := s.LastSync(models.CollectionBookmarks)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCollectionModifiedTime(t *testing.T) {
	s := openTestStore(t)

	ts, err := s.CollectionModifiedTime(models.CollectionBookmarks)
	require.NoError(t, err)
	assert.Zero(t, ts)

	require.NoError(t, s.SetCollectionModifiedTime(models.CollectionBookmarks, 12345))

	ts, err = s.CollectionModifiedTime(models.CollectionBookmarks)
	require.NoError(t, err)
	assert.Equal(t, int64(12345), ts)
}

func TestStatePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.SetDevice(models.DeviceInfo{ID: "abc123"}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	d, err := s.Device()
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "abc123", d.ID)
}
