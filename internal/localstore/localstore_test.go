package localstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marksync/marksync/internal/models"
	"github.com/marksync/marksync/internal/state"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	dir := t.TempDir()

	meta, err := state.Open(filepath.Join(dir, "state.db"))
	require.NoError(t, err)

	t.Cleanup(func() { meta.Close() })

	s, err := New(filepath.Join(dir, "data"), meta)
	require.NoError(t, err)

	return s
}

func TestLoadDatasetFreshDirectory(t *testing.T) {
	s := testStore(t)

	ds, err := s.LoadDataset()
	require.NoError(t, err)

	assert.Empty(t, ds.Bookmarks)
	assert.Empty(t, ds.Categories)
	assert.Equal(t, models.DefaultSettings(), ds.Settings)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	s := testStore(t)

	want := &models.Dataset{
		Bookmarks: []models.Bookmark{
			{URL: "https://example.com/a", Title: "A", CreatedAt: 1, UpdatedAt: 2},
		},
		Categories: []models.Category{
			{Name: "Work", Bookmarks: []string{"https://example.com/a"}, CreatedAt: 1, UpdatedAt: 2},
		},
		Settings: models.DefaultSettings(),
	}

	require.NoError(t, s.SaveDataset(want))

	got, err := s.LoadDataset()
	require.NoError(t, err)

	assert.Equal(t, want.Bookmarks, got.Bookmarks)
	assert.Equal(t, want.Categories, got.Categories)
	assert.Equal(t, want.Settings, got.Settings)
}

func TestSaveCollectionWritesOnlyThatFile(t *testing.T) {
	s := testStore(t)

	ds := &models.Dataset{
		Bookmarks: []models.Bookmark{{URL: "https://example.com/a"}},
		Settings:  models.DefaultSettings(),
	}

	require.NoError(t, s.SaveCollection(models.CollectionBookmarks, ds))

	_, err := os.Stat(filepath.Join(s.Dir(), "bookmarks.json"))
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(s.Dir(), "categories.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestEmptyCollectionEncodesAsList(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.SaveCollection(models.CollectionBookmarks, &models.Dataset{}))

	data, err := os.ReadFile(filepath.Join(s.Dir(), "bookmarks.json"))
	require.NoError(t, err)

	assert.Equal(t, "[]", string(data))
}

func TestLoadMigratesLegacySettings(t *testing.T) {
	s := testStore(t)

	legacy := []byte(`{"theme": "dark", "syncIntervalMinutes": 5}`)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "settings.json"), legacy, 0o644))

	ds, err := s.LoadDataset()
	require.NoError(t, err)

	assert.Equal(t, models.SettingsSchemaVersion, ds.Settings.SchemaVersion)
	assert.Equal(t, "dark", ds.Settings.Display.Theme)
	assert.Equal(t, 5, ds.Settings.Sync.IntervalMinutes)
}

func TestModifiedTimePrefersMetadata(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.SaveCollection(models.CollectionBookmarks, &models.Dataset{}))
	require.NoError(t, s.SetCollectionModifiedTime(models.CollectionBookmarks, 12345))

	ts, err := s.CollectionModifiedTime(models.CollectionBookmarks)
	require.NoError(t, err)

	assert.Equal(t, int64(12345), ts)
}

func TestModifiedTimeFallsBackToFileMtime(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.SaveCollection(models.CollectionBookmarks, &models.Dataset{}))

	ts, err := s.CollectionModifiedTime(models.CollectionBookmarks)
	require.NoError(t, err)

	assert.NotZero(t, ts, "without a recorded time the file mtime is used")
}

func TestModifiedTimeMissingFile(t *testing.T) {
	s := testStore(t)

	ts, err := s.CollectionModifiedTime(models.CollectionBookmarks)
	require.NoError(t, err)

	assert.Zero(t, ts)
}

func TestAtomicWriteLeavesNoTempFiles(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.SaveDataset(&models.Dataset{Settings: models.DefaultSettings()}))

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)

	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}
