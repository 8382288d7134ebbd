package syncer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/marksync/marksync/internal/models"
)

func TestHashBookmarksOrderIndependent(t *testing.T) {
	a := models.Bookmark{URL: "https://example.com/a", Title: "A", UpdatedAt: 10}
	b := models.Bookmark{URL: "https://example.com/b", Title: "B", UpdatedAt: 20}

	assert.Equal(t,
		HashBookmarks([]models.Bookmark{a, b}),
		HashBookmarks([]models.Bookmark{b, a}),
	)
}

func TestHashBookmarksContentSensitive(t *testing.T) {
	a := models.Bookmark{URL: "https://example.com/a", Title: "A"}
	changed := a
	changed.Title = "A renamed"

	assert.NotEqual(t,
		HashBookmarks([]models.Bookmark{a}),
		HashBookmarks([]models.Bookmark{changed}),
	)
}

func TestHashCategoriesMemberOrderIndependent(t *testing.T) {
	c1 := models.Category{Name: "Work", Bookmarks: []string{"a", "b", "c"}}
	c2 := models.Category{Name: "Work", Bookmarks: []string{"c", "a", "b"}}

	assert.Equal(t,
		HashCategories([]models.Category{c1}),
		HashCategories([]models.Category{c2}),
	)
}

func TestHashCategoriesDoesNotMutate(t *testing.T) {
	c := models.Category{Name: "Work", Bookmarks: []string{"c", "a", "b"}}

	HashCategories([]models.Category{c})

	assert.Equal(t, []string{"c", "a", "b"}, c.Bookmarks)
}

func TestHashSettingsStable(t *testing.T) {
	s := models.DefaultSettings()
	same := models.DefaultSettings()

	assert.Equal(t, HashSettings(&s), HashSettings(&same))

	same.Display.Theme = "dark"

	assert.NotEqual(t, HashSettings(&s), HashSettings(&same))
}

func TestVerifyPayload(t *testing.T) {
	pkg := testPkg([]string{"https://example.com/a"}, 100, 0)

	assert.True(t, VerifyPayload(models.CollectionBookmarks, pkg))

	pkg.Bookmarks[0].Title = "tampered"

	assert.False(t, VerifyPayload(models.CollectionBookmarks, pkg))
}
