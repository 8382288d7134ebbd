package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases", "https://Example.COM/Path", "https://example.com/path"},
		{"trims whitespace", "  https://example.com  ", "https://example.com"},
		{"drops trailing slash", "https://example.com/page/", "https://example.com/page"},
		{"keeps lone slash", "/", "/"},
		{"folds fullwidth characters", "https://example.com/ａｂｃ", "https://example.com/abc"},
		{"empty stays empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeURL(tt.in))
		})
	}
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases", "Work Stuff", "work stuff"},
		{"collapses whitespace", "  work \t  stuff  ", "work stuff"},
		{"folds fullwidth characters", "ｗｏｒｋ", "work"},
		{"empty stays empty", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeName(tt.in))
		})
	}
}

func TestBookmarkKeyEquivalence(t *testing.T) {
	a := Bookmark{URL: "https://Example.com/Page/"}
	b := Bookmark{URL: "https://example.com/page"}

	assert.Equal(t, a.Key(), b.Key())
}

func TestDatasetEmpty(t *testing.T) {
	ds := &Dataset{Settings: DefaultSettings()}

	assert.True(t, ds.Empty(), "settings alone do not make a dataset non-empty")

	ds.Bookmarks = []Bookmark{{URL: "https://example.com"}}

	assert.False(t, ds.Empty())
}

func TestCollectionsOrder(t *testing.T) {
	order := Collections()

	assert.Equal(t, []Collection{CollectionBookmarks, CollectionCategories, CollectionSettings}, order)
	assert.Equal(t, "bookmarks.json", CollectionBookmarks.Resource())
}
