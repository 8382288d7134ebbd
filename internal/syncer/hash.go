package syncer

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"

	"github.com/marksync/marksync/internal/models"
)

// Hashing works on a canonical representation so that two payloads with
// the same logical content always produce the same digest, regardless of
// slice order or JSON field ordering quirks upstream: entries are keyed
// by their normalized merge key (Go's json encoder emits map keys
// sorted), and category member lists are sorted copies.

// HashBookmarks returns the canonical SHA-256 digest of a bookmark set.
func HashBookmarks(bookmarks []models.Bookmark) string {
	canon := make(map[string]models.Bookmark, len(bookmarks))
	for _, b := range bookmarks {
		canon[b.Key()] = b
	}

	return digest(canon)
}

// HashCategories returns the canonical SHA-256 digest of a category set.
func HashCategories(categories []models.Category) string {
	canon := make(map[string]models.Category, len(categories))
	for _, c := range categories {
		c.Bookmarks = slices.Clone(c.Bookmarks)
		slices.Sort(c.Bookmarks)
		canon[c.Key()] = c
	}

	return digest(canon)
}

// HashSettings returns the canonical SHA-256 digest of a settings blob.
// Field order is fixed by the struct definition, so a plain encode is
// already canonical.
func HashSettings(s *models.Settings) string {
	return digest(s)
}

// HashPayload returns the canonical digest of the payload a package
// carries for the given collection. This is the value stored in the
// package's metadata and verified on the receiving side.
func HashPayload(c models.Collection, p *models.SyncDataPackage) string {
	switch c {
	case models.CollectionBookmarks:
		return HashBookmarks(p.Bookmarks)
	case models.CollectionCategories:
		return HashCategories(p.Categories)
	default:
		return HashSettings(p.Settings)
	}
}

// VerifyPayload reports whether a package's embedded hash matches its
// actual payload for the given collection.
func VerifyPayload(c models.Collection, p *models.SyncDataPackage) bool {
	return p.Metadata.DataHash == HashPayload(c, p)
}

func digest(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		// Only unsupported types can fail here and the payload structs
		// contain none.
		panic("syncer: canonical marshal: " + err.Error())
	}

	sum := sha256.Sum256(data)

	return hex.EncodeToString(sum[:])
}
