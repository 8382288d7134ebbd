package models

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Collection identifies one of the three logical datasets synchronized
// independently against the remote store.
type Collection string

const (
	CollectionBookmarks  Collection = "bookmarks"
	CollectionCategories Collection = "categories"
	CollectionSettings   Collection = "settings"
)

// Collections returns the collections in sync order. Settings is last so
// that category and bookmark identity is stable before preferences that
// may reference them are applied.
func Collections() []Collection {
	return []Collection{CollectionBookmarks, CollectionCategories, CollectionSettings}
}

// Resource returns the remote file name for the collection.
func (c Collection) Resource() string {
	return string(c) + ".json"
}

// Bookmark is a single saved link. The sync key is the normalized URL;
// uniqueness within a merged result is enforced by the merge step, not by
// the storage layer.
type Bookmark struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Icon        string `json:"icon,omitempty"`
	Category    string `json:"category,omitempty"`
	CreatedAt   int64  `json:"createdAt"`
	UpdatedAt   int64  `json:"updatedAt"`
}

// Key returns the normalized URL used as the bookmark's merge key.
func (b Bookmark) Key() string {
	return NormalizeURL(b.URL)
}

// Category groups bookmarks. The sync key is the normalized name.
// Bookmarks holds the ordered member bookmark keys.
type Category struct {
	Name      string   `json:"name"`
	Icon      string   `json:"icon,omitempty"`
	Color     string   `json:"color,omitempty"`
	Bookmarks []string `json:"bookmarks"`
	CreatedAt int64    `json:"createdAt"`
	UpdatedAt int64    `json:"updatedAt"`
}

// Key returns the normalized name used as the category's merge key.
func (c Category) Key() string {
	return NormalizeName(c.Name)
}

// Dataset is the full local data: everything the engine synchronizes.
type Dataset struct {
	Categories []Category `json:"categories"`
	Bookmarks  []Bookmark `json:"bookmarks"`
	Settings   Settings   `json:"settings"`
}

// Empty reports whether the dataset is logically empty: no bookmarks and
// no categories. Settings alone do not make a dataset non-empty; a fresh
// install always has default settings.
func (d *Dataset) Empty() bool {
	return len(d.Bookmarks) == 0 && len(d.Categories) == 0
}

// SyncMetadata describes one synchronized payload. DataHash must equal the
// canonical hash of the payload it is attached to; a mismatch means the
// payload is corrupt. All timestamps are Unix milliseconds.
type SyncMetadata struct {
	LastSyncTime    int64  `json:"lastSyncTime"`
	LocalTimestamp  int64  `json:"localTimestamp"`
	RemoteTimestamp int64  `json:"remoteTimestamp"`
	DataHash        string `json:"dataHash"`
	SchemaVersion   int    `json:"schemaVersion"`
	DeviceID        string `json:"deviceId"`
}

// DeviceInfo identifies the installation that produced a data package.
// Created once, persisted, LastActiveAt refreshed on each sync cycle.
type DeviceInfo struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Platform     string `json:"platform"`
	Client       string `json:"client"`
	CreatedAt    int64  `json:"createdAt"`
	LastActiveAt int64  `json:"lastActiveAt"`
}

// SyncDataPackage is the unit exchanged with the remote store. Each remote
// resource holds one package carrying the collection it serializes; the
// package built from local state carries the full dataset so detection can
// judge true dataset emptiness.
type SyncDataPackage struct {
	Metadata      SyncMetadata `json:"metadata"`
	Device        DeviceInfo   `json:"device"`
	Categories    []Category   `json:"categories,omitempty"`
	Bookmarks     []Bookmark   `json:"bookmarks,omitempty"`
	Settings      *Settings    `json:"settings,omitempty"`
	SchemaVersion int          `json:"schemaVersion"`
	CreatedAt     int64        `json:"createdAt"`
}

// Empty reports whether the package carries no bookmarks and no categories.
func (p *SyncDataPackage) Empty() bool {
	return len(p.Bookmarks) == 0 && len(p.Categories) == 0
}

// NormalizeURL folds a URL into its merge-key form: NFKC-normalized,
// trimmed, lower-cased, trailing slash dropped. Display URLs keep their
// original spelling; only the key is folded.
func NormalizeURL(u string) string {
	u = norm.NFKC.String(u)
	u = strings.TrimSpace(u)
	u = strings.ToLower(u)

	if len(u) > 1 {
		u = strings.TrimSuffix(u, "/")
	}

	return u
}

// NormalizeName folds a category name into its merge-key form:
// NFKC-normalized, trimmed, inner whitespace collapsed, lower-cased.
func NormalizeName(n string) string {
	n = norm.NFKC.String(n)
	n = strings.ToLower(strings.TrimSpace(n))

	return strings.Join(strings.Fields(n), " ")
}

// NowMilli returns the current wall clock in Unix milliseconds, the
// timestamp unit used throughout the engine.
func NowMilli() int64 {
	return time.Now().UnixMilli()
}
