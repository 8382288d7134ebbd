package syncer

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	diffmatchpatch "github.com/sergi/go-diff/diffmatchpatch"

	"github.com/marksync/marksync/internal/models"
)

// Strategy selects how a detected conflict is resolved.
type Strategy string

const (
	StrategyUseLocal  Strategy = "use_local"
	StrategyUseRemote Strategy = "use_remote"
	StrategyMerge     Strategy = "merge"
	StrategyManual    Strategy = "manual"
)

// Resolver turns a queued conflict plus a strategy into the package that
// becomes the new truth. All strategies are pure over their inputs; the
// result is stamped with fresh metadata attributed to this device.
type Resolver struct {
	device models.DeviceInfo
}

// NewResolver creates a resolver that attributes resolved packages to
// the given device.
func NewResolver(device models.DeviceInfo) *Resolver {
	return &Resolver{device: device}
}

// Resolve applies a strategy to a conflict record. StrategyManual never
// produces a package; it exists so callers can represent "queue this for
// the user" uniformly and is rejected here.
func (r *Resolver) Resolve(rec ConflictRecord, strategy Strategy) (*models.SyncDataPackage, error) {
	switch strategy {
	case StrategyUseLocal:
		return r.stamp(rec.Item.Kind, rec.Local), nil
	case StrategyUseRemote:
		return r.stamp(rec.Item.Kind, rec.Remote), nil
	case StrategyMerge:
		return r.stamp(rec.Item.Kind, mergePackages(rec.Item.Kind, rec.Local, rec.Remote)), nil
	case StrategyManual:
		return nil, fmt.Errorf("manual strategy requires a caller decision")
	default:
		return nil, fmt.Errorf("unknown resolution strategy %q", strategy)
	}
}

// stamp copies a package and replaces its metadata: fresh timestamps,
// recomputed hash, this device as the author. The resolved package is a
// new edit regardless of which side it came from.
func (r *Resolver) stamp(c models.Collection, p *models.SyncDataPackage) *models.SyncDataPackage {
	now := models.NowMilli()

	out := *p
	out.Device = r.device
	out.CreatedAt = now
	out.Metadata = models.SyncMetadata{
		LastSyncTime:   now,
		LocalTimestamp: now,
		SchemaVersion:  p.SchemaVersion,
		DeviceID:       r.device.ID,
	}
	out.Metadata.DataHash = HashPayload(c, &out)

	return &out
}

// mergePackages unions the two sides of a conflict for the collection in
// question, leaving the other payload fields from the local side intact.
func mergePackages(c models.Collection, local, remote *models.SyncDataPackage) *models.SyncDataPackage {
	out := *local

	switch c {
	case models.CollectionBookmarks:
		out.Bookmarks = MergeBookmarks(local.Bookmarks, remote.Bookmarks)
	case models.CollectionCategories:
		out.Categories = MergeCategories(local.Categories, remote.Categories)
	default:
		out.Settings = mergeSettings(local.Settings, remote.Settings)
	}

	return &out
}

// MergeBookmarks unions two bookmark sets keyed by normalized URL. When
// both sides carry the same bookmark, the one with the later UpdatedAt
// wins whole; ties keep the remote version so every device converges on
// the same pick. The result is sorted by key for determinism.
func MergeBookmarks(local, remote []models.Bookmark) []models.Bookmark {
	merged := make(map[string]models.Bookmark, len(local)+len(remote))

	for _, b := range local {
		merged[b.Key()] = b
	}

	for _, b := range remote {
		key := b.Key()

		existing, ok := merged[key]
		if !ok || b.UpdatedAt >= existing.UpdatedAt {
			merged[key] = b
		}
	}

	out := make([]models.Bookmark, 0, len(merged))
	for _, key := range slices.Sorted(maps.Keys(merged)) {
		out = append(out, merged[key])
	}

	return out
}

// MergeCategories unions two category sets keyed by normalized name.
// Member lists are unioned so a bookmark filed on either device stays
// filed; the other fields follow the later UpdatedAt, remote winning
// ties. The result is sorted by key for determinism.
func MergeCategories(local, remote []models.Category) []models.Category {
	merged := make(map[string]models.Category, len(local)+len(remote))

	for _, c := range local {
		c.Bookmarks = slices.Clone(c.Bookmarks)
		merged[c.Key()] = c
	}

	for _, c := range remote {
		key := c.Key()

		existing, ok := merged[key]
		if !ok {
			c.Bookmarks = slices.Clone(c.Bookmarks)
			merged[key] = c

			continue
		}

		members := unionStrings(existing.Bookmarks, c.Bookmarks)

		if c.UpdatedAt >= existing.UpdatedAt {
			existing = c
		}

		existing.Bookmarks = members
		merged[key] = existing
	}

	out := make([]models.Category, 0, len(merged))
	for _, key := range slices.Sorted(maps.Keys(merged)) {
		out = append(out, merged[key])
	}

	return out
}

// mergeSettings merges two settings blobs section by section with the
// remote side winning. Settings fields are whole-value preferences, so a
// finer-grained merge has nothing meaningful to combine.
func mergeSettings(local, remote *models.Settings) *models.Settings {
	if remote == nil {
		return local
	}

	out := *remote
	out.SchemaVersion = models.SettingsSchemaVersion

	return &out
}

// unionStrings merges two string lists preserving first-seen order from
// a then b, dropping duplicates.
func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))

	for _, s := range slices.Concat(a, b) {
		if _, ok := seen[s]; ok {
			continue
		}

		seen[s] = struct{}{}
		out = append(out, s)
	}

	return out
}

// diffPreview renders a line-oriented diff of the two payloads so a
// queued conflict can be reviewed without re-fetching anything.
func diffPreview(c models.Collection, local, remote *models.SyncDataPackage) string {
	l := previewJSON(c, local)
	r := previewJSON(c, remote)

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(l, r, true)
	dmp.DiffCleanupSemantic(diffs)

	return dmp.DiffPrettyText(diffs)
}

func previewJSON(c models.Collection, p *models.SyncDataPackage) string {
	if p == nil {
		return ""
	}

	var v any

	switch c {
	case models.CollectionBookmarks:
		v = p.Bookmarks
	case models.CollectionCategories:
		v = p.Categories
	default:
		v = p.Settings
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ""
	}

	return string(data)
}
