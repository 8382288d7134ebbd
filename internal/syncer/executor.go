package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tidwall/gjson"

	syncerrors "github.com/marksync/marksync/internal/errors"
	"github.com/marksync/marksync/internal/models"
)

// defaultRaceTolerance is how much the remote modification time may
// advance between comparison and upload before the upload is treated as
// racing a concurrent writer.
const defaultRaceTolerance = time.Second

// Executor performs the actual transfer for one sync item: it owns the
// wire codec (JSON envelope, optionally encrypted) and the pre-upload
// race check. All decisions about *whether* to transfer happen upstream
// in detection; the executor only decides upload-versus-download for
// items left bidirectional.
type Executor struct {
	remote RemoteStore
	local  LocalStore
	meta   MetadataStore
	cipher *Cipher
	device models.DeviceInfo
	logger *slog.Logger

	raceTolerance time.Duration
}

// NewExecutor creates an executor. cipher may be nil for plaintext sync.
// A zero raceTolerance uses the default.
func NewExecutor(
	remote RemoteStore,
	local LocalStore,
	meta MetadataStore,
	cipher *Cipher,
	device models.DeviceInfo,
	raceTolerance time.Duration,
	logger *slog.Logger,
) *Executor {
	if raceTolerance <= 0 {
		raceTolerance = defaultRaceTolerance
	}

	return &Executor{
		remote:        remote,
		local:         local,
		meta:          meta,
		cipher:        cipher,
		device:        device,
		logger:        logger,
		raceTolerance: raceTolerance,
	}
}

// FetchRemote downloads and decodes the remote package for a collection.
// An absent resource returns (nil, nil). A payload that fails to decrypt
// or decode returns ErrIntegrity.
func (e *Executor) FetchRemote(ctx context.Context, c models.Collection) (*models.SyncDataPackage, error) {
	data, err := e.remote.ReadFile(ctx, c.Resource())
	if err != nil {
		if errors.Is(err, syncerrors.ErrNotFound) {
			return nil, nil
		}

		return nil, err
	}

	return e.decodePackage(c, data)
}

// Run executes the transfer for one item, mutating ds on download and
// recording the item's final status and direction. remotePkg is the
// package already fetched for comparison; it may be nil when the remote
// resource does not exist.
func (e *Executor) Run(ctx context.Context, item *SyncItem, ds *models.Dataset, remotePkg *models.SyncDataPackage) error {
	direction := item.Direction

	if direction == DirectionBidirectional {
		switch {
		case !item.RemoteExists || item.RemoteModifiedAt == 0:
			direction = DirectionUpload
		case item.LocalModifiedAt > item.RemoteModifiedAt:
			direction = DirectionUpload
		case item.LocalModifiedAt < item.RemoteModifiedAt:
			direction = DirectionDownload
		default:
			item.Status = ItemNoop

			return nil
		}
	}

	if direction == DirectionUpload {
		return e.upload(ctx, item, ds)
	}

	return e.download(ctx, item, ds, remotePkg)
}

// upload writes the item's collection to the remote store. The remote
// modification time is re-read immediately before writing: if the
// resource moved since comparison, or appeared where none was observed,
// a concurrent writer got there first and the fresher remote side is
// taken instead of clobbered.
func (e *Executor) upload(ctx context.Context, item *SyncItem, ds *models.Dataset) error {
	ts, ok, err := e.remote.LastModified(ctx, item.Kind.Resource())
	if err != nil {
		item.Status = ItemFailed

		return err
	}

	moved := false

	switch {
	case !ok:
		// Still absent, nothing to race with.
	case !item.RemoteExists:
		moved = true
	case ts > item.RemoteModifiedAt+e.raceTolerance.Milliseconds():
		moved = true
	}

	if moved {
		e.logger.Warn("remote moved since comparison, downloading instead",
			slog.String("collection", string(item.Kind)),
			slog.Int64("comparedAt", item.RemoteModifiedAt),
			slog.Int64("nowAt", ts),
		)

		item.RemoteExists = true
		item.RemoteModifiedAt = ts

		fresh, err := e.FetchRemote(ctx, item.Kind)
		if err != nil {
			item.Status = ItemFailed

			return err
		}

		return e.download(ctx, item, ds, fresh)
	}

	pkg := e.buildEnvelope(item.Kind, ds, item.LocalModifiedAt)

	data, err := e.encodePackage(pkg)
	if err != nil {
		item.Status = ItemFailed

		return err
	}

	if err := e.remote.WriteFile(ctx, item.Kind.Resource(), data); err != nil {
		item.Status = ItemFailed

		return err
	}

	// Re-read the server-assigned modification time so the next cycle
	// compares against what the server will report, not our clock.
	serverTS, ok, err := e.remote.LastModified(ctx, item.Kind.Resource())
	if err != nil || !ok || serverTS == 0 {
		serverTS = pkg.Metadata.RemoteTimestamp
	}

	if err := e.recordLastSync(item, pkg.Metadata.DataHash, serverTS); err != nil {
		item.Status = ItemFailed

		return err
	}

	item.Status = ItemSynced
	item.Direction = DirectionUpload

	return nil
}

// download applies the remote package to the local dataset and store.
func (e *Executor) download(ctx context.Context, item *SyncItem, ds *models.Dataset, pkg *models.SyncDataPackage) error {
	if pkg == nil {
		var err error
		if pkg, err = e.FetchRemote(ctx, item.Kind); err != nil {
			item.Status = ItemFailed

			return err
		}
	}

	if pkg == nil {
		// The resource vanished between comparison and transfer. Nothing
		// to apply; the next cycle sees the absence and uploads.
		item.Status = ItemNoop

		return nil
	}

	if !VerifyPayload(item.Kind, pkg) {
		item.Status = ItemFailed

		return fmt.Errorf("%w: %s payload hash mismatch", syncerrors.ErrIntegrity, item.Kind)
	}

	switch item.Kind {
	case models.CollectionBookmarks:
		ds.Bookmarks = pkg.Bookmarks
	case models.CollectionCategories:
		ds.Categories = pkg.Categories
	default:
		if pkg.Settings != nil {
			ds.Settings = *pkg.Settings
		}
	}

	if err := e.local.SaveCollection(item.Kind, ds); err != nil {
		item.Status = ItemFailed

		return err
	}

	effectiveTS := item.RemoteModifiedAt
	if effectiveTS == 0 {
		effectiveTS = remoteTimestamp(pkg)
	}

	if err := e.local.SetCollectionModifiedTime(item.Kind, effectiveTS); err != nil {
		item.Status = ItemFailed

		return err
	}

	item.LocalModifiedAt = effectiveTS

	if err := e.recordLastSync(item, pkg.Metadata.DataHash, effectiveTS); err != nil {
		item.Status = ItemFailed

		return err
	}

	item.Status = ItemSynced
	item.Direction = DirectionDownload

	return nil
}

// buildEnvelope assembles the wire package for one collection from the
// dataset.
func (e *Executor) buildEnvelope(c models.Collection, ds *models.Dataset, localTS int64) *models.SyncDataPackage {
	now := models.NowMilli()

	if localTS == 0 {
		localTS = now
	}

	pkg := &models.SyncDataPackage{
		Device:        e.device,
		SchemaVersion: models.SettingsSchemaVersion,
		CreatedAt:     now,
		Metadata: models.SyncMetadata{
			LastSyncTime:    now,
			LocalTimestamp:  localTS,
			RemoteTimestamp: now,
			SchemaVersion:   models.SettingsSchemaVersion,
			DeviceID:        e.device.ID,
		},
	}

	switch c {
	case models.CollectionBookmarks:
		pkg.Bookmarks = ds.Bookmarks
	case models.CollectionCategories:
		pkg.Categories = ds.Categories
	default:
		settings := ds.Settings
		pkg.Settings = &settings
	}

	pkg.Metadata.DataHash = HashPayload(c, pkg)

	return pkg
}

// recordLastSync persists the per-collection record that lets the next
// cycle short-circuit to a noop when nothing changed on either side.
func (e *Executor) recordLastSync(item *SyncItem, hash string, remoteTS int64) error {
	return e.meta.SetLastSync(item.Kind, models.SyncMetadata{
		LastSyncTime:    models.NowMilli(),
		LocalTimestamp:  item.LocalModifiedAt,
		RemoteTimestamp: remoteTS,
		DataHash:        hash,
		SchemaVersion:   models.SettingsSchemaVersion,
		DeviceID:        e.device.ID,
	})
}

func (e *Executor) encodePackage(pkg *models.SyncDataPackage) ([]byte, error) {
	data, err := json.MarshalIndent(pkg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding package: %w", err)
	}

	if e.cipher != nil {
		if data, err = e.cipher.Encrypt(data); err != nil {
			return nil, err
		}
	}

	return data, nil
}

// decodePackage decrypts and decodes a wire payload. Settings payloads
// from older clients are run through the schema migration chain, and
// their hash restamped, so everything downstream sees the current
// schema.
func (e *Executor) decodePackage(c models.Collection, data []byte) (*models.SyncDataPackage, error) {
	if e.cipher != nil {
		var err error
		if data, err = e.cipher.Decrypt(data); err != nil {
			return nil, err
		}
	}

	var wire struct {
		models.SyncDataPackage
		Settings json.RawMessage `json:"settings"`
	}

	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: decoding %s package: %v", syncerrors.ErrIntegrity, c, err)
	}

	pkg := wire.SyncDataPackage

	if c == models.CollectionSettings && len(wire.Settings) > 0 && string(wire.Settings) != "null" {
		migrated, err := models.MigrateSettings(wire.Settings)
		if err != nil {
			return nil, fmt.Errorf("%w: %s package: %v", syncerrors.ErrIntegrity, c, err)
		}

		// The payload's own schemaVersion is authoritative; legacy v0
		// blobs carry none at all, and the envelope metadata cannot be
		// trusted to match. Migration rewrites the payload, so the
		// embedded hash is restamped over the migrated form.
		version := gjson.GetBytes(wire.Settings, "schemaVersion").Int()

		pkg.Settings = &migrated

		if version < models.SettingsSchemaVersion {
			pkg.Metadata.DataHash = HashPayload(c, &pkg)
		}
	}

	return &pkg, nil
}
