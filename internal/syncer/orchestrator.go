package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	syncerrors "github.com/marksync/marksync/internal/errors"
	"github.com/marksync/marksync/internal/models"
)

const (
	// historyCap bounds the in-memory cycle history.
	historyCap = 50

	// conflictCap bounds the conflict queue; when full, the oldest record
	// is evicted. An unattended device must not grow memory without bound.
	conflictCap = 100
)

// Orchestrator drives full sync cycles: it prepares the per-collection
// items, runs detection, hands transfers to the executor, queues
// conflicts, and keeps the cycle history. One cycle runs at a time; the
// scheduler enforces that.
type Orchestrator struct {
	remote   RemoteStore
	local    LocalStore
	meta     MetadataStore
	exec     *Executor
	resolver *Resolver
	device   models.DeviceInfo
	logger   *slog.Logger

	mu        sync.Mutex
	conflicts []ConflictRecord
	history   []SyncHistoryEntry
	observers []func(SyncProgress)
}

// NewOrchestrator wires an orchestrator from its collaborators.
func NewOrchestrator(
	remote RemoteStore,
	local LocalStore,
	meta MetadataStore,
	exec *Executor,
	device models.DeviceInfo,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		remote:   remote,
		local:    local,
		meta:     meta,
		exec:     exec,
		resolver: NewResolver(device),
		device:   device,
		logger:   logger,
	}
}

// Subscribe registers a progress observer. Observers are called
// synchronously from the cycle goroutine and must not block.
func (o *Orchestrator) Subscribe(fn func(SyncProgress)) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.observers = append(o.observers, fn)
}

// Conflicts returns a snapshot of the queued conflicts.
func (o *Orchestrator) Conflicts() []ConflictRecord {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]ConflictRecord, len(o.conflicts))
	copy(out, o.conflicts)

	return out
}

// History returns a snapshot of the recorded cycles, most recent last.
func (o *Orchestrator) History() []SyncHistoryEntry {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]SyncHistoryEntry, len(o.history))
	copy(out, o.history)

	return out
}

// RunCycle executes one full sync cycle. Cancellation via ctx is honored
// at item boundaries: the in-flight item finishes, the rest do not run.
// The returned result is also appended to the history.
func (o *Orchestrator) RunCycle(ctx context.Context) SyncResult {
	start := time.Now()

	o.notify(SyncProgress{Status: StatePreparing, StartedAt: start.UnixMilli()})

	if err := TouchDevice(o.meta, &o.device); err != nil {
		o.logger.Warn("refreshing device activity failed", slog.String("error", err.Error()))
	}

	if err := o.remote.EnsureDirectory(ctx); err != nil {
		return o.finish(start, 0, 0, err)
	}

	ds, err := o.local.LoadDataset()
	if err != nil {
		return o.finish(start, 0, 0, err)
	}

	o.notify(SyncProgress{Status: StateComparing, StartedAt: start.UnixMilli()})

	items, err := o.prepareItems(ctx)
	if err != nil {
		return o.finish(start, 0, 0, err)
	}

	var (
		completed    int
		conflictsNow int
		firstErr     error
	)

	for _, item := range items {
		if ctx.Err() != nil {
			firstErr = ctx.Err()

			break
		}

		o.notify(SyncProgress{
			Status:         StateTransferring,
			TotalItems:     len(items),
			CompletedItems: completed,
			CurrentItem:    string(item.Kind),
			StartedAt:      start.UnixMilli(),
		})

		conflicted, err := o.syncItem(ctx, item, ds)
		if err != nil {
			o.logger.Error("sync item failed",
				slog.String("collection", string(item.Kind)),
				slog.String("error", err.Error()),
			)

			if firstErr == nil {
				firstErr = err
			}

			// Transport failures affect every remaining item the same
			// way; data failures are scoped to this collection.
			if errors.Is(err, syncerrors.ErrNetwork) || errors.Is(err, syncerrors.ErrAuth) {
				break
			}
		}

		if conflicted {
			conflictsNow++
		}

		completed++
	}

	return o.finish(start, len(items), conflictsNow, firstErr)
}

// prepareItems builds the per-collection descriptors: local modification
// times from the store, remote ones fetched concurrently.
func (o *Orchestrator) prepareItems(ctx context.Context) ([]*SyncItem, error) {
	collections := models.Collections()
	items := make([]*SyncItem, len(collections))

	g, gctx := errgroup.WithContext(ctx)

	for i, c := range collections {
		localTS, err := o.local.CollectionModifiedTime(c)
		if err != nil {
			return nil, err
		}

		item := &SyncItem{
			ID:              string(c),
			Kind:            c,
			LocalModifiedAt: localTS,
			Status:          ItemPending,
		}
		items[i] = item

		g.Go(func() error {
			ts, ok, err := o.remote.LastModified(gctx, c.Resource())
			if err != nil {
				return err
			}

			item.RemoteExists = ok
			item.RemoteModifiedAt = ts

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return items, nil
}

// syncItem runs detection and transfer for one collection. The returned
// bool reports whether the item was queued as a conflict.
func (o *Orchestrator) syncItem(ctx context.Context, item *SyncItem, ds *models.Dataset) (bool, error) {
	lastSync, err := o.meta.LastSync(item.Kind)
	if err != nil {
		if !errors.Is(err, syncerrors.ErrCorruptMetadata) {
			item.Status = ItemFailed

			return false, err
		}

		// Repair: drop the unreadable record and fall through to a full
		// comparison, which regenerates it.
		o.logger.Warn("dropping corrupt last-sync record",
			slog.String("collection", string(item.Kind)),
			slog.String("error", err.Error()),
		)

		if err := o.meta.DeleteLastSync(item.Kind); err != nil {
			item.Status = ItemFailed

			return false, err
		}

		lastSync = nil
	}

	localPkg := o.buildLocalPackage(item, ds)

	// Unchanged on both sides since the last completed sync: the local
	// content hash matches and the remote file has not moved. This is
	// the cheap path that makes back-to-back cycles free.
	if lastSync != nil && localPkg != nil &&
		lastSync.DataHash == localPkg.Metadata.DataHash &&
		item.RemoteExists && item.RemoteModifiedAt == lastSync.RemoteTimestamp {
		item.Status = ItemNoop

		return false, nil
	}

	var (
		remotePkg     *models.SyncDataPackage
		remoteCorrupt bool
	)

	if item.RemoteExists {
		remotePkg, err = o.exec.FetchRemote(ctx, item.Kind)
		if err != nil {
			if !errors.Is(err, syncerrors.ErrIntegrity) {
				item.Status = ItemFailed

				return false, err
			}

			o.logger.Warn("remote payload undecodable, local copy wins",
				slog.String("collection", string(item.Kind)),
				slog.String("error", err.Error()),
			)

			remoteCorrupt = true
		}
	}

	decision := Detect(item.Kind, localPkg, remotePkg)
	if remoteCorrupt {
		decision = Decision{Action: ActionUseLocal, Reason: "remote payload undecodable"}
	}

	o.logger.Debug("detection decision",
		slog.String("collection", string(item.Kind)),
		slog.String("action", decision.Action.String()),
		slog.String("reason", decision.Reason),
	)

	switch decision.Action {
	case ActionNoop:
		item.Status = ItemNoop

		return false, nil

	case ActionUseLocal:
		item.Direction = DirectionUpload

		return false, o.exec.Run(ctx, item, ds, remotePkg)

	case ActionUseRemote:
		item.Direction = DirectionDownload

		return false, o.exec.Run(ctx, item, ds, remotePkg)

	default:
		item.Status = ItemConflict
		o.queueConflict(ConflictRecord{
			Item:       *item,
			Local:      localPkg,
			Remote:     remotePkg,
			Kind:       decision.Kind,
			DetectedAt: models.NowMilli(),
			Diff:       diffPreview(item.Kind, localPkg, remotePkg),
		})

		return true, nil
	}
}

// buildLocalPackage assembles the comparison-side package from local
// state. It carries the full dataset so detection can judge true
// dataset emptiness, while its hash covers only the item's collection.
// A fresh install (empty dataset, no recorded modification) has no local
// side at all.
func (o *Orchestrator) buildLocalPackage(item *SyncItem, ds *models.Dataset) *models.SyncDataPackage {
	if ds.Empty() && item.LocalModifiedAt == 0 {
		return nil
	}

	now := models.NowMilli()
	settings := ds.Settings

	pkg := &models.SyncDataPackage{
		Device:        o.device,
		SchemaVersion: models.SettingsSchemaVersion,
		CreatedAt:     now,
		Categories:    ds.Categories,
		Bookmarks:     ds.Bookmarks,
		Settings:      &settings,
		Metadata: models.SyncMetadata{
			LocalTimestamp: item.LocalModifiedAt,
			SchemaVersion:  models.SettingsSchemaVersion,
			DeviceID:       o.device.ID,
		},
	}
	pkg.Metadata.DataHash = HashPayload(item.Kind, pkg)

	return pkg
}

// queueConflict appends a record, evicting the oldest when full.
func (o *Orchestrator) queueConflict(rec ConflictRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.conflicts) >= conflictCap {
		o.conflicts = o.conflicts[1:]
	}

	o.conflicts = append(o.conflicts, rec)
}

// ResolveConflict applies a resolution to the queued conflict at index.
// The resolved payload becomes the new local truth with a fresh
// modification time, so the next cycle propagates it to the remote
// store. Skip drops the record; the divergence will be re-detected.
func (o *Orchestrator) ResolveConflict(index int, resolution Resolution) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if index < 0 || index >= len(o.conflicts) {
		return fmt.Errorf("no conflict at index %d", index)
	}

	rec := o.conflicts[index]

	if resolution != ResolutionSkip {
		var strategy Strategy

		switch resolution {
		case ResolutionLocal:
			strategy = StrategyUseLocal
		case ResolutionRemote:
			strategy = StrategyUseRemote
		case ResolutionMerge:
			strategy = StrategyMerge
		default:
			return fmt.Errorf("unknown resolution %q", resolution)
		}

		resolved, err := o.resolver.Resolve(rec, strategy)
		if err != nil {
			return err
		}

		if err := o.applyResolved(rec.Item.Kind, resolved); err != nil {
			return err
		}
	}

	o.conflicts = append(o.conflicts[:index], o.conflicts[index+1:]...)

	o.logger.Info("conflict resolved",
		slog.String("collection", string(rec.Item.Kind)),
		slog.String("resolution", string(resolution)),
	)

	return nil
}

// applyResolved writes a resolved package's payload into the local store
// and stamps the collection as modified now.
func (o *Orchestrator) applyResolved(c models.Collection, pkg *models.SyncDataPackage) error {
	ds, err := o.local.LoadDataset()
	if err != nil {
		return err
	}

	switch c {
	case models.CollectionBookmarks:
		ds.Bookmarks = pkg.Bookmarks
	case models.CollectionCategories:
		ds.Categories = pkg.Categories
	default:
		if pkg.Settings != nil {
			ds.Settings = *pkg.Settings
		}
	}

	if err := o.local.SaveCollection(c, ds); err != nil {
		return err
	}

	return o.local.SetCollectionModifiedTime(c, pkg.Metadata.LocalTimestamp)
}

// finish assembles the cycle result, records it, and notifies observers
// that the engine is idle again.
func (o *Orchestrator) finish(start time.Time, itemCount, conflicts int, err error) SyncResult {
	result := SyncResult{Timestamp: models.NowMilli()}

	switch {
	case err != nil:
		result.Status = StatusError
		result.Message = err.Error()
	case conflicts > 0:
		result.Status = StatusConflict
		result.Message = fmt.Sprintf("%d collection(s) need manual resolution", conflicts)
	default:
		result.Status = StatusSuccess
	}

	entry := SyncHistoryEntry{
		ID:            fmt.Sprintf("%d-%s", start.UnixMilli(), o.device.ID[:min(8, len(o.device.ID))]),
		Timestamp:     result.Timestamp,
		Status:        result.Status,
		ItemCount:     itemCount,
		DurationMs:    time.Since(start).Milliseconds(),
		ConflictCount: conflicts,
		Error:         result.Message,
	}

	if result.Status != StatusError {
		entry.Error = ""
	}

	o.mu.Lock()
	if len(o.history) >= historyCap {
		o.history = o.history[1:]
	}
	o.history = append(o.history, entry)
	o.mu.Unlock()

	o.notify(SyncProgress{
		Status:    StateIdle,
		StartedAt: start.UnixMilli(),
		Error:     entry.Error,
	})

	o.logger.Info("sync cycle finished",
		slog.String("status", string(result.Status)),
		slog.Int64("durationMs", entry.DurationMs),
		slog.Int("conflicts", conflicts),
	)

	return result
}

func (o *Orchestrator) notify(p SyncProgress) {
	o.mu.Lock()
	observers := make([]func(SyncProgress), len(o.observers))
	copy(observers, o.observers)
	o.mu.Unlock()

	for _, fn := range observers {
		fn(p)
	}
}
