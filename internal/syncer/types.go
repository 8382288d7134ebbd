// Package syncer implements the data synchronization engine: change
// detection, conflict resolution, per-collection transfer, cycle
// orchestration, and scheduling against an abstract remote file store.
package syncer

import (
	"context"

	"github.com/marksync/marksync/internal/models"
)

// RemoteStore is the abstract file-store capability the engine syncs
// against. Implemented by the WebDAV transport; the engine never sees
// HTTP. Timestamps are Unix milliseconds.
type RemoteStore interface {
	// Exists reports whether the named resource exists.
	Exists(ctx context.Context, name string) (bool, error)

	// LastModified returns the resource's modification time. ok is false
	// when the resource is absent; a zero timestamp with ok true means
	// the server did not report one.
	LastModified(ctx context.Context, name string) (ts int64, ok bool, err error)

	// ReadFile downloads the named resource.
	ReadFile(ctx context.Context, name string) ([]byte, error)

	// WriteFile uploads data, creating or replacing the resource.
	WriteFile(ctx context.Context, name string, data []byte) error

	// EnsureDirectory creates the configured base directory if absent.
	EnsureDirectory(ctx context.Context) error
}

// LocalStore is the abstract local persistence capability: the full
// dataset plus per-collection modification times.
type LocalStore interface {
	LoadDataset() (*models.Dataset, error)
	SaveDataset(ds *models.Dataset) error
	SaveCollection(c models.Collection, ds *models.Dataset) error
	CollectionModifiedTime(c models.Collection) (int64, error)
	SetCollectionModifiedTime(c models.Collection, ts int64) error
}

// MetadataStore persists the device identity and the last full-sync
// record per collection.
type MetadataStore interface {
	Device() (*models.DeviceInfo, error)
	SetDevice(d models.DeviceInfo) error
	LastSync(c models.Collection) (*models.SyncMetadata, error)
	SetLastSync(c models.Collection, m models.SyncMetadata) error
	DeleteLastSync(c models.Collection) error
}

// Direction is the transfer direction for one sync item.
type Direction int

const (
	// DirectionBidirectional lets the executor derive the direction from
	// the comparative modification times.
	DirectionBidirectional Direction = iota
	DirectionUpload
	DirectionDownload
)

func (d Direction) String() string {
	switch d {
	case DirectionUpload:
		return "upload"
	case DirectionDownload:
		return "download"
	default:
		return "bidirectional"
	}
}

// ItemStatus is the per-item outcome within one cycle.
type ItemStatus string

const (
	ItemPending  ItemStatus = "pending"
	ItemNoop     ItemStatus = "noop"
	ItemSynced   ItemStatus = "synced"
	ItemConflict ItemStatus = "conflict"
	ItemFailed   ItemStatus = "failed"
)

// SyncItem is the ephemeral per-cycle descriptor for one collection.
// Created at the start of a cycle, discarded at the end, never persisted.
type SyncItem struct {
	ID               string
	Kind             models.Collection
	LocalModifiedAt  int64
	RemoteModifiedAt int64
	RemoteExists     bool
	Status           ItemStatus
	Direction        Direction
}

// SyncStatus is the terminal outcome of a full cycle.
type SyncStatus string

const (
	StatusSuccess  SyncStatus = "success"
	StatusConflict SyncStatus = "conflict"
	StatusError    SyncStatus = "error"
)

// CycleState is the orchestrator's observable state.
type CycleState string

const (
	StateIdle         CycleState = "idle"
	StatePreparing    CycleState = "preparing"
	StateComparing    CycleState = "comparing"
	StateTransferring CycleState = "transferring"
)

// SyncProgress is delivered to registered observers as a cycle advances.
type SyncProgress struct {
	Status         CycleState `json:"status"`
	TotalItems     int        `json:"totalItems"`
	CompletedItems int        `json:"completedItems"`
	CurrentItem    string     `json:"currentItemName,omitempty"`
	StartedAt      int64      `json:"startedAt"`
	Error          string     `json:"error,omitempty"`
}

// SyncResult is the final outcome of one cycle.
type SyncResult struct {
	Status    SyncStatus `json:"status"`
	Message   string     `json:"message,omitempty"`
	Timestamp int64      `json:"timestamp"`
}

// SyncHistoryEntry records one completed cycle. The orchestrator keeps
// the most recent historyCap entries in memory.
type SyncHistoryEntry struct {
	ID            string     `json:"id"`
	Timestamp     int64      `json:"timestamp"`
	Status        SyncStatus `json:"status"`
	ItemCount     int        `json:"itemCount"`
	DurationMs    int64      `json:"durationMs"`
	ConflictCount int        `json:"conflictCount"`
	Error         string     `json:"error,omitempty"`
}

// ConflictKind classifies why a divergence could not be resolved
// automatically.
type ConflictKind string

const (
	// ConflictHashMismatch means both payloads failed their own integrity
	// verification.
	ConflictHashMismatch ConflictKind = "hash_mismatch"

	// ConflictData means both sides carry different content at the same
	// instant and cannot be ordered by timestamp.
	ConflictData ConflictKind = "data_conflict"
)

// ConflictRecord is a queued divergence awaiting a caller decision.
// Created by detection, consumed when a resolution is supplied.
type ConflictRecord struct {
	Item       SyncItem
	Local      *models.SyncDataPackage
	Remote     *models.SyncDataPackage
	Kind       ConflictKind
	DetectedAt int64

	// Diff is a human-readable rendering of the divergence for manual
	// review.
	Diff string
}

// Resolution is a caller's answer to a queued conflict.
type Resolution string

const (
	ResolutionLocal  Resolution = "local"
	ResolutionRemote Resolution = "remote"
	ResolutionMerge  Resolution = "merge"
	ResolutionSkip   Resolution = "skip"
)
