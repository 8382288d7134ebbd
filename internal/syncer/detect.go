package syncer

import "github.com/marksync/marksync/internal/models"

// Action is what detection decided should happen for one collection.
type Action int

const (
	ActionNoop Action = iota
	ActionUseLocal
	ActionUseRemote
	ActionConflict
)

func (a Action) String() string {
	switch a {
	case ActionUseLocal:
		return "use_local"
	case ActionUseRemote:
		return "use_remote"
	case ActionConflict:
		return "conflict"
	default:
		return "noop"
	}
}

// Decision is the outcome of comparing one collection's two sides.
type Decision struct {
	Action Action

	// Kind is set when Action is ActionConflict.
	Kind ConflictKind

	// Reason is a short human-readable explanation for logs.
	Reason string
}

// Detect compares the local and remote packages for one collection and
// decides the direction. It is a pure function: no I/O, no clocks, no
// mutation, which is what makes the decision logic testable in isolation.
//
// The comparison runs in a fixed order. Absence is resolved first, then
// payload integrity, then the empty-dataset guard, then timestamps.
// Equal timestamps with differing content is the one case that cannot be
// decided automatically and surfaces as a conflict.
func Detect(c models.Collection, local, remote *models.SyncDataPackage) Decision {
	switch {
	case local == nil && remote == nil:
		return Decision{Action: ActionNoop, Reason: "nothing on either side"}
	case remote == nil:
		return Decision{Action: ActionUseLocal, Reason: "remote absent"}
	case local == nil:
		return Decision{Action: ActionUseRemote, Reason: "local absent"}
	}

	localOK := VerifyPayload(c, local)
	remoteOK := VerifyPayload(c, remote)

	switch {
	case !localOK && !remoteOK:
		return Decision{
			Action: ActionConflict,
			Kind:   ConflictHashMismatch,
			Reason: "both payloads fail integrity verification",
		}
	case !localOK:
		return Decision{Action: ActionUseRemote, Reason: "local payload fails integrity verification"}
	case !remoteOK:
		return Decision{Action: ActionUseLocal, Reason: "remote payload fails integrity verification"}
	}

	localTS := local.Metadata.LocalTimestamp
	remoteTS := remoteTimestamp(remote)

	// A freshly installed device has an empty dataset and a recent
	// modification time. Without this guard its emptiness would win the
	// timestamp comparison and erase the remote data on every device.
	// The guard is one-directional and judged on the local side only:
	// the local package always carries the full dataset, while a remote
	// envelope holds a single collection (a settings envelope has no
	// bookmarks at all), so remote emptiness says nothing about the
	// remote dataset.
	if local.Empty() && localTS > remoteTS {
		return Decision{Action: ActionUseRemote, Reason: "local dataset empty"}
	}

	switch {
	case localTS > remoteTS:
		return Decision{Action: ActionUseLocal, Reason: "local is newer"}
	case remoteTS > localTS:
		return Decision{Action: ActionUseRemote, Reason: "remote is newer"}
	}

	if local.Metadata.DataHash == remote.Metadata.DataHash {
		return Decision{Action: ActionNoop, Reason: "identical content"}
	}

	return Decision{
		Action: ActionConflict,
		Kind:   ConflictData,
		Reason: "same timestamp, different content",
	}
}

// remoteTimestamp returns the timestamp a remote package should be
// ordered by. Packages uploaded by this client stamp RemoteTimestamp at
// upload time; packages from clients that only track a local time fall
// back to that.
func remoteTimestamp(p *models.SyncDataPackage) int64 {
	if p.Metadata.RemoteTimestamp != 0 {
		return p.Metadata.RemoteTimestamp
	}

	return p.Metadata.LocalTimestamp
}
