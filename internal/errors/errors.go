package errors

import "errors"

// Transport errors.
var (
	ErrNetwork = errors.New("network request failed")
	ErrAuth    = errors.New("remote store rejected credentials")
)

// Data errors.
var (
	ErrIntegrity       = errors.New("payload hash mismatch")
	ErrCorruptMetadata = errors.New("corrupt sync metadata")
	ErrNotFound        = errors.New("resource not found")
)

// Scheduling errors.
var (
	ErrSyncInProgress = errors.New("sync already in progress")
)
