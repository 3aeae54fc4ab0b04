// Package faults defines the error taxonomy shared by every service in the
// backend. Services wrap these sentinels with operation-specific context so
// callers can branch with errors.Is while the HTTP layer maps each sentinel
// to a status code.
package faults

import "errors"

var (
	// ErrValidation marks bad or missing caller input, including oversize uploads.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks an absent file, backup, tag, or blob.
	ErrNotFound = errors.New("not found")
	// ErrForbidden marks an authorization failure for an authenticated caller.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict marks a version race that per-file serialization should prevent.
	ErrConflict = errors.New("conflict")
	// ErrStoreUnavailable marks an I/O failure in the blob store or metadata store.
	ErrStoreUnavailable = errors.New("store unavailable")
)
