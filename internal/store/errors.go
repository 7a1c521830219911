package store

import "errors"

// Storage errors. Write and availability errors are fatal to a recording
// session; not-found errors are ordinary typed failures.
var (
	// ErrStorageUnavailable indicates the underlying storage engine could
	// not be opened or has entered an invalid state.
	ErrStorageUnavailable = errors.New("segment storage unavailable")

	// ErrStorageWrite indicates a segment write could not complete.
	ErrStorageWrite = errors.New("segment write failed")

	// ErrQuotaExceeded indicates the storage engine ran out of space. It
	// wraps ErrStorageWrite so quota failures match both sentinels.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrSegmentNotFound indicates no blob exists under the requested key.
	ErrSegmentNotFound = errors.New("segment not found")
)

// IsFatal reports whether a storage error must abort the recording session.
// A session whose own storage is unusable must never silently continue.
func IsFatal(err error) bool {
	return errors.Is(err, ErrStorageWrite) ||
		errors.Is(err, ErrQuotaExceeded) ||
		errors.Is(err, ErrStorageUnavailable)
}
