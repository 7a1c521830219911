package models

import "errors"

// Common domain errors for recordings and track selection.
var (
	// ErrURLRequired indicates a recording is missing its source URL.
	ErrURLRequired = errors.New("original url is required")

	// ErrInvalidStatus indicates an unknown recording status value.
	ErrInvalidStatus = errors.New("invalid recording status")

	// ErrRecordingNotFound indicates no catalog entry exists for the id.
	ErrRecordingNotFound = errors.New("recording not found")

	// ErrDuplicateSelection indicates a track type already has a selection.
	ErrDuplicateSelection = errors.New("duplicate track selection")

	// ErrUnknownTrackType indicates a selection used a type outside the enum.
	ErrUnknownTrackType = errors.New("unknown track type")

	// ErrInvalidStoreURL indicates a pseudo-URL that does not address a
	// stored recording.
	ErrInvalidStoreURL = errors.New("invalid store url")
)
