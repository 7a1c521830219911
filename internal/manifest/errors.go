package manifest

import "errors"

// Manifest processing errors.
var (
	// ErrInvalidManifest indicates the document could not be parsed as an MPD.
	ErrInvalidManifest = errors.New("invalid manifest")

	// ErrEmptyAdaptationSet indicates an adaptation set contains no
	// representations at all.
	ErrEmptyAdaptationSet = errors.New("adaptation set has no representations")

	// ErrNoBandwidthFound indicates no representation in an adaptation set
	// carries a parseable bandwidth attribute, so no variant can be chosen.
	ErrNoBandwidthFound = errors.New("no representation bandwidth found")

	// ErrNoTracksSelected indicates the whole presentation yielded zero
	// recordable tracks after selection and filtering.
	ErrNoTracksSelected = errors.New("no recordable tracks in manifest")
)
