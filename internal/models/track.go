package models

import "fmt"

// TrackType is the closed enumeration of media track kinds a recording can
// carry. Matching on it exhaustively keeps track handling a compile-time
// checked change rather than string comparisons sprinkled through the code.
type TrackType string

const (
	// TrackTypeVideo is a video track.
	TrackTypeVideo TrackType = "video"
	// TrackTypeAudio is an audio track.
	TrackTypeAudio TrackType = "audio"
	// TrackTypeText is a plain subtitle/caption track.
	TrackTypeText TrackType = "text"
	// TrackTypeFragmentedText is a segmented subtitle track.
	TrackTypeFragmentedText TrackType = "fragmentedText"
	// TrackTypeEmbeddedText is a caption track carried inside another track.
	TrackTypeEmbeddedText TrackType = "embeddedText"
	// TrackTypeMuxed is a combined audio+video track.
	TrackTypeMuxed TrackType = "muxed"
	// TrackTypeImage is a thumbnail/image track.
	TrackTypeImage TrackType = "image"
)

// TrackTypes lists every track type in a stable order.
func TrackTypes() []TrackType {
	return []TrackType{
		TrackTypeVideo,
		TrackTypeAudio,
		TrackTypeText,
		TrackTypeFragmentedText,
		TrackTypeEmbeddedText,
		TrackTypeMuxed,
		TrackTypeImage,
	}
}

// IsValid returns true if the track type is a known member of the enum.
func (t TrackType) IsValid() bool {
	switch t {
	case TrackTypeVideo, TrackTypeAudio, TrackTypeText, TrackTypeFragmentedText,
		TrackTypeEmbeddedText, TrackTypeMuxed, TrackTypeImage:
		return true
	default:
		return false
	}
}

// TrackSelection pins one track type to a chosen bitrate before recording
// starts. Quality is fixed once per track for the whole recording; there is
// no adaptive switching while downloading.
type TrackSelection struct {
	// Type is the track kind this selection applies to.
	Type TrackType

	// Bitrate is the bandwidth attribute value of the representation to
	// keep. Zero means "highest available".
	Bitrate int
}

// SelectionSet holds at most one selection per track type.
type SelectionSet struct {
	selections map[TrackType]TrackSelection
}

// NewSelectionSet creates an empty selection set.
func NewSelectionSet() *SelectionSet {
	return &SelectionSet{selections: make(map[TrackType]TrackSelection)}
}

// Add registers a selection. It returns ErrDuplicateSelection if the type
// already has one, and an error if the track type is unknown.
func (s *SelectionSet) Add(sel TrackSelection) error {
	if !sel.Type.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownTrackType, sel.Type)
	}
	if _, ok := s.selections[sel.Type]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSelection, sel.Type)
	}
	s.selections[sel.Type] = sel
	return nil
}

// Bitrate returns the chosen bitrate for a track type and whether an explicit
// selection exists. Absence means the type defaults to highest quality.
func (s *SelectionSet) Bitrate(t TrackType) (int, bool) {
	if s == nil {
		return 0, false
	}
	sel, ok := s.selections[t]
	return sel.Bitrate, ok
}

// Len returns the number of explicit selections.
func (s *SelectionSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.selections)
}
