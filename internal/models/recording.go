// Package models defines the persistent and in-memory data types for recarr.
package models

import (
	"fmt"
	"time"
)

// OfflineScheme is the URL scheme prefix used to address recorded content in
// local storage. Rewritten manifests reference segments relative to this
// prefix, and each catalog entry's StoreURL is OfflineScheme plus its id.
// The playback loader depends on this exact format.
const OfflineScheme = "offline://"

// RecordingStatus represents the lifecycle state of a recording.
type RecordingStatus string

const (
	// RecordingStatusCreated indicates the catalog entry exists but no
	// sequencer has started downloading yet.
	RecordingStatusCreated RecordingStatus = "created"
	// RecordingStatusStarted indicates the recording session is downloading.
	RecordingStatusStarted RecordingStatus = "started"
	// RecordingStatusStopped indicates the session was paused or aborted;
	// already stored segments remain and the session may be resumed.
	RecordingStatusStopped RecordingStatus = "stopped"
	// RecordingStatusFinished indicates every track completed its timeline.
	RecordingStatusFinished RecordingStatus = "finished"
)

// IsValid returns true if the status is one of the known lifecycle states.
func (s RecordingStatus) IsValid() bool {
	switch s {
	case RecordingStatusCreated, RecordingStatusStarted, RecordingStatusStopped, RecordingStatusFinished:
		return true
	default:
		return false
	}
}

// Recording is one catalog entry describing a recorded presentation.
//
// IDs are numeric and strictly monotonic: a new entry is always assigned
// 1 + the highest id ever handed out, even if that entry has since been
// deleted. The segment partition name and the store URL are both derived
// from the id, so an entry can always locate its blobs without an extra
// indirection table.
type Recording struct {
	// ID is the monotonic catalog identifier. Assigned by the repository,
	// never by callers.
	ID uint64 `gorm:"primarykey;autoIncrement:false" json:"id"`

	// Status is the recording lifecycle state. Only the session
	// orchestrator mutates this field.
	Status RecordingStatus `gorm:"not null;size:20;index" json:"status"`

	// OriginalURL is the network URL the presentation was recorded from.
	OriginalURL string `gorm:"not null;size:2048" json:"original_url"`

	// StoreURL is the store-local pseudo-URL used to address the recording
	// during offline playback, e.g. "offline://3".
	StoreURL string `gorm:"not null;size:255" json:"store_url"`

	// Partition is the name of the segment store namespace holding this
	// recording's blobs.
	Partition string `gorm:"not null;size:255" json:"partition"`

	// Manifest is the rewritten manifest document, stored as text in the
	// catalog entry itself rather than in the segment partition.
	Manifest string `json:"manifest"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for Recording.
func (Recording) TableName() string {
	return "recordings"
}

// Validate performs basic validation on the recording.
func (r *Recording) Validate() error {
	if r.OriginalURL == "" {
		return ErrURLRequired
	}
	if !r.Status.IsValid() {
		return ErrInvalidStatus
	}
	return nil
}

// IsActive returns true while the recording may still receive segments.
func (r *Recording) IsActive() bool {
	return r.Status == RecordingStatusCreated || r.Status == RecordingStatusStarted
}

// CatalogState is a single-row table tracking the highest recording id ever
// assigned. Keeping it separate from the recordings table makes id assignment
// gap-tolerant: deleting entries never causes an id to be reused.
type CatalogState struct {
	ID             uint   `gorm:"primarykey"`
	LastAssignedID uint64 `gorm:"not null"`
}

// TableName returns the table name for CatalogState.
func (CatalogState) TableName() string {
	return "catalog_state"
}

// PartitionName derives the segment partition name for a catalog id.
func PartitionName(id uint64) string {
	return fmt.Sprintf("recording_%d", id)
}

// StoreURL derives the store-local pseudo-URL for a catalog id.
func StoreURL(id uint64) string {
	return fmt.Sprintf("%s%d", OfflineScheme, id)
}

// SegmentKey derives the storage key for one segment of a representation.
// Sequence 0 addresses the initialization segment. This rule is the wire
// contract shared with the rewritten manifest's segment template and the
// playback loader; do not change one without the others.
func SegmentKey(representationID string, sequence uint64) string {
	return fmt.Sprintf("%s_%d", representationID, sequence)
}
