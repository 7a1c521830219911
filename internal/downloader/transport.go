// Package downloader drives segment-by-segment fetch-and-store for one
// track of a recording session. Each sequencer keeps at most one fetch in
// flight and walks its timeline in order, so store writes within a track are
// sequential and ordered.
package downloader

import (
	"context"
	"fmt"

	"github.com/jmylchreest/recarr/internal/models"
)

// Request describes one segment (or initialization segment) fetch.
type Request struct {
	// URL is the network location to fetch.
	URL string

	// TrackType and RepresentationID identify the owning track.
	TrackType        models.TrackType
	RepresentationID string

	// Sequence is the 1-based segment position; 0 for the initialization
	// segment.
	Sequence uint64

	// Init marks the initialization segment fetch.
	Init bool
}

// Transport moves bytes for one request. Implementations own connection
// handling, redirects, and any transport-level retries; the sequencer only
// sees the final outcome.
type Transport interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

// FetchError is a failed fetch. RetryLocation, when set, names an alternate
// source the sequencer retries immediately as part of the same logical
// attempt.
type FetchError struct {
	Reason        error
	RetryLocation string
}

func (e *FetchError) Error() string {
	if e.RetryLocation != "" {
		return fmt.Sprintf("fetch failed (alternate available): %v", e.Reason)
	}
	return fmt.Sprintf("fetch failed: %v", e.Reason)
}

func (e *FetchError) Unwrap() error {
	return e.Reason
}

// SegmentSink receives fetched segment bytes. The sink is already bound to
// its recording's partition; the sequencer only supplies the storage key.
type SegmentSink interface {
	PutSegment(key string, data []byte) error
}
