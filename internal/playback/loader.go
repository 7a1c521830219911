// Package playback resolves stored recordings for later serving: a
// store-local pseudo-URL maps to the rewritten manifest text, and a
// (representation id, sequence number) pair maps to segment bytes. The key
// derivation mirrors the rewritten segment template, so no template
// re-expansion is needed at playback time.
package playback

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/store"
)

// Loader reads recorded presentations back out of the segment store.
type Loader struct {
	store *store.Store
}

// NewLoader creates a Loader over the segment store.
func NewLoader(st *store.Store) *Loader {
	return &Loader{store: st}
}

// ParseStoreURL extracts the catalog id from a store-local pseudo-URL such
// as "offline://3".
func ParseStoreURL(storeURL string) (uint64, error) {
	raw, ok := strings.CutPrefix(storeURL, models.OfflineScheme)
	if !ok {
		return 0, fmt.Errorf("%w: %q", models.ErrInvalidStoreURL, storeURL)
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", models.ErrInvalidStoreURL, storeURL)
	}
	return id, nil
}

// LoadManifest resolves a store-local pseudo-URL to the stored manifest
// text. Returns models.ErrRecordingNotFound for an unknown id.
func (l *Loader) LoadManifest(ctx context.Context, storeURL string) (string, error) {
	id, err := ParseStoreURL(storeURL)
	if err != nil {
		return "", err
	}
	rec, err := l.store.GetCatalogEntry(ctx, id)
	if err != nil {
		return "", err
	}
	return rec.Manifest, nil
}

// LoadSegment resolves a (representation id, sequence number) pair to stored
// segment bytes for one recording. Sequence 0 addresses the initialization
// segment. Returns store.ErrSegmentNotFound if the segment was never stored.
func (l *Loader) LoadSegment(recordingID uint64, representationID string, sequence uint64) ([]byte, error) {
	return l.store.GetSegment(recordingID, models.SegmentKey(representationID, sequence))
}
