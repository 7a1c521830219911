package recorder

import (
	"github.com/jmylchreest/recarr/internal/downloader"
	"github.com/jmylchreest/recarr/internal/store"
)

// storeController binds the segment store to one recording's partition so
// sequencers can write by key alone.
type storeController struct {
	store       *store.Store
	recordingID uint64
}

func newStoreController(st *store.Store, recordingID uint64) *storeController {
	return &storeController{store: st, recordingID: recordingID}
}

// PutSegment writes segment bytes into the recording's partition. Writes
// arriving after a logical stop are still persisted; the bytes belong to a
// valid segment key either way.
func (sc *storeController) PutSegment(key string, data []byte) error {
	return sc.store.PutSegment(sc.recordingID, key, data)
}

var _ downloader.SegmentSink = (*storeController)(nil)
