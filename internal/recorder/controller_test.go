package recorder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/recarr/internal/downloader"
	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/repository"
	"github.com/jmylchreest/recarr/internal/store"
)

const manifestURL = "http://origin/show/manifest.mpd"

// twoPeriodMPD builds a presentation with two periods, one video track each,
// segments of the given count per period at one second each.
func twoPeriodMPD(segments int) string {
	return fmt.Sprintf(`<?xml version="1.0"?>
<MPD type="static" mediaPresentationDuration="PT%dS">
  <Period id="p1" duration="PT%dS">
    <AdaptationSet contentType="video" mimeType="video/mp4">
      <SegmentTemplate media="$RepresentationID$/$Number$.m4s" duration="1" timescale="1"/>
      <Representation id="v1" bandwidth="1000"/>
    </AdaptationSet>
  </Period>
  <Period id="p2" duration="PT%dS">
    <AdaptationSet contentType="video" mimeType="video/mp4">
      <SegmentTemplate media="$RepresentationID$/$Number$.m4s" duration="1" timescale="1"/>
      <Representation id="v2" bandwidth="1000"/>
    </AdaptationSet>
  </Period>
</MPD>`, 2*segments, segments, segments)
}

func segURL(rep string, n int) string {
	return fmt.Sprintf("http://origin/show/%s/%d.m4s", rep, n)
}

// fakeManifests serves one canned manifest document.
type fakeManifests struct {
	doc string
	err error
}

func (f *fakeManifests) FetchManifest(context.Context, string) (string, error) {
	return f.doc, f.err
}

// gatedTransport serves canned bytes, optionally holding specific URLs until
// their gate is released.
type gatedTransport struct {
	mu     sync.Mutex
	gates  map[string]chan struct{}
	counts map[string]int
}

func newGatedTransport() *gatedTransport {
	return &gatedTransport{
		gates:  make(map[string]chan struct{}),
		counts: make(map[string]int),
	}
}

func (g *gatedTransport) gate(url string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gates[url] = make(chan struct{})
}

func (g *gatedTransport) release(url string) {
	g.mu.Lock()
	gate := g.gates[url]
	delete(g.gates, url)
	g.mu.Unlock()
	if gate != nil {
		close(gate)
	}
}

func (g *gatedTransport) releaseAll() {
	g.mu.Lock()
	gates := g.gates
	g.gates = make(map[string]chan struct{})
	g.mu.Unlock()
	for _, gate := range gates {
		close(gate)
	}
}

func (g *gatedTransport) Fetch(_ context.Context, req downloader.Request) ([]byte, error) {
	g.mu.Lock()
	g.counts[req.URL]++
	gate := g.gates[req.URL]
	g.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return []byte("bytes:" + req.URL), nil
}

// fakeBlobs is an in-memory blob engine with write-failure injection.
type fakeBlobs struct {
	mu        sync.Mutex
	data      map[string][]byte
	failAfter int // inject a quota error once this many writes succeeded; -1 disables
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{data: make(map[string][]byte), failAfter: -1}
}

func (f *fakeBlobs) CreatePartition(string) error { return nil }

func (f *fakeBlobs) Put(partition, key string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAfter >= 0 && len(f.data) >= f.failAfter {
		return fmt.Errorf("%w: partition %s", store.ErrQuotaExceeded, partition)
	}
	f.data[partition+"/"+key] = data
	return nil
}

func (f *fakeBlobs) Get(partition, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.data[partition+"/"+key]
	if !ok {
		return nil, store.ErrSegmentNotFound
	}
	return data, nil
}

func (f *fakeBlobs) DropPartition(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key := range f.data {
		if strings.HasPrefix(key, name+"/") {
			delete(f.data, key)
		}
	}
	return nil
}

func (f *fakeBlobs) CountPartition(name string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for key := range f.data {
		if strings.HasPrefix(key, name+"/") {
			count++
		}
	}
	return count, nil
}

type fixture struct {
	controller *Controller
	store      *store.Store
	transport  *gatedTransport
	blobs      *fakeBlobs
	events     chan SessionEvent
}

func setup(t *testing.T, doc string) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(db))

	blobs := newFakeBlobs()
	st := store.New(repository.NewRecordingRepository(db), blobs, nil)

	transport := newGatedTransport()
	ctrl := NewController(st, &fakeManifests{doc: doc}, transport, downloader.Config{
		RetryAttempts: 2,
		RetryDelay:    5 * time.Millisecond,
	}, nil)

	events := make(chan SessionEvent, 16)
	ctrl.AddListener(func(ev SessionEvent) { events <- ev })

	return &fixture{controller: ctrl, store: st, transport: transport, blobs: blobs, events: events}
}

func (f *fixture) waitEvent(t *testing.T, kind EventKind) SessionEvent {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-f.events:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("event %s never arrived", kind)
		}
	}
}

func (f *fixture) status(t *testing.T, id uint64) models.RecordingStatus {
	t.Helper()
	rec, err := f.store.GetCatalogEntry(context.Background(), id)
	require.NoError(t, err)
	return rec.Status
}

func TestRecordEndToEnd(t *testing.T) {
	f := setup(t, twoPeriodMPD(5))
	ctx := context.Background()

	id, err := f.controller.Record(ctx, manifestURL, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
	f.waitEvent(t, EventStarted)
	f.waitEvent(t, EventFinished)

	assert.Equal(t, models.RecordingStatusFinished, f.status(t, id))
	assert.Zero(t, f.controller.ActiveRecordingID(), "session state torn down after finish")

	count, err := f.store.CountSegments(id)
	require.NoError(t, err)
	assert.Equal(t, 10, count, "5 segments per period-track")

	rec, err := f.store.GetCatalogEntry(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "offline://1", rec.StoreURL)
	assert.Contains(t, rec.Manifest, "$RepresentationID$_$Number$.m4s")

	data, err := f.store.GetSegment(id, "v2_5")
	require.NoError(t, err)
	assert.Equal(t, []byte("bytes:"+segURL("v2", 5)), data)

	recs, err := f.controller.GetAllRecords(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
}

func TestProgressionAggregatesAcrossTracks(t *testing.T) {
	f := setup(t, twoPeriodMPD(10))

	// Hold track one at 3 downloaded and track two at 7: the aggregate must
	// weigh by segments, not average per track.
	f.transport.gate(segURL("v1", 4))
	f.transport.gate(segURL("v2", 8))

	id, err := f.controller.Record(context.Background(), manifestURL, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return f.controller.GetRecordProgression() == 50
	}, 3*time.Second, 5*time.Millisecond, "progression should settle at (3+7)/(10+10)")

	f.transport.releaseAll()
	f.waitEvent(t, EventFinished)
	assert.Equal(t, models.RecordingStatusFinished, f.status(t, id))
}

func TestStopAndResume(t *testing.T) {
	f := setup(t, twoPeriodMPD(5))
	ctx := context.Background()

	f.transport.gate(segURL("v1", 2))
	f.transport.gate(segURL("v2", 2))

	id, err := f.controller.Record(ctx, manifestURL, nil)
	require.NoError(t, err)
	f.waitEvent(t, EventStarted)

	// A second session cannot start while one is active.
	_, err = f.controller.Record(ctx, manifestURL, nil)
	assert.ErrorIs(t, err, ErrSessionActive)

	require.NoError(t, f.controller.StopRecord(ctx))
	f.waitEvent(t, EventStopped)
	assert.Equal(t, models.RecordingStatusStopped, f.status(t, id))

	// Stopping again is a no-op on sequencers and leaves status stopped.
	require.NoError(t, f.controller.StopRecord(ctx))

	require.NoError(t, f.controller.ResumeRecord(ctx))
	f.waitEvent(t, EventResumed)
	assert.Equal(t, models.RecordingStatusStarted, f.status(t, id))

	f.transport.releaseAll()
	f.waitEvent(t, EventFinished)
	assert.Equal(t, models.RecordingStatusFinished, f.status(t, id))

	// Nothing was fetched twice across the stop/resume cycle.
	f.transport.mu.Lock()
	defer f.transport.mu.Unlock()
	for url, n := range f.transport.counts {
		assert.Equal(t, 1, n, "url %s fetched %d times", url, n)
	}
}

func TestResumeRequiresStoppedStatus(t *testing.T) {
	f := setup(t, twoPeriodMPD(3))

	assert.ErrorIs(t, f.controller.ResumeRecord(context.Background()), ErrNoActiveSession)

	f.transport.gate(segURL("v1", 1))
	_, err := f.controller.Record(context.Background(), manifestURL, nil)
	require.NoError(t, err)

	err = f.controller.ResumeRecord(context.Background())
	assert.Error(t, err, "resume is only valid while stopped")
	f.transport.releaseAll()
	f.waitEvent(t, EventFinished)
}

func TestStorageFatalAutoStops(t *testing.T) {
	f := setup(t, twoPeriodMPD(5))
	f.blobs.failAfter = 3

	id, err := f.controller.Record(context.Background(), manifestURL, nil)
	require.NoError(t, err)

	ev := f.waitEvent(t, EventStopped)
	assert.ErrorIs(t, ev.Err, store.ErrQuotaExceeded)

	require.Eventually(t, func() bool {
		return f.status(t, id) == models.RecordingStatusStopped
	}, 3*time.Second, 5*time.Millisecond)
	assert.NotEqual(t, models.RecordingStatusFinished, f.status(t, id))
}

func TestDeleteActiveRecordingStopsItFirst(t *testing.T) {
	f := setup(t, twoPeriodMPD(5))
	ctx := context.Background()

	f.transport.gate(segURL("v1", 2))
	f.transport.gate(segURL("v2", 2))
	id, err := f.controller.Record(ctx, manifestURL, nil)
	require.NoError(t, err)
	f.waitEvent(t, EventStarted)

	require.NoError(t, f.controller.DeleteRecord(ctx, id))
	assert.Zero(t, f.controller.ActiveRecordingID())

	_, err = f.store.GetCatalogEntry(ctx, id)
	assert.ErrorIs(t, err, models.ErrRecordingNotFound)

	err = f.controller.DeleteRecord(ctx, id)
	assert.ErrorIs(t, err, models.ErrRecordingNotFound)
	f.transport.releaseAll()
}

func TestRecordFailsWithoutPlayableStreams(t *testing.T) {
	doc := `<?xml version="1.0"?>
<MPD type="static" mediaPresentationDuration="PT10S">
  <Period id="p1">
    <AdaptationSet contentType="video" mimeType="video/mp4"/>
  </Period>
</MPD>`
	f := setup(t, doc)

	_, err := f.controller.Record(context.Background(), manifestURL, nil)
	assert.ErrorIs(t, err, ErrNoPlayableStreams)

	recs, err := f.controller.GetAllRecords(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recs, "a failed start must not leave a catalog entry")
}

func TestRecordPropagatesManifestFetchError(t *testing.T) {
	f := setup(t, "")
	fetchErr := errors.New("origin unreachable")
	f.controller.manifests = &fakeManifests{err: fetchErr}

	_, err := f.controller.Record(context.Background(), manifestURL, nil)
	assert.ErrorIs(t, err, fetchErr)
}
