// Package recorder orchestrates recording sessions: it turns a manifest URL
// and a set of track selections into a catalog entry, a segment partition,
// and one download sequencer per selected track, and owns the record
// lifecycle from created through started to stopped or finished.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jmylchreest/recarr/internal/downloader"
	"github.com/jmylchreest/recarr/internal/manifest"
	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/store"
)

// Orchestration errors.
var (
	// ErrNoPlayableStreams indicates a period of the presentation yielded
	// zero usable tracks, which is fatal to the whole session.
	ErrNoPlayableStreams = errors.New("no playable streams in presentation")

	// ErrSessionActive indicates a recording is already in progress.
	ErrSessionActive = errors.New("a recording session is already active")

	// ErrNoActiveSession indicates there is no session to resume.
	ErrNoActiveSession = errors.New("no active recording session")
)

// ManifestSource supplies the raw manifest document for a presentation URL.
// Only the first fetched document is used; mid-recording manifest refresh is
// out of scope.
type ManifestSource interface {
	FetchManifest(ctx context.Context, url string) (string, error)
}

// Controller is the recording session orchestrator. At most one session is
// active at a time; catalog entries and stored segments from earlier
// sessions remain addressable through the store.
//
// The controller is the single writer of catalog status: sequencers report
// progress and failures to it, and it alone translates those into status
// transitions and outward events.
type Controller struct {
	store      *store.Store
	transcoder *manifest.Transcoder
	manifests  ManifestSource
	segments   downloader.Transport
	seqCfg     downloader.Config
	logger     *slog.Logger

	mu        sync.Mutex
	active    *session
	listeners []Listener
}

// NewController creates a Controller. The manifest source and segment
// transport are usually the same HTTP client.
func NewController(st *store.Store, manifests ManifestSource, segments downloader.Transport,
	seqCfg downloader.Config, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		store:      st,
		transcoder: manifest.NewTranscoder(logger),
		manifests:  manifests,
		segments:   segments,
		seqCfg:     seqCfg,
		logger:     logger,
	}
}

// AddListener registers an outward lifecycle listener.
func (c *Controller) AddListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Record begins a new recording session for the presentation at url. Quality
// is fixed per track type from selections; types without a selection record
// at the highest available bandwidth. On success the catalog entry is in
// "started" status, its partition exists, and every track sequencer is
// downloading. The returned id addresses the recording from then on.
func (c *Controller) Record(ctx context.Context, url string, selections *models.SelectionSet) (uint64, error) {
	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return 0, ErrSessionActive
	}
	c.mu.Unlock()

	doc, err := c.manifests.FetchManifest(ctx, url)
	if err != nil {
		return 0, fmt.Errorf("starting recording: %w", err)
	}

	result, err := c.transcoder.Transcode(doc, url, selections)
	if err != nil {
		return 0, fmt.Errorf("starting recording: %w", err)
	}
	for _, p := range result.Periods {
		if p.KeptTracks == 0 {
			return 0, fmt.Errorf("%w: period %q", ErrNoPlayableStreams, p.ID)
		}
	}
	if len(result.Tracks) == 0 {
		return 0, ErrNoPlayableStreams
	}

	rec := &models.Recording{
		Status:      models.RecordingStatusCreated,
		OriginalURL: url,
		Manifest:    result.Manifest,
	}
	id, err := c.store.AppendCatalogEntry(ctx, rec)
	if err != nil {
		return 0, fmt.Errorf("starting recording: %w", err)
	}

	if err := c.store.CreatePartition(id); err != nil {
		// Roll the catalog entry back so a failed start leaves no orphan.
		if derr := c.store.DeleteCatalogEntry(ctx, id); derr != nil {
			c.logger.Error("rolling back catalog entry failed",
				slog.Uint64("recording_id", id),
				slog.String("error", derr.Error()))
		}
		return 0, fmt.Errorf("starting recording: %w", err)
	}

	sess := c.buildSession(id, result.Tracks)

	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		if derr := c.store.DeleteCatalogEntry(ctx, id); derr != nil {
			c.logger.Error("rolling back catalog entry failed",
				slog.Uint64("recording_id", id),
				slog.String("error", derr.Error()))
		}
		return 0, ErrSessionActive
	}
	c.active = sess
	c.mu.Unlock()

	if err := c.setStatus(ctx, id, models.RecordingStatusStarted); err != nil {
		c.mu.Lock()
		c.active = nil
		c.mu.Unlock()
		return 0, fmt.Errorf("starting recording: %w", err)
	}

	for _, seq := range sess.sequencers {
		if err := seq.Start(); err != nil {
			// Start only fails on state mismatch, which cannot happen for
			// freshly initialized sequencers.
			c.logger.Error("sequencer start failed",
				slog.Uint64("recording_id", id),
				slog.String("error", err.Error()))
		}
	}

	c.logger.Info("recording started",
		slog.Uint64("recording_id", id),
		slog.String("session", sess.token),
		slog.Int("tracks", len(sess.sequencers)),
		slog.Int("excluded_tracks", len(result.Excluded)))
	c.emit(SessionEvent{RecordingID: id, Kind: EventStarted})
	return id, nil
}

// buildSession creates one sequencer per kept track, all writing through the
// same partition-bound store controller.
func (c *Controller) buildSession(id uint64, tracks []*manifest.TrackTimeline) *session {
	sink := newStoreController(c.store, id)
	sess := newSession(id)

	for _, track := range tracks {
		seq := downloader.NewSequencer(c.segments, sink, c.seqCfg, downloader.Callbacks{
			OnComplete: func() { go c.onTrackComplete(sess) },
			OnFatal:    func(err error) { go c.onStorageFatal(sess, err) },
		}, c.logger.With(
			slog.Uint64("recording_id", id),
			slog.String("representation_id", track.RepresentationID),
		))
		// Initialize cannot fail on a fresh sequencer.
		_ = seq.Initialize(track)
		sess.sequencers = append(sess.sequencers, seq)
	}
	return sess
}

// StopRecord pauses the active session and marks its catalog entry
// "stopped". A no-op when nothing is recording. The session stays in memory
// so ResumeRecord can continue it.
func (c *Controller) StopRecord(ctx context.Context) error {
	c.mu.Lock()
	sess := c.active
	c.mu.Unlock()
	if sess == nil {
		return nil
	}

	sess.stopAll()
	if err := c.setStatus(ctx, sess.id, models.RecordingStatusStopped); err != nil {
		return fmt.Errorf("stopping recording: %w", err)
	}
	c.logger.Info("recording stopped", slog.Uint64("recording_id", sess.id))
	c.emit(SessionEvent{RecordingID: sess.id, Kind: EventStopped})
	return nil
}

// ResumeRecord continues a stopped session from where each track left off.
// Previously loaded segments are never re-fetched.
func (c *Controller) ResumeRecord(ctx context.Context) error {
	c.mu.Lock()
	sess := c.active
	c.mu.Unlock()
	if sess == nil {
		return ErrNoActiveSession
	}

	rec, err := c.store.GetCatalogEntry(ctx, sess.id)
	if err != nil {
		return fmt.Errorf("resuming recording: %w", err)
	}
	if rec.Status != models.RecordingStatusStopped {
		return fmt.Errorf("resuming recording %d: status is %q, not %q",
			sess.id, rec.Status, models.RecordingStatusStopped)
	}

	if err := c.setStatus(ctx, sess.id, models.RecordingStatusStarted); err != nil {
		return fmt.Errorf("resuming recording: %w", err)
	}
	sess.resumeAll()
	c.logger.Info("recording resumed", slog.Uint64("recording_id", sess.id))
	c.emit(SessionEvent{RecordingID: sess.id, Kind: EventResumed})
	return nil
}

// DeleteRecord removes a recording: catalog entry and segment partition. If
// the id is the active session it is stopped and torn down first. Returns
// models.ErrRecordingNotFound for an unknown id.
func (c *Controller) DeleteRecord(ctx context.Context, id uint64) error {
	c.mu.Lock()
	sess := c.active
	if sess != nil && sess.id == id {
		c.active = nil
	} else {
		sess = nil
	}
	c.mu.Unlock()

	if sess != nil {
		sess.stopAll()
	}
	return c.store.DeleteCatalogEntry(ctx, id)
}

// GetRecordProgression returns the active session's progress as an integer
// percent, aggregated across all tracks of all periods. Returns 0 when no
// session is active.
func (c *Controller) GetRecordProgression() int {
	c.mu.Lock()
	sess := c.active
	c.mu.Unlock()
	if sess == nil {
		return 0
	}
	return sess.progression()
}

// GetAllRecords returns every catalog entry in insertion order.
func (c *Controller) GetAllRecords(ctx context.Context) ([]*models.Recording, error) {
	return c.store.ListCatalogEntries(ctx)
}

// ActiveRecordingID returns the id of the recording in progress, or 0.
func (c *Controller) ActiveRecordingID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return 0
	}
	return c.active.id
}

// onTrackComplete counts a finished track and, when every track of the
// session is done, finalizes it: catalog status "finished", in-memory
// session torn down, catalog entry and blobs left intact.
func (c *Controller) onTrackComplete(sess *session) {
	c.mu.Lock()
	if c.active != sess {
		c.mu.Unlock()
		return
	}
	sess.completed++
	if !sess.done() {
		c.mu.Unlock()
		return
	}
	c.active = nil
	c.mu.Unlock()

	if err := c.setStatus(context.Background(), sess.id, models.RecordingStatusFinished); err != nil {
		c.logger.Error("finalizing recording failed",
			slog.Uint64("recording_id", sess.id),
			slog.String("error", err.Error()))
		return
	}
	c.logger.Info("recording finished", slog.Uint64("recording_id", sess.id))
	c.emit(SessionEvent{RecordingID: sess.id, Kind: EventFinished})
}

// onStorageFatal stops the whole session after any sequencer hits a fatal
// storage error. The catalog entry is left "stopped", never "finished":
// recording must not silently continue once its own storage is unusable.
func (c *Controller) onStorageFatal(sess *session, cause error) {
	c.mu.Lock()
	if c.active != sess {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.logger.Error("storage failure, stopping recording",
		slog.Uint64("recording_id", sess.id),
		slog.String("error", cause.Error()))

	sess.stopAll()
	if err := c.setStatus(context.Background(), sess.id, models.RecordingStatusStopped); err != nil {
		c.logger.Error("marking recording stopped failed",
			slog.Uint64("recording_id", sess.id),
			slog.String("error", err.Error()))
	}
	c.emit(SessionEvent{RecordingID: sess.id, Kind: EventStopped, Err: cause})
}

// setStatus writes one catalog status transition.
func (c *Controller) setStatus(ctx context.Context, id uint64, status models.RecordingStatus) error {
	return c.store.UpdateCatalogEntry(ctx, id, func(rec *models.Recording) error {
		rec.Status = status
		return nil
	})
}

// emit delivers an event to every listener outside the controller lock.
func (c *Controller) emit(ev SessionEvent) {
	c.mu.Lock()
	listeners := make([]Listener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, l := range listeners {
		l(ev)
	}
}
