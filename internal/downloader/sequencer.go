package downloader

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/recarr/internal/manifest"
	"github.com/jmylchreest/recarr/internal/store"
)

// State is the sequencer lifecycle state.
type State string

const (
	StateIdle        State = "idle"
	StateInitialized State = "initialized"
	StateDownloading State = "downloading"
	StatePaused      State = "paused"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)

// ErrIllegalState indicates an operation was called in a state that does not
// permit it, such as starting before a timeline is set.
var ErrIllegalState = errors.New("operation not valid in current sequencer state")

// segmentState tracks one timeline entry's download outcome.
type segmentState int

const (
	segmentPending segmentState = iota
	segmentLoaded
	segmentFailed
)

// Config bounds the sequencer's retry behavior.
type Config struct {
	// RetryAttempts is the per-segment failure budget; a segment that fails
	// this many times is marked failed permanently and skipped.
	RetryAttempts int

	// RetryDelay separates retry passes over previously failed segments.
	RetryDelay time.Duration
}

// Callbacks are the sequencer's outward signals. All three may be nil. They
// are invoked without the sequencer lock held, from the fetch goroutine.
type Callbacks struct {
	// OnProgress fires once per newly stored segment.
	OnProgress func()

	// OnComplete fires exactly once when the track reaches StateCompleted.
	OnComplete func()

	// OnFatal fires when a storage write fails fatally; the track enters
	// StateFailed and issues no further fetches.
	OnFatal func(err error)
}

// Sequencer walks one track's segment timeline in order: initialization
// segment first, then each media segment, with exactly one fetch outstanding
// at a time. Failed segments are skipped and revisited in later passes until
// their retry budget runs out, so one stalled segment never blocks the rest
// of the track.
type Sequencer struct {
	transport Transport
	sink      SegmentSink
	cfg       Config
	callbacks Callbacks
	logger    *slog.Logger

	mu          sync.Mutex
	state       State
	track       *manifest.TrackTimeline
	segStates   []segmentState
	retries     []int
	cursor      int
	initDone    bool
	initRetries int
	inFlight    bool
	passTimer   *time.Timer
	loaded      int
}

// NewSequencer creates a sequencer in StateIdle.
func NewSequencer(transport Transport, sink SegmentSink, cfg Config, callbacks Callbacks, logger *slog.Logger) *Sequencer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &Sequencer{
		transport: transport,
		sink:      sink,
		cfg:       cfg,
		callbacks: callbacks,
		logger:    logger,
		state:     StateIdle,
	}
}

// Initialize sets the track's timeline and resets the cursor to its start.
func (s *Sequencer) Initialize(track *manifest.TrackTimeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return ErrIllegalState
	}
	s.track = track
	s.segStates = make([]segmentState, len(track.Segments))
	s.retries = make([]int, len(track.Segments))
	s.cursor = 0
	s.initDone = track.InitURL == ""
	s.state = StateInitialized
	return nil
}

// Start begins downloading. The initialization segment, when the track has
// one, is fetched exactly once before any media segment.
func (s *Sequencer) Start() error {
	s.mu.Lock()
	if s.track == nil || (s.state != StateInitialized && s.state != StatePaused) {
		s.mu.Unlock()
		return ErrIllegalState
	}
	s.state = StateDownloading
	s.stepLocked()
	completed := s.state == StateCompleted
	s.mu.Unlock()

	if completed && s.callbacks.OnComplete != nil {
		s.callbacks.OnComplete()
	}
	return nil
}

// Stop pauses the track. Idempotent. An in-flight fetch completes and its
// bytes are still stored; no further fetch is issued.
func (s *Sequencer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateDownloading {
		return
	}
	s.state = StatePaused
	if s.passTimer != nil {
		s.passTimer.Stop()
		s.passTimer = nil
	}
}

// Resume continues downloading from the cursor after a Stop.
func (s *Sequencer) Resume() error {
	return s.Start()
}

// State returns the current lifecycle state.
func (s *Sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Track returns the timeline this sequencer was initialized with.
func (s *Sequencer) Track() *manifest.TrackTimeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

// GetDownloadedSegments returns how many segments have been stored,
// including the initialization segment. Non-decreasing over time.
func (s *Sequencer) GetDownloadedSegments() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// GetAvailableSegmentsNumber returns the total segment count of the track,
// the denominator for progress ratios.
func (s *Sequencer) GetAvailableSegmentsNumber() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.track == nil {
		return 0
	}
	return s.track.TotalSegments()
}

// stepLocked issues the next fetch if one is due. Caller holds s.mu.
func (s *Sequencer) stepLocked() {
	if s.state != StateDownloading || s.inFlight {
		return
	}

	if !s.initDone {
		s.issueLocked(Request{
			URL:              s.track.InitURL,
			TrackType:        s.track.Type,
			RepresentationID: s.track.RepresentationID,
			Sequence:         0,
			Init:             true,
		}, -1)
		return
	}

	idx := s.nextPendingLocked(s.cursor)
	if idx < 0 {
		if s.anyRetryableLocked() {
			// Everything from the cursor on is settled, but earlier
			// segments still have retry budget. Wrap around after the
			// retry delay for another pass.
			s.cursor = 0
			s.schedulePassLocked()
			return
		}
		s.completeLocked()
		return
	}

	seg := s.track.Segments[idx]
	s.issueLocked(Request{
		URL:              seg.SourceURL,
		TrackType:        s.track.Type,
		RepresentationID: s.track.RepresentationID,
		Sequence:         seg.Sequence,
	}, idx)
}

// nextPendingLocked finds the first retryable pending segment at or after
// from, or -1.
func (s *Sequencer) nextPendingLocked(from int) int {
	for i := from; i < len(s.segStates); i++ {
		if s.segStates[i] == segmentPending && s.retries[i] < s.cfg.RetryAttempts {
			return i
		}
	}
	return -1
}

func (s *Sequencer) anyRetryableLocked() bool {
	return s.nextPendingLocked(0) >= 0
}

func (s *Sequencer) schedulePassLocked() {
	if s.passTimer != nil {
		return
	}
	s.passTimer = time.AfterFunc(s.cfg.RetryDelay, func() {
		s.mu.Lock()
		s.passTimer = nil
		s.stepLocked()
		s.mu.Unlock()
	})
}

func (s *Sequencer) issueLocked(req Request, idx int) {
	s.inFlight = true
	go s.fetch(req, idx)
}

// fetch runs outside the lock: one transport call, with one immediate
// follow-up against an alternate location when the failure names one.
func (s *Sequencer) fetch(req Request, idx int) {
	data, err := s.transport.Fetch(context.Background(), req)
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) && fe.RetryLocation != "" {
			retry := req
			retry.URL = fe.RetryLocation
			data, err = s.transport.Fetch(context.Background(), retry)
		}
	}
	s.onFetchDone(req, idx, data, err)
}

// onFetchDone applies one fetch outcome and re-enters the loop. A completion
// arriving after Stop still stores its bytes (they belong to a valid key)
// but issues nothing further.
func (s *Sequencer) onFetchDone(req Request, idx int, data []byte, err error) {
	var progressed bool
	var fatal error
	var completed bool

	s.mu.Lock()
	s.inFlight = false

	if err == nil {
		key := s.keyFor(idx)
		if perr := s.sink.PutSegment(key, data); perr != nil {
			if store.IsFatal(perr) {
				s.state = StateFailed
				fatal = perr
			} else {
				err = perr
			}
		} else {
			s.markLoadedLocked(idx)
			progressed = true
		}
	}

	delayed := false
	if fatal == nil && err != nil {
		delayed = s.recordFailureLocked(req, idx, err)
	}

	if fatal == nil && s.state == StateDownloading {
		if delayed {
			s.schedulePassLocked()
		} else {
			s.stepLocked()
		}
		completed = s.state == StateCompleted
	}
	s.mu.Unlock()

	if progressed && s.callbacks.OnProgress != nil {
		s.callbacks.OnProgress()
	}
	if completed && s.callbacks.OnComplete != nil {
		s.callbacks.OnComplete()
	}
	if fatal != nil && s.callbacks.OnFatal != nil {
		s.callbacks.OnFatal(fatal)
	}
}

func (s *Sequencer) keyFor(idx int) string {
	if idx < 0 {
		return s.track.InitKey
	}
	return s.track.Segments[idx].Key
}

func (s *Sequencer) markLoadedLocked(idx int) {
	if idx < 0 {
		s.initDone = true
	} else {
		if s.segStates[idx] == segmentLoaded {
			return
		}
		s.segStates[idx] = segmentLoaded
		if idx >= s.cursor {
			s.cursor = idx + 1
		}
	}
	s.loaded++
}

// recordFailureLocked applies one fetch failure. It returns true when the
// next attempt must wait for the retry delay instead of stepping immediately.
func (s *Sequencer) recordFailureLocked(req Request, idx int, err error) bool {
	if idx < 0 {
		s.initRetries++
		s.logger.Warn("initialization segment fetch failed",
			slog.String("representation_id", req.RepresentationID),
			slog.Int("attempts", s.initRetries),
			slog.String("error", err.Error()))
		if s.initRetries >= s.cfg.RetryAttempts {
			// Give up on the initialization segment so the rest of the
			// track can still be fetched; the track ends incomplete.
			s.initDone = true
			return false
		}
		return true
	}
	s.retries[idx]++
	if s.retries[idx] >= s.cfg.RetryAttempts {
		s.segStates[idx] = segmentFailed
		s.logger.Warn("segment failed permanently",
			slog.String("representation_id", req.RepresentationID),
			slog.Uint64("sequence", req.Sequence),
			slog.Int("attempts", s.retries[idx]))
	}
	// Move past the stalled segment; it is revisited on a later pass if
	// budget remains.
	if idx >= s.cursor {
		s.cursor = idx + 1
	}
	return false
}

func (s *Sequencer) completeLocked() {
	if s.state == StateCompleted {
		return
	}
	s.state = StateCompleted
	s.logger.Debug("track completed",
		slog.String("representation_id", s.track.RepresentationID),
		slog.Int("loaded", s.loaded),
		slog.Int("total", s.track.TotalSegments()))
}
