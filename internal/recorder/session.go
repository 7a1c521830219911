package recorder

import (
	"errors"
	"math"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/recarr/internal/downloader"
)

// session is the in-memory aggregate of one recording in progress: its
// catalog id plus every active track sequencer across all periods. Sessions
// are never persisted; a process restart leaves the catalog entry in
// "started" status and the session is lost.
type session struct {
	id uint64

	// token identifies this in-memory session in logs; catalog ids survive
	// restarts, session tokens do not.
	token string

	sequencers []*downloader.Sequencer
	completed  int
}

func newSession(id uint64) *session {
	return &session{id: id, token: ulid.Make().String()}
}

// done reports whether every sequencer has completed.
func (s *session) done() bool {
	return s.completed >= len(s.sequencers)
}

// progression returns the session's overall progress as an integer percent:
// total downloaded segments over total available segments, aggregated across
// all tracks so tracks with more segments weigh more.
func (s *session) progression() int {
	var loaded, total int
	for _, seq := range s.sequencers {
		loaded += seq.GetDownloadedSegments()
		total += seq.GetAvailableSegmentsNumber()
	}
	if total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(loaded) / float64(total)))
}

// stopAll pauses every sequencer. In-flight fetches complete; nothing new is
// issued.
func (s *session) stopAll() {
	for _, seq := range s.sequencers {
		seq.Stop()
	}
}

// resumeAll resumes every paused sequencer. A state-mismatch error means the
// track already completed or failed and is left alone.
func (s *session) resumeAll() {
	for _, seq := range s.sequencers {
		if err := seq.Resume(); errors.Is(err, downloader.ErrIllegalState) {
			continue
		}
	}
}
