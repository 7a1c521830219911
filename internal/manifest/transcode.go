package manifest

import (
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/jmylchreest/recarr/internal/models"
)

// Transcoder rewrites a presentation manifest for offline storage: it strips
// unselected quality variants, rewrites every location reference into a
// store-key form, and expands the download timeline for each kept track.
type Transcoder struct {
	logger *slog.Logger
}

// NewTranscoder creates a Transcoder.
func NewTranscoder(logger *slog.Logger) *Transcoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transcoder{logger: logger}
}

// ExcludedTrack records an adaptation set that could not be kept, with the
// structural error that disqualified it. Exclusions are per-track, never
// fatal to the whole transcode.
type ExcludedTrack struct {
	PeriodID        string
	AdaptationSetID string
	Type            models.TrackType
	Reason          error
}

// PeriodSummary reports how many tracks survived filtering in one period.
type PeriodSummary struct {
	ID         string
	KeptTracks int
}

// Result is the transcoder output: the rewritten manifest text to persist in
// the catalog, the download plan per kept track, and what was excluded.
type Result struct {
	Manifest string
	Tracks   []*TrackTimeline
	Excluded []ExcludedTrack
	Periods  []PeriodSummary
}

// Transcode processes a manifest document fetched from sourceURL. Quality is
// fixed per track type from the selection set: an explicit bitrate keeps the
// representation whose bandwidth matches it, anything else keeps the highest
// bandwidth. The rewritten manifest addresses every segment as
// "<representationID>_<sequence>" with sequence numbers restarting at 1, so a
// playback loader can derive storage keys without re-expanding templates.
func (t *Transcoder) Transcode(doc, sourceURL string, selections *models.SelectionSet) (*Result, error) {
	mpd, err := Parse(doc)
	if err != nil {
		return nil, err
	}

	srcURL, err := url.Parse(sourceURL)
	if err != nil {
		srcURL = nil
	}

	mpdDur, _ := parseISODuration(mpd.MediaPresentationDuration)
	result := &Result{}

	for pi, period := range mpd.Periods {
		periodID := period.ID
		if periodID == "" {
			periodID = strconv.Itoa(pi)
		}
		periodDur := mpdDur
		if period.Duration != "" {
			if d, err := parseISODuration(period.Duration); err == nil {
				periodDur = d
			}
		}

		var kept []*AdaptationSet
		for _, as := range period.AdaptationSets {
			trackType, ok := trackTypeOf(as)
			if !ok {
				t.exclude(result, periodID, as, models.TrackType(mediaTypeOf(as)),
					fmt.Errorf("%w: unsupported media type %q", models.ErrUnknownTrackType, mediaTypeOf(as)))
				continue
			}

			target, hasTarget := selections.Bitrate(trackType)
			rep, bandwidth, err := chooseRepresentation(as, target, hasTarget)
			if err != nil {
				t.exclude(result, periodID, as, trackType, err)
				continue
			}

			base := resolveBase(srcURL, mpd.BaseURLs, period.BaseURLs, as.BaseURLs, rep.BaseURLs)
			as.Representations = []*Representation{rep}

			tt, err := expandTrack(base, periodID, periodDur, trackType, as, rep, bandwidth)
			if err != nil {
				t.exclude(result, periodID, as, trackType, err)
				continue
			}
			if tt != nil && tt.TotalSegments() > 0 {
				result.Tracks = append(result.Tracks, tt)
			}

			rewriteRepresentation(as, rep)
			as.BaseURLs = nil
			kept = append(kept, as)
		}

		period.AdaptationSets = kept
		period.BaseURLs = nil
		result.Periods = append(result.Periods, PeriodSummary{ID: periodID, KeptTracks: len(kept)})
	}

	rewriteTopLevelBase(mpd)

	manifest, err := Serialize(mpd)
	if err != nil {
		return nil, err
	}
	result.Manifest = manifest
	return result, nil
}

func (t *Transcoder) exclude(result *Result, periodID string, as *AdaptationSet, trackType models.TrackType, reason error) {
	t.logger.Warn("excluding track from recording",
		slog.String("period_id", periodID),
		slog.String("adaptation_set", as.ID),
		slog.String("track_type", string(trackType)),
		slog.String("reason", reason.Error()))
	result.Excluded = append(result.Excluded, ExcludedTrack{
		PeriodID:        periodID,
		AdaptationSetID: as.ID,
		Type:            trackType,
		Reason:          reason,
	})
}

// trackTypeOf maps an adaptation set's media type onto the track enumeration.
// "application" carries fragmented text (e.g. stpp subtitles in mp4).
func trackTypeOf(as *AdaptationSet) (models.TrackType, bool) {
	switch mediaTypeOf(as) {
	case "video":
		return models.TrackTypeVideo, true
	case "audio":
		return models.TrackTypeAudio, true
	case "text":
		return models.TrackTypeText, true
	case "application":
		return models.TrackTypeFragmentedText, true
	case "image":
		return models.TrackTypeImage, true
	default:
		return "", false
	}
}

// chooseRepresentation picks the single representation to record. An explicit
// target bitrate keeps the exact bandwidth match; no selection, or a
// selection matching no representation, keeps the numerically highest
// bandwidth (first in document order on a tie).
func chooseRepresentation(as *AdaptationSet, target int, hasTarget bool) (*Representation, int, error) {
	if len(as.Representations) == 0 {
		return nil, 0, ErrEmptyAdaptationSet
	}

	var best *Representation
	bestBW := -1
	for _, rep := range as.Representations {
		bw, err := strconv.Atoi(rep.Bandwidth)
		if err != nil {
			continue
		}
		if hasTarget && bw == target {
			return rep, bw, nil
		}
		if bw > bestBW {
			best, bestBW = rep, bw
		}
	}
	if best == nil {
		return nil, 0, ErrNoBandwidthFound
	}
	return best, bestBW, nil
}

// rewriteTopLevelBase replaces every presentation-wide base URL with the bare
// offline scheme prefix, adding one if the document had none, so every
// relative reference in the stored manifest resolves into the store.
func rewriteTopLevelBase(mpd *MPD) {
	if len(mpd.BaseURLs) == 0 {
		mpd.BaseURLs = []string{models.OfflineScheme}
		return
	}
	for i := range mpd.BaseURLs {
		mpd.BaseURLs[i] = models.OfflineScheme
	}
}

// rewriteRepresentation rewrites the kept representation's own references:
// base URLs, the segment template, and any explicit segment list.
func rewriteRepresentation(as *AdaptationSet, rep *Representation) {
	for i, ref := range rep.BaseURLs {
		rep.BaseURLs[i] = rewriteBaseRef(rep.ID, ref)
	}

	if tpl := effectiveTemplate(as, rep); tpl != nil {
		if tpl.Media != "" {
			tpl.Media = "$RepresentationID$_$Number$" + templateExt(tpl.Media)
		}
		if tpl.Initialization != "" {
			tpl.Initialization = "$RepresentationID$_0" + templateExt(tpl.Initialization)
		}
		tpl.StartNumber = "1"
	}

	if list := rep.SegmentList; list != nil {
		if list.Initialization != nil && list.Initialization.SourceURL != "" {
			ext := templateExt(list.Initialization.SourceURL)
			list.Initialization.SourceURL = rep.ID + "_0" + ext
		}
		for i, su := range list.SegmentURLs {
			ext := templateExt(su.Media)
			su.Media = rep.ID + "_" + strconv.Itoa(i+1) + ext
			su.MediaRange = ""
		}
	}
}

// rewriteBaseRef maps one representation-level base URL onto its store form:
// absolute and scheme-relative references become
// "<scheme><repID>_<last path segment>", a bare "./" becomes the scheme
// prefix alone, and any other relative reference is prefixed with the
// representation id.
func rewriteBaseRef(repID, ref string) string {
	if ref == "./" {
		return models.OfflineScheme
	}
	if strings.HasPrefix(ref, "//") || hasScheme(ref) {
		return models.OfflineScheme + repID + "_" + lastPathSegment(ref)
	}
	return repID + "_" + ref
}

func hasScheme(ref string) bool {
	u, err := url.Parse(ref)
	return err == nil && u.Scheme != ""
}

func lastPathSegment(ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return path.Base(ref)
	}
	return path.Base(u.Path)
}

// templateExt extracts the file extension of a template string, ignoring
// anything that still contains a template identifier.
func templateExt(tpl string) string {
	ext := path.Ext(tpl)
	if strings.Contains(ext, "$") {
		return ""
	}
	return ext
}
