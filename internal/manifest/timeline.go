package manifest

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/jmylchreest/recarr/internal/models"
)

// SegmentRef is one downloadable segment of a track: where it lives on the
// network and the key it will be stored under.
type SegmentRef struct {
	// Sequence is the 1-based position of the segment within its track.
	Sequence uint64

	// Start is the presentation time at which the segment begins.
	Start time.Duration

	// Duration is the segment's media duration.
	Duration time.Duration

	// SourceURL is the fully resolved network URL of the segment.
	SourceURL string

	// Key is the storage key the segment bytes are written under.
	Key string
}

// TrackTimeline is the complete download plan for one selected track: its
// identity plus the ordered list of segments the sequencer must fetch.
type TrackTimeline struct {
	PeriodID         string
	Type             models.TrackType
	RepresentationID string
	Bandwidth        int

	// InitURL and InitKey describe the initialization segment. InitURL is
	// empty when the track has no separate initialization segment.
	InitURL string
	InitKey string

	Segments []SegmentRef
}

// TotalSegments returns the number of segments the track needs, including
// the initialization segment when present.
func (t *TrackTimeline) TotalSegments() int {
	n := len(t.Segments)
	if t.InitURL != "" {
		n++
	}
	return n
}

var isoDurationRe = regexp.MustCompile(
	`^P(?:(\d+(?:\.\d+)?)Y)?(?:(\d+(?:\.\d+)?)M)?(?:(\d+(?:\.\d+)?)D)?` +
		`(?:T(?:(\d+(?:\.\d+)?)H)?(?:(\d+(?:\.\d+)?)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// parseISODuration parses an xs:duration value such as "PT1H30M" or "PT9.5S".
// Calendar components use the fixed approximations of 30-day months and
// 365-day years, which is adequate for presentation durations.
func parseISODuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	m := isoDurationRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("malformed duration %q", s)
	}
	multipliers := []float64{
		365 * 24 * 3600, // years
		30 * 24 * 3600,  // months
		24 * 3600,       // days
		3600,            // hours
		60,              // minutes
		1,               // seconds
	}
	seconds := 0.0
	for i, mult := range multipliers {
		if m[i+1] == "" {
			continue
		}
		v, err := strconv.ParseFloat(m[i+1], 64)
		if err != nil {
			return 0, fmt.Errorf("malformed duration %q: %w", s, err)
		}
		seconds += v * mult
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

var templateIdentRe = regexp.MustCompile(`\$(RepresentationID|Bandwidth|Number|Time)(%0\d+d)?\$|\$\$`)

// expandTemplate substitutes $RepresentationID$, $Bandwidth$, $Number$ and
// $Time$ identifiers (with optional %0Nd width formatting) in a segment
// template string. "$$" is the escape for a literal dollar sign.
func expandTemplate(tpl, repID string, bandwidth int, number, timeUnits uint64) string {
	return templateIdentRe.ReplaceAllStringFunc(tpl, func(match string) string {
		if match == "$$" {
			return "$"
		}
		sub := templateIdentRe.FindStringSubmatch(match)
		ident, width := sub[1], sub[2]
		var value string
		switch ident {
		case "RepresentationID":
			return repID
		case "Bandwidth":
			value = strconv.Itoa(bandwidth)
		case "Number":
			value = strconv.FormatUint(number, 10)
		case "Time":
			value = strconv.FormatUint(timeUnits, 10)
		}
		if width != "" {
			// width is "%0Nd"; reuse it as the format verb.
			n, _ := strconv.ParseUint(value, 10, 64)
			return fmt.Sprintf(width, n)
		}
		return value
	})
}

// resolveRef resolves a possibly relative reference against a base URL.
func resolveRef(base *url.URL, ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if base == nil {
		return u.String()
	}
	return base.ResolveReference(u).String()
}

// resolveBase folds a chain of BaseURL values onto a starting URL, taking the
// first entry at each level as the standard requires for single-URL clients.
func resolveBase(start *url.URL, levels ...[]string) *url.URL {
	base := start
	for _, urls := range levels {
		if len(urls) == 0 {
			continue
		}
		ref, err := url.Parse(urls[0])
		if err != nil {
			continue
		}
		if base == nil {
			base = ref
			continue
		}
		base = base.ResolveReference(ref)
	}
	return base
}

// expandTrack builds the download plan for one chosen representation. A
// representation carrying no segment description yields a nil timeline; it
// stays in the manifest but there is nothing to fetch for it.
func expandTrack(base *url.URL, periodID string, periodDur time.Duration,
	trackType models.TrackType, as *AdaptationSet, rep *Representation, bandwidth int) (*TrackTimeline, error) {

	tt := &TrackTimeline{
		PeriodID:         periodID,
		Type:             trackType,
		RepresentationID: rep.ID,
		Bandwidth:        bandwidth,
	}

	if rep.SegmentList != nil {
		expandFromList(tt, base, rep)
		return tt, nil
	}

	tpl := effectiveTemplate(as, rep)
	if tpl == nil {
		return nil, nil
	}
	if err := expandFromTemplate(tt, base, periodDur, rep, bandwidth, tpl); err != nil {
		return nil, err
	}
	return tt, nil
}

func expandFromList(tt *TrackTimeline, base *url.URL, rep *Representation) {
	list := rep.SegmentList
	if list.Initialization != nil && list.Initialization.SourceURL != "" {
		tt.InitURL = resolveRef(base, list.Initialization.SourceURL)
		tt.InitKey = models.SegmentKey(rep.ID, 0)
	}

	timescale := parseUintDefault(list.Timescale, 1)
	segDur := unitsToDuration(parseUintDefault(list.Duration, 0), timescale)

	for i, su := range list.SegmentURLs {
		seq := uint64(i + 1)
		tt.Segments = append(tt.Segments, SegmentRef{
			Sequence:  seq,
			Start:     time.Duration(i) * segDur,
			Duration:  segDur,
			SourceURL: resolveRef(base, su.Media),
			Key:       models.SegmentKey(rep.ID, seq),
		})
	}
}

func expandFromTemplate(tt *TrackTimeline, base *url.URL, periodDur time.Duration,
	rep *Representation, bandwidth int, tpl *SegmentTemplate) error {

	timescale := parseUintDefault(tpl.Timescale, 1)
	startNumber := parseUintDefault(tpl.StartNumber, 1)

	if tpl.Initialization != "" {
		init := expandTemplate(tpl.Initialization, rep.ID, bandwidth, 0, 0)
		tt.InitURL = resolveRef(base, init)
		tt.InitKey = models.SegmentKey(rep.ID, 0)
	}
	if tpl.Media == "" {
		return nil
	}

	emit := func(seq, number, startUnits, durUnits uint64) {
		media := expandTemplate(tpl.Media, rep.ID, bandwidth, number, startUnits)
		tt.Segments = append(tt.Segments, SegmentRef{
			Sequence:  seq,
			Start:     unitsToDuration(startUnits, timescale),
			Duration:  unitsToDuration(durUnits, timescale),
			SourceURL: resolveRef(base, media),
			Key:       models.SegmentKey(rep.ID, seq),
		})
	}

	if tl := tpl.SegmentTimeline; tl != nil && len(tl.Segments) > 0 {
		var seq, cursor uint64
		for _, s := range tl.Segments {
			if s.T != "" {
				cursor = parseUintDefault(s.T, cursor)
			}
			d := parseUintDefault(s.D, 0)
			if d == 0 {
				continue
			}
			repeat := parseIntDefault(s.R, 0)
			if repeat < 0 {
				// Repeat until the period ends.
				if periodDur <= 0 {
					repeat = 0
				} else {
					endUnits := durationToUnits(periodDur, timescale)
					if endUnits > cursor {
						repeat = int64((endUnits-cursor)/d) - 1
					} else {
						repeat = 0
					}
				}
			}
			for i := int64(0); i <= repeat; i++ {
				seq++
				emit(seq, startNumber+seq-1, cursor, d)
				cursor += d
			}
		}
		return nil
	}

	segDurUnits := parseUintDefault(tpl.Duration, 0)
	if segDurUnits == 0 {
		return fmt.Errorf("%w: representation %s has neither a segment timeline nor a segment duration", ErrInvalidManifest, rep.ID)
	}
	if periodDur <= 0 {
		return fmt.Errorf("%w: cannot size segment template for representation %s without a period duration", ErrInvalidManifest, rep.ID)
	}

	segDur := unitsToDuration(segDurUnits, timescale)
	count := uint64(math.Ceil(float64(periodDur) / float64(segDur)))
	for seq := uint64(1); seq <= count; seq++ {
		emit(seq, startNumber+seq-1, (seq-1)*segDurUnits, segDurUnits)
	}
	return nil
}

func parseUintDefault(s string, def uint64) uint64 {
	if s == "" {
		return def
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return def
	}
	return v
}

func parseIntDefault(s string, def int64) int64 {
	if s == "" {
		return def
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return def
	}
	return v
}

func unitsToDuration(units, timescale uint64) time.Duration {
	if timescale == 0 {
		timescale = 1
	}
	return time.Duration(float64(units) / float64(timescale) * float64(time.Second))
}

func durationToUnits(d time.Duration, timescale uint64) uint64 {
	if timescale == 0 {
		timescale = 1
	}
	return uint64(d.Seconds() * float64(timescale))
}
