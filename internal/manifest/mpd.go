// Package manifest parses the subset of a DASH MPD needed for recording,
// rewrites its references for offline storage, and expands per-track segment
// timelines for the download sequencer.
package manifest

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// MPD is the root of a media presentation description. Only the attributes
// and children needed to locate segment templates, base URLs, and
// representation bandwidths are modeled; this is not a general DASH parser.
type MPD struct {
	// XMLName carries the document's default namespace through a
	// parse/serialize round trip.
	XMLName                   xml.Name  `xml:"MPD"`
	Profiles                  string    `xml:"profiles,attr,omitempty"`
	Type                      string    `xml:"type,attr,omitempty"`
	MediaPresentationDuration string    `xml:"mediaPresentationDuration,attr,omitempty"`
	MinBufferTime             string    `xml:"minBufferTime,attr,omitempty"`
	BaseURLs                  []string  `xml:"BaseURL,omitempty"`
	Periods                   []*Period `xml:"Period"`
}

// Period is one logical stream interval of the presentation.
type Period struct {
	ID             string           `xml:"id,attr,omitempty"`
	Start          string           `xml:"start,attr,omitempty"`
	Duration       string           `xml:"duration,attr,omitempty"`
	BaseURLs       []string         `xml:"BaseURL,omitempty"`
	AdaptationSets []*AdaptationSet `xml:"AdaptationSet"`
}

// AdaptationSet groups interchangeable representations of the same content.
type AdaptationSet struct {
	ID               string            `xml:"id,attr,omitempty"`
	ContentType      string            `xml:"contentType,attr,omitempty"`
	MimeType         string            `xml:"mimeType,attr,omitempty"`
	Lang             string            `xml:"lang,attr,omitempty"`
	SegmentAlignment string            `xml:"segmentAlignment,attr,omitempty"`
	BaseURLs         []string          `xml:"BaseURL,omitempty"`
	SegmentTemplate  *SegmentTemplate  `xml:"SegmentTemplate,omitempty"`
	Representations  []*Representation `xml:"Representation"`
}

// Representation is one encoded quality variant of a track.
type Representation struct {
	ID                string           `xml:"id,attr,omitempty"`
	Bandwidth         string           `xml:"bandwidth,attr,omitempty"`
	MimeType          string           `xml:"mimeType,attr,omitempty"`
	Codecs            string           `xml:"codecs,attr,omitempty"`
	Width             string           `xml:"width,attr,omitempty"`
	Height            string           `xml:"height,attr,omitempty"`
	FrameRate         string           `xml:"frameRate,attr,omitempty"`
	AudioSamplingRate string           `xml:"audioSamplingRate,attr,omitempty"`
	BaseURLs          []string         `xml:"BaseURL,omitempty"`
	SegmentTemplate   *SegmentTemplate `xml:"SegmentTemplate,omitempty"`
	SegmentList       *SegmentList     `xml:"SegmentList,omitempty"`
}

// SegmentTemplate describes template-addressed segments.
type SegmentTemplate struct {
	Media           string           `xml:"media,attr,omitempty"`
	Initialization  string           `xml:"initialization,attr,omitempty"`
	Duration        string           `xml:"duration,attr,omitempty"`
	Timescale       string           `xml:"timescale,attr,omitempty"`
	StartNumber     string           `xml:"startNumber,attr,omitempty"`
	SegmentTimeline *SegmentTimeline `xml:"SegmentTimeline,omitempty"`
}

// SegmentTimeline lists explicit segment timings.
type SegmentTimeline struct {
	Segments []*TimelineSegment `xml:"S"`
}

// TimelineSegment is one S element: start time t, duration d, repeat count r.
type TimelineSegment struct {
	T string `xml:"t,attr,omitempty"`
	D string `xml:"d,attr,omitempty"`
	R string `xml:"r,attr,omitempty"`
}

// SegmentList describes explicitly listed segments.
type SegmentList struct {
	Duration       string              `xml:"duration,attr,omitempty"`
	Timescale      string              `xml:"timescale,attr,omitempty"`
	Initialization *ListInitialization `xml:"Initialization,omitempty"`
	SegmentURLs    []*SegmentURL       `xml:"SegmentURL"`
}

// ListInitialization points at an initialization segment.
type ListInitialization struct {
	SourceURL string `xml:"sourceURL,attr,omitempty"`
}

// SegmentURL is one explicit media segment reference.
type SegmentURL struct {
	Media      string `xml:"media,attr,omitempty"`
	MediaRange string `xml:"mediaRange,attr,omitempty"`
}

// Parse unmarshals an MPD document from its text form.
func Parse(doc string) (*MPD, error) {
	var mpd MPD
	if err := xml.Unmarshal([]byte(doc), &mpd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if len(mpd.Periods) == 0 {
		return nil, fmt.Errorf("%w: no periods", ErrInvalidManifest)
	}
	return &mpd, nil
}

// Serialize marshals an MPD back to text. Output is deterministic for a given
// tree, which makes the transcoder idempotent at the byte level.
func Serialize(mpd *MPD) (string, error) {
	out, err := xml.MarshalIndent(mpd, "", "  ")
	if err != nil {
		return "", fmt.Errorf("serializing manifest: %w", err)
	}
	return xml.Header + string(out), nil
}

// effectiveTemplate returns the segment template in force for a
// representation: its own, else the one inherited from its adaptation set.
func effectiveTemplate(as *AdaptationSet, rep *Representation) *SegmentTemplate {
	if rep.SegmentTemplate != nil {
		return rep.SegmentTemplate
	}
	return as.SegmentTemplate
}

// mediaTypeOf derives the track kind of an adaptation set from its explicit
// contentType attribute, falling back to the MIME-type prefix before "/".
func mediaTypeOf(as *AdaptationSet) string {
	if as.ContentType != "" {
		return as.ContentType
	}
	if i := strings.Index(as.MimeType, "/"); i > 0 {
		return as.MimeType[:i]
	}
	if len(as.Representations) > 0 {
		mime := as.Representations[0].MimeType
		if i := strings.Index(mime, "/"); i > 0 {
			return mime[:i]
		}
	}
	return ""
}
