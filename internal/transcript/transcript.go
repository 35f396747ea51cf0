// Package transcript turns audio files and YouTube videos into timed text.
package transcript

import (
	"errors"
	"strings"
)

const (
	SourceAudio   = "audio"
	SourceYouTube = "youtube"
)

var (
	ErrMalformedTimestamp   = errors.New("transcript: malformed timestamp")
	ErrSubtitlesUnavailable = errors.New("transcript: subtitles not available")
	ErrInvalidVideo         = errors.New("transcript: no video id in url")
	ErrEmptyTranscript      = errors.New("transcript: no speech recognized")
)

// Segment is one timed span of speech. Times are seconds from the start.
type Segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcript is the full text plus its segments. Segment texts joined by a
// single space give Text.
type Transcript struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
}

// builder accumulates segments the same way for every producer.
type builder struct {
	text strings.Builder
	segs []Segment
}

func (b *builder) add(start, end float64, text string) {
	b.segs = append(b.segs, Segment{ID: len(b.segs), Start: start, End: end, Text: text})
	b.text.WriteString(text)
	b.text.WriteByte(' ')
}

func (b *builder) build() Transcript {
	segs := b.segs
	if segs == nil {
		segs = []Segment{}
	}
	return Transcript{Text: strings.TrimRight(b.text.String(), " \t\r\n"), Segments: segs}
}
